//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"mediasync/internal/biz"
	"mediasync/internal/conf"
	"mediasync/internal/data"
	"mediasync/internal/metrics"
	"mediasync/internal/server"
	"mediasync/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireSync init the sync service for a one-shot run.
func wireSync(*conf.Data, *conf.Catalog, *conf.Providers, *conf.Sync, *conf.Metrics, log.Logger) (*service.SyncService, func(), error) {
	panic(wire.Build(data.ProviderSet, metrics.ProviderSet, biz.ProviderSet, service.ProviderSet))
}

// wireApp init kratos application for worker mode.
func wireApp(*conf.Data, *conf.Catalog, *conf.Providers, *conf.Sync, *conf.Metrics, *conf.Worker, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(data.ProviderSet, metrics.ProviderSet, biz.ProviderSet, service.ProviderSet, server.ProviderSet, newApp))
}
