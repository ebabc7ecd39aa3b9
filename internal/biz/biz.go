package biz

import "github.com/google/wire"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewSyncConfig,
	NewRetryPolicy,
	NewMergePolicy,
	NewEntityResolver,
	NewBatchWriter,
	NewPersonResolver,
	NewRoleReconciler,
	NewTrailerFetcher,
	NewLinkFetcher,
	NewSyncUseCase,
)
