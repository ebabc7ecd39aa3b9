package server

import (
	"fmt"

	"mediasync/internal/conf"

	"github.com/google/wire"
	"github.com/hibiken/asynq"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewJobServer, NewScheduler)

// redisOpt is the asynq connection to the configured redis.
func redisOpt(c *conf.Data) (asynq.RedisClientOpt, error) {
	if c.Redis == nil || c.Redis.Addr == "" {
		return asynq.RedisClientOpt{}, fmt.Errorf("worker mode requires data.redis.addr")
	}
	return asynq.RedisClientOpt{
		Addr:         c.Redis.Addr,
		Password:     c.Redis.Password,
		DB:           c.Redis.DB,
		ReadTimeout:  c.Redis.ReadTimeout.AsDuration(),
		WriteTimeout: c.Redis.WriteTimeout.AsDuration(),
	}, nil
}
