package app

import (
	"context"

	"live-timing/internal/common/logging"
	"live-timing/internal/redis"
)

// initializeRedis connects the optional publisher. Redis being down only
// disables publishing.
func (app *App) initializeRedis(ctx context.Context) {
	if !app.Config.RedisEnabled() {
		app.Logger.Info("Redis: Not configured (update publishing disabled)")
		return
	}

	redisClient, err := redis.NewClient(ctx, &redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDB,
	})
	if err != nil {
		app.Logger.Warn("Redis: Unavailable, update publishing disabled",
			logging.Err(err),
			logging.String("address", app.Config.RedisAddress),
		)
		return
	}

	app.RedisClient = redisClient
	app.Publisher = redis.NewPublisher(redisClient, app.Config.RedisChannel, app.Config.LatestUpdateTTL, app.Logger)
	app.Logger.Info("Redis: Connected",
		logging.String("address", app.Config.RedisAddress),
		logging.String("channel", app.Config.RedisChannel),
	)
}
