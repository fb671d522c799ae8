package core

import (
	c "homevault/internal/cache"
	"homevault/internal/models"

	"go.uber.org/zap"
)

func NewCache(config models.CacheConfiguration) c.ICache {
	var cache c.ICache
	var err error

	switch config.Type {
	case "redis":
		cache, err = c.NewRedisCache(*config.Redis)
	case "valkey":
		cache, err = c.NewValkeyCache(*config.Valkey)
	default:
		zap.L().Fatal("Unknown cache type", zap.String("type", config.Type))
	}

	if err != nil {
		zap.L().Fatal("Failed to initialize cache", zap.Error(err))
	}

	return cache
}
