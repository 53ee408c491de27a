package cmd

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasktracker/config"
	"tasktracker/service"
	"tasktracker/storage"
)

// backend holds the persistence collaborators shared by the commands.
type backend struct {
	tasks    service.TaskStore
	users    service.UserStore
	activity service.ActivityLog
	redis    *redis.Client
}

func openBackend(c config.Config, logger *log.Logger) (*backend, error) {
	b := &backend{}
	if c.InMemoryStore {
		m := storage.NewMemory()
		b.tasks, b.users, b.activity = m, m, m
		logger.Warn("using in-memory store, data is lost on exit")
	} else {
		if err := c.ValidateStorage(); err != nil {
			return nil, err
		}
		tables, err := storage.New(c.StorageConnectionString, c.TenantID, storage.TableNames{
			Tasks:    c.TasksTable,
			Users:    c.UsersTable,
			Activity: c.ActivityTable,
		})
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		b.tasks, b.users, b.activity = tables, tables, tables
		if c.ActivityQueue != "" {
			pub, err := storage.NewActivityPublisher(tables, c.StorageConnectionString, c.ActivityQueue, c.TenantID)
			if err != nil {
				return nil, fmt.Errorf("activity queue: %w", err)
			}
			b.activity = pub
		}
	}

	if c.RedisConnectionString != "" {
		opts, err := config.RedisOptions(c.RedisConnectionString)
		if err != nil {
			return nil, err
		}
		b.redis = redis.NewClient(opts)
		b.activity = storage.NewActivityBroadcaster(b.activity, b.redis, c.TenantID, logger)
		if c.TasksCacheTTL > 0 {
			b.tasks = storage.NewCache(b.tasks, b.redis, c.TenantID, c.TasksCacheTTL)
		}
	} else {
		logger.Info("redis not configured, task cache, idempotency keys and activity stream disabled")
	}
	return b, nil
}

func (b *backend) Close() error {
	if b.redis != nil {
		return b.redis.Close()
	}
	return nil
}
