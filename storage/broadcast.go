package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
)

const resubscribeDelay = time.Second

// ActivityChannel is the pub/sub channel carrying a tenant's activity.
func ActivityChannel(tenant string) string {
	return tenant + ":activity"
}

// ActivityBroadcaster records activity in the base log and then publishes
// it on the tenant's Redis channel for live subscribers. Publishing is
// best effort: the audit entry is already durable when it fails.
type ActivityBroadcaster struct {
	base   activityRecorder
	redis  *redis.Client
	tenant string
	log    *log.Logger
}

func NewActivityBroadcaster(base activityRecorder, client *redis.Client, tenant string, logger *log.Logger) *ActivityBroadcaster {
	if base == nil {
		panic("storage.NewActivityBroadcaster: base log is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ActivityBroadcaster{base: base, redis: client, tenant: tenant, log: logger}
}

func (b *ActivityBroadcaster) RecordActivity(ctx context.Context, a domain.Activity) error {
	if err := b.base.RecordActivity(ctx, a); err != nil {
		return err
	}
	msg, err := sonic.MarshalString(newActivityEvent(b.tenant, a))
	if err != nil {
		b.log.WithError(err).WithField("activity", a.ID).Warn("encode activity broadcast")
		return nil
	}
	if err := b.redis.Publish(ctx, ActivityChannel(b.tenant), msg).Err(); err != nil {
		b.log.WithError(err).WithField("activity", a.ID).Warn("broadcast activity")
	}
	return nil
}

// SubscribeActivity delivers the tenant's activity to fn until ctx is done,
// resubscribing when the connection drops.
func SubscribeActivity(ctx context.Context, client *redis.Client, tenant string, logger *log.Logger, fn func(domain.Activity)) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	channel := ActivityChannel(tenant)
	for {
		sub := client.Subscribe(ctx, channel)
		consume(ctx, sub.Channel(), logger, fn)
		if err := sub.Close(); err != nil {
			logger.WithError(err).Debug("close activity subscription")
		}
		if ctx.Err() != nil {
			return
		}
		logger.WithField("channel", channel).Error("activity subscription closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func consume(ctx context.Context, ch <-chan *redis.Message, logger *log.Logger, fn func(domain.Activity)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev ActivityEvent
			if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
				logger.WithError(err).Warn("unable to parse activity event")
				continue
			}
			fn(ev.Activity())
		}
	}
}
