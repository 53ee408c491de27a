package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
	"tasktracker/storage"
)

const (
	streamBuffer    = 16
	streamKeepAlive = 25 * time.Second
)

// Feed fans tenant activity out to connected stream clients. Slow clients
// miss events rather than blocking the feed.
type Feed struct {
	mu   sync.Mutex
	subs map[chan domain.Activity]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan domain.Activity]struct{})}
}

func (f *Feed) subscribe() chan domain.Activity {
	ch := make(chan domain.Activity, streamBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *Feed) unsubscribe(ch chan domain.Activity) {
	f.mu.Lock()
	delete(f.subs, ch)
	f.mu.Unlock()
}

// Publish delivers a to every connected client.
func (f *Feed) Publish(a domain.Activity) {
	f.mu.Lock()
	for ch := range f.subs {
		select {
		case ch <- a:
		default:
		}
	}
	f.mu.Unlock()
}

// Run feeds the tenant's Redis activity channel into f until ctx is done.
func (f *Feed) Run(ctx context.Context, client *redis.Client, tenant string, logger *log.Logger) {
	storage.SubscribeActivity(ctx, client, tenant, logger, f.Publish)
}

type streamEvent struct {
	Activity domain.Activity `json:"activity"`
	Task     *domain.Task    `json:"task,omitempty"`
}

// QueryToken promotes an access_token query parameter to a bearer
// Authorization header for clients that cannot set headers, such as
// browser EventSource.
func QueryToken() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if token := strings.TrimSpace(c.QueryParam("access_token")); token != "" && req.Header.Get(echo.HeaderAuthorization) == "" {
				req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
			}
			return next(c)
		}
	}
}

// stream serves activity as server-sent events, filtered to what the actor
// may see.
func (h *handlers) stream(c echo.Context) error {
	actor := actorFrom(c)
	ctx := c.Request().Context()
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	ch := h.svc.Feed.subscribe()
	defer h.svc.Feed.unsubscribe(ch)

	if _, err := res.Write([]byte(": connected\n\n")); err != nil {
		return nil
	}
	res.Flush()

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	sent := 0
	for {
		select {
		case <-ctx.Done():
			metricsFrom(c).SetItemsReturned(sent)
			return nil
		case <-ticker.C:
			if _, err := res.Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
			res.Flush()
		case a := <-ch:
			ev, ok := h.visibleEvent(ctx, actor, a)
			if !ok {
				continue
			}
			data, err := sonic.Marshal(ev)
			if err != nil {
				h.log.WithError(err).WithField("activity", a.ID).Error("encode stream event")
				continue
			}
			if _, err := fmt.Fprintf(res, "id: %s\nevent: activity\ndata: %s\n\n", a.ID, data); err != nil {
				return nil
			}
			res.Flush()
			sent++
		}
	}
}

// visibleEvent attaches the current task to a and reports whether actor may
// see it. Entries about tasks the actor cannot view, including purged or
// trashed ones, are only delivered to admins and to whoever performed them.
func (h *handlers) visibleEvent(ctx context.Context, actor domain.Actor, a domain.Activity) (streamEvent, bool) {
	ev := streamEvent{Activity: a}
	own := actor.IsAdmin() || a.ActorID == actor.ID
	if a.TaskID == "" || a.Action == domain.ActivityTaskPurged {
		return ev, own
	}
	task, ok := h.svc.Tasks.Lookup(ctx, actor, a.TaskID)
	if !ok {
		return ev, own
	}
	ev.Task = &task
	return ev, true
}
