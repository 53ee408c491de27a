package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"tasktracker/domain"
)

type activityRecorder interface {
	RecordActivity(ctx context.Context, a domain.Activity) error
}

// queueClient is the part of *azqueue.QueueClient used for publishing.
type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// ActivityEvent is the queue message published for every recorded activity.
type ActivityEvent struct {
	ID          string `json:"id"`
	Tenant      string `json:"tenant"`
	Action      string `json:"action"`
	Description string `json:"description"`
	ActorID     string `json:"actorId"`
	TaskID      string `json:"taskId,omitempty"`
	Time        int64  `json:"time"`
}

// ActivityPublisher records activity in the base log and then publishes it
// on a storage queue for downstream consumers.
type ActivityPublisher struct {
	base   activityRecorder
	queue  queueClient
	tenant string
}

func queueClientOptions() *azqueue.ClientOptions {
	return &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    2,
				TryTimeout:    30 * time.Second,
				RetryDelay:    500 * time.Millisecond,
				MaxRetryDelay: 4 * time.Second,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
}

// NewActivityPublisher connects to the named queue.
func NewActivityPublisher(base activityRecorder, connStr, queueName, tenant string) (*ActivityPublisher, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, queueClientOptions())
	if err != nil {
		return nil, err
	}
	return newActivityPublisher(base, q, tenant), nil
}

func newActivityPublisher(base activityRecorder, q queueClient, tenant string) *ActivityPublisher {
	if base == nil {
		panic("storage.NewActivityPublisher: base log is nil")
	}
	return &ActivityPublisher{base: base, queue: q, tenant: tenant}
}

func (p *ActivityPublisher) RecordActivity(ctx context.Context, a domain.Activity) error {
	if err := p.base.RecordActivity(ctx, a); err != nil {
		return err
	}
	msg, err := sonic.MarshalString(newActivityEvent(p.tenant, a))
	if err != nil {
		return &domain.IOError{Op: "encode activity event", Err: err}
	}
	if _, err := p.queue.EnqueueMessage(ctx, msg, nil); err != nil {
		return classify("publish activity", err)
	}
	return nil
}

func newActivityEvent(tenant string, a domain.Activity) ActivityEvent {
	return ActivityEvent{
		ID:          a.ID,
		Tenant:      tenant,
		Action:      a.Action,
		Description: a.Description,
		ActorID:     a.ActorID,
		TaskID:      a.TaskID,
		Time:        a.Timestamp.UnixMilli(),
	}
}

// Activity converts the event back into an audit entry.
func (e ActivityEvent) Activity() domain.Activity {
	return domain.Activity{
		ID:          e.ID,
		Action:      e.Action,
		Description: e.Description,
		ActorID:     e.ActorID,
		TaskID:      e.TaskID,
		Timestamp:   time.UnixMilli(e.Time).UTC(),
	}
}
