package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

// EnsureTables creates the named tables, ignoring ones that already exist.
func EnsureTables(ctx context.Context, connStr string, names ...string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
		log.WithField("table", name).Info("table ready")
	}
	return nil
}

// EnsureQueues creates the named queues, ignoring ones that already exist.
func EnsureQueues(ctx context.Context, connStr string, names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, queueClientOptions())
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
		log.WithField("queue", name).Info("queue ready")
	}
	return nil
}
