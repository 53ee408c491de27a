package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"tasktracker/domain"
)

// retryStatusCodes are retried by the azcore pipeline and reported as
// transient once the retries are exhausted.
var retryStatusCodes = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// classify maps an Azure SDK error onto the domain error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		case respErr.StatusCode == http.StatusConflict, respErr.StatusCode == http.StatusPreconditionFailed:
			return fmt.Errorf("%s: %w", op, domain.ErrConcurrencyConflict)
		case respErr.StatusCode == http.StatusRequestTimeout, respErr.StatusCode == http.StatusTooManyRequests,
			respErr.StatusCode >= http.StatusInternalServerError:
			return &domain.IOError{Op: op, Transient: true, Err: err}
		}
		return &domain.IOError{Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.IOError{Op: op, Transient: true, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &domain.IOError{Op: op, Transient: true, Err: err}
	}
	return &domain.IOError{Op: op, Err: err}
}
