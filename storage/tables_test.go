package storage

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"tasktracker/domain"
)

func TestBuildFilter(t *testing.T) {
	got, err := buildFilter("acme", []domain.Filter{
		{Field: domain.FieldDeleted, Value: false},
		{Field: domain.FieldAssigneeID, Value: "o'brien"},
		{Field: domain.FieldStatus, Value: domain.StatusBlocked},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "PartitionKey eq 'acme' and Deleted eq false and AssigneeID eq 'o''brien' and Status eq 'blocked'"
	if got != want {
		t.Fatalf("unexpected filter:\n got %s\nwant %s", got, want)
	}
}

func TestBuildFilterRejectsUnknownField(t *testing.T) {
	_, err := buildFilter("acme", []domain.Filter{{Field: "Title", Value: "x"}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = buildFilter("acme", []domain.Filter{{Field: domain.FieldStatus, Value: 3}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for bad value, got %v", err)
	}
}

func responseError(code int) error {
	req := &http.Request{Method: http.MethodGet, URL: &url.URL{Scheme: "https", Host: "example.table.core.windows.net", Path: "/tasks"}}
	return &azcore.ResponseError{
		StatusCode:  code,
		RawResponse: &http.Response{StatusCode: code, Status: http.StatusText(code), Request: req, Header: http.Header{}, Body: http.NoBody},
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"not found", responseError(http.StatusNotFound), domain.ErrNotFound},
		{"conflict", responseError(http.StatusConflict), domain.ErrConcurrencyConflict},
		{"precondition", responseError(http.StatusPreconditionFailed), domain.ErrConcurrencyConflict},
		{"throttled", responseError(http.StatusTooManyRequests), domain.ErrTransientIO},
		{"unavailable", responseError(http.StatusServiceUnavailable), domain.ErrTransientIO},
		{"forbidden", responseError(http.StatusForbidden), domain.ErrPermanentIO},
		{"deadline", context.DeadlineExceeded, domain.ErrTransientIO},
		{"other", errors.New("boom"), domain.ErrPermanentIO},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify("op", tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("classify(%s) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
	if classify("op", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
}

func TestClassifyKeepsCause(t *testing.T) {
	cause := responseError(http.StatusInternalServerError)
	var ioErr *domain.IOError
	if !errors.As(classify("update task", cause), &ioErr) || ioErr.Op != "update task" || !ioErr.Transient {
		t.Fatalf("unexpected io error: %+v", ioErr)
	}
	var respErr *azcore.ResponseError
	if !errors.As(ioErr, &respErr) {
		t.Fatalf("cause must stay reachable")
	}
}

func TestDeleteActionsCarryETags(t *testing.T) {
	actions, err := deleteActions("acme", []domain.Task{{ID: "a", ETag: `W/"1"`}, {ID: "b"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("expected two actions, got %d", len(actions))
	}
	if actions[0].ActionType != aztables.TransactionTypeDelete || actions[0].IfMatch == nil || *actions[0].IfMatch != azcore.ETag(`W/"1"`) {
		t.Fatalf("unexpected first action: %+v", actions[0])
	}
	if actions[1].IfMatch == nil || *actions[1].IfMatch != azcore.ETagAny {
		t.Fatalf("missing etag must match any revision: %+v", actions[1])
	}
}
