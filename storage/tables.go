package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"tasktracker/domain"
)

// MaxTransactionSize is the largest batch the table service commits atomically.
const MaxTransactionSize = 100

// TableNames names the tables backing a Tables store.
type TableNames struct {
	Tasks    string
	Users    string
	Activity string
}

// Tables persists tasks, users and activity in Azure Table Storage. Every
// entity of a tenant lives in one partition so listings and purges stay
// within a single partition.
type Tables struct {
	tenant   string
	tasks    *aztables.Client
	users    *aztables.Client
	activity *aztables.Client
}

func tableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
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

// New creates a Tables store from the given connection string.
func New(connStr, tenant string, names TableNames) (*Tables, error) {
	if tenant == "" {
		return nil, errors.New("storage: tenant is required")
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, err
	}
	return &Tables{
		tenant:   tenant,
		tasks:    svc.NewClient(names.Tasks),
		users:    svc.NewClient(names.Users),
		activity: svc.NewClient(names.Activity),
	}, nil
}

// GetTask loads a task by id, including soft-deleted ones.
func (s *Tables) GetTask(ctx context.Context, id string) (domain.Task, error) {
	resp, err := s.tasks.GetEntity(ctx, s.tenant, id, nil)
	if err != nil {
		return domain.Task{}, classify("get task", err)
	}
	t, err := decodeTask(resp.Value)
	if err != nil {
		return domain.Task{}, &domain.IOError{Op: "decode task", Err: err}
	}
	t.ETag = string(resp.ETag)
	return t, nil
}

// QueryTasks lists tasks matching the equality filters of q. Ordering and the
// limit are applied after the scan since the table service only orders by key.
func (s *Tables) QueryTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	filter, err := buildFilter(s.tenant, q.Filters)
	if err != nil {
		return nil, err
	}
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify("query tasks", err)
		}
		for _, e := range resp.Entities {
			t, err := decodeTask(e)
			if err != nil {
				return nil, &domain.IOError{Op: "decode task", Err: err}
			}
			tasks = append(tasks, t)
		}
	}
	return q.Apply(tasks), nil
}

// InsertTask stores a new task. An existing id yields ErrConcurrencyConflict.
func (s *Tables) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	p, err := encodeTask(s.tenant, t)
	if err != nil {
		return domain.Task{}, &domain.IOError{Op: "encode task", Err: err}
	}
	payload, err := sonic.Marshal(p)
	if err != nil {
		return domain.Task{}, &domain.IOError{Op: "encode task", Err: err}
	}
	resp, err := s.tasks.AddEntity(ctx, payload, nil)
	if err != nil {
		return domain.Task{}, classify("insert task", err)
	}
	t.ETag = string(resp.ETag)
	return t, nil
}

// UpdateTask merges patch into the stored task if its revision still matches
// etag, returning the new revision. An empty etag updates unconditionally.
func (s *Tables) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch, etag string) (string, error) {
	p, err := encodeTaskPatch(s.tenant, id, patch)
	if err != nil {
		return "", &domain.IOError{Op: "encode task", Err: err}
	}
	payload, err := sonic.Marshal(p)
	if err != nil {
		return "", &domain.IOError{Op: "encode task", Err: err}
	}
	resp, err := s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    ifMatch(etag),
		UpdateMode: aztables.UpdateModeMerge,
	})
	if err != nil {
		return "", classify("update task", err)
	}
	return string(resp.ETag), nil
}

// DeleteTasks permanently removes tasks whose stored revision still matches
// the ETag they were loaded with. Up to MaxTransactionSize tasks are removed
// in one all-or-nothing transaction; larger sets fall back to per-item
// deletes with failures reported individually.
func (s *Tables) DeleteTasks(ctx context.Context, targets []domain.Task) (domain.BatchResult, error) {
	res := domain.BatchResult{Failed: map[string]error{}}
	if len(targets) == 0 {
		return res, nil
	}
	if len(targets) <= MaxTransactionSize {
		actions, err := deleteActions(s.tenant, targets)
		if err != nil {
			return res, err
		}
		res.Atomic = true
		if _, err := s.tasks.SubmitTransaction(ctx, actions, nil); err != nil {
			return res, classify("purge tasks", err)
		}
		for _, t := range targets {
			res.Deleted = append(res.Deleted, t.ID)
		}
		return res, nil
	}
	for _, t := range targets {
		_, err := s.tasks.DeleteEntity(ctx, s.tenant, t.ID, &aztables.DeleteEntityOptions{IfMatch: ifMatch(t.ETag)})
		if err = classify("delete task", err); err != nil && !errors.Is(err, domain.ErrNotFound) {
			res.Failed[t.ID] = err
			continue
		}
		res.Deleted = append(res.Deleted, t.ID)
	}
	return res, nil
}

func deleteActions(tenant string, targets []domain.Task) ([]aztables.TransactionAction, error) {
	actions := make([]aztables.TransactionAction, 0, len(targets))
	for _, t := range targets {
		payload, err := sonic.Marshal(newProps(tenant, t.ID))
		if err != nil {
			return nil, &domain.IOError{Op: "encode delete", Err: err}
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeDelete,
			Entity:     payload,
			IfMatch:    ifMatch(t.ETag),
		})
	}
	return actions, nil
}

// GetUser loads a user by subject id.
func (s *Tables) GetUser(ctx context.Context, id string) (domain.User, error) {
	resp, err := s.users.GetEntity(ctx, s.tenant, userRowKey(id), nil)
	if err != nil {
		return domain.User{}, classify("get user", err)
	}
	u, err := decodeUser(resp.Value)
	if err != nil {
		return domain.User{}, &domain.IOError{Op: "decode user", Err: err}
	}
	u.ETag = string(resp.ETag)
	return u, nil
}

func (s *Tables) ListUsers(ctx context.Context) ([]domain.User, error) {
	filter := "PartitionKey eq " + quote(s.tenant)
	pager := s.users.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	users := []domain.User{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify("list users", err)
		}
		for _, e := range resp.Entities {
			u, err := decodeUser(e)
			if err != nil {
				return nil, &domain.IOError{Op: "decode user", Err: err}
			}
			users = append(users, u)
		}
	}
	return users, nil
}

// InsertUser stores a new user. An existing id yields ErrConcurrencyConflict.
func (s *Tables) InsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	payload, err := sonic.Marshal(encodeUser(s.tenant, u))
	if err != nil {
		return domain.User{}, &domain.IOError{Op: "encode user", Err: err}
	}
	resp, err := s.users.AddEntity(ctx, payload, nil)
	if err != nil {
		return domain.User{}, classify("insert user", err)
	}
	u.ETag = string(resp.ETag)
	return u, nil
}

func (s *Tables) UpdateUser(ctx context.Context, id string, patch domain.UserPatch, etag string) (string, error) {
	payload, err := sonic.Marshal(encodeUserPatch(s.tenant, id, patch))
	if err != nil {
		return "", &domain.IOError{Op: "encode user", Err: err}
	}
	resp, err := s.users.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    ifMatch(etag),
		UpdateMode: aztables.UpdateModeMerge,
	})
	if err != nil {
		return "", classify("update user", err)
	}
	return string(resp.ETag), nil
}

// RecordActivity appends an audit entry.
func (s *Tables) RecordActivity(ctx context.Context, a domain.Activity) error {
	payload, err := sonic.Marshal(encodeActivity(s.tenant, a))
	if err != nil {
		return &domain.IOError{Op: "encode activity", Err: err}
	}
	if _, err := s.activity.AddEntity(ctx, payload, nil); err != nil {
		return classify("record activity", err)
	}
	return nil
}

func ifMatch(etag string) *azcore.ETag {
	et := azcore.ETagAny
	if etag != "" {
		et = azcore.ETag(etag)
	}
	return &et
}

// filterFields are the task properties that may appear in a query filter.
var filterFields = map[string]bool{
	domain.FieldStatus:     true,
	domain.FieldPriority:   true,
	domain.FieldCategory:   true,
	domain.FieldAssigneeID: true,
	domain.FieldCreatedBy:  true,
	domain.FieldDeleted:    true,
}

// buildFilter renders equality filters as an OData expression scoped to the
// tenant partition.
func buildFilter(partition string, filters []domain.Filter) (string, error) {
	parts := []string{"PartitionKey eq " + quote(partition)}
	for _, f := range filters {
		if !filterFields[f.Field] {
			return "", domain.NewValidationError("filter", fmt.Sprintf("unsupported field %q", f.Field))
		}
		var lit string
		switch v := f.Value.(type) {
		case bool:
			lit = strconv.FormatBool(v)
		case string:
			lit = quote(v)
		case domain.Status:
			lit = quote(string(v))
		case domain.Priority:
			lit = quote(string(v))
		case domain.Category:
			lit = quote(string(v))
		default:
			return "", domain.NewValidationError("filter", fmt.Sprintf("unsupported value for %s", f.Field))
		}
		parts = append(parts, f.Field+" eq "+lit)
	}
	return strings.Join(parts, " and "), nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
