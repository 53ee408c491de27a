package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"tasktracker/domain"
)

// Memory is an in-process store used for tests and local development. It
// follows the same revision rules as Tables: writes with a stale etag fail
// with ErrConcurrencyConflict.
type Memory struct {
	mu       sync.RWMutex
	rev      int
	tasks    map[string]domain.Task
	users    map[string]domain.User
	activity []domain.Activity
}

func NewMemory() *Memory {
	return &Memory{
		tasks: map[string]domain.Task{},
		users: map[string]domain.User{},
	}
}

func (m *Memory) nextETag() string {
	m.rev++
	return "W/\"" + strconv.Itoa(m.rev) + "\""
}

func (m *Memory) GetTask(_ context.Context, id string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, domain.ErrNotFound)
	}
	return copyTask(t), nil
}

func (m *Memory) QueryTasks(_ context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		all = append(all, copyTask(t))
	}
	return q.Apply(all), nil
}

func (m *Memory) InsertTask(_ context.Context, t domain.Task) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return domain.Task{}, fmt.Errorf("insert task %s: %w", t.ID, domain.ErrConcurrencyConflict)
	}
	t = copyTask(t)
	t.ETag = m.nextETag()
	m.tasks[t.ID] = t
	return copyTask(t), nil
}

func (m *Memory) UpdateTask(_ context.Context, id string, patch domain.TaskPatch, etag string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[id]
	if !ok {
		return "", fmt.Errorf("update task %s: %w", id, domain.ErrNotFound)
	}
	if etag != "" && etag != cur.ETag {
		return "", fmt.Errorf("update task %s: %w", id, domain.ErrConcurrencyConflict)
	}
	next := patch.Apply(cur)
	next.ETag = m.nextETag()
	m.tasks[id] = next
	return next.ETag, nil
}

// DeleteTasks removes all targets in one step, so the batch is always
// atomic. A target whose ETag no longer matches fails the whole batch.
func (m *Memory) DeleteTasks(_ context.Context, targets []domain.Task) (domain.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := domain.BatchResult{Atomic: true, Failed: map[string]error{}}
	for _, t := range targets {
		if cur, ok := m.tasks[t.ID]; ok && t.ETag != "" && t.ETag != cur.ETag {
			return res, fmt.Errorf("purge tasks %s: %w", t.ID, domain.ErrConcurrencyConflict)
		}
	}
	for _, t := range targets {
		delete(m.tasks, t.ID)
		res.Deleted = append(res.Deleted, t.ID)
	}
	return res, nil
}

func (m *Memory) GetUser(_ context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("get user %s: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) InsertUser(_ context.Context, u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return domain.User{}, fmt.Errorf("insert user %s: %w", u.ID, domain.ErrConcurrencyConflict)
	}
	u.ETag = m.nextETag()
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) UpdateUser(_ context.Context, id string, patch domain.UserPatch, etag string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[id]
	if !ok {
		return "", fmt.Errorf("update user %s: %w", id, domain.ErrNotFound)
	}
	if etag != "" && etag != cur.ETag {
		return "", fmt.Errorf("update user %s: %w", id, domain.ErrConcurrencyConflict)
	}
	next := patch.Apply(cur)
	next.ETag = m.nextETag()
	m.users[id] = next
	return next.ETag, nil
}

func (m *Memory) RecordActivity(_ context.Context, a domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, a)
	return nil
}

// Activity returns the recorded audit entries, oldest first.
func (m *Memory) Activity() []domain.Activity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Activity(nil), m.activity...)
}

func copyTask(t domain.Task) domain.Task {
	t.Tags = append([]string(nil), t.Tags...)
	t.Comments = append([]domain.Comment(nil), t.Comments...)
	t.Attachments = append([]domain.Attachment(nil), t.Attachments...)
	return t
}
