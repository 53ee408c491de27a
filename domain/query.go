package domain

import (
	"sort"
	"time"
)

// Task fields usable in equality filters and ordering.
const (
	FieldStatus     = "Status"
	FieldPriority   = "Priority"
	FieldCategory   = "Category"
	FieldAssigneeID = "AssigneeID"
	FieldCreatedBy  = "CreatedBy"
	FieldDeleted    = "Deleted"

	OrderCreatedAt = "createdAt"
	OrderUpdatedAt = "updatedAt"
	OrderDueDate   = "dueDate"
	OrderPriority  = "priority"
	OrderDeletedAt = "deletedAt"
)

// Filter is an equality predicate on a task field. Value is a string or bool.
type Filter struct {
	Field string
	Value any
}

// TaskQuery selects tasks by equality filters with optional ordering and limit.
type TaskQuery struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// With returns a copy of q with an extra filter.
func (q TaskQuery) With(field string, value any) TaskQuery {
	out := q
	out.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return out
}

// ValidOrder reports whether o is a supported ordering key.
func ValidOrder(o string) bool {
	switch o {
	case "", OrderCreatedAt, OrderUpdatedAt, OrderDueDate, OrderPriority, OrderDeletedAt:
		return true
	}
	return false
}

// Matches reports whether t satisfies every filter in q.
func (q TaskQuery) Matches(t Task) bool {
	for _, f := range q.Filters {
		if !matchField(t, f) {
			return false
		}
	}
	return true
}

func matchField(t Task, f Filter) bool {
	switch f.Field {
	case FieldStatus:
		return string(t.Status) == asString(f.Value)
	case FieldPriority:
		return string(t.Priority) == asString(f.Value)
	case FieldCategory:
		return string(t.Category) == asString(f.Value)
	case FieldAssigneeID:
		return t.AssigneeID == asString(f.Value)
	case FieldCreatedBy:
		return t.CreatedBy == asString(f.Value)
	case FieldDeleted:
		b, ok := f.Value.(bool)
		return ok && t.Deleted == b
	}
	return false
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case Status:
		return string(s)
	case Priority:
		return string(s)
	case Category:
		return string(s)
	}
	return ""
}

// SortTasks orders tasks in place by the given key; ties fall back to
// creation time and id so results are stable. Tasks missing the ordering
// timestamp sort last.
func SortTasks(tasks []Task, orderBy string, desc bool) {
	if orderBy == "" {
		orderBy = OrderCreatedAt
		desc = true
	}
	less := func(a, b Task) int {
		switch orderBy {
		case OrderUpdatedAt:
			return compareTime(a.UpdatedAt, b.UpdatedAt)
		case OrderDueDate:
			return compareOptionalTime(a.DueDate, b.DueDate, desc)
		case OrderDeletedAt:
			return compareOptionalTime(a.DeletedAt, b.DeletedAt, desc)
		case OrderPriority:
			return a.Priority.rank() - b.Priority.rank()
		}
		return compareTime(a.CreatedAt, b.CreatedAt)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		c := less(tasks[i], tasks[j])
		if c == 0 {
			c = compareTime(tasks[i].CreatedAt, tasks[j].CreatedAt)
			if c == 0 {
				return tasks[i].ID < tasks[j].ID
			}
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// Apply filters, orders and limits tasks according to q.
func (q TaskQuery) Apply(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if q.Matches(t) {
			out = append(out, t)
		}
	}
	SortTasks(out, q.OrderBy, q.Descending)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

// compareOptionalTime orders nil after any set time regardless of direction.
func compareOptionalTime(a, b *time.Time, desc bool) int {
	last := 1
	if desc {
		last = -1
	}
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return last
	case b == nil:
		return -last
	}
	return compareTime(*a, *b)
}
