package domain

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusAssigned, StatusInProgress, StatusCompleted, StatusBlocked}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAssigned, StatusInProgress, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// rank orders priorities for sorting, high first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

type Category string

const (
	CategoryDevelopment Category = "development"
	CategoryDesign      Category = "design"
	CategoryMarketing   Category = "marketing"
	CategoryOperations  Category = "operations"
	CategorySupport     Category = "support"
	CategoryResearch    Category = "research"
	CategoryOther       Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryDevelopment, CategoryDesign, CategoryMarketing, CategoryOperations,
		CategorySupport, CategoryResearch, CategoryOther:
		return true
	}
	return false
}

// Comment is a note appended to a task.
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Attachment describes a file uploaded elsewhere and linked to a task.
type Attachment struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	URL        string    `json:"url"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mimeType"`
	UploadedBy string    `json:"uploadedBy"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Task is a unit of work assigned to one user.
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      Status       `json:"status"`
	Priority    Priority     `json:"priority"`
	Category    Category     `json:"category,omitempty"`
	AssigneeID  string       `json:"assigneeId"`
	CreatedBy   string       `json:"createdBy"`
	Progress    int          `json:"progress"`
	Deleted     bool         `json:"deleted"`
	Tags        []string     `json:"tags,omitempty"`
	Comments    []Comment    `json:"comments,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	DueDate     *time.Time   `json:"dueDate,omitempty"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
	DeletedAt   *time.Time   `json:"deletedAt,omitempty"`

	// ETag is the store revision the task was read at.
	ETag string `json:"-"`
}

// TaskPatch carries partial updates for a task. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *Status
	Priority    *Priority
	Category    *Category
	AssigneeID  *string
	Progress    *int
	Deleted     *bool
	Tags        *[]string
	Comments    *[]Comment
	Attachments *[]Attachment
	UpdatedAt   *time.Time
	DueDate     *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	DeletedAt   *time.Time

	ClearDueDate     bool
	ClearCompletedAt bool
	ClearDeletedAt   bool
}

// Empty reports whether the patch changes nothing besides UpdatedAt.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil &&
		p.Category == nil && p.AssigneeID == nil && p.Progress == nil && p.Deleted == nil &&
		p.Tags == nil && p.Comments == nil && p.Attachments == nil && p.DueDate == nil &&
		p.StartedAt == nil && p.CompletedAt == nil && p.DeletedAt == nil &&
		!p.ClearDueDate && !p.ClearCompletedAt && !p.ClearDeletedAt
}

// Merge overlays other on top of p and returns the result.
func (p TaskPatch) Merge(other TaskPatch) TaskPatch {
	out := p
	if other.Title != nil {
		out.Title = other.Title
	}
	if other.Description != nil {
		out.Description = other.Description
	}
	if other.Status != nil {
		out.Status = other.Status
	}
	if other.Priority != nil {
		out.Priority = other.Priority
	}
	if other.Category != nil {
		out.Category = other.Category
	}
	if other.AssigneeID != nil {
		out.AssigneeID = other.AssigneeID
	}
	if other.Progress != nil {
		out.Progress = other.Progress
	}
	if other.Deleted != nil {
		out.Deleted = other.Deleted
	}
	if other.Tags != nil {
		out.Tags = other.Tags
	}
	if other.Comments != nil {
		out.Comments = other.Comments
	}
	if other.Attachments != nil {
		out.Attachments = other.Attachments
	}
	if other.UpdatedAt != nil {
		out.UpdatedAt = other.UpdatedAt
	}
	if other.DueDate != nil {
		out.DueDate, out.ClearDueDate = other.DueDate, false
	}
	if other.StartedAt != nil {
		out.StartedAt = other.StartedAt
	}
	if other.CompletedAt != nil {
		out.CompletedAt, out.ClearCompletedAt = other.CompletedAt, false
	}
	if other.DeletedAt != nil {
		out.DeletedAt, out.ClearDeletedAt = other.DeletedAt, false
	}
	if other.ClearDueDate {
		out.DueDate, out.ClearDueDate = nil, true
	}
	if other.ClearCompletedAt {
		out.CompletedAt, out.ClearCompletedAt = nil, true
	}
	if other.ClearDeletedAt {
		out.DeletedAt, out.ClearDeletedAt = nil, true
	}
	return out
}

// Apply returns a copy of t with the patch applied.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.AssigneeID != nil {
		t.AssigneeID = *p.AssigneeID
	}
	if p.Progress != nil {
		t.Progress = *p.Progress
	}
	if p.Deleted != nil {
		t.Deleted = *p.Deleted
	}
	if p.Tags != nil {
		t.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Comments != nil {
		t.Comments = append([]Comment(nil), (*p.Comments)...)
	}
	if p.Attachments != nil {
		t.Attachments = append([]Attachment(nil), (*p.Attachments)...)
	}
	if p.UpdatedAt != nil {
		t.UpdatedAt = *p.UpdatedAt
	}
	if p.DueDate != nil {
		t.DueDate = timePtr(*p.DueDate)
	}
	if p.StartedAt != nil {
		t.StartedAt = timePtr(*p.StartedAt)
	}
	if p.CompletedAt != nil {
		t.CompletedAt = timePtr(*p.CompletedAt)
	}
	if p.DeletedAt != nil {
		t.DeletedAt = timePtr(*p.DeletedAt)
	}
	if p.ClearDueDate {
		t.DueDate = nil
	}
	if p.ClearCompletedAt {
		t.CompletedAt = nil
	}
	if p.ClearDeletedAt {
		t.DeletedAt = nil
	}
	return t
}

func timePtr(t time.Time) *time.Time { return &t }
