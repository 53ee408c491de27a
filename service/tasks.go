package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
)

const (
	// MaxAttachments bounds the attachment records kept on one task.
	MaxAttachments = 20
	maxListLimit   = 500
)

// TaskService implements the task lifecycle on top of a TaskStore. Every
// operation receives the acting user explicitly and re-checks permissions
// against the stored task before writing.
type TaskService struct {
	tasks    TaskStore
	users    UserStore
	activity recorder
	log      *log.Logger
	now      func() time.Time
	newID    func() string

	retentionDays int
}

func NewTaskService(tasks TaskStore, users UserStore, activity ActivityLog, logger *log.Logger, retentionDays int) *TaskService {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &TaskService{
		tasks:         tasks,
		users:         users,
		activity:      newRecorder(activity, logger),
		log:           logger,
		now:           time.Now,
		newID:         uuid.NewString,
		retentionDays: retentionDays,
	}
}

// ListOptions narrows and orders a task listing.
type ListOptions struct {
	Status     domain.Status
	Priority   domain.Priority
	Category   domain.Category
	AssigneeID string
	OrderBy    string
	Descending bool
	Limit      int
}

// TaskPermissions tells a client which controls to offer for a task.
type TaskPermissions struct {
	Actions  map[domain.Action]bool `json:"actions"`
	Statuses []domain.Status        `json:"statuses"`
}

func (s *TaskService) clock() time.Time {
	return s.now().UTC()
}

// Create stores a new task. The creator is always the acting user.
func (s *TaskService) Create(ctx context.Context, actor domain.Actor, in domain.CreateTaskInput) (domain.Task, error) {
	if !domain.CanPerform(actor, domain.Task{}, domain.ActionCreate) {
		return domain.Task{}, unauthorized(s.log, actor, domain.ActionCreate, "")
	}
	in = domain.NormalizeCreate(in)
	if err := domain.Validate(in); err != nil {
		return domain.Task{}, err
	}
	now := s.clock()
	if err := domain.ValidateDueDate(in.DueDate, now); err != nil {
		return domain.Task{}, err
	}
	if err := s.checkAssignee(ctx, in.AssigneeID); err != nil {
		return domain.Task{}, err
	}
	if in.CreatedBy != "" && in.CreatedBy != actor.ID {
		s.log.WithFields(log.Fields{"actor": actor.ID, "claimed": in.CreatedBy}).Warn("ignoring client supplied creator")
	}

	t := domain.Task{
		ID:          s.newID(),
		Title:       in.Title,
		Description: in.Description,
		Status:      domain.StatusAssigned,
		Priority:    in.Priority,
		Category:    in.Category,
		AssigneeID:  in.AssigneeID,
		CreatedBy:   actor.ID,
		Tags:        in.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
		DueDate:     in.DueDate,
	}
	created, err := s.tasks.InsertTask(ctx, t)
	if err != nil {
		return domain.Task{}, failure(s.log, "create task", log.Fields{"actor": actor.ID}, err)
	}
	s.activity.record(ctx, now, actor.ID, domain.ActivityTaskCreated, created.ID, fmt.Sprintf("created task %q", created.Title))
	return created, nil
}

// Get returns a task the actor may view, including one in the trash.
func (s *TaskService) Get(ctx context.Context, actor domain.Actor, id string) (domain.Task, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !domain.CanPerform(actor, t, domain.ActionView) {
		return domain.Task{}, unauthorized(s.log, actor, domain.ActionView, id)
	}
	return t, nil
}

// Lookup is Get for fan-out paths where most lookups are expected to be
// denied: it reports visibility instead of logging failures. Trashed tasks
// are never visible.
func (s *TaskService) Lookup(ctx context.Context, actor domain.Actor, id string) (domain.Task, bool) {
	if strings.TrimSpace(id) == "" {
		return domain.Task{}, false
	}
	t, err := s.tasks.GetTask(ctx, id)
	if err != nil || t.Deleted || !domain.CanPerform(actor, t, domain.ActionView) {
		return domain.Task{}, false
	}
	return t, true
}

// List returns the live tasks visible to the actor. Admins see every task;
// employees see tasks they created or are assigned to.
func (s *TaskService) List(ctx context.Context, actor domain.Actor, opts ListOptions) ([]domain.Task, error) {
	q, err := opts.query()
	if err != nil {
		return nil, err
	}
	return s.visible(ctx, actor, q.With(domain.FieldDeleted, false))
}

func (o ListOptions) query() (domain.TaskQuery, error) {
	verr := &domain.ValidationError{Fields: map[string]string{}}
	q := domain.TaskQuery{OrderBy: o.OrderBy, Descending: o.Descending, Limit: o.Limit}
	if o.Status != "" {
		if !o.Status.Valid() {
			verr.Fields["status"] = "must be one of assigned, in-progress, completed, blocked"
		}
		q = q.With(domain.FieldStatus, string(o.Status))
	}
	if o.Priority != "" {
		if !o.Priority.Valid() {
			verr.Fields["priority"] = "must be one of low, medium, high"
		}
		q = q.With(domain.FieldPriority, string(o.Priority))
	}
	if o.Category != "" {
		if !o.Category.Valid() {
			verr.Fields["category"] = "must be one of development, design, marketing, operations, support, research, other"
		}
		q = q.With(domain.FieldCategory, string(o.Category))
	}
	if o.AssigneeID != "" {
		q = q.With(domain.FieldAssigneeID, o.AssigneeID)
	}
	if !domain.ValidOrder(o.OrderBy) {
		verr.Fields["orderBy"] = "must be one of createdAt, updatedAt, dueDate, priority, deletedAt"
	}
	if o.Limit < 0 || o.Limit > maxListLimit {
		verr.Fields["limit"] = fmt.Sprintf("must be between 0 and %d", maxListLimit)
	}
	if len(verr.Fields) > 0 {
		return domain.TaskQuery{}, verr
	}
	return q, nil
}

// visible runs q with the actor's visibility rule applied.
func (s *TaskService) visible(ctx context.Context, actor domain.Actor, q domain.TaskQuery) ([]domain.Task, error) {
	if !actor.Active || actor.ID == "" {
		return nil, unauthorized(s.log, actor, domain.ActionView, "")
	}
	if actor.IsAdmin() {
		tasks, err := s.tasks.QueryTasks(ctx, q)
		if err != nil {
			return nil, failure(s.log, "list tasks", log.Fields{"actor": actor.ID}, err)
		}
		return tasks, nil
	}
	created, err := s.tasks.QueryTasks(ctx, q.With(domain.FieldCreatedBy, actor.ID))
	if err != nil {
		return nil, failure(s.log, "list tasks", log.Fields{"actor": actor.ID}, err)
	}
	assigned, err := s.tasks.QueryTasks(ctx, q.With(domain.FieldAssigneeID, actor.ID))
	if err != nil {
		return nil, failure(s.log, "list tasks", log.Fields{"actor": actor.ID}, err)
	}
	seen := make(map[string]struct{}, len(created)+len(assigned))
	merged := make([]domain.Task, 0, len(created)+len(assigned))
	for _, t := range append(created, assigned...) {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		merged = append(merged, t)
	}
	return q.Apply(merged), nil
}

// Edit changes descriptive fields of a live task.
func (s *TaskService) Edit(ctx context.Context, actor domain.Actor, id string, in domain.EditTaskInput) (domain.Task, error) {
	in = domain.NormalizeEdit(in)
	if err := domain.Validate(in); err != nil {
		return domain.Task{}, err
	}
	if in.DueDate != nil && in.ClearDueDate {
		return domain.Task{}, domain.NewValidationError("dueDate", "cannot set and clear the due date together")
	}
	if err := domain.ValidateDueDate(in.DueDate, s.clock()); err != nil {
		return domain.Task{}, err
	}
	t, changed, err := s.mutate(ctx, actor, id, domain.ActionEdit, true, func(t domain.Task) (domain.TaskPatch, error) {
		var p domain.TaskPatch
		if in.Title != nil && *in.Title != t.Title {
			p.Title = in.Title
		}
		if in.Description != nil && *in.Description != t.Description {
			p.Description = in.Description
		}
		if in.Priority != nil && *in.Priority != t.Priority {
			p.Priority = in.Priority
		}
		if in.Category != nil && *in.Category != t.Category {
			p.Category = in.Category
		}
		if in.DueDate != nil && (t.DueDate == nil || !in.DueDate.Equal(*t.DueDate)) {
			p.DueDate = in.DueDate
		}
		if in.ClearDueDate && t.DueDate != nil {
			p.ClearDueDate = true
		}
		if in.Tags != nil && !slices.Equal(in.Tags, t.Tags) {
			tags := in.Tags
			p.Tags = &tags
		}
		return p, nil
	})
	if err == nil && changed {
		s.activity.record(ctx, t.UpdatedAt, actor.ID, domain.ActivityTaskUpdated, id, fmt.Sprintf("edited task %q", t.Title))
	}
	return t, err
}

// ChangeStatus applies a status and/or progress write with its side effects.
func (s *TaskService) ChangeStatus(ctx context.Context, actor domain.Actor, id string, change domain.StatusChange) (domain.Task, error) {
	if err := change.Validate(); err != nil {
		return domain.Task{}, err
	}
	action := domain.ActionChangeStatus
	if change.Status == nil {
		action = domain.ActionUpdateProgress
	}
	var from domain.Status
	t, changed, err := s.mutate(ctx, actor, id, action, true, func(t domain.Task) (domain.TaskPatch, error) {
		from = t.Status
		target := domain.TargetStatus(t, change)
		if (change.Status != nil || target != t.Status) && !domain.CanTransition(actor, t.Status, target) {
			return domain.TaskPatch{}, unauthorized(s.log, actor, action, id)
		}
		return domain.DeriveStatusSideEffects(t, change, s.clock())
	})
	if err != nil || !changed {
		return t, err
	}
	if t.Status != from {
		s.activity.record(ctx, t.UpdatedAt, actor.ID, domain.ActivityStatusChanged, id, fmt.Sprintf("moved task %q from %s to %s", t.Title, from, t.Status))
	} else {
		s.activity.record(ctx, t.UpdatedAt, actor.ID, domain.ActivityProgressUpdated, id, fmt.Sprintf("set progress of %q to %d%%", t.Title, t.Progress))
	}
	return t, nil
}

// UpdateProgress writes progress, implicitly moving the status when the value
// starts or completes the task.
func (s *TaskService) UpdateProgress(ctx context.Context, actor domain.Actor, id string, progress int) (domain.Task, error) {
	return s.ChangeStatus(ctx, actor, id, domain.StatusChange{Progress: &progress})
}

// AddComment appends a comment to a live task.
func (s *TaskService) AddComment(ctx context.Context, actor domain.Actor, id string, in domain.CommentInput) (domain.Comment, error) {
	in.Text = strings.TrimSpace(in.Text)
	if err := domain.Validate(in); err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{ID: s.newID(), AuthorID: actor.ID, Text: in.Text}
	t, _, err := s.mutate(ctx, actor, id, domain.ActionComment, true, func(t domain.Task) (domain.TaskPatch, error) {
		c.CreatedAt = s.clock()
		comments := append(append([]domain.Comment(nil), t.Comments...), c)
		return domain.TaskPatch{Comments: &comments}, nil
	})
	if err != nil {
		return domain.Comment{}, err
	}
	s.activity.record(ctx, c.CreatedAt, actor.ID, domain.ActivityTaskCommented, id, fmt.Sprintf("commented on %q", t.Title))
	return c, nil
}

// AddAttachment links attachment metadata to a live task.
func (s *TaskService) AddAttachment(ctx context.Context, actor domain.Actor, id string, in domain.AttachmentInput) (domain.Attachment, error) {
	in.Filename = strings.TrimSpace(in.Filename)
	if err := domain.Validate(in); err != nil {
		return domain.Attachment{}, err
	}
	a := domain.Attachment{
		ID:         s.newID(),
		Filename:   in.Filename,
		URL:        in.URL,
		Size:       in.Size,
		MimeType:   in.MimeType,
		UploadedBy: actor.ID,
	}
	t, _, err := s.mutate(ctx, actor, id, domain.ActionEdit, true, func(t domain.Task) (domain.TaskPatch, error) {
		if len(t.Attachments) >= MaxAttachments {
			return domain.TaskPatch{}, domain.NewValidationError("attachments", fmt.Sprintf("a task holds at most %d attachments", MaxAttachments))
		}
		a.UploadedAt = s.clock()
		attachments := append(append([]domain.Attachment(nil), t.Attachments...), a)
		return domain.TaskPatch{Attachments: &attachments}, nil
	})
	if err != nil {
		return domain.Attachment{}, err
	}
	s.activity.record(ctx, a.UploadedAt, actor.ID, domain.ActivityAttachmentAdded, id, fmt.Sprintf("attached %s to %q", a.Filename, t.Title))
	return a, nil
}

// RemoveAttachment unlinks attachment metadata from a live task.
func (s *TaskService) RemoveAttachment(ctx context.Context, actor domain.Actor, id, attachmentID string) (domain.Task, error) {
	var removed domain.Attachment
	t, _, err := s.mutate(ctx, actor, id, domain.ActionEdit, true, func(t domain.Task) (domain.TaskPatch, error) {
		kept := make([]domain.Attachment, 0, len(t.Attachments))
		found := false
		for _, a := range t.Attachments {
			if a.ID == attachmentID {
				removed, found = a, true
				continue
			}
			kept = append(kept, a)
		}
		if !found {
			return domain.TaskPatch{}, fmt.Errorf("attachment %s: %w", attachmentID, domain.ErrNotFound)
		}
		return domain.TaskPatch{Attachments: &kept}, nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	s.activity.record(ctx, t.UpdatedAt, actor.ID, domain.ActivityAttachmentRemoved, id, fmt.Sprintf("removed %s from %q", removed.Filename, t.Title))
	return t, nil
}

// Reassign hands a live task to another active user.
func (s *TaskService) Reassign(ctx context.Context, actor domain.Actor, id, assigneeID string) (domain.Task, error) {
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return domain.Task{}, domain.NewValidationError("assigneeId", "is required")
	}
	var from string
	t, changed, err := s.mutate(ctx, actor, id, domain.ActionReassign, true, func(t domain.Task) (domain.TaskPatch, error) {
		from = t.AssigneeID
		if t.AssigneeID == assigneeID {
			return domain.TaskPatch{}, nil
		}
		if err := s.checkAssignee(ctx, assigneeID); err != nil {
			return domain.TaskPatch{}, err
		}
		return domain.TaskPatch{AssigneeID: &assigneeID}, nil
	})
	if err == nil && changed {
		s.activity.record(ctx, t.UpdatedAt, actor.ID, domain.ActivityTaskReassigned, id, fmt.Sprintf("reassigned %q from %s to %s", t.Title, from, assigneeID))
	}
	return t, err
}

// Permissions reports the actions and status targets available to the actor.
func (s *TaskService) Permissions(ctx context.Context, actor domain.Actor, id string) (TaskPermissions, error) {
	t, err := s.Get(ctx, actor, id)
	if err != nil {
		return TaskPermissions{}, err
	}
	out := TaskPermissions{Actions: make(map[domain.Action]bool, len(domain.Actions)), Statuses: []domain.Status{}}
	for _, a := range domain.Actions {
		out.Actions[a] = domain.CanPerform(actor, t, a)
	}
	if t.Deleted {
		for _, a := range domain.Actions {
			if a != domain.ActionView && a != domain.ActionRestore && a != domain.ActionPurge {
				out.Actions[a] = false
			}
		}
	} else {
		out.Actions[domain.ActionRestore] = false
		out.Actions[domain.ActionPurge] = false
		if out.Actions[domain.ActionChangeStatus] {
			out.Statuses = domain.AllowedTargets(actor, t.Status)
		}
	}
	return out, nil
}

func (s *TaskService) load(ctx context.Context, id string) (domain.Task, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Task{}, fmt.Errorf("task id is empty: %w", domain.ErrNotFound)
	}
	t, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, failure(s.log, "load task", log.Fields{"task": id}, err)
	}
	return t, nil
}

func (s *TaskService) checkAssignee(ctx context.Context, id string) error {
	if s.users == nil {
		return nil
	}
	u, err := s.users.GetUser(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewValidationError("assigneeId", "unknown user")
	}
	if err != nil {
		return failure(s.log, "load assignee", log.Fields{"user": id}, err)
	}
	if !u.Active {
		return domain.NewValidationError("assigneeId", "user is inactive")
	}
	return nil
}

// mutate loads the task, authorizes action, builds a patch and writes it
// conditionally on the loaded revision. A concurrent write triggers one
// re-read so authorization and side effects are recomputed on fresh state.
// When live is set, tasks in the trash are reported as not found. The bool
// result reports whether anything was written.
func (s *TaskService) mutate(ctx context.Context, actor domain.Actor, id string, action domain.Action, live bool,
	build func(domain.Task) (domain.TaskPatch, error)) (domain.Task, bool, error) {
	for attempt := 0; ; attempt++ {
		t, err := s.load(ctx, id)
		if err != nil {
			return domain.Task{}, false, err
		}
		if !domain.CanPerform(actor, t, action) {
			return domain.Task{}, false, unauthorized(s.log, actor, action, id)
		}
		if live && t.Deleted {
			return domain.Task{}, false, fmt.Errorf("task %s is in the trash: %w", id, domain.ErrNotFound)
		}
		patch, err := build(t)
		if err != nil {
			return domain.Task{}, false, err
		}
		if patch.Empty() {
			return t, false, nil
		}
		now := s.clock()
		patch.UpdatedAt = &now
		etag, err := s.tasks.UpdateTask(ctx, id, patch, t.ETag)
		if err == nil {
			out := patch.Apply(t)
			out.ETag = etag
			return out, true, nil
		}
		if errors.Is(err, domain.ErrConcurrencyConflict) && attempt == 0 {
			s.log.WithFields(log.Fields{"task": id, "action": action}).Info("task changed concurrently, retrying")
			continue
		}
		return domain.Task{}, false, failure(s.log, "update task", log.Fields{"task": id, "action": action}, err)
	}
}
