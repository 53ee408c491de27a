package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// CreateTaskInput is the client payload for a new task. CreatedBy is accepted
// for compatibility but always replaced with the acting user.
type CreateTaskInput struct {
	Title       string     `json:"title" validate:"required,min=3,max=120"`
	Description string     `json:"description" validate:"max=2000"`
	Priority    Priority   `json:"priority" validate:"omitempty,oneof=low medium high"`
	Category    Category   `json:"category" validate:"omitempty,oneof=development design marketing operations support research other"`
	AssigneeID  string     `json:"assigneeId" validate:"required,max=128"`
	DueDate     *time.Time `json:"dueDate"`
	Tags        []string   `json:"tags" validate:"max=20,dive,required,max=32"`
	CreatedBy   string     `json:"createdBy"`
}

// EditTaskInput changes descriptive fields. Nil fields are left untouched.
type EditTaskInput struct {
	Title        *string    `json:"title" validate:"omitempty,min=3,max=120"`
	Description  *string    `json:"description" validate:"omitempty,max=2000"`
	Priority     *Priority  `json:"priority" validate:"omitempty,oneof=low medium high"`
	Category     *Category  `json:"category" validate:"omitempty,oneof=development design marketing operations support research other"`
	DueDate      *time.Time `json:"dueDate"`
	ClearDueDate bool       `json:"clearDueDate"`
	Tags         []string   `json:"tags" validate:"omitempty,max=20,dive,required,max=32"`
}

type CommentInput struct {
	Text string `json:"text" validate:"required,min=1,max=1000"`
}

type AttachmentInput struct {
	Filename string `json:"filename" validate:"required,max=255"`
	URL      string `json:"url" validate:"required,url"`
	Size     int64  `json:"size" validate:"gte=0"`
	MimeType string `json:"mimeType" validate:"required,max=127"`
}

// ProfileInput changes user profile fields. Role and Active are admin-only.
type ProfileInput struct {
	DisplayName *string     `json:"displayName" validate:"omitempty,min=1,max=80"`
	Department  *Department `json:"department" validate:"omitempty,oneof=engineering design marketing sales operations management"`
	Role        *Role       `json:"role" validate:"omitempty,oneof=admin employee"`
	Active      *bool       `json:"active"`
}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks s against its struct tags and returns a *ValidationError
// naming each invalid field.
func Validate(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: map[string]string{"_": err.Error()}}
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		out.Fields[field] = describe(fe)
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at most %s items", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "url":
		return "must be a valid URL"
	case "gte":
		return "must be at least " + fe.Param()
	}
	return "is invalid (" + fe.Tag() + ")"
}

// ValidateDueDate rejects due dates before the start of today.
func ValidateDueDate(due *time.Time, now time.Time) error {
	if due == nil {
		return nil
	}
	if due.Before(StartOfDay(now)) {
		return NewValidationError("dueDate", "must not be in the past")
	}
	return nil
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NormalizeCreate trims input and applies defaults before validation.
func NormalizeCreate(in CreateTaskInput) CreateTaskInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.AssigneeID = strings.TrimSpace(in.AssigneeID)
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	in.Tags = normalizeTags(in.Tags)
	return in
}

func NormalizeEdit(in EditTaskInput) EditTaskInput {
	if in.Title != nil {
		v := strings.TrimSpace(*in.Title)
		in.Title = &v
	}
	if in.Description != nil {
		v := strings.TrimSpace(*in.Description)
		in.Description = &v
	}
	if in.Tags != nil {
		in.Tags = normalizeTags(in.Tags)
	}
	return in
}

func normalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
