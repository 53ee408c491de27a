package storage

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"tasktracker/domain"
)

const edmInt64 = "Edm.Int64"

// entity is the subset of a stored row shared by every table.
type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	ETag         string `json:"odata.etag,omitempty"`
}

// taskEntity is the stored shape of a task. Times are Unix milliseconds with
// zero meaning unset; list fields are JSON documents.
type taskEntity struct {
	entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	Priority    string `json:"Priority"`
	Category    string `json:"Category"`
	AssigneeID  string `json:"AssigneeID"`
	CreatedBy   string `json:"CreatedBy"`
	Progress    int    `json:"Progress"`
	Deleted     bool   `json:"Deleted"`
	Tags        string `json:"Tags"`
	Comments    string `json:"Comments"`
	Attachments string `json:"Attachments"`
	CreatedAt   int64  `json:"CreatedAt,string"`
	UpdatedAt   int64  `json:"UpdatedAt,string"`
	DueDate     int64  `json:"DueDate,string"`
	StartedAt   int64  `json:"StartedAt,string"`
	CompletedAt int64  `json:"CompletedAt,string"`
	DeletedAt   int64  `json:"DeletedAt,string"`
}

type userEntity struct {
	entity
	UserID      string `json:"UserID"`
	Email       string `json:"Email"`
	DisplayName string `json:"DisplayName"`
	Role        string `json:"Role"`
	Department  string `json:"Department"`
	Active      bool   `json:"Active"`
	CreatedAt   int64  `json:"CreatedAt,string"`
	UpdatedAt   int64  `json:"UpdatedAt,string"`
	LastLoginAt int64  `json:"LastLoginAt,string"`
}

// props is an entity payload under construction.
type props map[string]any

func newProps(pk, rk string) props {
	return props{"PartitionKey": pk, "RowKey": rk}
}

func (p props) putInt64(name string, v int64) {
	p[name] = strconv.FormatInt(v, 10)
	p[name+"@odata.type"] = edmInt64
}

func (p props) putTime(name string, t time.Time) {
	p.putInt64(name, millis(t))
}

func (p props) putOptionalTime(name string, t *time.Time) {
	if t == nil {
		p.putInt64(name, 0)
		return
	}
	p.putTime(name, *t)
}

func (p props) putDocument(name string, v any) error {
	s, err := sonic.MarshalString(v)
	if err != nil {
		return err
	}
	p[name] = s
	return nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func fromMillisPtr(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := fromMillis(ms)
	return &t
}

func encodeTask(partition string, t domain.Task) (props, error) {
	p := newProps(partition, t.ID)
	p["Title"] = t.Title
	p["Description"] = t.Description
	p["Status"] = string(t.Status)
	p["Priority"] = string(t.Priority)
	p["Category"] = string(t.Category)
	p["AssigneeID"] = t.AssigneeID
	p["CreatedBy"] = t.CreatedBy
	p["Progress"] = t.Progress
	p["Deleted"] = t.Deleted
	if err := p.putDocument("Tags", nonNil(t.Tags)); err != nil {
		return nil, err
	}
	if err := p.putDocument("Comments", nonNil(t.Comments)); err != nil {
		return nil, err
	}
	if err := p.putDocument("Attachments", nonNil(t.Attachments)); err != nil {
		return nil, err
	}
	p.putTime("CreatedAt", t.CreatedAt)
	p.putTime("UpdatedAt", t.UpdatedAt)
	p.putOptionalTime("DueDate", t.DueDate)
	p.putOptionalTime("StartedAt", t.StartedAt)
	p.putOptionalTime("CompletedAt", t.CompletedAt)
	p.putOptionalTime("DeletedAt", t.DeletedAt)
	return p, nil
}

// encodeTaskPatch builds a merge payload holding only the fields the patch
// changes. Cleared times are written as zero.
func encodeTaskPatch(partition, id string, patch domain.TaskPatch) (props, error) {
	p := newProps(partition, id)
	if patch.Title != nil {
		p["Title"] = *patch.Title
	}
	if patch.Description != nil {
		p["Description"] = *patch.Description
	}
	if patch.Status != nil {
		p["Status"] = string(*patch.Status)
	}
	if patch.Priority != nil {
		p["Priority"] = string(*patch.Priority)
	}
	if patch.Category != nil {
		p["Category"] = string(*patch.Category)
	}
	if patch.AssigneeID != nil {
		p["AssigneeID"] = *patch.AssigneeID
	}
	if patch.Progress != nil {
		p["Progress"] = *patch.Progress
	}
	if patch.Deleted != nil {
		p["Deleted"] = *patch.Deleted
	}
	if patch.Tags != nil {
		if err := p.putDocument("Tags", nonNil(*patch.Tags)); err != nil {
			return nil, err
		}
	}
	if patch.Comments != nil {
		if err := p.putDocument("Comments", nonNil(*patch.Comments)); err != nil {
			return nil, err
		}
	}
	if patch.Attachments != nil {
		if err := p.putDocument("Attachments", nonNil(*patch.Attachments)); err != nil {
			return nil, err
		}
	}
	if patch.UpdatedAt != nil {
		p.putTime("UpdatedAt", *patch.UpdatedAt)
	}
	if patch.StartedAt != nil {
		p.putTime("StartedAt", *patch.StartedAt)
	}
	switch {
	case patch.ClearDueDate:
		p.putInt64("DueDate", 0)
	case patch.DueDate != nil:
		p.putTime("DueDate", *patch.DueDate)
	}
	switch {
	case patch.ClearCompletedAt:
		p.putInt64("CompletedAt", 0)
	case patch.CompletedAt != nil:
		p.putTime("CompletedAt", *patch.CompletedAt)
	}
	switch {
	case patch.ClearDeletedAt:
		p.putInt64("DeletedAt", 0)
	case patch.DeletedAt != nil:
		p.putTime("DeletedAt", *patch.DeletedAt)
	}
	return p, nil
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		Priority:    domain.Priority(ent.Priority),
		Category:    domain.Category(ent.Category),
		AssigneeID:  ent.AssigneeID,
		CreatedBy:   ent.CreatedBy,
		Progress:    ent.Progress,
		Deleted:     ent.Deleted,
		CreatedAt:   fromMillis(ent.CreatedAt),
		UpdatedAt:   fromMillis(ent.UpdatedAt),
		DueDate:     fromMillisPtr(ent.DueDate),
		StartedAt:   fromMillisPtr(ent.StartedAt),
		CompletedAt: fromMillisPtr(ent.CompletedAt),
		DeletedAt:   fromMillisPtr(ent.DeletedAt),
		ETag:        ent.ETag,
	}
	if err := decodeDocument(ent.Tags, &t.Tags); err != nil {
		return domain.Task{}, err
	}
	if err := decodeDocument(ent.Comments, &t.Comments); err != nil {
		return domain.Task{}, err
	}
	if err := decodeDocument(ent.Attachments, &t.Attachments); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func decodeDocument[T any](s string, out *[]T) error {
	if s == "" {
		return nil
	}
	if err := sonic.UnmarshalString(s, out); err != nil {
		return err
	}
	if len(*out) == 0 {
		*out = nil
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// userRowKey escapes characters that table row keys reject, such as '/'.
func userRowKey(id string) string {
	return url.PathEscape(id)
}

func encodeUser(partition string, u domain.User) props {
	p := newProps(partition, userRowKey(u.ID))
	p["UserID"] = u.ID
	p["Email"] = u.Email
	p["DisplayName"] = u.DisplayName
	p["Role"] = string(u.Role)
	p["Department"] = string(u.Department)
	p["Active"] = u.Active
	p.putTime("CreatedAt", u.CreatedAt)
	p.putTime("UpdatedAt", u.UpdatedAt)
	p.putOptionalTime("LastLoginAt", u.LastLoginAt)
	return p
}

func encodeUserPatch(partition, id string, patch domain.UserPatch) props {
	p := newProps(partition, userRowKey(id))
	if patch.Email != nil {
		p["Email"] = *patch.Email
	}
	if patch.DisplayName != nil {
		p["DisplayName"] = *patch.DisplayName
	}
	if patch.Role != nil {
		p["Role"] = string(*patch.Role)
	}
	if patch.Department != nil {
		p["Department"] = string(*patch.Department)
	}
	if patch.Active != nil {
		p["Active"] = *patch.Active
	}
	if patch.UpdatedAt != nil {
		p.putTime("UpdatedAt", *patch.UpdatedAt)
	}
	if patch.LastLoginAt != nil {
		p.putTime("LastLoginAt", *patch.LastLoginAt)
	}
	return p
}

func decodeUser(data []byte) (domain.User, error) {
	var ent userEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.User{}, err
	}
	id := ent.UserID
	if id == "" {
		id, _ = url.PathUnescape(ent.RowKey)
	}
	return domain.User{
		ID:          id,
		Email:       ent.Email,
		DisplayName: ent.DisplayName,
		Role:        domain.Role(ent.Role),
		Department:  domain.Department(ent.Department),
		Active:      ent.Active,
		CreatedAt:   fromMillis(ent.CreatedAt),
		UpdatedAt:   fromMillis(ent.UpdatedAt),
		LastLoginAt: fromMillisPtr(ent.LastLoginAt),
		ETag:        ent.ETag,
	}, nil
}

// activityRowKey sorts newest entries first within the partition.
func activityRowKey(a domain.Activity) string {
	inverted := int64(1<<63-1) - a.Timestamp.UnixNano()
	return fmt.Sprintf("%019d_%s", inverted, a.ID)
}

func encodeActivity(partition string, a domain.Activity) props {
	p := newProps(partition, activityRowKey(a))
	p["ActivityID"] = a.ID
	p["Action"] = a.Action
	p["Description"] = a.Description
	p["ActorID"] = a.ActorID
	p["TaskID"] = a.TaskID
	// Timestamp is reserved by the table service.
	p.putTime("OccurredAt", a.Timestamp)
	return p
}
