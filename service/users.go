package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
)

// Identity is the authenticated subject behind a request.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// UserService manages team member profiles and resolves request actors.
type UserService struct {
	users    UserStore
	activity recorder
	log      *log.Logger
	now      func() time.Time
	admins   map[string]bool
}

// NewUserService creates a UserService. Subjects in adminSubjects are
// provisioned with the admin role on first sign in.
func NewUserService(users UserStore, activity ActivityLog, logger *log.Logger, adminSubjects []string) *UserService {
	if logger == nil {
		logger = log.StandardLogger()
	}
	admins := make(map[string]bool, len(adminSubjects))
	for _, s := range adminSubjects {
		if s = strings.TrimSpace(s); s != "" {
			admins[s] = true
		}
	}
	return &UserService{
		users:    users,
		activity: newRecorder(activity, logger),
		log:      logger,
		now:      time.Now,
		admins:   admins,
	}
}

// ResolveActor loads the user behind id, provisioning a profile on first
// sight. Inactive users are returned as is; callers decide how to reject them.
func (s *UserService) ResolveActor(ctx context.Context, id Identity) (domain.User, error) {
	if id.Subject == "" {
		return domain.User{}, fmt.Errorf("empty subject: %w", domain.ErrUnauthorized)
	}
	u, err := s.users.GetUser(ctx, id.Subject)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, failure(s.log, "load user", log.Fields{"user": id.Subject}, err)
	}

	now := s.now().UTC()
	role := domain.RoleEmployee
	if s.admins[id.Subject] {
		role = domain.RoleAdmin
	}
	name := strings.TrimSpace(id.Name)
	if name == "" {
		name = strings.TrimSpace(id.Email)
	}
	if name == "" {
		name = id.Subject
	}
	u, err = s.users.InsertUser(ctx, domain.User{
		ID:          id.Subject,
		Email:       id.Email,
		DisplayName: name,
		Role:        role,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		// provisioned by a concurrent request
		u, err = s.users.GetUser(ctx, id.Subject)
	}
	if err != nil {
		return domain.User{}, failure(s.log, "provision user", log.Fields{"user": id.Subject}, err)
	}
	s.log.WithFields(log.Fields{"user": u.ID, "role": u.Role}).Info("user provisioned")
	s.activity.record(ctx, now, u.ID, domain.ActivityUserCreated, "", fmt.Sprintf("%s joined as %s", u.DisplayName, u.Role))
	return u, nil
}

// RecordLogin stamps the actor's last login time.
func (s *UserService) RecordLogin(ctx context.Context, actor domain.Actor) (domain.User, error) {
	if !actor.Active {
		return domain.User{}, fmt.Errorf("login %s: %w", actor.ID, domain.ErrUnauthorized)
	}
	now := s.now().UTC()
	u, err := s.update(ctx, actor.ID, func(domain.User) (domain.UserPatch, error) {
		return domain.UserPatch{LastLoginAt: &now}, nil
	})
	if err != nil {
		return domain.User{}, err
	}
	s.activity.record(ctx, now, actor.ID, domain.ActivityUserLoggedIn, "", u.DisplayName+" signed in")
	return u, nil
}

func (s *UserService) Get(ctx context.Context, actor domain.Actor, id string) (domain.User, error) {
	if !actor.Active {
		return domain.User{}, fmt.Errorf("view user %s: %w", id, domain.ErrUnauthorized)
	}
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, failure(s.log, "load user", log.Fields{"user": id}, err)
	}
	return u, nil
}

// List returns every team member ordered by display name.
func (s *UserService) List(ctx context.Context, actor domain.Actor) ([]domain.User, error) {
	if !actor.Active {
		return nil, fmt.Errorf("list users: %w", domain.ErrUnauthorized)
	}
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, failure(s.log, "list users", log.Fields{"actor": actor.ID}, err)
	}
	sortUsers(users)
	return users, nil
}

// UpdateProfile changes profile fields. Users may edit their own display name
// and department; role and active flag are admin-only, and admins cannot
// demote or deactivate themselves.
func (s *UserService) UpdateProfile(ctx context.Context, actor domain.Actor, id string, in domain.ProfileInput) (domain.User, error) {
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" {
			return domain.User{}, domain.NewValidationError("displayName", "is required")
		}
		in.DisplayName = &name
	}
	if err := domain.Validate(in); err != nil {
		return domain.User{}, err
	}
	if !actor.Active || (actor.ID != id && !actor.IsAdmin()) {
		return domain.User{}, fmt.Errorf("update user %s: %w", id, domain.ErrUnauthorized)
	}
	if (in.Role != nil || in.Active != nil) && !actor.IsAdmin() {
		return domain.User{}, fmt.Errorf("change role of %s: %w", id, domain.ErrUnauthorized)
	}
	if actor.ID == id && ((in.Role != nil && *in.Role != domain.RoleAdmin) || (in.Active != nil && !*in.Active)) {
		return domain.User{}, domain.NewValidationError("role", "admins cannot demote or deactivate themselves")
	}

	u, err := s.update(ctx, id, func(u domain.User) (domain.UserPatch, error) {
		var p domain.UserPatch
		if in.DisplayName != nil && *in.DisplayName != u.DisplayName {
			p.DisplayName = in.DisplayName
		}
		if in.Department != nil && *in.Department != u.Department {
			p.Department = in.Department
		}
		if in.Role != nil && *in.Role != u.Role {
			p.Role = in.Role
		}
		if in.Active != nil && *in.Active != u.Active {
			p.Active = in.Active
		}
		return p, nil
	})
	if err != nil {
		return domain.User{}, err
	}
	s.activity.record(ctx, u.UpdatedAt, actor.ID, domain.ActivityUserUpdated, "", "updated profile of "+u.DisplayName)
	return u, nil
}

// SetRole changes a user's role. Admin only.
func (s *UserService) SetRole(ctx context.Context, actor domain.Actor, id string, role domain.Role) (domain.User, error) {
	return s.UpdateProfile(ctx, actor, id, domain.ProfileInput{Role: &role})
}

// SetActive enables or disables a user. Admin only.
func (s *UserService) SetActive(ctx context.Context, actor domain.Actor, id string, active bool) (domain.User, error) {
	return s.UpdateProfile(ctx, actor, id, domain.ProfileInput{Active: &active})
}

func (s *UserService) update(ctx context.Context, id string, build func(domain.User) (domain.UserPatch, error)) (domain.User, error) {
	for attempt := 0; ; attempt++ {
		u, err := s.users.GetUser(ctx, id)
		if err != nil {
			return domain.User{}, failure(s.log, "load user", log.Fields{"user": id}, err)
		}
		patch, err := build(u)
		if err != nil {
			return domain.User{}, err
		}
		if patch == (domain.UserPatch{}) {
			return u, nil
		}
		now := s.now().UTC()
		patch.UpdatedAt = &now
		etag, err := s.users.UpdateUser(ctx, id, patch, u.ETag)
		if err == nil {
			out := patch.Apply(u)
			out.ETag = etag
			return out, nil
		}
		if errors.Is(err, domain.ErrConcurrencyConflict) && attempt == 0 {
			continue
		}
		return domain.User{}, failure(s.log, "update user", log.Fields{"user": id}, err)
	}
}

func sortUsers(users []domain.User) {
	slices.SortFunc(users, func(a, b domain.User) int {
		if c := cmp.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
