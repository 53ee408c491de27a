package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"tasktracker/domain"
	"tasktracker/storage"
)

func newUserService(t *testing.T, store UserStore, activity ActivityLog, admins ...string) *UserService {
	t.Helper()
	logger, _ := test.NewNullLogger()
	svc := NewUserService(store, activity, logger, admins)
	svc.now = func() time.Time { return now }
	return svc
}

func TestResolveActorProvisions(t *testing.T) {
	store := storage.NewMemory()
	svc := newUserService(t, store, store, " boss ", "")
	ctx := context.Background()

	u, err := svc.ResolveActor(ctx, Identity{Subject: "auth0|dev", Email: "dev@example.com"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if u.Role != domain.RoleEmployee || !u.Active || u.DisplayName != "dev@example.com" {
		t.Fatalf("unexpected provisioned user: %+v", u)
	}

	boss, err := svc.ResolveActor(ctx, Identity{Subject: "boss", Name: "The Boss"})
	if err != nil {
		t.Fatalf("resolve admin: %v", err)
	}
	if boss.Role != domain.RoleAdmin || boss.DisplayName != "The Boss" {
		t.Fatalf("unexpected admin: %+v", boss)
	}

	again, err := svc.ResolveActor(ctx, Identity{Subject: "auth0|dev", Name: "Renamed"})
	if err != nil {
		t.Fatalf("resolve existing: %v", err)
	}
	if again.DisplayName != "dev@example.com" {
		t.Fatalf("existing profile must not be overwritten, got %q", again.DisplayName)
	}
	if n := len(store.Activity()); n != 2 {
		t.Fatalf("expected one activity per provisioned user, got %d", n)
	}

	if _, err := svc.ResolveActor(ctx, Identity{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("empty subject: expected unauthorized, got %v", err)
	}
}

// racingUsers inserts the profile behind the caller's back so the caller's
// own insert collides.
type racingUsers struct {
	*storage.Memory
}

func (r racingUsers) InsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	winner := u
	winner.DisplayName = "first writer"
	if _, err := r.Memory.InsertUser(ctx, winner); err != nil {
		return domain.User{}, err
	}
	return r.Memory.InsertUser(ctx, u)
}

func TestResolveActorConcurrentProvisioning(t *testing.T) {
	store := storage.NewMemory()
	svc := newUserService(t, racingUsers{store}, nil)

	u, err := svc.ResolveActor(context.Background(), Identity{Subject: "u1", Name: "second writer"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if u.DisplayName != "first writer" {
		t.Fatalf("expected the stored profile, got %q", u.DisplayName)
	}
}

func TestRecordLogin(t *testing.T) {
	store := storage.NewMemory()
	if _, err := store.InsertUser(context.Background(), domain.User{ID: "u1", DisplayName: "U", Role: domain.RoleEmployee, Active: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := newUserService(t, store, store)

	u, err := svc.RecordLogin(context.Background(), domain.Actor{ID: "u1", Role: domain.RoleEmployee, Active: true})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u.LastLoginAt == nil || !u.LastLoginAt.Equal(now) {
		t.Fatalf("expected lastLoginAt to be stamped, got %v", u.LastLoginAt)
	}
	if _, err := svc.RecordLogin(context.Background(), domain.Actor{ID: "u1", Role: domain.RoleEmployee}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("inactive login: expected unauthorized, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	store := storage.NewMemory()
	for _, u := range []domain.User{
		{ID: "admin", DisplayName: "Admin", Role: domain.RoleAdmin, Active: true},
		{ID: "alice", DisplayName: "Alice", Role: domain.RoleEmployee, Active: true},
		{ID: "bob", DisplayName: "Bob", Role: domain.RoleEmployee, Active: true},
	} {
		if _, err := store.InsertUser(context.Background(), u); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	svc := newUserService(t, store, store)
	ctx := context.Background()
	name := "Alice Liddell"
	design := domain.DepartmentDesign
	blank := "  "

	tests := []struct {
		name    string
		actor   domain.Actor
		id      string
		in      domain.ProfileInput
		wantErr error
	}{
		{"self rename", alice, "alice", domain.ProfileInput{DisplayName: &name, Department: &design}, nil},
		{"blank name", alice, "alice", domain.ProfileInput{DisplayName: &blank}, domain.ErrValidation},
		{"edit someone else", alice, "bob", domain.ProfileInput{DisplayName: &name}, domain.ErrUnauthorized},
		{"self promote", alice, "alice", domain.ProfileInput{Role: rolePtr(domain.RoleAdmin)}, domain.ErrUnauthorized},
		{"admin demotes self", admin, "admin", domain.ProfileInput{Role: rolePtr(domain.RoleEmployee)}, domain.ErrValidation},
		{"admin deactivates self", admin, "admin", domain.ProfileInput{Active: boolPtr(false)}, domain.ErrValidation},
		{"admin edits other", admin, "bob", domain.ProfileInput{Department: &design}, nil},
		{"unknown user", admin, "ghost", domain.ProfileInput{Department: &design}, domain.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.UpdateProfile(ctx, tc.actor, tc.id, tc.in)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	alicesProfile, _ := store.GetUser(ctx, "alice")
	if alicesProfile.DisplayName != name || alicesProfile.Department != design {
		t.Fatalf("profile not updated: %+v", alicesProfile)
	}
}

func TestSetRoleAndActive(t *testing.T) {
	store := storage.NewMemory()
	for _, u := range []domain.User{
		{ID: "admin", DisplayName: "Admin", Role: domain.RoleAdmin, Active: true},
		{ID: "bob", DisplayName: "Bob", Role: domain.RoleEmployee, Active: true},
	} {
		if _, err := store.InsertUser(context.Background(), u); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	svc := newUserService(t, store, store)
	ctx := context.Background()

	u, err := svc.SetRole(ctx, admin, "bob", domain.RoleAdmin)
	if err != nil || u.Role != domain.RoleAdmin {
		t.Fatalf("promote: %+v, %v", u, err)
	}
	u, err = svc.SetActive(ctx, admin, "bob", false)
	if err != nil || u.Active {
		t.Fatalf("deactivate: %+v, %v", u, err)
	}
	if _, err := svc.SetRole(ctx, bob, "admin", domain.RoleEmployee); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("inactive actor: expected unauthorized, got %v", err)
	}

	users, err := svc.List(ctx, admin)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 2 || users[0].ID != "admin" {
		t.Fatalf("unexpected user order: %+v", users)
	}
}

func rolePtr(r domain.Role) *domain.Role { return &r }
func boolPtr(b bool) *bool               { return &b }
