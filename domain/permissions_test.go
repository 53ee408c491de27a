package domain

import "testing"

func TestCanPerformDeleteOnlyAdminOrCreator(t *testing.T) {
	task := Task{ID: "t1", CreatedBy: "alice", AssigneeID: "carol"}
	actors := []Actor{
		{ID: "alice", Role: RoleEmployee, Active: true},
		{ID: "bob", Role: RoleEmployee, Active: true},
		{ID: "carol", Role: RoleEmployee, Active: true},
		{ID: "root", Role: RoleAdmin, Active: true},
		{ID: "alice", Role: RoleAdmin, Active: true},
	}
	for _, a := range actors {
		want := a.Role == RoleAdmin || a.ID == task.CreatedBy
		if got := CanPerform(a, task, ActionDelete); got != want {
			t.Fatalf("delete by %+v: want %v got %v", a, want, got)
		}
		if got := CanPerform(a, task, ActionRestore); got != want {
			t.Fatalf("restore by %+v: want %v got %v", a, want, got)
		}
	}
}

func TestCanPerformMatrix(t *testing.T) {
	task := Task{ID: "t1", CreatedBy: "creator", AssigneeID: "assignee"}
	admin := Actor{ID: "boss", Role: RoleAdmin, Active: true}
	creator := Actor{ID: "creator", Role: RoleEmployee, Active: true}
	assignee := Actor{ID: "assignee", Role: RoleEmployee, Active: true}
	other := Actor{ID: "other", Role: RoleEmployee, Active: true}

	cases := []struct {
		action Action
		want   map[string]bool
	}{
		{ActionCreate, map[string]bool{"boss": true, "creator": true, "assignee": true, "other": true}},
		{ActionView, map[string]bool{"boss": true, "creator": true, "assignee": true, "other": false}},
		{ActionEdit, map[string]bool{"boss": true, "creator": true, "assignee": true, "other": false}},
		{ActionComment, map[string]bool{"boss": true, "creator": true, "assignee": true, "other": false}},
		{ActionChangeStatus, map[string]bool{"boss": true, "creator": false, "assignee": true, "other": false}},
		{ActionUpdateProgress, map[string]bool{"boss": true, "creator": false, "assignee": true, "other": false}},
		{ActionDelete, map[string]bool{"boss": true, "creator": true, "assignee": false, "other": false}},
		{ActionPurge, map[string]bool{"boss": true, "creator": false, "assignee": false, "other": false}},
		{ActionReassign, map[string]bool{"boss": true, "creator": false, "assignee": false, "other": false}},
	}
	for _, tc := range cases {
		for _, a := range []Actor{admin, creator, assignee, other} {
			if got := CanPerform(a, task, tc.action); got != tc.want[a.ID] {
				t.Fatalf("%s by %s: want %v got %v", tc.action, a.ID, tc.want[a.ID], got)
			}
		}
	}
}

func TestCanPerformInactiveActorDenied(t *testing.T) {
	task := Task{CreatedBy: "u1", AssigneeID: "u1"}
	for _, a := range Actions {
		if CanPerform(Actor{ID: "u1", Role: RoleAdmin}, task, a) {
			t.Fatalf("inactive actor allowed to %s", a)
		}
	}
	if CanPerform(Actor{ID: "u1", Role: RoleEmployee}, task, ActionCreate) {
		t.Fatalf("inactive actor allowed to create")
	}
}

func TestCanPerformUnknownAction(t *testing.T) {
	if CanPerform(Actor{ID: "a", Role: RoleAdmin, Active: true}, Task{}, Action("launch")) {
		t.Fatalf("unknown action must be denied")
	}
}

func TestCanTransitionEmployeeCannotReset(t *testing.T) {
	emp := Actor{ID: "e", Role: RoleEmployee, Active: true}
	for _, from := range Statuses {
		if CanTransition(emp, from, StatusAssigned) {
			t.Fatalf("employee moved %s -> assigned", from)
		}
		for _, to := range []Status{StatusInProgress, StatusCompleted, StatusBlocked} {
			if !CanTransition(emp, from, to) {
				t.Fatalf("employee denied %s -> %s", from, to)
			}
		}
	}
}

func TestCanTransitionAdminAnyStatus(t *testing.T) {
	admin := Actor{ID: "a", Role: RoleAdmin, Active: true}
	for _, from := range Statuses {
		for _, to := range Statuses {
			if !CanTransition(admin, from, to) {
				t.Fatalf("admin denied %s -> %s", from, to)
			}
		}
	}
	if CanTransition(Actor{ID: "a", Role: RoleAdmin}, StatusAssigned, StatusCompleted) {
		t.Fatalf("inactive admin allowed transition")
	}
}

func TestAllowedTargetsCopy(t *testing.T) {
	emp := Actor{ID: "e", Role: RoleEmployee, Active: true}
	targets := AllowedTargets(emp, StatusAssigned)
	if len(targets) != 3 {
		t.Fatalf("unexpected targets: %v", targets)
	}
	targets[0] = StatusAssigned
	if CanTransition(emp, StatusAssigned, StatusAssigned) {
		t.Fatalf("mutating returned slice changed the transition table")
	}
}
