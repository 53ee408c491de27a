package domain

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID     string `json:"id"`
	Role   Role   `json:"role"`
	Active bool   `json:"active"`
}

func (a Actor) IsAdmin() bool { return a.Active && a.Role == RoleAdmin }

// Action names an operation subject to authorization.
type Action string

const (
	ActionView           Action = "view"
	ActionCreate         Action = "create"
	ActionEdit           Action = "edit"
	ActionComment        Action = "comment"
	ActionChangeStatus   Action = "change-status"
	ActionUpdateProgress Action = "update-progress"
	ActionDelete         Action = "delete"
	ActionRestore        Action = "restore"
	ActionPurge          Action = "purge"
	ActionReassign       Action = "reassign"
)

// Actions lists every task action, in the order the UI renders controls.
var Actions = []Action{
	ActionView, ActionEdit, ActionComment, ActionChangeStatus, ActionUpdateProgress,
	ActionDelete, ActionRestore, ActionPurge, ActionReassign,
}

// CanPerform reports whether actor may perform action on task.
func CanPerform(actor Actor, task Task, action Action) bool {
	if !actor.Active || actor.ID == "" {
		return false
	}
	admin := actor.Role == RoleAdmin
	creator := actor.ID == task.CreatedBy
	assignee := actor.ID == task.AssigneeID

	switch action {
	case ActionCreate:
		return true
	case ActionView, ActionEdit, ActionComment:
		return admin || creator || assignee
	case ActionChangeStatus, ActionUpdateProgress:
		return admin || assignee
	case ActionDelete, ActionRestore:
		return admin || creator
	case ActionPurge, ActionReassign:
		return admin
	}
	return false
}

// transitions is the status graph per role: from -> allowed targets.
// Employees may never move a task back to assigned; admins may write any status.
var transitions = map[Role]map[Status][]Status{
	RoleAdmin: {
		StatusAssigned:   {StatusAssigned, StatusInProgress, StatusCompleted, StatusBlocked},
		StatusInProgress: {StatusAssigned, StatusInProgress, StatusCompleted, StatusBlocked},
		StatusCompleted:  {StatusAssigned, StatusInProgress, StatusCompleted, StatusBlocked},
		StatusBlocked:    {StatusAssigned, StatusInProgress, StatusCompleted, StatusBlocked},
	},
	RoleEmployee: {
		StatusAssigned:   {StatusInProgress, StatusCompleted, StatusBlocked},
		StatusInProgress: {StatusInProgress, StatusCompleted, StatusBlocked},
		StatusCompleted:  {StatusInProgress, StatusCompleted, StatusBlocked},
		StatusBlocked:    {StatusInProgress, StatusCompleted, StatusBlocked},
	},
}

// CanTransition reports whether actor's role allows moving a task from one
// status to another. It does not check task ownership; see CanPerform.
func CanTransition(actor Actor, from, to Status) bool {
	if !actor.Active {
		return false
	}
	for _, s := range transitions[actor.Role][from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTargets returns the statuses actor may move a task in from into.
func AllowedTargets(actor Actor, from Status) []Status {
	if !actor.Active {
		return nil
	}
	return append([]Status(nil), transitions[actor.Role][from]...)
}
