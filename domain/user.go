package domain

import "time"

// Role decides which actions a user may perform.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleEmployee
}

type Department string

const (
	DepartmentEngineering Department = "engineering"
	DepartmentDesign      Department = "design"
	DepartmentMarketing   Department = "marketing"
	DepartmentSales       Department = "sales"
	DepartmentOperations  Department = "operations"
	DepartmentManagement  Department = "management"
)

// User is a team member.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName"`
	Role        Role       `json:"role"`
	Department  Department `json:"department,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`

	ETag string `json:"-"`
}

// Actor returns the authorization identity of u.
func (u User) Actor() Actor {
	return Actor{ID: u.ID, Role: u.Role, Active: u.Active}
}

// UserPatch carries partial updates for a user.
type UserPatch struct {
	Email       *string
	DisplayName *string
	Role        *Role
	Department  *Department
	Active      *bool
	UpdatedAt   *time.Time
	LastLoginAt *time.Time
}

func (p UserPatch) Apply(u User) User {
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.DisplayName != nil {
		u.DisplayName = *p.DisplayName
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Department != nil {
		u.Department = *p.Department
	}
	if p.Active != nil {
		u.Active = *p.Active
	}
	if p.UpdatedAt != nil {
		u.UpdatedAt = *p.UpdatedAt
	}
	if p.LastLoginAt != nil {
		u.LastLoginAt = timePtr(*p.LastLoginAt)
	}
	return u
}
