package domain

import "time"

// ActorRole is the organizational role attached to an authenticated actor.
type ActorRole string

const (
	ActorRoleEmployee ActorRole = "EMPLOYEE"
	ActorRoleManager  ActorRole = "MANAGER"
	ActorRoleITStaff  ActorRole = "IT_STAFF"
	ActorRoleAdmin    ActorRole = "ADMIN"
)

// IsStaff reports whether the role may work tickets and read internal notes.
func (r ActorRole) IsStaff() bool {
	return r == ActorRoleITStaff || r == ActorRoleAdmin
}

// Actor is a directory entry for an employee of the organization.
type Actor struct {
	ID        string
	Name      string
	Email     string
	ManagerID *string
	Role      ActorRole
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActorRef is the minimal projection of an actor returned alongside requests.
type ActorRef struct {
	ID    string
	Name  string
	Email string
}

// Ref projects the actor to its reference form.
func (a *Actor) Ref() *ActorRef {
	if a == nil {
		return nil
	}
	return &ActorRef{ID: a.ID, Name: a.Name, Email: a.Email}
}
