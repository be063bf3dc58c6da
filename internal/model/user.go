package model

import "time"

// Role is the value of the "role" claim carried by access tokens and the
// users.role column.
type Role string

const (
    RoleParent    Role = "PARENT"
    RoleCaregiver Role = "CAREGIVER"
    RoleAdmin     Role = "ADMIN"
    // RoleSystem is used for transitions made by callbacks and jobs.
    RoleSystem Role = "SYSTEM"
)

// User represents an application user record as stored in the `users`
// table.  Profiles and credentials are managed elsewhere; the booking core
// only resolves parents by email and checks that caregivers exist.
//
// Fields:
//  ID        – primary key identifier of the user.
//  Email     – unique email address.
//  Role      – PARENT, CAREGIVER or ADMIN.
//  IsActive  – whether the account is active.
//  CreatedAt – timestamp of creation.
type User struct {
    ID        uint64    // users.id
    Email     string    // users.email
    Role      Role      // users.role
    IsActive  bool      // users.is_active
    CreatedAt time.Time // users.created_at
}

// Actor is the authenticated caller of an operation.
type Actor struct {
    ID   uint64
    Role Role
}

// SystemActor is used by webhooks and scheduled jobs.
var SystemActor = Actor{Role: RoleSystem}
