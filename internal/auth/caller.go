package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrAccessDenied = errors.New("access denied")

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleStaff   Role = "staff"
)

// Caller is the authenticated identity every operation receives explicitly.
// There is no ambient session state.
type Caller struct {
	Subject     string
	Role        Role
	PatientID   *uuid.UUID // set for patient callers
	DoctorID    *uuid.UUID // set for doctor callers
	Departments []string   // department codes the caller may manage
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
