package auth

import "context"

// AccessControl decides whether a caller may manage a given department.
type AccessControl interface {
	RequireDepartmentAuthority(ctx context.Context, departmentCode string, caller Caller) error
	CallerDepartments(caller Caller) map[string]struct{}
}

// DepartmentACL grants admins every department and everyone else only the
// departments carried in their claims.
type DepartmentACL struct{}

func NewDepartmentACL() *DepartmentACL { return &DepartmentACL{} }

func (a *DepartmentACL) RequireDepartmentAuthority(_ context.Context, departmentCode string, caller Caller) error {
	if caller.IsAdmin() {
		return nil
	}
	for _, d := range caller.Departments {
		if d == departmentCode {
			return nil
		}
	}
	return ErrAccessDenied
}

func (a *DepartmentACL) CallerDepartments(caller Caller) map[string]struct{} {
	set := make(map[string]struct{}, len(caller.Departments))
	for _, d := range caller.Departments {
		set[d] = struct{}{}
	}
	return set
}
