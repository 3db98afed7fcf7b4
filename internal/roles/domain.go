package roles

import "time"

// Role grants a named policy role to a user on one bar and, through inheritance, its descendants.
type Role struct {
	ID        int64
	UserID    int64
	BarID     string
	Name      string
	CreatedAt time.Time
}

// Filter narrows role listings. Zero values match everything.
type Filter struct {
	UserID int64
	BarID  string
	Name   string
}

// Matches reports whether the role satisfies the filter.
func (f Filter) Matches(r Role) bool {
	if f.UserID != 0 && r.UserID != f.UserID {
		return false
	}
	if f.BarID != "" && r.BarID != f.BarID {
		return false
	}
	if f.Name != "" && r.Name != f.Name {
		return false
	}
	return true
}

// GrantInput describes a role assignment.
type GrantInput struct {
	UserID int64
	BarID  string
	Name   string
}
