package shared

import (
	"fmt"
	"strings"
)

// Capability names a permission checked against a bar.
type Capability string

// Bar-scoped capabilities. The set is closed; policies may only reference these.
const (
	CapViewBar           Capability = "view-bar"
	CapManageBar         Capability = "manage-bar"
	CapManageBarSettings Capability = "manage-bar-settings"

	CapViewRoles   Capability = "view-roles"
	CapManageRoles Capability = "manage-roles"

	CapViewUsers   Capability = "view-users"
	CapManageUsers Capability = "manage-users"

	CapViewInventory   Capability = "view-inventory"
	CapManageInventory Capability = "manage-inventory"

	CapViewAccounts   Capability = "view-accounts"
	CapManageAccounts Capability = "manage-accounts"
)

// AllCapabilities lists every capability.
func AllCapabilities() []Capability {
	return []Capability{
		CapViewBar,
		CapManageBar,
		CapManageBarSettings,
		CapViewRoles,
		CapManageRoles,
		CapViewUsers,
		CapManageUsers,
		CapViewInventory,
		CapManageInventory,
		CapViewAccounts,
		CapManageAccounts,
	}
}

// ParseCapability normalises and validates a capability name.
func ParseCapability(raw string) (Capability, error) {
	name := Capability(strings.TrimSpace(strings.ToLower(raw)))
	for _, c := range AllCapabilities() {
		if c == name {
			return c, nil
		}
	}
	return "", NewValidationError("capability", fmt.Sprintf("unknown capability %q", raw))
}

// Valid reports whether c belongs to the enumeration.
func (c Capability) Valid() bool {
	for _, known := range AllCapabilities() {
		if known == c {
			return true
		}
	}
	return false
}
