package bars

import "time"

// DefaultRootID is the id given to the root bar when none is configured.
const DefaultRootID = "root"

// Settings holds per-bar configuration owned by the settings collaborator.
type Settings struct {
	AgiosEnabled   bool    `json:"agios_enabled"`
	AgiosThreshold float64 `json:"agios_threshold"`
	AgiosFactor    float64 `json:"agios_factor"`
}

// Bar is a node of the bar hierarchy. The root bar has an empty ParentID.
type Bar struct {
	ID        string
	Name      string
	ParentID  string
	Settings  Settings
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRoot reports whether the bar has no parent.
func (b Bar) IsRoot() bool {
	return b.ParentID == ""
}

// CreateInput describes a new bar.
type CreateInput struct {
	ID       string
	Name     string
	ParentID string
	Settings Settings
}
