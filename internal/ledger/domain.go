package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/tapline/tapline/internal/shared"
)

// TargetKind tags what an operation mutates.
type TargetKind string

const (
	KindStockItem TargetKind = "stockitem"
	KindAccount   TargetKind = "account"
)

// Field is a ledger-backed value of a target.
type Field string

const (
	FieldQty     Field = "qty"
	FieldPrice   Field = "price"
	FieldBalance Field = "balance"
)

// Mode says how an operation's value combines with the current one.
type Mode string

const (
	ModeDelta     Mode = "delta"
	ModeNextValue Mode = "next_value"
)

// Scale says how an entry's value is converted by the unit factor of a stock item.
// The factor is read under the target lock, so a concurrent factor change cannot
// slip between the conversion and the write.
type Scale string

const (
	// ScaleNone records the value as given.
	ScaleNone Scale = ""
	// ScaleDivide divides by the unit factor, for values expressed per sell unit basis.
	ScaleDivide Scale = "divide"
	// ScaleMultiply multiplies by the unit factor.
	ScaleMultiply Scale = "multiply"
)

// Apply converts v with factor.
func (sc Scale) Apply(v, factor float64) float64 {
	switch sc {
	case ScaleDivide:
		return v / factor
	case ScaleMultiply:
		return v * factor
	default:
		return v
	}
}

// Fields lists the ledger-backed fields of the kind.
func (k TargetKind) Fields() []Field {
	switch k {
	case KindStockItem:
		return []Field{FieldQty, FieldPrice}
	case KindAccount:
		return []Field{FieldBalance}
	default:
		return nil
	}
}

// Valid reports whether the kind is known.
func (k TargetKind) Valid() bool {
	return len(k.Fields()) > 0
}

// Accepts reports whether the field belongs to the kind.
func (k TargetKind) Accepts(f Field) bool {
	for _, known := range k.Fields() {
		if known == f {
			return true
		}
	}
	return false
}

// Valid reports whether the mode is known.
func (m Mode) Valid() bool {
	return m == ModeDelta || m == ModeNextValue
}

// Target identifies a stock item or an account.
type Target struct {
	Kind TargetKind
	ID   int64
}

// StockItem targets a stock item.
func StockItem(id int64) Target {
	return Target{Kind: KindStockItem, ID: id}
}

// Account targets an account.
func Account(id int64) Target {
	return Target{Kind: KindAccount, ID: id}
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Kind, t.ID)
}

// LockKey is the per-target serialisation key.
func (t Target) LockKey() string {
	return shared.LedgerLockKey(string(t.Kind), t.ID)
}

// Validate checks the tag and id.
func (t Target) Validate() error {
	if !t.Kind.Valid() {
		return shared.NewValidationError("target.kind", fmt.Sprintf("unknown kind %q", t.Kind))
	}
	if t.ID <= 0 {
		return shared.NewValidationError("target.id", "must be positive")
	}
	return nil
}

// Operation is one immutable ledger entry. Seq orders the operations of a target.
type Operation struct {
	ID         uuid.UUID
	Target     Target
	Seq        int64
	Field      Field
	Mode       Mode
	Value      float64
	Resulting  float64
	ActorID    int64
	Reason     string
	RecordedAt time.Time
}

// Entry is a requested mutation. Value is in the internal basis once Scale is applied.
type Entry struct {
	Target         Target
	Field          Field
	Mode           Mode
	Value          float64
	Scale          Scale
	ActorID        int64
	Reason         string
	IdempotencyKey string
}

// Validate rejects entries that could never be recorded.
func (e Entry) Validate() error {
	if err := e.Target.Validate(); err != nil {
		return err
	}
	return e.validateBody()
}

// validateBody checks everything but the target id.
func (e Entry) validateBody() error {
	if !e.Target.Kind.Accepts(e.Field) {
		return shared.NewValidationError("field", fmt.Sprintf("%q is not a field of %s", e.Field, e.Target.Kind))
	}
	if !e.Mode.Valid() {
		return shared.NewValidationError("mode", fmt.Sprintf("unknown mode %q", e.Mode))
	}
	if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
		return shared.NewValidationError("value", "must be finite")
	}
	switch e.Scale {
	case ScaleNone:
	case ScaleDivide, ScaleMultiply:
		if e.Target.Kind != KindStockItem {
			return shared.NewValidationError("scale", "only stock items carry a unit factor")
		}
	default:
		return shared.NewValidationError("scale", fmt.Sprintf("unknown scale %q", e.Scale))
	}
	if len(e.Reason) > 255 {
		return shared.NewValidationError("reason", "too long")
	}
	return nil
}

// Snapshot is the cached state of a target together with the seq it reflects.
// UnitFactor is set for stock items only.
type Snapshot struct {
	Target     Target
	Values     map[Field]float64
	LastSeq    int64
	UnitFactor float64
}

// Clone copies the snapshot so it can be modified independently.
func (s Snapshot) Clone() Snapshot {
	values := make(map[Field]float64, len(s.Values))
	for k, v := range s.Values {
		values[k] = v
	}
	return Snapshot{Target: s.Target, Values: values, LastSeq: s.LastSeq, UnitFactor: s.UnitFactor}
}

// Reconciliation compares cached values with the fold of the ledger.
type Reconciliation struct {
	Target     Target
	Cached     map[Field]float64
	Folded     map[Field]float64
	CachedSeq  int64
	Operations int
}

// Consistent reports whether the cache equals the fold exactly.
func (r Reconciliation) Consistent() bool {
	for _, f := range r.Target.Kind.Fields() {
		if r.Cached[f] != r.Folded[f] {
			return false
		}
	}
	return true
}
