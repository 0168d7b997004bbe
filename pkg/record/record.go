// Package record defines the CRM record model shared by the row store,
// the data source boundary, and the mutation journal.
package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle stage of a record.
type Status string

const (
	// StatusLead is an unqualified incoming record.
	StatusLead Status = "lead"

	// StatusQualified is a record that passed qualification.
	StatusQualified Status = "qualified"

	// StatusWon is a closed-won opportunity.
	StatusWon Status = "won"

	// StatusLost is a closed-lost opportunity.
	StatusLost Status = "lost"
)

// Record is a single CRM row (contact or opportunity).
//
// The ID is immutable once assigned. Extensions carries dynamic/imported
// fields; its keys must never collide with the named fields below.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Company   string    `json:"company,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Revenue   float64   `json:"revenue,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	// Extensions holds dynamic fields keyed by import column name.
	Extensions map[string]FieldValue `json:"extensions,omitempty"`
}

// reservedKeys are extension keys that would shadow named fields.
var reservedKeys = map[string]struct{}{
	"id":         {},
	"name":       {},
	"email":      {},
	"company":    {},
	"status":     {},
	"revenue":    {},
	"created_at": {},
	"updated_at": {},
	"extensions": {},
}

// Validate checks boundary invariants: non-empty ID and no extension key
// colliding with a named field. Called when records cross the data-source
// boundary.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id must not be empty")
	}
	for key := range r.Extensions {
		if _, reserved := reservedKeys[key]; reserved {
			return fmt.Errorf("extension key %q collides with a named field", key)
		}
	}
	return nil
}

// Clone returns a deep copy. The mutation journal snapshots records via
// Clone so a later in-place edit cannot corrupt rollback state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Extensions != nil {
		cp.Extensions = make(map[string]FieldValue, len(r.Extensions))
		for k, v := range r.Extensions {
			cp.Extensions[k] = v
		}
	}
	return &cp
}

// Equal reports field-for-field equality, including extensions.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.ID != other.ID || r.Name != other.Name || r.Email != other.Email ||
		r.Company != other.Company || r.Status != other.Status ||
		r.Revenue != other.Revenue ||
		!r.CreatedAt.Equal(other.CreatedAt) || !r.UpdatedAt.Equal(other.UpdatedAt) {
		return false
	}
	if len(r.Extensions) != len(other.Extensions) {
		return false
	}
	for k, v := range r.Extensions {
		ov, ok := other.Extensions[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// FieldKind discriminates the scalar type carried by a FieldValue.
type FieldKind int

const (
	// KindString is a text value.
	KindString FieldKind = iota

	// KindNumber is a float64 value.
	KindNumber

	// KindBool is a boolean value.
	KindBool

	// KindTime is an RFC 3339 timestamp value.
	KindTime
)

// FieldValue is a tagged scalar for dynamic record fields. Records coming
// off the wire carry loosely-typed extension columns; FieldValue pins each
// one to a concrete kind at the boundary instead of passing interface{}
// values through the cache.
type FieldValue struct {
	Kind FieldKind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
}

// String creates a text field value.
func String(v string) FieldValue { return FieldValue{Kind: KindString, Str: v} }

// Number creates a numeric field value.
func Number(v float64) FieldValue { return FieldValue{Kind: KindNumber, Num: v} }

// Bool creates a boolean field value.
func Bool(v bool) FieldValue { return FieldValue{Kind: KindBool, Bool: v} }

// Time creates a timestamp field value.
func Time(v time.Time) FieldValue { return FieldValue{Kind: KindTime, Time: v} }

// Equal reports whether two field values have the same kind and payload.
func (v FieldValue) Equal(other FieldValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == other.Str
	case KindNumber:
		return v.Num == other.Num
	case KindBool:
		return v.Bool == other.Bool
	case KindTime:
		return v.Time.Equal(other.Time)
	default:
		return false
	}
}

// MarshalJSON encodes the value as its native JSON scalar.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindTime:
		return json.Marshal(v.Time.Format(time.RFC3339Nano))
	default:
		return nil, fmt.Errorf("unknown field kind %d", v.Kind)
	}
}

// UnmarshalJSON infers the kind from the JSON scalar. Strings that parse
// as RFC 3339 timestamps become KindTime.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch val := raw.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, val); err == nil {
			*v = Time(ts)
			return nil
		}
		*v = String(val)
		return nil
	case float64:
		*v = Number(val)
		return nil
	case bool:
		*v = Bool(val)
		return nil
	default:
		return fmt.Errorf("unsupported extension value type %T", raw)
	}
}
