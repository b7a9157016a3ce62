package attribution

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Touch is a snapshot of the marketing parameters carried by a single visit.
// Immutable once written.
type Touch struct {
	Source     string    `json:"source,omitempty"`
	Medium     string    `json:"medium,omitempty"`
	Campaign   string    `json:"campaign,omitempty"`
	Term       string    `json:"term,omitempty"`
	Content    string    `json:"content,omitempty"`
	Referrer   string    `json:"referrer,omitempty"`
	GCLID      string    `json:"gclid,omitempty"`
	FBCLID     string    `json:"fbclid,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// IsZero reports whether the touch carries no marketing parameters.
func (t Touch) IsZero() bool {
	return t.Source == "" && t.Medium == "" && t.Campaign == "" &&
		t.Term == "" && t.Content == "" && t.Referrer == "" &&
		t.GCLID == "" && t.FBCLID == ""
}

// Record holds a visitor's attribution state. FirstTouch is written once on
// the first visit carrying marketing parameters and never overwritten;
// LastTouch is overwritten on every such visit.
type Record struct {
	FirstTouch *Touch `json:"first_touch,omitempty"`
	LastTouch  *Touch `json:"last_touch,omitempty"`
}

// IsZero reports whether no touch has been captured yet.
func (r Record) IsZero() bool {
	return r.FirstTouch == nil && r.LastTouch == nil
}

// Value implements the driver.Valuer interface so a Record can be stored in a
// JSONB column.
func (r Record) Value() (driver.Value, error) {
	if r.IsZero() {
		return nil, nil
	}
	return json.Marshal(r)
}

// Scan implements the sql.Scanner interface for Record.
func (r *Record) Scan(value interface{}) error {
	if value == nil {
		*r = Record{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("incompatible type for attribution record")
	}

	if len(bytes) == 0 || string(bytes) == "null" {
		*r = Record{}
		return nil
	}

	return json.Unmarshal(bytes, r)
}
