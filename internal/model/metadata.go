package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type MetaKind string

const (
	MetaString    MetaKind = "string"
	MetaNumber    MetaKind = "number"
	MetaTimestamp MetaKind = "timestamp"
)

// MetaValue is one metadata entry. Only the field matching Kind is meaningful.
type MetaValue struct {
	Kind MetaKind
	Str  string
	Num  float64
	Time time.Time
}

func String(s string) MetaValue       { return MetaValue{Kind: MetaString, Str: s} }
func Number(n float64) MetaValue      { return MetaValue{Kind: MetaNumber, Num: n} }
func Timestamp(t time.Time) MetaValue { return MetaValue{Kind: MetaTimestamp, Time: t.UTC()} }

type metaWire struct {
	Kind  MetaKind        `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func (v MetaValue) MarshalJSON() ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch v.Kind {
	case MetaString:
		raw, err = json.Marshal(v.Str)
	case MetaNumber:
		raw, err = json.Marshal(v.Num)
	case MetaTimestamp:
		raw, err = json.Marshal(v.Time.UTC().Format(time.RFC3339Nano))
	default:
		return nil, fmt.Errorf("metadata: unknown kind %q", v.Kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(metaWire{Kind: v.Kind, Value: raw})
}

func (v *MetaValue) UnmarshalJSON(b []byte) error {
	var w metaWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := MetaValue{Kind: w.Kind}
	switch w.Kind {
	case MetaString:
		if err := json.Unmarshal(w.Value, &out.Str); err != nil {
			return fmt.Errorf("metadata string: %w", err)
		}
	case MetaNumber:
		if err := json.Unmarshal(w.Value, &out.Num); err != nil {
			return fmt.Errorf("metadata number: %w", err)
		}
	case MetaTimestamp:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("metadata timestamp: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("metadata timestamp: %w", err)
		}
		out.Time = t
	default:
		return fmt.Errorf("metadata: unknown kind %q", w.Kind)
	}
	*v = out
	return nil
}

// Metadata is stored as a JSON column.
type Metadata map[string]MetaValue

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]MetaValue(m))
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("metadata: cannot scan %T", src)
	}
	out := Metadata{}
	if len(b) > 0 {
		if err := json.Unmarshal(b, (*map[string]MetaValue)(&out)); err != nil {
			return err
		}
	}
	*m = out
	return nil
}
