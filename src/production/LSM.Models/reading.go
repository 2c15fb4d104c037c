package lsmmodels

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Reading is one timestamped set of sensor measurements. Fields holds only the
// measurements that were present; an absent field is a sensor fault, not a zero.
type Reading struct {
	ID            string
	Timestamp     time.Time
	SchemaVersion int
	Fields        map[string]float64
}

// NewReading builds an unsaved reading from decoded fields
func NewReading(fields map[string]float64) Reading {
	if fields == nil {
		fields = map[string]float64{}
	}
	return Reading{SchemaVersion: SchemaVersion(), Fields: fields}
}

// Value returns a measurement and whether it was reported
func (r Reading) Value(field string) (float64, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

// Clone returns a copy that shares no state with r
func (r Reading) Clone() Reading {
	out := r
	out.Fields = make(map[string]float64, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return out
}

// MarshalJSON renders the flat dashboard shape: identity keys plus every field of
// the current schema, absent measurements as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	doc := make(map[string]interface{}, len(fieldOrder)+3)
	doc["id"] = r.ID
	doc["timestamp"] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	doc["schema_version"] = r.SchemaVersion
	for _, name := range fieldOrder {
		if v, ok := r.Fields[name]; ok {
			doc[name] = v
		} else {
			doc[name] = nil
		}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reads the flat shape written by MarshalJSON
func (r *Reading) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	out := Reading{}
	if id, ok := raw["id"].(string); ok {
		out.ID = id
	}
	if ts, ok := raw["timestamp"].(string); ok && ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
		out.Timestamp = parsed
	}
	if v, ok := raw["schema_version"].(json.Number); ok {
		n, err := v.Int64()
		if err != nil {
			return fmt.Errorf("invalid schema_version: %w", err)
		}
		out.SchemaVersion = int(n)
	}

	fields, err := DecodeFields(raw)
	if err != nil {
		return err
	}
	out.Fields = fields

	*r = out
	return nil
}
