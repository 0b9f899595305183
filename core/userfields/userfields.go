/*Package userfields manages the parallel key space of user-defined custom
attributes: per entity a set of declared fields, and per (entity, object id,
field name) one value.

Values are stored outside the entity's native schema. Reads are tolerant:
values may reference object ids whose row has been deleted, and a lookup for
an unknown object id returns an empty mapping, not an error.
*/
package userfields

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
)

// ErrUnknownUserfield is returned by SetValues when a value references a
// field name that is not declared for the entity. No values are written.
var ErrUnknownUserfield = errors.New("unknown userfield")

// Definition declares one custom attribute attachable to all objects of an
// entity.
type Definition struct {
	Entity  string          `json:"entity"`
	Name    string          `json:"name"`
	Caption string          `json:"caption"`
	Type    string          `json:"type"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// Value is one stored userfield value. A nil Value means the field was
// explicitly cleared.
type Value struct {
	Entity   string  `json:"entity"`
	ObjectID int64   `json:"object_id"`
	Name     string  `json:"name"`
	Value    *string `json:"value"`
}

// Service is the userfield overlay.
type Service interface {
	// GetFields returns the declared fields for the entity, in declaration
	// order. Definitions only, no values.
	GetFields(ctx context.Context, entity string) ([]Definition, error)
	// GetValues returns the values for one object. An unknown object id
	// yields an empty mapping.
	GetValues(ctx context.Context, entity string, objectID int64) (map[string]*string, error)
	// GetAllValues returns the values for every object of the entity in a
	// single bulk fetch.
	GetAllValues(ctx context.Context, entity string) ([]Value, error)
	// SetValues replaces the given values for one object. Every name is
	// validated against the declared fields first; if any name is unknown
	// the whole call fails with ErrUnknownUserfield and nothing is
	// written. A nil value clears the field.
	SetValues(ctx context.Context, entity string, objectID int64, values map[string]*string) error
	// CreateField declares a new field for an entity.
	CreateField(ctx context.Context, definition Definition) error
}

// Merge builds the userfields property for one object out of the declared
// fields and an index of bulk-fetched values. Every declared field appears,
// absent values as nil. Returns nil when there are no declared fields, so
// entities without userfields never carry the property at all.
func Merge(fields []Definition, values map[string]*string) map[string]*string {
	if len(fields) == 0 {
		return nil
	}
	merged := make(map[string]*string, len(fields))
	for _, field := range fields {
		merged[field.Name] = values[field.Name]
	}
	return merged
}

// Index turns the result of GetAllValues into a per-object lookup table.
func Index(all []Value) map[int64]map[string]*string {
	index := map[int64]map[string]*string{}
	for _, value := range all {
		byName, ok := index[value.ObjectID]
		if !ok {
			byName = map[string]*string{}
			index[value.ObjectID] = byName
		}
		byName[value.Name] = value.Value
	}
	return index
}
