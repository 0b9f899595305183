/*Package entity provides the capability registry for exposed entities.

Which entities exist, which columns they carry and which generic operations
are permitted for them is declarative metadata, not code. The registry is
immutable after load and fails closed: a name that is not configured is not
exposed at all.
*/
package entity

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/pantrybase/pantrybase/core"
	"github.com/pantrybase/pantrybase/core/schema"
)

// Configuration holds the complete entity metadata of a backend
type Configuration struct {
	Entities []Descriptor `json:"entities"`
}

// Descriptor describes one exposed entity
type Descriptor struct {
	// Name is the entity name as it appears in request paths. Mandatory.
	Name string `json:"name"`
	// Columns are the entity's native columns, without the id column.
	Columns []string `json:"columns"`
	// NoListing excludes the entity from collection and single-object GET.
	NoListing bool `json:"no_listing"`
	// NoEdit excludes the entity from create and update.
	NoEdit bool `json:"no_edit"`
	// NoDelete excludes the entity from delete.
	NoDelete bool `json:"no_delete"`
	// EditRequiresAdmin additionally requires the admin permission for
	// create, update and delete.
	EditRequiresAdmin bool `json:"edit_requires_admin"`
	// SchemaID optionally names a JSON schema that create and update
	// bodies are validated against.
	SchemaID    string `json:"schema_id"`
	Description string `json:"description"`
}

// Allows returns true if the descriptor permits the generic operation.
// Single-object read is gated by the same listing capability as list.
func (d Descriptor) Allows(operation core.Operation) bool {
	switch operation {
	case core.OperationList, core.OperationRead:
		return !d.NoListing
	case core.OperationCreate, core.OperationUpdate:
		return !d.NoEdit
	case core.OperationDelete:
		return !d.NoDelete
	}
	return false
}

// HasColumn returns true if name is one of the entity's declared columns.
func (d Descriptor) HasColumn(name string) bool {
	if name == "id" {
		return true
	}
	for _, column := range d.Columns {
		if column == name {
			return true
		}
	}
	return false
}

// Registry answers whether an entity name is exposed and with which
// capabilities. Pure lookup, no mutation, safe for concurrent use.
type Registry struct {
	descriptors map[string]Descriptor
	ordered     []Descriptor
}

// NewRegistry parses and validates the JSON configuration and builds the
// registry from it.
func NewRegistry(configurationJSON string) (*Registry, error) {
	if err := validateConfiguration(configurationJSON); err != nil {
		return nil, err
	}
	var config Configuration
	if err := json.Unmarshal([]byte(configurationJSON), &config); err != nil {
		return nil, fmt.Errorf("parse error in entity configuration: %w", err)
	}

	r := &Registry{descriptors: make(map[string]Descriptor)}
	for _, d := range config.Entities {
		if _, ok := r.descriptors[d.Name]; ok {
			return nil, fmt.Errorf("duplicate entity %q in configuration", d.Name)
		}
		r.descriptors[d.Name] = d
		r.ordered = append(r.ordered, d)
	}
	return r, nil
}

// MustNewRegistry is like NewRegistry but panics on invalid configuration.
func MustNewRegistry(configurationJSON string) *Registry {
	r, err := NewRegistry(configurationJSON)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the descriptor for the entity name. The second return value
// reports whether the entity is exposed at all.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// IsExposed returns true if the entity name resolves to a descriptor.
func (r *Registry) IsExposed(name string) bool {
	_, ok := r.descriptors[name]
	return ok
}

// Descriptors returns all descriptors in configuration order.
func (r *Registry) Descriptors() []Descriptor {
	return r.ordered
}

func validateConfiguration(configurationJSON string) error {
	validator, err := schema.NewValidator([]string{configurationSchema}, nil)
	if err != nil {
		return err
	}
	if err := validator.ValidateString(configurationJSON, configurationSchemaID); err != nil {
		return fmt.Errorf("invalid entity configuration: %w", err)
	}
	return nil
}

const configurationSchemaID = "https://pantrybase.dev/schemas/entity-configuration.json"

const configurationSchema = `{
  "$id": "https://pantrybase.dev/schemas/entity-configuration.json",
  "type": "object",
  "required": ["entities"],
  "properties": {
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
          "columns": {"type": "array", "items": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"}},
          "no_listing": {"type": "boolean"},
          "no_edit": {"type": "boolean"},
          "no_delete": {"type": "boolean"},
          "edit_requires_admin": {"type": "boolean"},
          "schema_id": {"type": "string"},
          "description": {"type": "string"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`
