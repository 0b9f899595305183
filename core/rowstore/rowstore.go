/*Package rowstore provides the row-level storage abstraction the dispatcher
works against: open a table by entity descriptor, then create, read, list,
update and delete rows of that table.

Rows are ordered mappings of column name to value with a unique integer id.
The store owns row lifecycle; creation assigns the id, deletion removes all
trace. Callers only hold a transient reference during one request.
*/
package rowstore

import (
	"context"
	"errors"

	"github.com/pantrybase/pantrybase/core/entity"
	"github.com/pantrybase/pantrybase/core/query"
)

// Row is one entity object as stored, always including "id".
type Row map[string]interface{}

// ErrNotFound is returned when an id does not resolve to a row.
var ErrNotFound = errors.New("row not found")

// ErrUnknownColumn is returned when a write references a column the entity
// does not declare. Unknown keys are rejected, never silently dropped.
var ErrUnknownColumn = errors.New("unknown column")

// Table provides row operations for one entity.
type Table interface {
	// Get fetches a single row by id, or ErrNotFound.
	Get(ctx context.Context, id int64) (Row, error)
	// List runs a validated query and returns the matching rows.
	List(ctx context.Context, spec query.Spec) ([]Row, error)
	// Insert persists a new row built from the given fields and returns
	// the assigned id.
	Insert(ctx context.Context, fields map[string]interface{}) (int64, error)
	// Update merges the given fields over the existing row.
	Update(ctx context.Context, id int64, fields map[string]interface{}) error
	// Delete removes the row.
	Delete(ctx context.Context, id int64) error
}

// Store opens tables by entity descriptor.
type Store interface {
	Open(desc entity.Descriptor) Table
}
