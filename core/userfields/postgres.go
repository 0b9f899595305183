package userfields

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pantrybase/pantrybase/core/csql"
)

// PostgresService is the postgres implementation of Service.
type PostgresService struct {
	db *csql.DB
}

// NewPostgresService creates a new userfield overlay for the specified
// database. The definition and value tables get created if they do not
// exist yet.
func NewPostgresService(db *csql.DB) (*PostgresService, error) {
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Schema + `."userfields"
(id BIGSERIAL PRIMARY KEY,
entity varchar NOT NULL,
name varchar NOT NULL,
caption varchar NOT NULL DEFAULT '',
field_type varchar NOT NULL DEFAULT 'text',
config json NOT NULL DEFAULT '{}'::json,
UNIQUE(entity, name)
);
CREATE table IF NOT EXISTS ` + db.Schema + `."userfield_values"
(entity varchar NOT NULL,
object_id bigint NOT NULL,
name varchar NOT NULL,
value varchar,
PRIMARY KEY(entity, object_id, name)
);`)
	if err != nil {
		return nil, fmt.Errorf("cannot create userfield tables: %w", err)
	}
	return &PostgresService{db: db}, nil
}

// GetFields returns the declared fields for the entity in declaration order.
func (s *PostgresService) GetFields(ctx context.Context, entity string) ([]Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity, name, caption, field_type, config FROM `+s.db.Schema+`."userfields" WHERE entity=$1 ORDER BY id;`,
		entity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []Definition
	for rows.Next() {
		var d Definition
		if err := rows.Scan(&d.Entity, &d.Name, &d.Caption, &d.Type, (*[]byte)(&d.Config)); err != nil {
			return nil, err
		}
		fields = append(fields, d)
	}
	return fields, rows.Err()
}

// GetValues returns the values for one object; an unknown object id yields
// an empty mapping.
func (s *PostgresService) GetValues(ctx context.Context, entity string, objectID int64) (map[string]*string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM `+s.db.Schema+`."userfield_values" WHERE entity=$1 AND object_id=$2;`,
		entity, objectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := map[string]*string{}
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		if value.Valid {
			v := value.String
			values[name] = &v
		} else {
			values[name] = nil
		}
	}
	return values, rows.Err()
}

// GetAllValues returns the values for every object of the entity with a
// single query.
func (s *PostgresService) GetAllValues(ctx context.Context, entity string) ([]Value, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity, object_id, name, value FROM `+s.db.Schema+`."userfield_values" WHERE entity=$1;`,
		entity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []Value
	for rows.Next() {
		var v Value
		var value sql.NullString
		if err := rows.Scan(&v.Entity, &v.ObjectID, &v.Name, &value); err != nil {
			return nil, err
		}
		if value.Valid {
			s := value.String
			v.Value = &s
		}
		all = append(all, v)
	}
	return all, rows.Err()
}

// SetValues writes the values for one object, all-or-nothing.
func (s *PostgresService) SetValues(ctx context.Context, entity string, objectID int64, values map[string]*string) error {
	fields, err := s.GetFields(ctx, entity)
	if err != nil {
		return err
	}
	declared := map[string]bool{}
	for _, field := range fields {
		declared[field.Name] = true
	}
	for name := range values {
		if !declared[name] {
			return fmt.Errorf("%w: %s", ErrUnknownUserfield, name)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for name, value := range values {
		var nullable sql.NullString
		if value != nil {
			nullable = sql.NullString{String: *value, Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO `+s.db.Schema+`."userfield_values"(entity, object_id, name, value)
VALUES($1,$2,$3,$4)
ON CONFLICT (entity, object_id, name) DO UPDATE SET value=$4;`,
			entity, objectID, name, nullable)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// CreateField declares a new field for an entity.
func (s *PostgresService) CreateField(ctx context.Context, definition Definition) error {
	config := []byte(definition.Config)
	if len(config) == 0 {
		config = []byte("{}")
	}
	fieldType := definition.Type
	if fieldType == "" {
		fieldType = "text"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.db.Schema+`."userfields"(entity, name, caption, field_type, config) VALUES($1,$2,$3,$4,$5);`,
		definition.Entity, definition.Name, definition.Caption, fieldType, string(config))
	return err
}
