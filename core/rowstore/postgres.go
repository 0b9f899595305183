package rowstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/pantrybase/pantrybase/core/csql"
	"github.com/pantrybase/pantrybase/core/entity"
	"github.com/pantrybase/pantrybase/core/logger"
	"github.com/pantrybase/pantrybase/core/query"
)

// PostgresStore is the postgres implementation of Store. Column values are
// stored as jsonb so that rows round-trip caller data without coercion, the
// same way the caller sent it.
type PostgresStore struct {
	db *csql.DB
}

// NewPostgresStore creates the store and, if updateSchema is set, the table
// for every entity in the registry.
func NewPostgresStore(db *csql.DB, registry *entity.Registry, updateSchema bool) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if !updateSchema {
		return s, nil
	}
	for _, desc := range registry.Descriptors() {
		createQuery := fmt.Sprintf("CREATE table IF NOT EXISTS %s.\"%s\" (id BIGSERIAL PRIMARY KEY", db.Schema, desc.Name)
		for _, column := range desc.Columns {
			createQuery += fmt.Sprintf(", \"%s\" jsonb NOT NULL DEFAULT 'null'::jsonb", column)
		}
		createQuery += ");"
		for _, column := range desc.Columns {
			createQuery += fmt.Sprintf("ALTER TABLE %s.\"%s\" ADD COLUMN IF NOT EXISTS \"%s\" jsonb NOT NULL DEFAULT 'null'::jsonb;",
				db.Schema, desc.Name, column)
		}
		if _, err := db.Exec(createQuery); err != nil {
			logger.Default().WithError(err).Errorf("cannot create table for entity %s", desc.Name)
			return nil, err
		}
	}
	return s, nil
}

// Open returns the table for the entity. The descriptor must come from the
// registry the store was created with.
func (s *PostgresStore) Open(desc entity.Descriptor) Table {
	return &postgresTable{db: s.db, desc: desc}
}

type postgresTable struct {
	db   *csql.DB
	desc entity.Descriptor
}

func (t *postgresTable) readQuery() string {
	columns := []string{"id"}
	for _, column := range t.desc.Columns {
		columns = append(columns, "\""+column+"\"")
	}
	return fmt.Sprintf("SELECT %s FROM %s.\"%s\" ", strings.Join(columns, ", "), t.db.Schema, t.desc.Name)
}

func (t *postgresTable) scanRow(scan func(...interface{}) error) (Row, error) {
	var id int64
	values := make([]interface{}, len(t.desc.Columns)+1)
	values[0] = &id
	for i := range t.desc.Columns {
		values[i+1] = &json.RawMessage{}
	}
	if err := scan(values...); err != nil {
		return nil, err
	}
	row := Row{"id": id}
	for i, column := range t.desc.Columns {
		var value interface{}
		if err := json.Unmarshal(*values[i+1].(*json.RawMessage), &value); err != nil {
			return nil, err
		}
		row[column] = value
	}
	return row, nil
}

func (t *postgresTable) Get(ctx context.Context, id int64) (Row, error) {
	row, err := t.scanRow(t.db.QueryRowContext(ctx, t.readQuery()+"WHERE id = $1;", id).Scan)
	if err == csql.ErrNoRows {
		return nil, ErrNotFound
	}
	return row, err
}

func (t *postgresTable) List(ctx context.Context, spec query.Spec) ([]Row, error) {
	sqlQuery := t.readQuery()
	var queryParameters []interface{}

	for i, condition := range spec.Conditions {
		keyword := "AND"
		if i == 0 {
			keyword = "WHERE"
		}
		sqlQuery += fmt.Sprintf("%s %s $%d ", keyword, conditionColumn(condition), len(queryParameters)+1)
		value := condition.Value
		if condition.Operator == "~" {
			value = "%" + value + "%"
		}
		queryParameters = append(queryParameters, value)
	}
	for i, sort := range spec.Sort {
		keyword := ","
		if i == 0 {
			keyword = "ORDER BY"
		}
		direction := "ASC"
		if sort.Descending {
			direction = "DESC"
		}
		sqlQuery += fmt.Sprintf("%s %s %s ", keyword, sortColumn(sort), direction)
	}
	if spec.Limit > 0 {
		sqlQuery += "LIMIT $" + strconv.Itoa(len(queryParameters)+1) + " "
		queryParameters = append(queryParameters, spec.Limit)
	}
	if spec.Offset > 0 {
		sqlQuery += "OFFSET $" + strconv.Itoa(len(queryParameters)+1) + " "
		queryParameters = append(queryParameters, spec.Offset)
	}

	rows, err := t.db.QueryContext(ctx, sqlQuery+";", queryParameters...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Row{}
	for rows.Next() {
		row, err := t.scanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (t *postgresTable) Insert(ctx context.Context, fields map[string]interface{}) (int64, error) {
	columns, values, err := t.bindFields(fields)
	if err != nil {
		return 0, err
	}
	sqlQuery := fmt.Sprintf("INSERT INTO %s.\"%s\" ", t.db.Schema, t.desc.Name)
	if len(columns) == 0 {
		sqlQuery += "DEFAULT VALUES"
	} else {
		sqlQuery += "(" + strings.Join(columns, ", ") + ") VALUES(" + parameterString(len(columns)) + ")"
	}
	sqlQuery += " RETURNING id;"

	var id int64
	err = t.db.QueryRowContext(ctx, sqlQuery, values...).Scan(&id)
	return id, err
}

func (t *postgresTable) Update(ctx context.Context, id int64, fields map[string]interface{}) error {
	columns, values, err := t.bindFields(fields)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		// nothing to merge, still report whether the row exists
		_, err := t.Get(ctx, id)
		return err
	}
	sets := make([]string, len(columns))
	for i, column := range columns {
		sets[i] = column + " = $" + strconv.Itoa(i+1)
	}
	sqlQuery := fmt.Sprintf("UPDATE %s.\"%s\" SET %s WHERE id = $%d RETURNING id;",
		t.db.Schema, t.desc.Name, strings.Join(sets, ", "), len(columns)+1)
	values = append(values, id)

	err = t.db.QueryRowContext(ctx, sqlQuery, values...).Scan(&id)
	if err == csql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

func (t *postgresTable) Delete(ctx context.Context, id int64) error {
	sqlQuery := fmt.Sprintf("DELETE FROM %s.\"%s\" WHERE id = $1 RETURNING id;", t.db.Schema, t.desc.Name)
	err := t.db.QueryRowContext(ctx, sqlQuery, id).Scan(&id)
	if err == csql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

// bindFields validates the field names against the descriptor and marshals
// the values for the jsonb columns. The id column cannot be written.
func (t *postgresTable) bindFields(fields map[string]interface{}) ([]string, []interface{}, error) {
	var columns []string
	var values []interface{}
	for _, column := range t.desc.Columns {
		value, ok := fields[column]
		if !ok {
			continue
		}
		jsonValue, err := json.Marshal(value)
		if err != nil {
			return nil, nil, err
		}
		columns = append(columns, "\""+column+"\"")
		values = append(values, jsonValue)
	}
	for key := range fields {
		if !t.desc.HasColumn(key) || key == "id" {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownColumn, key)
		}
	}
	return columns, values, nil
}

// conditionColumn renders the left-hand side and operator of one filter.
// jsonb columns are compared as text, ids natively.
func conditionColumn(condition query.Condition) string {
	operator := condition.Operator
	switch operator {
	case "!=":
		operator = "<>"
	case "~":
		operator = "LIKE"
	}
	if condition.Field == "id" {
		return "id " + operator
	}
	return fmt.Sprintf("(\"%s\" #>> '{}') %s", condition.Field, operator)
}

// sortColumn renders one sort key; text ordering is case-insensitive.
func sortColumn(sort query.Sort) string {
	if sort.Field == "id" {
		return "id"
	}
	return fmt.Sprintf("lower(\"%s\" #>> '{}')", sort.Field)
}

// returns $1,...,$n
func parameterString(n int) string {
	result := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			result += ","
		}
		result += "$" + strconv.Itoa(i+1)
	}
	return result
}
