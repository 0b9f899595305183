package dispatch_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pantrybase/pantrybase/core"
	"github.com/pantrybase/pantrybase/core/entity"
	"github.com/pantrybase/pantrybase/core/query"
	"github.com/pantrybase/pantrybase/core/rowstore"
	"github.com/pantrybase/pantrybase/core/userfields"
)

// memStore is an in-memory row store. It records which entities were opened
// so tests can verify that rejected requests never reach storage.
type memStore struct {
	mu     sync.Mutex
	tables map[string]*memTable
	opened []string
}

func newMemStore() *memStore {
	return &memStore{tables: map[string]*memTable{}}
}

func (s *memStore) Open(desc entity.Descriptor) rowstore.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, desc.Name)
	table, ok := s.tables[desc.Name]
	if !ok {
		table = &memTable{desc: desc, rows: map[int64]rowstore.Row{}}
		s.tables[desc.Name] = table
	}
	return table
}

func (s *memStore) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.opened)
}

type memTable struct {
	desc      entity.Descriptor
	mu        sync.Mutex
	nextID    int64
	rows      map[int64]rowstore.Row
	listCalls int
}

func (t *memTable) bindFields(fields map[string]interface{}) error {
	for key := range fields {
		if key == "id" || !t.desc.HasColumn(key) {
			return fmt.Errorf("%w: %s", rowstore.ErrUnknownColumn, key)
		}
	}
	return nil
}

func (t *memTable) Get(ctx context.Context, id int64) (rowstore.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[id]
	if !ok {
		return nil, rowstore.ErrNotFound
	}
	clone := rowstore.Row{}
	for key, value := range row {
		clone[key] = value
	}
	return clone, nil
}

func (t *memTable) List(ctx context.Context, spec query.Spec) ([]rowstore.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listCalls++
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := []rowstore.Row{}
	for _, id := range ids {
		clone := rowstore.Row{}
		for key, value := range t.rows[id] {
			clone[key] = value
		}
		rows = append(rows, clone)
	}
	if spec.Offset > 0 {
		if spec.Offset >= len(rows) {
			rows = rows[:0]
		} else {
			rows = rows[spec.Offset:]
		}
	}
	if spec.Limit > 0 && spec.Limit < len(rows) {
		rows = rows[:spec.Limit]
	}
	return rows, nil
}

func (t *memTable) Insert(ctx context.Context, fields map[string]interface{}) (int64, error) {
	if err := t.bindFields(fields); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	row := rowstore.Row{"id": t.nextID}
	for key, value := range fields {
		row[key] = value
	}
	t.rows[t.nextID] = row
	return t.nextID, nil
}

func (t *memTable) Update(ctx context.Context, id int64, fields map[string]interface{}) error {
	if err := t.bindFields(fields); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[id]
	if !ok {
		return rowstore.ErrNotFound
	}
	for key, value := range fields {
		row[key] = value
	}
	return nil
}

func (t *memTable) Delete(ctx context.Context, id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; !ok {
		return rowstore.ErrNotFound
	}
	delete(t.rows, id)
	return nil
}

// memUserfields is an in-memory userfield overlay. It counts bulk fetches so
// tests can verify the list overlay uses a single query.
type memUserfields struct {
	mu           sync.Mutex
	fields       map[string][]userfields.Definition
	values       map[string]map[int64]map[string]*string
	getAllCalls  int
	setValueErrs int
}

func newMemUserfields() *memUserfields {
	return &memUserfields{
		fields: map[string][]userfields.Definition{},
		values: map[string]map[int64]map[string]*string{},
	}
}

func (s *memUserfields) GetFields(ctx context.Context, entity string) ([]userfields.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields[entity], nil
}

func (s *memUserfields) GetValues(ctx context.Context, entity string, objectID int64) (map[string]*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := map[string]*string{}
	for name, value := range s.values[entity][objectID] {
		values[name] = value
	}
	return values, nil
}

func (s *memUserfields) GetAllValues(ctx context.Context, entity string) ([]userfields.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getAllCalls++
	var all []userfields.Value
	for objectID, byName := range s.values[entity] {
		for name, value := range byName {
			all = append(all, userfields.Value{Entity: entity, ObjectID: objectID, Name: name, Value: value})
		}
	}
	return all, nil
}

func (s *memUserfields) SetValues(ctx context.Context, entity string, objectID int64, values map[string]*string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	declared := map[string]bool{}
	for _, field := range s.fields[entity] {
		declared[field.Name] = true
	}
	for name := range values {
		if !declared[name] {
			s.setValueErrs++
			return fmt.Errorf("%w: %s", userfields.ErrUnknownUserfield, name)
		}
	}
	byID, ok := s.values[entity]
	if !ok {
		byID = map[int64]map[string]*string{}
		s.values[entity] = byID
	}
	byName, ok := byID[objectID]
	if !ok {
		byName = map[string]*string{}
		byID[objectID] = byName
	}
	for name, value := range values {
		byName[name] = value
	}
	return nil
}

func (s *memUserfields) CreateField(ctx context.Context, definition userfields.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[definition.Entity] = append(s.fields[definition.Entity], definition)
	return nil
}

// testNotifier records notifications of successful mutations.
type testNotifier struct {
	mu            sync.Mutex
	notifications []string
}

func (n *testNotifier) Notify(entity string, operation core.Operation, payload []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, entity+" "+string(operation))
}

func (n *testNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string{}, n.notifications...)
}
