/*Package tasks serves the current-tasks view on top of the generic tasks
entity.

A task is a plain entity object with name, description, due_date and done
columns. The view filters out finished tasks, restricts to tasks due within a
configurable horizon and annotates every task with a computed due_type.
*/
package tasks

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/pantrybase/pantrybase/core/entity"
	"github.com/pantrybase/pantrybase/core/logger"
	"github.com/pantrybase/pantrybase/core/query"
	"github.com/pantrybase/pantrybase/core/rowstore"
)

// DefaultDueSoonDays is the horizon for the duesoon classification.
const DefaultDueSoonDays = 5

// due_type values
const (
	DueTypeOverdue  = "overdue"
	DueTypeDueToday = "duetoday"
	DueTypeDueSoon  = "duesoon"
)

// Service serves the tasks view.
type Service struct {
	table       rowstore.Table
	dueSoonDays int
	now         func() time.Time
}

// Builder is a builder helper for the tasks Service
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Store is the row store adapter. This is mandatory.
	Store rowstore.Store
	// Registry is the capability registry; it must expose a tasks entity
	// with name, due_date and done columns. This is mandatory.
	Registry *entity.Registry
	// DueSoonDays is the horizon for the duesoon classification, in days.
	// Defaults to DefaultDueSoonDays.
	DueSoonDays int
}

// New realizes the tasks service and adds its routes to the router.
func New(bb *Builder) (*Service, error) {
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.Store == nil {
		panic("Store is missing")
	}
	if bb.Registry == nil {
		panic("Registry is missing")
	}
	desc, ok := bb.Registry.Lookup("tasks")
	if !ok {
		return nil, fmt.Errorf("tasks entity is not exposed")
	}
	for _, column := range []string{"name", "due_date", "done"} {
		if !desc.HasColumn(column) {
			return nil, fmt.Errorf("tasks entity misses the %s column", column)
		}
	}

	dueSoonDays := bb.DueSoonDays
	if dueSoonDays == 0 {
		dueSoonDays = DefaultDueSoonDays
	}
	s := &Service{
		table:       bb.Store.Open(desc),
		dueSoonDays: dueSoonDays,
		now:         time.Now,
	}
	s.handleRoutes(bb.Router)
	return s, nil
}

func (s *Service) handleRoutes(router *mux.Router) {
	logger.FromContext(nil).Debugln("  handle route: /tasks/current GET")
	router.Handle("/tasks/current", handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.currentTasks(w, r)
	}))).Methods(http.MethodOptions, http.MethodGet)
}

func (s *Service) currentTasks(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	includeDone := r.URL.Query().Get("include_done") == "1"

	rows, err := s.table.List(r.Context(), query.Spec{})
	if err != nil {
		rlog.WithError(err).Errorln("Error 2501: cannot list tasks")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error_message": "Error 2501"}`))
		return
	}

	today := truncateToDay(s.now())
	horizon := today.AddDate(0, 0, s.dueSoonDays)

	current := []rowstore.Row{}
	for _, row := range rows {
		done := isDone(row["done"])
		due, hasDue := parseDueDate(row["due_date"])
		if !includeDone {
			if done {
				continue
			}
			if hasDue && due.After(horizon) {
				continue
			}
		}
		row["due_type"] = dueType(due, hasDue, today, horizon)
		current = append(current, row)
	}

	sort.SliceStable(current, func(i, j int) bool {
		a, _ := current[i]["name"].(string)
		b, _ := current[j]["name"].(string)
		return strings.ToLower(a) < strings.ToLower(b)
	})

	jsonData, _ := json.MarshalWithOption(current, json.DisableHTMLEscape())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonData)
}

func dueType(due time.Time, hasDue bool, today, horizon time.Time) string {
	if !hasDue {
		return ""
	}
	switch {
	case due.Before(today):
		return DueTypeOverdue
	case due.Equal(today):
		return DueTypeDueToday
	case !due.After(horizon):
		return DueTypeDueSoon
	}
	return ""
}

func isDone(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v == "1" || v == "true"
	}
	return false
}

// parseDueDate accepts a plain date or anything starting with one, like a
// full timestamp.
func parseDueDate(value interface{}) (time.Time, bool) {
	text, ok := value.(string)
	if !ok || len(text) < len("2006-01-02") {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", text[:len("2006-01-02")])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
