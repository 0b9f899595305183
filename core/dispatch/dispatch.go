/*Package dispatch provides the generic CRUD dispatcher: one set of REST
routes serving every exposed entity, driven by the capability registry.

For each operation the dispatcher runs the same pipeline: resolve the entity
against the registry, authorize the caller, gate the operation against the
entity's capabilities, validate the input, execute against the row store and,
on read paths, merge the userfield overlay. Every stage returns explicit
errors; the first failure terminates the request.
*/
package dispatch

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/pantrybase/pantrybase/core"
	"github.com/pantrybase/pantrybase/core/entity"
	"github.com/pantrybase/pantrybase/core/logger"
	"github.com/pantrybase/pantrybase/core/rowstore"
	"github.com/pantrybase/pantrybase/core/schema"
	"github.com/pantrybase/pantrybase/core/userfields"
)

// Backend is the generic entity rest backend
type Backend struct {
	registry   *entity.Registry
	store      rowstore.Store
	userfields userfields.Service
	notifier   core.Notifier
	validator  *schema.Validator
	router     *mux.Router
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all exposed entities. This is mandatory.
	Config string
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Store is the row store adapter. This is mandatory.
	Store rowstore.Store
	// Userfields is the userfield overlay. This is mandatory.
	Userfields userfields.Service
	// Notifier receives entity change notifications after successful
	// mutations. This is optional.
	Notifier core.Notifier
	// Validator validates request bodies for entities that declare a
	// schema_id. This is optional.
	Validator *schema.Validator
}

// New realizes the actual backend. It parses the entity configuration and
// adds the generic routes to the router.
func New(bb *Builder) (*Backend, error) {
	registry, err := entity.NewRegistry(bb.Config)
	if err != nil {
		return nil, err
	}
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.Store == nil {
		panic("Store is missing")
	}
	if bb.Userfields == nil {
		panic("Userfields is missing")
	}

	b := &Backend{
		registry:   registry,
		store:      bb.Store,
		userfields: bb.Userfields,
		notifier:   bb.Notifier,
		validator:  bb.Validator,
		router:     bb.Router,
	}
	b.handleRoutes(b.router)
	return b, nil
}

// MustNew is like New but panics on invalid configuration
func MustNew(bb *Builder) *Backend {
	b, err := New(bb)
	if err != nil {
		panic(err)
	}
	return b
}

// Registry returns the backend's capability registry.
func (b *Backend) Registry() *entity.Registry {
	return b.registry
}

func (b *Backend) handleRoutes(router *mux.Router) {
	nillog := logger.FromContext(nil)
	nillog.Debugln("generic entity backend")
	nillog.Debugln("  handle routes: /objects/{entity} GET,POST")
	nillog.Debugln("  handle routes: /objects/{entity}/{id} GET,PUT,DELETE")
	nillog.Debugln("  handle routes: /userfields/{entity}/{id} GET,PUT")

	handle := func(route string, handler http.HandlerFunc, methods ...string) {
		router.Handle(route, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
			handler(w, r)
		}))).Methods(append(methods, http.MethodOptions)...)
	}

	handle("/objects/{entity}", b.listObjects, http.MethodGet)
	handle("/objects/{entity}", b.createObject, http.MethodPost)
	handle("/objects/{entity}/{id}", b.getObject, http.MethodGet)
	handle("/objects/{entity}/{id}", b.updateObject, http.MethodPut)
	handle("/objects/{entity}/{id}", b.deleteObject, http.MethodDelete)
	handle("/userfields/{entity}/{id}", b.getUserfields, http.MethodGet)
	handle("/userfields/{entity}/{id}", b.setUserfields, http.MethodPut)
}

func (b *Backend) notify(entityName string, operation core.Operation, payload []byte) {
	if b.notifier == nil {
		return
	}
	b.notifier.Notify(entityName, operation, payload)
}
