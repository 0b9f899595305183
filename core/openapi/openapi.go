/*Package openapi serves a machine-readable description of the generic
entity routes.

The document is assembled from the capability registry, so it only ever
advertises operations an entity actually permits.
*/
package openapi

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/pantrybase/pantrybase/core/entity"
	"github.com/pantrybase/pantrybase/core/logger"
)

// Service serves the openapi document.
type Service struct {
	registry    *entity.Registry
	title       string
	description string
	version     string
}

// Builder is a builder helper for the openapi Service
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Registry is the capability registry. This is mandatory.
	Registry *entity.Registry
	// Title, Description and Version describe the API.
	Title       string
	Description string
	Version     string
}

// New realizes the openapi service and adds its route to the router.
func New(bb *Builder) *Service {
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.Registry == nil {
		panic("Registry is missing")
	}
	s := &Service{
		registry:    bb.Registry,
		title:       bb.Title,
		description: bb.Description,
		version:     bb.Version,
	}

	logger.FromContext(nil).Debugln("  handle route: /openapi.json GET")
	bb.Router.Handle("/openapi.json", handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		jsonData, _ := json.MarshalWithOption(s.Document(), json.DisableHTMLEscape())
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(jsonData)
	}))).Methods(http.MethodOptions, http.MethodGet)
	return s
}

// Document assembles the openapi document from the registry.
func (s *Service) Document() map[string]interface{} {
	paths := map[string]interface{}{}
	for _, desc := range s.registry.Descriptors() {
		s.addEntityPaths(paths, desc)
	}
	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       s.title,
			"description": s.description,
			"version":     s.version,
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error_message": map[string]interface{}{"type": "string"},
					},
				},
			},
		},
	}
}

func (s *Service) addEntityPaths(paths map[string]interface{}, desc entity.Descriptor) {
	collection := map[string]interface{}{}
	item := map[string]interface{}{}

	if !desc.NoListing {
		collection["get"] = operation(desc, "List all "+desc.Name+" objects")
		item["get"] = operation(desc, "Get a single "+desc.Name+" object")
	}
	if !desc.NoEdit {
		collection["post"] = operation(desc, "Create a new "+desc.Name+" object")
		item["put"] = operation(desc, "Update a "+desc.Name+" object")
	}
	if !desc.NoDelete {
		item["delete"] = operation(desc, "Delete a "+desc.Name+" object")
	}

	if len(collection) > 0 {
		paths["/objects/"+desc.Name] = collection
	}
	if len(item) > 0 {
		item["parameters"] = []interface{}{idParameter()}
		paths["/objects/"+desc.Name+"/{id}"] = item
	}

	userfieldPaths := map[string]interface{}{
		"get":        operation(desc, "Get the userfields of a "+desc.Name+" object"),
		"put":        operation(desc, "Set the userfields of a "+desc.Name+" object"),
		"parameters": []interface{}{idParameter()},
	}
	paths["/userfields/"+desc.Name+"/{id}"] = userfieldPaths
}

func operation(desc entity.Descriptor, summary string) map[string]interface{} {
	op := map[string]interface{}{
		"summary": summary,
		"tags":    []string{desc.Name},
		"responses": map[string]interface{}{
			"200": map[string]interface{}{"description": "The operation was successful"},
			"400": map[string]interface{}{
				"description": "The operation was not successful",
				"content": map[string]interface{}{
					"application/json": map[string]interface{}{
						"schema": map[string]interface{}{"$ref": "#/components/schemas/Error"},
					},
				},
			},
		},
	}
	if desc.Description != "" {
		op["description"] = desc.Description
	}
	return op
}

func idParameter() map[string]interface{} {
	return map[string]interface{}{
		"name":     "id",
		"in":       "path",
		"required": true,
		"schema":   map[string]interface{}{"type": "integer", "format": "int64"},
	}
}
