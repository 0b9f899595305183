package dispatch

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/pantrybase/pantrybase/core"
	"github.com/pantrybase/pantrybase/core/access"
	"github.com/pantrybase/pantrybase/core/entity"
	"github.com/pantrybase/pantrybase/core/logger"
	"github.com/pantrybase/pantrybase/core/query"
	"github.com/pantrybase/pantrybase/core/rowstore"
	"github.com/pantrybase/pantrybase/core/userfields"
)

// resolveAndGate runs the first three pipeline stages: resolve the entity
// name against the capability registry, authorize the caller, gate the
// operation against the entity's capabilities. The registry is consulted
// first so invalid entity names never reach storage. On failure the error
// response has been written and ok is false.
func (b *Backend) resolveAndGate(w http.ResponseWriter, r *http.Request, operation core.Operation) (entity.Descriptor, bool) {
	params := mux.Vars(r)
	desc, ok := b.registry.Lookup(params["entity"])
	if !ok {
		writeError(w, http.StatusBadRequest, ErrEntityNotExposed.Error())
		return desc, false
	}

	if operation.IsMutation() {
		if err := access.Check(r.Context(), access.PermissionMasterDataEdit); err != nil {
			writeError(w, http.StatusForbidden, "not authorized")
			return desc, false
		}
		if desc.EditRequiresAdmin {
			if err := access.Check(r.Context(), access.PermissionAdmin); err != nil {
				writeError(w, http.StatusForbidden, "not authorized")
				return desc, false
			}
		}
	}

	if !desc.Allows(operation) {
		writeError(w, http.StatusBadRequest, ErrCapabilityDenied.Error())
		return desc, false
	}
	return desc, true
}

func objectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid object id")
		return 0, false
	}
	return id, true
}

// parseBody decodes the request body as a structured key/value document.
func parseBody(r *http.Request) (map[string]interface{}, error) {
	if contentType := r.Header.Get("Content-Type"); contentType != "" &&
		!strings.HasPrefix(contentType, "application/json") {
		return nil, ErrMalformedInput
	}
	var bodyJSON map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&bodyJSON); err != nil {
		return nil, ErrMalformedInput
	}
	return bodyJSON, nil
}

// validateBody validates the object against the entity's schema, if it
// declares one. An unknown schema id deactivates validation, like a missing
// validator does.
func (b *Backend) validateBody(r *http.Request, desc entity.Descriptor, object map[string]interface{}) error {
	if desc.SchemaID == "" || b.validator == nil {
		return nil
	}
	if !b.validator.HasSchema(desc.SchemaID) {
		logger.FromContext(r.Context()).Errorf("invalid configuration for entity %s, schemaID %s is unknown. Validation is deactivated for this entity",
			desc.Name, desc.SchemaID)
		return nil
	}
	jsonData, _ := json.MarshalWithOption(object, json.DisableHTMLEscape())
	return b.validator.ValidateString(string(jsonData), desc.SchemaID)
}

func (b *Backend) createObject(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	desc, ok := b.resolveAndGate(w, r, core.OperationCreate)
	if !ok {
		return
	}
	bodyJSON, err := parseBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := b.validateBody(r, desc, bodyJSON); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := b.store.Open(desc).Insert(r.Context(), bodyJSON)
	if errors.Is(err, rowstore.ErrUnknownColumn) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 2301: cannot insert %s object", desc.Name)
		writeError(w, http.StatusInternalServerError, "Error 2301")
		return
	}

	bodyJSON["id"] = id
	payload, _ := json.MarshalWithOption(bodyJSON, json.DisableHTMLEscape())
	b.notify(desc.Name, core.OperationCreate, payload)

	writeJSON(w, http.StatusOK, map[string]interface{}{"created_object_id": id})
}

func (b *Backend) getObject(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	desc, ok := b.resolveAndGate(w, r, core.OperationRead)
	if !ok {
		return
	}
	id, ok := objectID(w, r)
	if !ok {
		return
	}

	row, err := b.store.Open(desc).Get(r.Context(), id)
	if errors.Is(err, rowstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 2302: cannot read %s object", desc.Name)
		writeError(w, http.StatusInternalServerError, "Error 2302")
		return
	}

	fields, err := b.userfields.GetFields(r.Context(), desc.Name)
	if err != nil {
		rlog.WithError(err).Errorf("Error 2303: cannot read userfields for %s", desc.Name)
		writeError(w, http.StatusInternalServerError, "Error 2303")
		return
	}
	// entities with zero declared userfields never carry the property; an
	// empty value set collapses to null so clients can tell "no custom
	// fields defined" from "all custom fields empty"
	if len(fields) > 0 {
		values, err := b.userfields.GetValues(r.Context(), desc.Name, id)
		if err != nil {
			rlog.WithError(err).Errorf("Error 2304: cannot read userfield values for %s", desc.Name)
			writeError(w, http.StatusInternalServerError, "Error 2304")
			return
		}
		if len(values) == 0 {
			row["userfields"] = nil
		} else {
			row["userfields"] = values
		}
	}

	writeJSON(w, http.StatusOK, row)
}

func (b *Backend) listObjects(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	desc, ok := b.resolveAndGate(w, r, core.OperationList)
	if !ok {
		return
	}
	spec, err := query.Translate(r.URL.Query(), desc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// the row query and the bulk overlay fetch are independent and join
	// before response construction
	var (
		rows   []rowstore.Row
		fields []userfields.Definition
		all    []userfields.Value
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		rows, err = b.store.Open(desc).List(ctx, spec)
		return err
	})
	g.Go(func() error {
		var err error
		fields, err = b.userfields.GetFields(ctx, desc.Name)
		if err != nil || len(fields) == 0 {
			return err
		}
		all, err = b.userfields.GetAllValues(ctx, desc.Name)
		return err
	})
	if err := g.Wait(); err != nil {
		rlog.WithError(err).Errorf("Error 2305: cannot list %s objects", desc.Name)
		writeError(w, http.StatusInternalServerError, "Error 2305")
		return
	}

	if len(fields) > 0 {
		index := userfields.Index(all)
		for _, row := range rows {
			id, _ := row["id"].(int64)
			row["userfields"] = userfields.Merge(fields, index[id])
		}
	}

	writeJSON(w, http.StatusOK, rows)
}

func (b *Backend) updateObject(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	desc, ok := b.resolveAndGate(w, r, core.OperationUpdate)
	if !ok {
		return
	}
	id, ok := objectID(w, r)
	if !ok {
		return
	}
	bodyJSON, err := parseBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	table := b.store.Open(desc)
	row, err := table.Get(r.Context(), id)
	if errors.Is(err, rowstore.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "object not found")
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 2306: cannot read %s object", desc.Name)
		writeError(w, http.StatusInternalServerError, "Error 2306")
		return
	}

	// update is a merge of the provided fields over the existing row, so
	// validation happens on the merged document
	merged := map[string]interface{}{}
	for key, value := range row {
		merged[key] = value
	}
	for key, value := range bodyJSON {
		merged[key] = value
	}
	if err := b.validateBody(r, desc, merged); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = table.Update(r.Context(), id, bodyJSON)
	if errors.Is(err, rowstore.ErrUnknownColumn) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, rowstore.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "object not found")
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 2307: cannot update %s object", desc.Name)
		writeError(w, http.StatusInternalServerError, "Error 2307")
		return
	}

	payload, _ := json.MarshalWithOption(merged, json.DisableHTMLEscape())
	b.notify(desc.Name, core.OperationUpdate, payload)

	writeEmpty(w)
}

func (b *Backend) deleteObject(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	desc, ok := b.resolveAndGate(w, r, core.OperationDelete)
	if !ok {
		return
	}
	id, ok := objectID(w, r)
	if !ok {
		return
	}

	err := b.store.Open(desc).Delete(r.Context(), id)
	if errors.Is(err, rowstore.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "object not found")
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 2308: cannot delete %s object", desc.Name)
		writeError(w, http.StatusInternalServerError, "Error 2308")
		return
	}

	// userfield values of the deleted object are left behind on purpose;
	// the overlay tolerates orphaned values on all read paths
	payload, _ := json.MarshalWithOption(map[string]interface{}{"id": id}, json.DisableHTMLEscape())
	b.notify(desc.Name, core.OperationDelete, payload)

	writeEmpty(w)
}

func (b *Backend) getUserfields(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	if !b.registry.IsExposed(params["entity"]) {
		writeError(w, http.StatusBadRequest, ErrEntityNotExposed.Error())
		return
	}
	id, ok := objectID(w, r)
	if !ok {
		return
	}

	values, err := b.userfields.GetValues(r.Context(), params["entity"], id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (b *Backend) setUserfields(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	params := mux.Vars(r)
	if !b.registry.IsExposed(params["entity"]) {
		writeError(w, http.StatusBadRequest, ErrEntityNotExposed.Error())
		return
	}
	if err := access.Check(r.Context(), access.PermissionMasterDataEdit); err != nil {
		writeError(w, http.StatusForbidden, "not authorized")
		return
	}
	id, ok := objectID(w, r)
	if !ok {
		return
	}

	var values map[string]*string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeError(w, http.StatusBadRequest, ErrMalformedInput.Error())
		return
	}

	err := b.userfields.SetValues(r.Context(), params["entity"], id, values)
	if errors.Is(err, userfields.ErrUnknownUserfield) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 2309: cannot set userfields for %s", params["entity"])
		writeError(w, http.StatusInternalServerError, "Error 2309")
		return
	}
	writeEmpty(w)
}
