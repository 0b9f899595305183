package dispatch_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrybase/pantrybase/core/access"
	"github.com/pantrybase/pantrybase/core/client"
	"github.com/pantrybase/pantrybase/core/dispatch"
	"github.com/pantrybase/pantrybase/core/userfields"
)

const testConfig = `{
	"entities": [
		{"name": "products", "columns": ["name", "amount"]},
		{"name": "ledger", "columns": ["detail"], "no_edit": true, "no_delete": true},
		{"name": "archive", "columns": ["note"], "no_listing": true},
		{"name": "vault", "columns": ["secret"], "edit_requires_admin": true}
	]
}`

type testBackend struct {
	store      *memStore
	userfields *memUserfields
	notifier   *testNotifier
	client     client.Client
}

func newTestBackend(t *testing.T) *testBackend {
	router := mux.NewRouter()
	store := newMemStore()
	overlay := newMemUserfields()
	notifier := &testNotifier{}
	_, err := dispatch.New(&dispatch.Builder{
		Config:     testConfig,
		Router:     router,
		Store:      store,
		Userfields: overlay,
		Notifier:   notifier,
	})
	require.NoError(t, err)
	return &testBackend{
		store:      store,
		userfields: overlay,
		notifier:   notifier,
		client:     client.NewWithRouter(router).WithPermissions(access.PermissionMasterDataEdit),
	}
}

func TestCreateReadRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	products := b.client.Entity("products")

	id, status, err := products.Create(map[string]interface{}{"name": "flour", "amount": 1})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.NotZero(t, id)

	var object map[string]interface{}
	_, err = products.Read(id, &object)
	require.NoError(t, err)
	assert.Equal(t, "flour", object["name"])
	assert.Equal(t, float64(1), object["amount"])
	assert.Equal(t, float64(id), object["id"])

	_, ok := object["userfields"]
	assert.False(t, ok, "entity without userfield definitions must not carry the property")

	assert.Equal(t, []string{"products create"}, b.notifier.all())
}

func TestUnexposedEntityNeverReachesStorage(t *testing.T) {
	b := newTestBackend(t)
	unknown := b.client.Entity("unknown")

	var result []map[string]interface{}
	status, err := unknown.List(&result)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	_, status, _ = unknown.Create(map[string]interface{}{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = unknown.Delete(1)
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Zero(t, b.store.openCount(), "rejected requests must not reach storage")
}

func TestCapabilityGates(t *testing.T) {
	b := newTestBackend(t)

	_, status, _ := b.client.Entity("ledger").Create(map[string]interface{}{"detail": "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	// the gate fires before any id lookup
	status, _ = b.client.Entity("ledger").Delete(12345)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = b.client.Entity("ledger").Update(12345, map[string]interface{}{"detail": "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	var result []map[string]interface{}
	status, _ = b.client.Entity("archive").List(&result)
	assert.Equal(t, http.StatusBadRequest, status)

	var object map[string]interface{}
	status, _ = b.client.Entity("archive").Read(1, &object)
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Zero(t, b.store.openCount(), "gated requests must not reach storage")
}

func TestMutationsRequirePermission(t *testing.T) {
	b := newTestBackend(t)

	unauthorized := b.client.WithAuthorization(&access.Authorization{Username: "guest"})
	_, status, _ := unauthorized.Entity("products").Create(map[string]interface{}{"name": "x"})
	assert.Equal(t, http.StatusForbidden, status)

	// reads need no permission at all
	var result []map[string]interface{}
	status, err := unauthorized.Entity("products").List(&result)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestEditRequiresAdmin(t *testing.T) {
	b := newTestBackend(t)

	_, status, _ := b.client.Entity("vault").Create(map[string]interface{}{"secret": "x"})
	assert.Equal(t, http.StatusForbidden, status, "master data edit alone is not enough")

	admin := b.client.WithAdminAuthorization()
	id, status, err := admin.Entity("vault").Create(map[string]interface{}{"secret": "x"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	status, err = admin.Entity("vault").Delete(id)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestUpdateMergesFields(t *testing.T) {
	b := newTestBackend(t)
	products := b.client.Entity("products")

	id, _, err := products.Create(map[string]interface{}{"name": "flour", "amount": 2})
	require.NoError(t, err)

	status, err := products.Update(id, map[string]interface{}{"amount": 5})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	var object map[string]interface{}
	_, err = products.Read(id, &object)
	require.NoError(t, err)
	assert.Equal(t, "flour", object["name"], "untouched fields survive the merge")
	assert.Equal(t, float64(5), object["amount"])

	assert.Contains(t, b.notifier.all(), "products update")
}

func TestUpdateAndDeleteOfMissingObject(t *testing.T) {
	b := newTestBackend(t)
	products := b.client.Entity("products")

	status, err := products.Update(999, map[string]interface{}{"amount": 5})
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	status, err = products.Delete(999)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Empty(t, b.notifier.all(), "failed mutations must not notify")
}

func TestReadMissingObject(t *testing.T) {
	b := newTestBackend(t)

	var object map[string]interface{}
	status, err := b.client.Entity("products").Read(999, &object)
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeleteRemovesObject(t *testing.T) {
	b := newTestBackend(t)
	products := b.client.Entity("products")

	id, _, err := products.Create(map[string]interface{}{"name": "flour"})
	require.NoError(t, err)

	status, err := products.Delete(id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	var object map[string]interface{}
	status, _ = products.Read(id, &object)
	assert.Equal(t, http.StatusNotFound, status)

	assert.Contains(t, b.notifier.all(), "products delete")
}

func TestUnknownColumnRejected(t *testing.T) {
	b := newTestBackend(t)
	products := b.client.Entity("products")

	_, status, _ := products.Create(map[string]interface{}{"bogus": 1})
	assert.Equal(t, http.StatusBadRequest, status)

	id, _, err := products.Create(map[string]interface{}{"name": "flour"})
	require.NoError(t, err)
	status, _ = products.Update(id, map[string]interface{}{"bogus": 1})
	assert.Equal(t, http.StatusBadRequest, status)

	// writing the id is also rejected
	status, _ = products.Update(id, map[string]interface{}{"id": 7})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMalformedBodyRejected(t *testing.T) {
	b := newTestBackend(t)

	status, err := b.client.RawPost("/objects/products", []byte("{not json"), nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestInvalidQueryRejected(t *testing.T) {
	b := newTestBackend(t)
	products := b.client.Entity("products")

	_, _, err := products.Create(map[string]interface{}{"name": "flour"})
	require.NoError(t, err)

	var result []map[string]interface{}
	status, err := products.WithQuery("bogus=1").List(&result)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = products.WithParameter("frobnicate", "1").List(&result)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = products.WithOrder("name:sideways").List(&result)
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Zero(t, b.store.tables["products"].listCalls, "invalid queries must not reach storage")
}

func TestUserfieldsOverlayOnRead(t *testing.T) {
	b := newTestBackend(t)
	products := b.client.Entity("products")

	require.NoError(t, b.userfields.CreateField(context.Background(), userfields.Definition{Entity: "products", Name: "rating"}))

	withValue, _, err := products.Create(map[string]interface{}{"name": "flour"})
	require.NoError(t, err)
	withoutValue, _, err := products.Create(map[string]interface{}{"name": "sugar"})
	require.NoError(t, err)

	five := "5"
	status, err := products.SetUserfields(withValue, map[string]*string{"rating": &five})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	var object map[string]interface{}
	_, err = products.Read(withValue, &object)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"rating": "5"}, object["userfields"])

	// declared fields but no values collapses to null
	object = nil
	_, err = products.Read(withoutValue, &object)
	require.NoError(t, err)
	value, ok := object["userfields"]
	assert.True(t, ok)
	assert.Nil(t, value)
}

func TestUserfieldsOverlayOnList(t *testing.T) {
	b := newTestBackend(t)
	products := b.client.Entity("products")

	require.NoError(t, b.userfields.CreateField(context.Background(), userfields.Definition{Entity: "products", Name: "rating"}))
	require.NoError(t, b.userfields.CreateField(context.Background(), userfields.Definition{Entity: "products", Name: "origin"}))

	first, _, err := products.Create(map[string]interface{}{"name": "flour"})
	require.NoError(t, err)
	_, _, err = products.Create(map[string]interface{}{"name": "sugar"})
	require.NoError(t, err)

	five := "5"
	_, err = products.SetUserfields(first, map[string]*string{"rating": &five})
	require.NoError(t, err)

	var result []map[string]interface{}
	_, err = products.List(&result)
	require.NoError(t, err)
	require.Len(t, result, 2)

	// every row carries all declared fields, absent values as null
	assert.Equal(t, map[string]interface{}{"rating": "5", "origin": nil}, result[0]["userfields"])
	assert.Equal(t, map[string]interface{}{"rating": nil, "origin": nil}, result[1]["userfields"])

	assert.Equal(t, 1, b.userfields.getAllCalls, "list overlay must use a single bulk fetch")
}

func TestSetUserfieldsValidation(t *testing.T) {
	b := newTestBackend(t)
	products := b.client.Entity("products")

	require.NoError(t, b.userfields.CreateField(context.Background(), userfields.Definition{Entity: "products", Name: "rating"}))

	id, _, err := products.Create(map[string]interface{}{"name": "flour"})
	require.NoError(t, err)

	five := "5"
	status, err := products.SetUserfields(id, map[string]*string{"rating": &five, "bogus": &five})
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	values := map[string]*string{}
	_, err = products.Userfields(id, &values)
	require.NoError(t, err)
	assert.Empty(t, values, "a rejected write must not store anything")

	// writing userfields needs master data edit
	unauthorized := b.client.WithAuthorization(&access.Authorization{Username: "guest"})
	status, _ = unauthorized.Entity("products").SetUserfields(id, map[string]*string{"rating": &five})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestUserfieldsSurviveObjectDeletion(t *testing.T) {
	b := newTestBackend(t)
	products := b.client.Entity("products")

	require.NoError(t, b.userfields.CreateField(context.Background(), userfields.Definition{Entity: "products", Name: "rating"}))

	id, _, err := products.Create(map[string]interface{}{"name": "flour"})
	require.NoError(t, err)
	five := "5"
	_, err = products.SetUserfields(id, map[string]*string{"rating": &five})
	require.NoError(t, err)

	_, err = products.Delete(id)
	require.NoError(t, err)

	// reads stay tolerant of values whose object is gone
	var result []map[string]interface{}
	status, err := products.List(&result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, result)

	values := map[string]*string{}
	status, err = products.Userfields(id, &values)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]*string{"rating": &five}, values)
}
