/*
Package client provides easy and fast in-process access to the REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The
client is the tool of choice if one request handler needs to call other
handlers to fulfill its task. It is also perfectly suited for unit tests.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/pantrybase/pantrybase/core/access"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:        url,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	c.defaultHeaders[key] = value
	return c
}

// WithToken returns a new client with a bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAuthorization returns a new client with specific authorizations
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithPermissions returns a new client authorized with the given permissions
// (this works only directly against the mux router)
func (c Client) WithPermissions(permissions ...access.Permission) Client {
	return c.WithAuthorization(&access.Authorization{Permissions: permissions})
}

// WithAdminAuthorization returns a new client with admin authorization
// (this works only directly against the mux router)
func (c Client) WithAdminAuthorization() Client {
	return c.WithPermissions(access.PermissionAdmin)
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context, with the authorization added when one
// was set.
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = c.auth.ContextWithAuthorization(ctx)
	}
	return ctx
}

// Entity represents one exposed entity
type Entity struct {
	client     *Client
	name       string
	parameters []string
}

// Entity returns a new entity client
func (c Client) Entity(name string) Entity {
	return Entity{
		client: &c,
		name:   name,
	}
}

// WithParameter returns a new entity client with a URL parameter added.
func (e Entity) WithParameter(key string, value string) Entity {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	return Entity{
		client: e.client,
		name:   e.name,
		// we want a true copy to avoid side effects
		parameters: append(append([]string{}, e.parameters...), parameter),
	}
}

// WithQuery returns a new entity client with a query[] condition added, for
// example WithQuery("amount>3").
func (e Entity) WithQuery(condition string) Entity {
	return e.WithParameter("query[]", condition)
}

// WithOrder returns a new entity client with an order parameter added, for
// example WithOrder("name:desc").
func (e Entity) WithOrder(order string) Entity {
	return e.WithParameter("order", order)
}

// CollectionPath returns the created path for the entity collection plus
// optional query strings
func (e Entity) CollectionPath() string {
	path := "/objects/" + e.name
	if len(e.parameters) > 0 {
		path += "?" + strings.Join(e.parameters, "&")
	}
	return path
}

// ItemPath returns the created path for one object
func (e Entity) ItemPath(id int64) string {
	return "/objects/" + e.name + "/" + strconv.FormatInt(id, 10)
}

// List gets the entire collection.
//
// result can be a slice of structs, a *[]map[string]interface{} or a
// raw *[]byte.
func (e Entity) List(result interface{}) (int, error) {
	return e.client.RawGet(e.CollectionPath(), result)
}

// Create creates a new object and returns its generated id.
func (e Entity) Create(body interface{}) (int64, int, error) {
	var response struct {
		CreatedObjectID int64 `json:"created_object_id"`
	}
	status, err := e.client.RawPost(e.CollectionPath(), body, &response)
	return response.CreatedObjectID, status, err
}

// Read reads one object.
//
// result can also be a *map[string]interface{} or a raw *[]byte.
func (e Entity) Read(id int64, result interface{}) (int, error) {
	return e.client.RawGet(e.ItemPath(id), result)
}

// Update merges the given fields into an existing object.
func (e Entity) Update(id int64, body interface{}) (int, error) {
	return e.client.RawPut(e.ItemPath(id), body, nil)
}

// Delete deletes one object.
func (e Entity) Delete(id int64) (int, error) {
	return e.client.RawDelete(e.ItemPath(id))
}

// Userfields reads the userfield values of one object.
func (e Entity) Userfields(id int64, result interface{}) (int, error) {
	return e.client.RawGet("/userfields/"+e.name+"/"+strconv.FormatInt(id, 10), result)
}

// SetUserfields writes userfield values for one object.
func (e Entity) SetUserfields(id int64, values map[string]*string) (int, error) {
	return e.client.RawPut("/userfields/"+e.name+"/"+strconv.FormatInt(id, 10), values, nil)
}

func (c Client) do(method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewBuffer(body)
	}
	r, _ := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		return rec.Result().StatusCode, rec.Body.Bytes(), nil
	}

	if c.token != "" {
		r.Header.Add("Authorization", "Bearer "+c.token)
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, resBody, nil
}

func unmarshalResult(resBody []byte, result interface{}) error {
	if len(resBody) == 0 || result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = resBody
		return nil
	}
	return json.Unmarshal(resBody, result)
}

// RawGet gets the resource from path. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// The path can be extended with query strings.
//
// result can be a *map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, resBody, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusOK, strings.TrimSpace(string(resBody)))
	}
	return status, unmarshalResult(resBody, result)
}

// RawPost posts a resource to path. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be a raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	j, ok := body.([]byte)
	if !ok {
		var err error
		j, err = json.Marshal(body)
		if err != nil {
			return http.StatusBadRequest, fmt.Errorf("POST to %s: %w", path, err)
		}
	}
	status, resBody, err := c.do(http.MethodPost, path, j)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusOK, strings.TrimSpace(string(resBody)))
	}
	return status, unmarshalResult(resBody, result)
}

// RawPut puts a resource to path. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be a raw *[]byte.
// result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	j, ok := body.([]byte)
	if !ok {
		var err error
		j, err = json.Marshal(body)
		if err != nil {
			return http.StatusBadRequest, fmt.Errorf("PUT to %s: %w", path, err)
		}
	}
	status, resBody, err := c.do(http.MethodPut, path, j)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusOK, strings.TrimSpace(string(resBody)))
	}
	return status, unmarshalResult(resBody, result)
}

// RawPutBlob puts a binary resource to path with extra headers. Expects
// http.StatusOK as response, otherwise it will flag an error.
func (c Client) RawPutBlob(path string, header map[string]string, blob []byte) (int, error) {
	r, _ := http.NewRequestWithContext(c.Context(), http.MethodPut, c.url+path, bytes.NewBuffer(blob))
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range header {
		r.Header.Set(key, value)
	}

	var res *http.Response
	var resBody []byte
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res = rec.Result()
		resBody = rec.Body.Bytes()
	} else {
		if c.token != "" {
			r.Header.Add("Authorization", "Bearer "+c.token)
		}
		var err error
		res, err = c.httpClient.Do(r)
		if err != nil {
			return http.StatusInternalServerError, err
		}
		defer res.Body.Close()
		resBody, _ = io.ReadAll(res.Body)
	}
	if res.StatusCode != http.StatusOK {
		return res.StatusCode, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			res.StatusCode, http.StatusOK, strings.TrimSpace(string(resBody)))
	}
	return res.StatusCode, nil
}

// RawGetBlob gets a binary resource from path. Expects http.StatusOK as
// response, otherwise it will flag an error.
func (c Client) RawGetBlob(path string, blob *[]byte) (int, error) {
	status, resBody, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusOK, strings.TrimSpace(string(resBody)))
	}
	if blob != nil {
		*blob = resBody
	}
	return status, nil
}

// RawDelete deletes the resource at path. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
func (c Client) RawDelete(path string) (int, error) {
	status, resBody, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusOK, strings.TrimSpace(string(resBody)))
	}
	return status, nil
}
