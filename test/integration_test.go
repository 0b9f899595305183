package test

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pantrybase/pantrybase/core/access"
	"github.com/pantrybase/pantrybase/core/client"
	"github.com/pantrybase/pantrybase/core/csql"
	"github.com/pantrybase/pantrybase/core/dispatch"
	"github.com/pantrybase/pantrybase/core/entity"
	"github.com/pantrybase/pantrybase/core/notify"
	"github.com/pantrybase/pantrybase/core/rowstore"
	"github.com/pantrybase/pantrybase/core/userfields"
)

const integrationConfig = `{
	"entities": [
		{"name": "products", "columns": ["name", "amount", "note"]},
		{"name": "locations", "columns": ["name"]}
	]
}`

// IntegrationTestSuite runs the full stack against a real postgres instance.
type IntegrationTestSuite struct {
	suite.Suite
	postgresContainer testcontainers.Container
	db                *csql.DB
	router            *mux.Router
	client            client.Client
}

func TestIntegrationSuite(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("set INTEGRATION_TEST=1 to run the integration suite")
	}
	suite.Run(t, &IntegrationTestSuite{})
}

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	postgresUser := "testuser"
	postgresPassword := "testpass"
	postgresDB := "testdb"

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDB,
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	s.db = csql.OpenWithSchema(fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		pgHost, pgPort.Port(), postgresUser, postgresDB), postgresPassword, "pantrytest")

	registry := entity.MustNewRegistry(integrationConfig)
	store, err := rowstore.NewPostgresStore(s.db, registry, true)
	s.Require().NoError(err)
	overlay, err := userfields.NewPostgresService(s.db)
	s.Require().NoError(err)

	s.router = mux.NewRouter()
	dispatch.MustNew(&dispatch.Builder{
		Config:     integrationConfig,
		Router:     s.router,
		Store:      store,
		Userfields: overlay,
		Notifier:   notify.LogNotifier{},
	})
	s.client = client.NewWithRouter(s.router).WithPermissions(access.PermissionMasterDataEdit)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.db != nil {
		s.db.ClearSchema()
		s.db.Close()
	}
	if s.postgresContainer != nil {
		s.Require().NoError(s.postgresContainer.Terminate(ctx))
	}
}

func (s *IntegrationTestSuite) TestTypedRoundTrip() {
	products := s.client.Entity("products")

	id, status, err := products.Create(map[string]interface{}{"name": "flour", "amount": 1})
	s.Require().NoError(err)
	s.Require().Equal(http.StatusOK, status)

	var object map[string]interface{}
	_, err = products.Read(id, &object)
	s.Require().NoError(err)
	s.Equal("flour", object["name"])
	s.Equal(float64(1), object["amount"], "number columns come back as numbers")
	s.Nil(object["note"], "unset columns come back as null")
}

func (s *IntegrationTestSuite) TestFilterSortAndPagination() {
	products := s.client.Entity("products")
	for i, name := range []string{"Zucchini", "apples", "Bread", "milk", "eggs"} {
		_, _, err := products.Create(map[string]interface{}{"name": name, "amount": i + 1, "note": "paging"})
		s.Require().NoError(err)
	}

	var result []map[string]interface{}
	_, err := products.WithQuery("note=paging").WithQuery("amount>=3").List(&result)
	s.Require().NoError(err)
	s.Len(result, 3)

	// case-insensitive ordering
	result = nil
	_, err = products.WithQuery("note=paging").WithOrder("name").List(&result)
	s.Require().NoError(err)
	s.Require().Len(result, 5)
	s.Equal("apples", result[0]["name"])
	s.Equal("Bread", result[1]["name"])
	s.Equal("Zucchini", result[4]["name"])

	result = nil
	_, err = products.WithQuery("note=paging").WithOrder("name:desc").
		WithParameter("limit", "2").WithParameter("offset", "1").List(&result)
	s.Require().NoError(err)
	s.Require().Len(result, 2)
	s.Equal("milk", result[0]["name"])
	s.Equal("eggs", result[1]["name"])

	result = nil
	_, err = products.WithQuery("note=paging").WithQuery("name~read").List(&result)
	s.Require().NoError(err)
	s.Require().Len(result, 1)
	s.Equal("Bread", result[0]["name"])
}

func (s *IntegrationTestSuite) TestUserfieldsPersistence() {
	ctx := context.Background()
	overlay, err := userfields.NewPostgresService(s.db)
	s.Require().NoError(err)
	s.Require().NoError(overlay.CreateField(ctx, userfields.Definition{Entity: "locations", Name: "floor"}))

	locations := s.client.Entity("locations")
	id, _, err := locations.Create(map[string]interface{}{"name": "cellar"})
	s.Require().NoError(err)

	two := "2"
	status, err := locations.SetUserfields(id, map[string]*string{"floor": &two})
	s.Require().NoError(err)
	s.Require().Equal(http.StatusOK, status)

	var object map[string]interface{}
	_, err = locations.Read(id, &object)
	s.Require().NoError(err)
	s.Equal(map[string]interface{}{"floor": "2"}, object["userfields"])

	// all-or-nothing: one unknown name rejects the whole write
	status, _ = locations.SetUserfields(id, map[string]*string{"floor": nil, "bogus": &two})
	s.Equal(http.StatusBadRequest, status)

	object = nil
	_, err = locations.Read(id, &object)
	s.Require().NoError(err)
	s.Equal(map[string]interface{}{"floor": "2"}, object["userfields"], "rejected write must not change values")
}

func (s *IntegrationTestSuite) TestUpdateAndDelete() {
	products := s.client.Entity("products")

	id, _, err := products.Create(map[string]interface{}{"name": "butter", "amount": 1})
	s.Require().NoError(err)

	status, err := products.Update(id, map[string]interface{}{"amount": 3})
	s.Require().NoError(err)
	s.Require().Equal(http.StatusOK, status)

	var object map[string]interface{}
	_, err = products.Read(id, &object)
	s.Require().NoError(err)
	s.Equal("butter", object["name"])
	s.Equal(float64(3), object["amount"])

	status, err = products.Delete(id)
	s.Require().NoError(err)
	s.Require().Equal(http.StatusOK, status)

	status, _ = products.Read(id, &object)
	s.Equal(http.StatusNotFound, status)
}
