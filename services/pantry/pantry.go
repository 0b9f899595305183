package main

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/pantrybase/pantrybase/core"
	"github.com/pantrybase/pantrybase/core/access"
	"github.com/pantrybase/pantrybase/core/csql"
	"github.com/pantrybase/pantrybase/core/dispatch"
	"github.com/pantrybase/pantrybase/core/entity"
	"github.com/pantrybase/pantrybase/core/files"
	"github.com/pantrybase/pantrybase/core/kss"
	"github.com/pantrybase/pantrybase/core/logger"
	"github.com/pantrybase/pantrybase/core/notify"
	"github.com/pantrybase/pantrybase/core/openapi"
	"github.com/pantrybase/pantrybase/core/rowstore"
	"github.com/pantrybase/pantrybase/core/tasks"
	"github.com/pantrybase/pantrybase/core/userfields"
)

var configurationJSON string = `
{
	"entities": [
		{
			"name": "products",
			"columns": ["name", "description", "location_id", "quantity_unit_id", "min_stock_amount"]
		},
		{
			"name": "locations",
			"columns": ["name", "description", "is_freezer"]
		},
		{
			"name": "quantity_units",
			"columns": ["name", "name_plural", "description"]
		},
		{
			"name": "shopping_list",
			"columns": ["product_id", "note", "amount", "done"]
		},
		{
			"name": "tasks",
			"columns": ["name", "description", "due_date", "done", "category_id", "assigned_to_user_id"]
		},
		{
			"name": "task_categories",
			"columns": ["name", "description"]
		},
		{
			"name": "batteries",
			"columns": ["name", "description", "used_in", "charge_interval_days"]
		},
		{
			"name": "api_keys",
			"columns": ["api_key", "user_id", "expires"],
			"edit_requires_admin": true
		},
		{
			"name": "stock_log",
			"columns": ["product_id", "amount", "transaction_type", "stock_id"],
			"no_edit": true,
			"no_delete": true
		}
	]
}
`

var fileGroups = []string{
	"productpictures",
	"recipepictures",
	"userfiles",
	"userpictures",
	"equipmentmanuals",
}

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
type Service struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,default=docker" description:"the password for the Postgres DB"`
	Address          string `env:"ADDRESS,default=:3000" description:"the listen address"`
	JWTSecret        string `env:"JWT_SECRET" description:"the HMAC secret for session tokens, empty disables JWT authorization"`
	KafkaBrokers     string `env:"KAFKA_BROKERS" description:"comma separated kafka brokers, empty disables notifications"`
	KafkaTopic       string `env:"KAFKA_TOPIC,default=pantrybase-entity-changes" description:"the kafka topic for entity change notifications"`
	FilesDir         string `env:"FILES_DIR,default=/var/lib/pantrybase/files" description:"the base folder for file storage"`
	Version          string `env:"VERSION,default=dev" description:"the version reported in the openapi document"`
}

func main() {
	logger.InitLogger(logrus.InfoLevel)

	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, "pantry")
	defer db.Close()

	router := mux.NewRouter()
	logger.AddRequestID(router)

	if service.JWTSecret != "" {
		router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
			Secret: []byte(service.JWTSecret),
			Issuer: "pantrybase",
		}))
	}

	var notifier core.Notifier = notify.LogNotifier{}
	if service.KafkaBrokers != "" {
		kafkaNotifier := notify.NewKafkaNotifier(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	overlay, err := userfields.NewPostgresService(db)
	if err != nil {
		panic(err)
	}

	registry := entity.MustNewRegistry(configurationJSON)
	store, err := rowstore.NewPostgresStore(db, registry, true)
	if err != nil {
		panic(err)
	}

	backend := dispatch.MustNew(&dispatch.Builder{
		Config:     configurationJSON,
		Router:     router,
		Store:      store,
		Userfields: overlay,
		Notifier:   notifier,
	})

	driver, err := kss.NewLocalFilesystem(kss.LocalConfiguration{BasePath: service.FilesDir})
	if err != nil {
		panic(err)
	}
	files.New(&files.Builder{
		Router: router,
		Driver: driver,
		Groups: fileGroups,
	})

	if _, err := tasks.New(&tasks.Builder{
		Router:   router,
		Store:    store,
		Registry: backend.Registry(),
	}); err != nil {
		panic(err)
	}

	openapi.New(&openapi.Builder{
		Router:      router,
		Registry:    backend.Registry(),
		Title:       "pantrybase REST API",
		Description: "generic entity interactions",
		Version:     service.Version,
	})

	log.Println("listen on", service.Address)
	http.ListenAndServe(service.Address, router)
}
