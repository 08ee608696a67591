// Run the kcal-ai-bot API server.
//
// All of the project defaults are used. There is one authenticated user for
// basic auth, configured with the API_AUTH_USER and API_AUTH_PASSWORD
// environment variables.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/d3vv3/kcal-ai-bot/config"
	"github.com/d3vv3/kcal-ai-bot/server"
	"github.com/d3vv3/kcal-ai-bot/setup"
	"github.com/gorilla/handlers"
	"github.com/joho/godotenv"
)

func configure() (http.Handler, error) {
	dbConns := config.GetIntDefault("PG_SERVER_POOL_SIZE", 10)

	if err := setup.DB(setup.DefaultConnection, dbConns); err != nil {
		return nil, err
	}

	metrics.Namespace = "kcal.server"
	metrics.Start("web")

	go setup.MeasureActiveQueries(5 * time.Second)

	user := os.Getenv("API_AUTH_USER")
	password := os.Getenv("API_AUTH_PASSWORD")
	if user == "" || password == "" {
		log.Printf("No API_AUTH_USER/API_AUTH_PASSWORD configured, using the test credentials")
		user, password = "test", "hunter2"
	}
	server.AddUser(user, password)
	return server.Get(server.DefaultAuthorizer), nil
}

func main() {
	godotenv.Load()

	s, err := configure()
	if err != nil {
		log.Fatal(err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}
	log.Printf("Listening on port %s\n", port)
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%s", port), handlers.LoggingHandler(os.Stdout, s)))
}
