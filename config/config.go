// Config loads configuration.
package config

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

const Version = "1.0"

// Pipeline defaults, used when the environment doesn't say otherwise.
const (
	DefaultMaxAttempts       = 3
	DefaultBackoffBase       = 2 * time.Second
	DefaultBackoffCap        = 5 * time.Minute
	DefaultVisibilityTimeout = 7 * time.Minute
	DefaultRetentionTTL      = 90 * 24 * time.Hour
)

// GetInt loads the environment variable varName, converts it to an integer,
// and returns that integer or an error.
func GetInt(varName string) (int, error) {
	envVar := os.Getenv(varName)
	return strconv.Atoi(envVar)
}

// GetIntDefault loads varName or falls back to def, logging when the value
// is set but unusable.
func GetIntDefault(varName string, def int) int {
	v, err := GetInt(varName)
	if err != nil {
		if os.Getenv(varName) != "" {
			log.Printf("Invalid value for %s: %s. Defaulting to %d", varName, os.Getenv(varName), def)
		}
		return def
	}
	return v
}

// GetDuration loads varName as a time.Duration ("30s", "5m") or falls back
// to def.
func GetDuration(varName string, def time.Duration) time.Duration {
	envVar := os.Getenv(varName)
	if envVar == "" {
		return def
	}
	d, err := time.ParseDuration(envVar)
	if err != nil {
		log.Printf("Invalid duration for %s: %s. Defaulting to %v", varName, envVar, def)
		return def
	}
	return d
}

// GetURLOrBail parses the URL in urlEnvVar or exits the process.
func GetURLOrBail(urlEnvVar string) *url.URL {
	rawURL := os.Getenv(urlEnvVar)
	if rawURL == "" {
		log.Fatal(fmt.Errorf("No URL configured. Please set %s", urlEnvVar))
	}
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		log.Fatalf("Invalid url: %s. %s\n", rawURL, err.Error())
	}
	return parsedURL
}

// SetMaxIdleConnsPerHost sets the MaxIdleConnsPerHost value for the default
// HTTP transport. If you are using a custom transport, calling this function
// won't change anything.
func SetMaxIdleConnsPerHost(maxConns int) {
	http.DefaultTransport.(*http.Transport).MaxIdleConnsPerHost = maxConns
}
