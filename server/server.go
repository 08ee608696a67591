// Package server provides the HTTP interface for the meal analysis
// pipeline.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/http/pprof"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Shyp/go-dberror"
	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/Shyp/go-types"
	"github.com/d3vv3/kcal-ai-bot/config"
	"github.com/d3vv3/kcal-ai-bot/models"
	"github.com/d3vv3/kcal-ai-bot/models/analysis_jobs"
	"github.com/d3vv3/kcal-ai-bot/models/archived_jobs"
	"github.com/d3vv3/kcal-ai-bot/models/db"
	"github.com/d3vv3/kcal-ai-bot/observability"
	"github.com/d3vv3/kcal-ai-bot/rest"
)

// The maximum data size that can be sent in the body of a HTTP request.
const MAX_SUBMIT_DATA_SIZE = 100 * 1024

var disallowUnencryptedRequests = true

// DefaultServer serves every route using the DefaultAuthorizer for
// authentication.
var DefaultServer http.Handler

// POST /v1/meals
var mealsRoute = regexp.MustCompile(`^/v1/meals$`)

// DELETE /v1/meals/:id
var mealIdRoute = regexp.MustCompile(`^/v1/meals/(?P<id>(job|meal)_[^\s\/]+)$`)

// GET /v1/jobs/:id
var getJobRoute = regexp.MustCompile(`^/v1/jobs/(?P<id>job_[^\s\/]+)$`)

// GET /v1/users/:user_id/daily
var dailyRoute = regexp.MustCompile(`^/v1/users/(?P<UserID>\d+)/daily$`)

// GET /v1/users/:user_id/history
var historyRoute = regexp.MustCompile(`^/v1/users/(?P<UserID>\d+)/history$`)

// Get returns a http.Handler with all routes initialized using the given
// Authorizer.
func Get(a Authorizer) http.Handler {
	h := new(RegexpHandler)

	h.Handler(mealsRoute, []string{"POST"}, authHandler(submitMeal(), a))
	h.Handler(mealIdRoute, []string{"DELETE"}, authHandler(deleteMeal(), a))
	h.Handler(getJobRoute, []string{"GET"}, authHandler(getJobStatus(), a))
	h.Handler(dailyRoute, []string{"GET"}, authHandler(getDailyStatus(), a))
	h.Handler(historyRoute, []string{"GET"}, authHandler(getHistory(), a))

	h.Handler(regexp.MustCompile("^/health$"), []string{"GET"}, http.HandlerFunc(healthCheck))
	h.Handler(regexp.MustCompile("^/metrics$"), []string{"GET"}, authHandler(observability.Handler(), a))

	h.Handler(regexp.MustCompile("^/debug/pprof$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Index), a))
	h.Handler(regexp.MustCompile("^/debug/pprof/cmdline$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Cmdline), a))
	h.Handler(regexp.MustCompile("^/debug/pprof/profile$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Profile), a))
	h.Handler(regexp.MustCompile("^/debug/pprof/symbol$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Symbol), a))
	h.Handler(regexp.MustCompile("^/debug/pprof/trace$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Trace), a))

	h.Handler(regexp.MustCompile("^/$"), []string{"GET"}, authHandler(http.HandlerFunc(renderHomepage), a))

	return debugRequestBodyHandler(
		serverHeaderHandler(
			forbidNonTLSTrafficHandler(h),
		),
	)
}

func init() {
	DefaultServer = Get(DefaultAuthorizer)
	disallowUnencryptedRequests = os.Getenv("ALLOW_UNENCRYPTED_PROXY_TRAFFIC") != "true"
}

func serverHeaderHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// hack, figure out how to put middleware on a subset of responses
		if strings.Contains(r.URL.Path, "/debug/pprof") || r.URL.Path == "/metrics" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		} else if r.URL.Path == "/" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		} else {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}
		w.Header().Set("Server", fmt.Sprintf("kcal-ai-bot/%s", config.Version))
		h.ServeHTTP(w, r)
	})
}

// forbidNonTLSTrafficHandler returns a 403 to traffic that is sent via a
// proxy
func forbidNonTLSTrafficHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if disallowUnencryptedRequests == true {
			if r.Header.Get("X-Forwarded-Proto") == "http" {
				// It should always be set, but if it's not, let the request
				// through.
				forbidden(w, insecure403(r))
				return
			}
		}
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		h.ServeHTTP(w, r)
	})
}

func authHandler(h http.Handler, a Authorizer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userId, token, ok := r.BasicAuth()
		if !ok {
			authenticate(w, new401(r))
			return
		}
		err := a.Authorize(userId, token)
		if err != nil {
			go metrics.Increment("auth.error")
			handleAuthorizeError(w, r, err)
			return
		}
		go metrics.Increment("auth.success")
		h.ServeHTTP(w, r)
	})
}

// debugRequestBodyHandler prints all incoming and outgoing HTTP traffic if
// the DEBUG_HTTP_TRAFFIC environment variable is set to true. Note that the
// output will be jumbled if the server is handling multiple requests at the
// same time.
func debugRequestBodyHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if os.Getenv("DEBUG_HTTP_TRAFFIC") == "true" {
			// You need to write the entire thing in one Write, otherwise the
			// output will be jumbled with other requests.
			b := new(bytes.Buffer)
			bits, err := httputil.DumpRequest(r, true)
			if err != nil {
				_, _ = b.WriteString(err.Error())
			} else {
				_, _ = b.Write(bits)
			}
			res := httptest.NewRecorder()
			h.ServeHTTP(res, r)

			_, _ = b.WriteString(fmt.Sprintf("HTTP/1.1 %d\r\n", res.Code))
			for k, v := range res.Header() {
				w.Header()[k] = v
			}
			_ = res.Header().Write(b)
			w.WriteHeader(res.Code)
			_, _ = b.WriteString("\r\n")
			writer := io.MultiWriter(w, b)
			_, _ = res.Body.WriteTo(writer)
			_, _ = b.WriteTo(os.Stderr)
		} else {
			h.ServeHTTP(w, r)
		}
	})
}

// SubmitMealRequest is the body of a request to POST /v1/meals.
type SubmitMealRequest struct {
	UserID    int64    `json:"user_id"`
	Text      string   `json:"text"`
	PhotoURL  string   `json:"photo_url"`
	PhotoURLs []string `json:"photo_urls"`
}

// POST /v1/meals
//
// Create an analysis job for a meal submission and enqueue it. Replies
// immediately with a 201 and the queued job; the caller polls
// GET /v1/jobs/:id for the outcome, so AI latency never blocks this
// handler.
func submitMeal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil {
			badRequest(w, r, createEmptyErr("user_id", r.URL.Path))
			return
		}
		defer r.Body.Close()
		var smr SubmitMealRequest
		body := http.MaxBytesReader(w, r.Body, MAX_SUBMIT_DATA_SIZE)
		err := json.NewDecoder(body).Decode(&smr)
		if err != nil {
			badRequest(w, r, &rest.Error{
				ID:    "invalid_request",
				Title: "Invalid request: bad JSON. Double check the types of the fields you sent",
			})
			return
		}
		if smr.UserID <= 0 {
			badRequest(w, r, createPositiveIntErr("user_id", r.URL.Path))
			return
		}
		input := models.MealInput{
			Text:      smr.Text,
			PhotoURL:  smr.PhotoURL,
			PhotoURLs: smr.PhotoURLs,
		}
		if input.Empty() {
			err := &rest.Error{
				Instance: r.URL.Path,
				ID:       "missing_parameter",
				Title:    "Nothing to analyze",
				Detail:   "Please include a text description or a photo_url in the request body",
			}
			badRequest(w, r, err)
			return
		}

		id := types.GenerateUUID(analysis_jobs.Prefix)
		data, err := json.Marshal(input)
		if err != nil {
			writeServerError(w, r, err)
			return
		}

		start := time.Now()
		job, err := analysis_jobs.Enqueue(id, smr.UserID, time.Now().UTC(), data)
		go metrics.Time("enqueue.latency", time.Since(start))
		if err != nil {
			switch terr := err.(type) {
			case *dberror.Error:
				apierr := &rest.Error{
					Title:    terr.Message,
					ID:       "invalid_parameter",
					Instance: r.URL.Path,
				}
				badRequest(w, r, apierr)
			default:
				// The store is the queue; if it's unreachable the submission
				// fails fast and the bot retries later.
				serviceUnavailable(w, r, err)
			}
			return
		}
		go metrics.Increment("meal.submit.success")
		observability.JobsSubmitted.Inc()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(job)
	})
}

// GET /v1/jobs/:id
//
// Try to find the given job in the analysis_jobs table, then in the
// archived_jobs table. Returns the job, or a 404 Not Found error. Archived
// jobs carry the nutrition estimate or the failure reason.
func getJobStatus() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idStr := getJobRoute.FindStringSubmatch(r.URL.Path)[1]
		id, wroteResponse := getId(w, r, idStr, analysis_jobs.Prefix)
		if wroteResponse == true {
			return
		}
		aj, err := analysis_jobs.GetRetry(id, 3)
		if err == nil {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(aj)
			go metrics.Increment("job.get.live.success")
			return
		}
		if err != analysis_jobs.ErrNotFound {
			writeServerError(w, r, err)
			go metrics.Increment("job.get.live.error")
			return
		}

		archived, err := archived_jobs.GetRetry(id, 3)
		if err == archived_jobs.ErrNotFound {
			notFound(w, new404(r))
			go metrics.Increment("job.get.not_found")
			return
		}
		if err != nil {
			writeServerError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(archived)
		go metrics.Increment("job.get.archived.success")
	})
}

// GET /health
//
// Reports whether the API can reach its database. The worker and the bot
// probe this before trusting us with work.
func healthCheck(w http.ResponseWriter, r *http.Request) {
	if !db.Connected() {
		serviceUnavailable(w, r, fmt.Errorf("no database connection"))
		return
	}
	if err := db.Conn.Ping(); err != nil {
		serviceUnavailable(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func parseUserID(r *http.Request, route *regexp.Regexp) (int64, error) {
	match := route.FindStringSubmatch(r.URL.Path)
	if len(match) < 2 {
		return 0, fmt.Errorf("no user id in path %s", r.URL.Path)
	}
	return strconv.ParseInt(match[1], 10, 64)
}
