package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/d3vv3/kcal-ai-bot/models"
	"github.com/d3vv3/kcal-ai-bot/models/meals"
	"github.com/d3vv3/kcal-ai-bot/rest"
)

// DELETE /v1/meals/:id?user_id=N
//
// Remove a meal from the user's daily log. 404 if no such meal exists, 403
// if it was logged by a different user. The id may carry either the job_
// or the meal_ prefix; they share the UUID.
func deleteMeal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idStr := mealIdRoute.FindStringSubmatch(r.URL.Path)[1]
		id, wroteResponse := getId(w, r, idStr, "job_", "meal_")
		if wroteResponse == true {
			return
		}
		userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if err != nil || userID <= 0 {
			badRequest(w, r, createPositiveIntErr("user_id", r.URL.Path))
			return
		}
		err = meals.Delete(id, userID)
		if err == meals.ErrNotFound {
			notFound(w, new404(r))
			go metrics.Increment("meal.delete.not_found")
			return
		}
		if err == meals.ErrWrongUser {
			forbidden(w, &rest.Error{
				Title:    "This meal was logged by a different user",
				ID:       "forbidden",
				Instance: r.URL.Path,
			})
			go metrics.Increment("meal.delete.forbidden")
			return
		}
		if err != nil {
			writeServerError(w, r, err)
			return
		}
		go metrics.Increment("meal.delete.success")
		w.WriteHeader(http.StatusNoContent)
	})
}

// GET /v1/users/:user_id/daily
//
// Totals for the user's meals since local midnight.
func getDailyStatus() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseUserID(r, dailyRoute)
		if err != nil {
			badRequest(w, r, createPositiveIntErr("user_id", r.URL.Path))
			return
		}
		now := time.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		totals, err := meals.DailyTotals(userID, midnight)
		if err != nil {
			writeServerError(w, r, err)
			return
		}
		go metrics.Increment("meal.daily.success")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(totals)
	})
}

// The longest history window we'll aggregate in one request.
const maxHistoryDays = 90

// GET /v1/users/:user_id/history?days=N
//
// The user's meals over the last N days (default 7), oldest first, for
// time charts.
func getHistory() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseUserID(r, historyRoute)
		if err != nil {
			badRequest(w, r, createPositiveIntErr("user_id", r.URL.Path))
			return
		}
		days := 7
		if d := r.URL.Query().Get("days"); d != "" {
			days, err = strconv.Atoi(d)
			if err != nil || days <= 0 || days > maxHistoryDays {
				badRequest(w, r, &rest.Error{
					Title:    "days must be a number between 1 and 90",
					ID:       "invalid_parameter",
					Instance: r.URL.Path,
				})
				return
			}
		}
		since := time.Now().AddDate(0, 0, -days)
		history, err := meals.History(userID, since)
		if err != nil {
			writeServerError(w, r, err)
			return
		}
		if history == nil {
			history = []*models.Meal{}
		}
		go metrics.Increment("meal.history.success")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(history)
	})
}
