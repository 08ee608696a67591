package models

import (
	"time"

	"github.com/Shyp/go-types"
)

// MealInput is the user-supplied payload for an analysis job. At least one
// of Text or PhotoURL must be set. PhotoURLs allows additional pictures of
// the same meal (a nutrition label, the open sandwich) without changing the
// wire format.
type MealInput struct {
	Text      string   `json:"text,omitempty"`
	PhotoURL  string   `json:"photo_url,omitempty"`
	PhotoURLs []string `json:"photo_urls,omitempty"`
}

// Empty reports whether the input carries nothing to analyze.
func (m *MealInput) Empty() bool {
	return m.Text == "" && m.PhotoURL == "" && len(m.PhotoURLs) == 0
}

// A NutritionEstimate is the AI service's answer for one meal.
type NutritionEstimate struct {
	Name     string  `json:"name"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// A Meal is one row in the daily log, written when an analysis job
// succeeds. It shares its UUID with the job that produced it.
type Meal struct {
	ID        types.PrefixUUID `json:"id"`
	UserID    int64            `json:"user_id"`
	Name      string           `json:"name"`
	Calories  float64          `json:"calories"`
	Protein   float64          `json:"protein"`
	Carbs     float64          `json:"carbs"`
	Fat       float64          `json:"fat"`
	CreatedAt time.Time        `json:"created_at"`
}

// DailyTotals aggregates a user's meals for one day.
type DailyTotals struct {
	Meals    int     `json:"meals"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}
