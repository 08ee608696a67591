// Package ai is the client for the nutrition estimate service.
//
// The client makes exactly one attempt per call: it sends the meal input to
// a chat-completions style endpoint and parses the reply into a
// models.NutritionEstimate, or returns an *Error whose Kind tells the
// caller whether to try again. Retry policy belongs to the worker, not
// here.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/d3vv3/kcal-ai-bot/models"
	"github.com/d3vv3/kcal-ai-bot/rest"
)

// DefaultCallTimeout bounds a single estimate call, model latency included.
// Exceeding it is reported as a transient error.
var DefaultCallTimeout = 45 * time.Second

const defaultModel = "claude-3-5-sonnet-20240620"

type Client struct {
	*rest.Client

	// Model sent with every completion request.
	Model string

	// Timeout for a single call. Zero means DefaultCallTimeout.
	Timeout time.Duration
}

// NewClient creates a Client that authenticates against the provider at
// base with the given API key.
func NewClient(token, base string) *Client {
	return &Client{
		Client: rest.NewBearerClient(token, base),
		Model:  defaultModel,
	}
}

const systemPrompt = `You are a nutritionist. Estimate the nutritional ` +
	`content of the meal the user describes or photographs. Reply with a ` +
	`single JSON object with the keys "name" (a short meal name), ` +
	`"calories" (kcal), "protein", "carbs" and "fat" (grams). Reply with ` +
	`JSON only.`

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type completionRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Estimate submits the meal input and returns the provider's nutrition
// estimate. On failure the returned error is an *Error; see ErrorKind for
// the taxonomy. The call is bounded by the client timeout regardless of the
// passed in context.
func (c *Client) Estimate(ctx context.Context, input *models.MealInput) (*models.NutritionEstimate, error) {
	if input == nil || input.Empty() {
		return nil, &Error{Kind: KindInvalidInput, Message: "nothing to analyze, send a photo or a description"}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parts := []contentPart{}
	if input.Text != "" {
		parts = append(parts, contentPart{Type: "text", Text: input.Text})
	}
	for _, u := range photoURLs(input) {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: u}})
	}

	body := new(bytes.Buffer)
	err := json.NewEncoder(body).Encode(completionRequest{
		Model:     c.Model,
		MaxTokens: 512,
		Messages: []message{
			{Role: "system", Content: []contentPart{{Type: "text", Text: systemPrompt}}},
			{Role: "user", Content: parts},
		},
	})
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Message: err.Error()}
	}

	req, err := c.NewRequest(ctx, "POST", "/v1/chat/completions", body)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Message: err.Error()}
	}
	var res completionResponse
	if err := c.Do(req, &res); err != nil {
		return nil, typedError(err)
	}
	if len(res.Choices) == 0 {
		return nil, &Error{Kind: KindProviderFault, Message: "provider returned no completion"}
	}
	estimate := new(models.NutritionEstimate)
	if err := json.Unmarshal([]byte(res.Choices[0].Message.Content), estimate); err != nil {
		// The model went off script. A fresh completion usually comes back
		// valid, so let the worker retry it.
		return nil, &Error{Kind: KindProviderFault, Message: "unparseable completion: " + err.Error()}
	}
	return estimate, nil
}

// photoURLs flattens the single photo field and the extension list.
func photoURLs(m *models.MealInput) []string {
	urls := []string{}
	if m.PhotoURL != "" {
		urls = append(urls, m.PhotoURL)
	}
	return append(urls, m.PhotoURLs...)
}

// typedError maps transport and HTTP failures onto the error taxonomy.
func typedError(err error) *Error {
	if rerr, ok := err.(*rest.Error); ok {
		switch {
		case rerr.StatusCode == 429:
			return &Error{Kind: KindRateLimited, Message: rerr.Title}
		case rerr.StatusCode >= 500:
			return &Error{Kind: KindProviderFault, Message: rerr.Title}
		default:
			return &Error{Kind: KindInvalidInput, Message: rerr.Title}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Message: "estimate call timed out"}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Kind: KindTransient, Message: "estimate call timed out"}
	}
	return &Error{Kind: KindTransient, Message: err.Error()}
}
