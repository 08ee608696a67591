package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"time"

	"github.com/d3vv3/kcal-ai-bot/config"
)

var defaultTimeout = 6500 * time.Millisecond
var defaultHttpClient = &http.Client{Timeout: defaultTimeout}

// Client is a generic JSON-over-HTTP client.
type Client struct {
	// Id and Token are sent as basic auth credentials. If Id is empty,
	// Token is sent on its own as a bearer credential, which is what the AI
	// provider expects.
	Id     string
	Token  string
	Client *http.Client
	Base   string
}

// NewClient returns a new Client with the given user and password. Base is
// the scheme+domain to hit for all requests. By default, the request
// timeout is set to 6.5 seconds.
func NewClient(user, pass, base string) *Client {
	return &Client{
		Id:     user,
		Token:  pass,
		Client: defaultHttpClient,
		Base:   base,
	}
}

// NewBearerClient returns a new Client that authenticates with a bearer
// token, with no request timeout set; callers are expected to bound each
// request with a context.
func NewBearerClient(token, base string) *Client {
	return &Client{
		Token:  token,
		Client: &http.Client{},
		Base:   base,
	}
}

// NewRequest creates a new Request and sets auth headers based on the
// client's authentication information.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return nil, err
	}
	if c.Id == "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	} else {
		req.SetBasicAuth(c.Id, c.Token)
	}
	req.Header.Add("User-Agent", fmt.Sprintf("kcal-ai-bot/v%s", config.Version))
	if method == "POST" || method == "PUT" {
		req.Header.Add("Content-Type", "application/json; charset=utf-8")
	}
	return req, nil
}

// Do performs the HTTP request. If the HTTP response is in the 2xx range,
// Unmarshal the response body into v, otherwise return an *Error built from
// the response body.
func (c *Client) Do(r *http.Request, v interface{}) error {
	b := new(bytes.Buffer)
	if os.Getenv("DEBUG_HTTP_TRAFFIC") == "true" || os.Getenv("DEBUG_HTTP_REQUEST") == "true" {
		bits, err := httputil.DumpRequestOut(r, true)
		if err != nil {
			return err
		}
		b.Write(bits)
	}
	res, err := c.Client.Do(r)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if os.Getenv("DEBUG_HTTP_TRAFFIC") == "true" || os.Getenv("DEBUG_HTTP_RESPONSES") == "true" {
		bits, err := httputil.DumpResponse(res, true)
		if err != nil {
			return err
		}
		b.Write(bits)
	}
	if b.Len() > 0 {
		_, err = b.WriteTo(os.Stderr)
		if err != nil {
			return err
		}
	}
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode >= 400 {
		return parseError(res.StatusCode, resBody)
	}

	if v == nil {
		return nil
	}
	return json.Unmarshal(resBody, v)
}

// parseError builds an *Error out of a non-2xx response body. Two shapes
// are understood: the HTTP problem shape this package writes
// ({"title": ..., "id": ...}) and the AI provider's
// ({"error": {"message": ..., "type": ...}}). Anything else keeps the raw
// body as the title.
func parseError(statusCode int, body []byte) error {
	var problem struct {
		Title    string `json:"title"`
		ID       string `json:"id"`
		Detail   string `json:"detail"`
		Instance string `json:"instance"`
		Type     string `json:"type"`
	}
	if err := json.Unmarshal(body, &problem); err == nil && problem.Title != "" {
		return &Error{
			Title:      problem.Title,
			ID:         problem.ID,
			Detail:     problem.Detail,
			Instance:   problem.Instance,
			Type:       problem.Type,
			StatusCode: statusCode,
		}
	}
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error.Message != "" {
		id := wrapped.Error.Code
		if id == "" {
			id = wrapped.Error.Type
		}
		return &Error{
			Title:      wrapped.Error.Message,
			ID:         id,
			StatusCode: statusCode,
		}
	}
	return &Error{
		Title:      string(bytes.TrimSpace(body)),
		ID:         "invalid_response",
		StatusCode: statusCode,
	}
}
