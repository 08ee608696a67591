package rest

import (
	"context"
	"strings"
	"testing"
)

func TestNewRequestBasicAuth(t *testing.T) {
	t.Parallel()
	c := NewClient("user", "pass", "http://api.example.com")
	req, err := c.NewRequest(context.Background(), "POST", "/v1/meals", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	user, pass, ok := req.BasicAuth()
	if !ok || user != "user" || pass != "pass" {
		t.Errorf("expected basic auth user/pass, got %q %q (ok=%t)", user, pass, ok)
	}
	if ctype := req.Header.Get("Content-Type"); ctype != "application/json; charset=utf-8" {
		t.Errorf("wrong Content-Type: %s", ctype)
	}
	if ua := req.Header.Get("User-Agent"); !strings.HasPrefix(ua, "kcal-ai-bot/v") {
		t.Errorf("wrong User-Agent: %s", ua)
	}
}

func TestNewRequestBearerAuth(t *testing.T) {
	t.Parallel()
	c := NewBearerClient("secret-token", "http://api.example.com")
	req, err := c.NewRequest(context.Background(), "GET", "/v1/models", nil)
	if err != nil {
		t.Fatal(err)
	}
	if auth := req.Header.Get("Authorization"); auth != "Bearer secret-token" {
		t.Errorf("wrong Authorization header: %s", auth)
	}
}

func TestParseErrorProblemShape(t *testing.T) {
	t.Parallel()
	err := parseError(404, []byte(`{"title": "Job not found", "id": "not_found", "instance": "/v1/jobs/job_123"}`))
	rerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %#v", err)
	}
	if rerr.Title != "Job not found" || rerr.ID != "not_found" || rerr.StatusCode != 404 {
		t.Errorf("bad parse: %#v", rerr)
	}
}

func TestParseErrorProviderShape(t *testing.T) {
	t.Parallel()
	err := parseError(429, []byte(`{"error": {"message": "Rate limit exceeded", "type": "rate_limit_error"}}`))
	rerr := err.(*Error)
	if rerr.Title != "Rate limit exceeded" || rerr.ID != "rate_limit_error" || rerr.StatusCode != 429 {
		t.Errorf("bad parse: %#v", rerr)
	}
}

func TestParseErrorOpaqueBody(t *testing.T) {
	t.Parallel()
	err := parseError(502, []byte("Bad Gateway\n"))
	rerr := err.(*Error)
	if rerr.Title != "Bad Gateway" || rerr.ID != "invalid_response" {
		t.Errorf("bad parse: %#v", rerr)
	}
}
