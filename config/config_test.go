package config

import (
	"testing"
	"time"
)

func TestGetIntDefault(t *testing.T) {
	t.Setenv("TEST_POOL_SIZE", "25")
	if v := GetIntDefault("TEST_POOL_SIZE", 10); v != 25 {
		t.Errorf("expected 25, got %d", v)
	}
	if v := GetIntDefault("TEST_UNSET_VAR", 10); v != 10 {
		t.Errorf("expected default 10, got %d", v)
	}
	t.Setenv("TEST_POOL_SIZE", "banana")
	if v := GetIntDefault("TEST_POOL_SIZE", 10); v != 10 {
		t.Errorf("expected default 10 for unparseable value, got %d", v)
	}
}

func TestGetDuration(t *testing.T) {
	t.Setenv("TEST_TIMEOUT", "90s")
	if d := GetDuration("TEST_TIMEOUT", time.Minute); d != 90*time.Second {
		t.Errorf("expected 90s, got %v", d)
	}
	if d := GetDuration("TEST_UNSET_VAR", time.Minute); d != time.Minute {
		t.Errorf("expected default 1m, got %v", d)
	}
	t.Setenv("TEST_TIMEOUT", "not-a-duration")
	if d := GetDuration("TEST_TIMEOUT", time.Minute); d != time.Minute {
		t.Errorf("expected default 1m for unparseable value, got %v", d)
	}
}
