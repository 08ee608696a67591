package services

import (
	"testing"
	"time"
)

func TestGetRunAfter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		base     time.Duration
		cap      time.Duration
		attempts uint8
		want     time.Duration
	}{
		{2 * time.Second, 5 * time.Minute, 0, 2 * time.Second},
		{2 * time.Second, 5 * time.Minute, 1, 4 * time.Second},
		{2 * time.Second, 5 * time.Minute, 3, 16 * time.Second},
		// base * 2^10 exceeds the cap
		{2 * time.Second, 5 * time.Minute, 10, 5 * time.Minute},
		// overflow falls back to the cap
		{2 * time.Second, 5 * time.Minute, 200, 5 * time.Minute},
	}
	for _, tt := range tests {
		before := time.Now().UTC()
		runAfter := getRunAfter(tt.base, tt.cap, tt.attempts)
		got := runAfter.Sub(before)
		if got < tt.want || got > tt.want+100*time.Millisecond {
			t.Errorf("getRunAfter(%v, %v, %d): got delay %v, want %v",
				tt.base, tt.cap, tt.attempts, got, tt.want)
		}
	}
}
