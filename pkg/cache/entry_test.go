package cache

import (
	"testing"
	"time"
)

func TestEntry_Expired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ttl := 30 * time.Second

	tests := []struct {
		name      string
		fetchedAt time.Time
		want      bool
	}{
		{
			name:      "fresh entry",
			fetchedAt: now.Add(-10 * time.Second),
			want:      false,
		},
		{
			name:      "exactly ttl old",
			fetchedAt: now.Add(-ttl),
			want:      true,
		},
		{
			name:      "older than ttl",
			fetchedAt: now.Add(-1 * time.Hour),
			want:      true,
		},
		{
			name:      "one nanosecond before expiry",
			fetchedAt: now.Add(-ttl + time.Nanosecond),
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{fetchedAt: tt.fetchedAt}
			if got := entry.expired(now, ttl); got != tt.want {
				t.Errorf("expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_Remaining(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ttl := 30 * time.Second

	tests := []struct {
		name      string
		fetchedAt time.Time
		want      time.Duration
	}{
		{"just fetched", now, ttl},
		{"ten seconds old", now.Add(-10 * time.Second), 20 * time.Second},
		{"already expired", now.Add(-time.Minute), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{fetchedAt: tt.fetchedAt}
			if got := entry.remaining(now, ttl); got != tt.want {
				t.Errorf("remaining() = %v, want %v", got, tt.want)
			}
		})
	}
}
