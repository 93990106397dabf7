package testutil

import (
	"errors"
	"os"
	"testing"
)

const (
	// TestRedisURL names the variable pointing store tests at a live Redis.
	TestRedisURL = "TEST_REDIS_URL"

	DefaultTestRedisURL = "redis://localhost:6379/15"
)

// ErrNotFound is returned by the in-memory fakes for unknown records.
var ErrNotFound = errors.New("testutil: not found")

// GetTestValue returns a value from environment variable or default
func GetTestValue(envVar, defaultValue string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultValue
}

// GetTestRedisURL returns the Redis URL for store integration tests
func GetTestRedisURL() string {
	return GetTestValue(TestRedisURL, DefaultTestRedisURL)
}

// RequireRedis skips the test unless TEST_REDIS_URL is set, and returns it.
func RequireRedis(t testing.TB) string {
	t.Helper()
	if os.Getenv(TestRedisURL) == "" {
		t.Skipf("%s not set, skipping redis integration test", TestRedisURL)
	}
	return GetTestRedisURL()
}
