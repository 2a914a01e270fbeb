package synccore

import (
	"context"
	"os"
	"testing"

	"github.com/erauner12/syncwatch/internal/store"
)

// getTestStore connects to TEST_DATABASE_URL and resets the schema,
// for integration tests that need a real Postgres instance.
func getTestStore(t *testing.T) *store.Store {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	s, err := store.Open(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if err := s.WipeAndRecreate(context.Background()); err != nil {
		t.Fatalf("failed to reset schema: %v", err)
	}

	t.Cleanup(s.Close)
	return s
}
