package testutil

import (
	"testing"

	"cadvault/internal/database"
	"cadvault/internal/journal"
	"cadvault/internal/pdm"
	"cadvault/internal/server"
	"cadvault/internal/staging"
	"cadvault/internal/vault"
)

// TestOrg is the organization every test server is scoped to.
const TestOrg = "test-org"

// NewTestServer creates a server over an in-memory SQLite store and an
// in-memory vault. admins may be empty, in which case the requestor's
// declared role is trusted.
func NewTestServer(t *testing.T, clock pdm.Clock, admins ...string) *server.Server {
	t.Helper()

	store, err := database.OpenStore(":memory:", TestOrg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	srv := server.New(store, vault.NewMemoryVault("test-vault"), admins, clock, NewStubIDGenerator(), pdm.NewNopLogger())
	t.Cleanup(func() {
		srv.Close()
	})
	return srv
}

// NewTestQueue creates an in-memory staged check-in queue.
func NewTestQueue(clock pdm.Clock) pdm.StagedQueue {
	return staging.NewMemoryStagedQueue(clock)
}

// NewTestJournal creates an in-memory baseline journal.
func NewTestJournal() pdm.Journal {
	return journal.NewMemoryJournal()
}
