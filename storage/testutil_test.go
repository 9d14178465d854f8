package storage

import (
	"testing"

	"farmchat/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustAddUser(t *testing.T, store *Store, id, name string) {
	t.Helper()

	if err := store.UpsertUser(models.User{ID: id, Name: name}, "token-"+id); err != nil {
		t.Fatalf("upsert user %q: %v", id, err)
	}
}

func mustAppend(t *testing.T, store *Store, message models.Message) {
	t.Helper()

	if err := store.Append(message); err != nil {
		t.Fatalf("append message %q: %v", message.ID, err)
	}
}
