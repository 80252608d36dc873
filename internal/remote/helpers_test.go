package remote

import (
	"path/filepath"
	"testing"

	"github.com/agentctl/agentctl/internal/model"
)

func newTestIdentity(t *testing.T) model.AuthIdentity {
	t.Helper()
	id, err := LoadOrCreateIdentity(filepath.Join(t.TempDir(), "identity.json"))
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity() error = %v", err)
	}
	return id
}
