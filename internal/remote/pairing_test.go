package remote

import (
	"errors"
	"testing"
	"time"

	"github.com/agentctl/agentctl/internal/apperr"
)

func newTestStore(t *testing.T) (*PairingStore, *time.Time) {
	t.Helper()
	store := NewPairingStore(t.TempDir())
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	return store, &clock
}

func TestPairingCreateAndConsume(t *testing.T) {
	store, _ := newTestStore(t)

	guid, rec, err := store.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(rec.Code) != 10 {
		t.Errorf("len(code) = %d, want 10", len(rec.Code))
	}
	if rec.AttemptsRemaining != 5 {
		t.Errorf("AttemptsRemaining = %d, want 5", rec.AttemptsRemaining)
	}

	if err := store.Consume(guid, rec.Code); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	// one-time use: consuming again finds nothing
	if err := store.Consume(guid, rec.Code); err == nil {
		t.Fatal("expected second Consume to fail, got nil")
	}
}

func TestPairingConsumeWrongCodeDecrementsAttempts(t *testing.T) {
	store, _ := newTestStore(t)
	guid, rec, _ := store.Create()

	err := store.Consume(guid, "WRONGCODE1")
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeAuthFailed {
		t.Fatalf("Consume() error = %v, want CodeAuthFailed", err)
	}

	// code is still valid for remaining attempts
	if err := store.Consume(guid, rec.Code); err != nil {
		t.Fatalf("Consume() with correct code after one failure error = %v", err)
	}
}

func TestPairingConsumeExhaustsAttempts(t *testing.T) {
	store, _ := newTestStore(t)
	guid, rec, _ := store.Create()

	var lastErr error
	for i := 0; i < pairingDefaultTries; i++ {
		lastErr = store.Consume(guid, "WRONGCODE1")
	}

	var appErr *apperr.Error
	if !errors.As(lastErr, &appErr) || appErr.Code != apperr.CodePairingAttemptsExhausted {
		t.Fatalf("final Consume() error = %v, want CodePairingAttemptsExhausted", lastErr)
	}

	// record is gone now, even with the right code
	if err := store.Consume(guid, rec.Code); err == nil {
		t.Fatal("expected Consume after exhaustion to fail")
	}
}

func TestPairingConsumeExpired(t *testing.T) {
	store, clock := newTestStore(t)
	guid, rec, _ := store.Create()

	*clock = clock.Add(121 * time.Second)

	err := store.Consume(guid, rec.Code)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodePairingExpired {
		t.Fatalf("Consume() error = %v, want CodePairingExpired", err)
	}
}

func TestPairingConsumeUnknownGuid(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Consume("does-not-exist", "whatever")
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeNotFound {
		t.Fatalf("Consume() error = %v, want CodeNotFound", err)
	}
}

func TestTrustPersistsAcrossStoreInstances(t *testing.T) {
	dir := t.TempDir()
	store := NewPairingStore(dir)

	if store.IsTrusted("key-1") {
		t.Fatal("IsTrusted() = true before any Trust() call")
	}
	if err := store.Trust("key-1"); err != nil {
		t.Fatalf("Trust() error = %v", err)
	}
	if !store.IsTrusted("key-1") {
		t.Fatal("IsTrusted() = false after Trust()")
	}

	reopened := NewPairingStore(dir)
	if !reopened.IsTrusted("key-1") {
		t.Fatal("IsTrusted() = false on a freshly opened store, want trust to persist on disk")
	}
	if reopened.IsTrusted("key-2") {
		t.Fatal("IsTrusted() = true for a never-trusted key")
	}
}
