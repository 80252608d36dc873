package remote

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/agentctl/agentctl/internal/model"
)

const (
	pairingCodeLength   = 10
	pairingDefaultTTL   = 120 * time.Second
	pairingDefaultTries = 5
)

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

func pairingExpired(r model.PairingRecord, now time.Time) bool {
	return now.After(r.ExpiresAt) || r.AttemptsRemaining <= 0
}

// PairingStore persists pairing records at <state>/remote/pairings/<guid>.json.
type PairingStore struct {
	dir string
	now func() time.Time
}

// NewPairingStore creates a store rooted at <stateDir>/remote/pairings.
func NewPairingStore(stateDir string) *PairingStore {
	return &PairingStore{dir: filepath.Join(stateDir, "remote", "pairings"), now: time.Now}
}

func (s *PairingStore) path(guid string) string {
	return filepath.Join(s.dir, guid+".json")
}

// Create generates a fresh base32-nopad code (first 10 chars of 32
// random bytes) with the default TTL and attempt budget, and
// atomically persists it under a fresh GUID.
func (s *PairingStore) Create() (guid string, rec model.PairingRecord, err error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", model.PairingRecord{}, apperr.WithPath(apperr.CodeCreateDir, s.dir, err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", model.PairingRecord{}, err
	}
	code := base32NoPad.EncodeToString(raw)
	if len(code) > pairingCodeLength {
		code = code[:pairingCodeLength]
	}

	now := s.now()
	guid = uuid.Must(uuid.NewV7()).String()
	rec = model.PairingRecord{
		Code:              code,
		CreatedAt:         now,
		ExpiresAt:         now.Add(pairingDefaultTTL),
		AttemptsRemaining: pairingDefaultTries,
	}
	if err := s.save(guid, rec); err != nil {
		return "", model.PairingRecord{}, err
	}
	return guid, rec, nil
}

func (s *PairingStore) save(guid string, rec model.PairingRecord) error {
	if err := atomicWriteJSON(s.dir, guid+".json", rec); err != nil {
		return apperr.WithPath(apperr.CodeWriteFile, s.path(guid), err)
	}
	return nil
}

// Consume attempts to redeem a pairing code for guid. A missing or
// unreadable record is apperr.NotFound; an expired or attempt-exhausted
// record is removed and reported as apperr.CodePairingExpired.
// On a wrong code the attempt budget is decremented and persisted; on
// a correct code the record is removed (one-time use).
func (s *PairingStore) Consume(guid, code string) error {
	path := s.path(guid)
	data, err := os.ReadFile(path)
	if err != nil {
		return apperr.NotFound("pairing code")
	}
	var rec model.PairingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return apperr.NotFound("pairing code")
	}

	now := s.now()
	if pairingExpired(rec, now) {
		os.Remove(path)
		return apperr.New(apperr.CodePairingExpired, "pairing code expired")
	}

	if rec.Code != code {
		rec.AttemptsRemaining--
		if rec.AttemptsRemaining <= 0 {
			os.Remove(path)
			return apperr.New(apperr.CodePairingAttemptsExhausted, "pairing attempts exhausted")
		}
		_ = s.save(guid, rec)
		return apperr.New(apperr.CodeAuthFailed, "incorrect pairing code")
	}

	os.Remove(path)
	return nil
}

// trustedDevicesPath is <state>/remote/trusted_devices.json, a sibling
// of the pairings directory: the set of public keys that have already
// completed pairing and no longer need a fresh code to reconnect.
func (s *PairingStore) trustedDevicesPath() string {
	return filepath.Join(filepath.Dir(s.dir), "trusted_devices.json")
}

func (s *PairingStore) loadTrustedDevices() map[string]bool {
	data, err := os.ReadFile(s.trustedDevicesPath())
	if err != nil {
		return nil
	}
	var devices map[string]bool
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil
	}
	return devices
}

// IsTrusted reports whether pubKeyB64 has already completed pairing.
func (s *PairingStore) IsTrusted(pubKeyB64 string) bool {
	return s.loadTrustedDevices()[pubKeyB64]
}

// Trust records pubKeyB64 as a paired device, persisted atomically so a
// reconnecting client with the same key skips pairing next time.
func (s *PairingStore) Trust(pubKeyB64 string) error {
	devices := s.loadTrustedDevices()
	if devices == nil {
		devices = make(map[string]bool)
	}
	devices[pubKeyB64] = true

	dir := filepath.Dir(s.dir)
	if err := atomicWriteJSON(dir, "trusted_devices.json", devices); err != nil {
		return apperr.WithPath(apperr.CodeWriteFile, s.trustedDevicesPath(), err)
	}
	return nil
}
