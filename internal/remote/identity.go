package remote

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/agentctl/agentctl/internal/model"
)

func base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }
func base64Decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// authSignPrefix is the fixed domain-separation prefix every signed
// handshake message starts with (spec §4.9 step 3, §8 invariant 7).
const authSignPrefix = "ccbox-remote-auth:v1"

// identityFile is the on-disk shape of the persisted device identity.
type identityFile struct {
	DeviceGUID string `json:"device_guid"`
	PublicKey  string `json:"public_key_b64"`
	PrivateKey string `json:"private_key_b64"`
}

// LoadOrCreateIdentity reads the identity at path, generating and
// persisting a fresh one (0600, never logged) if none exists.
func LoadOrCreateIdentity(path string) (model.AuthIdentity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var f identityFile
		if jsonErr := json.Unmarshal(data, &f); jsonErr == nil {
			id, decodeErr := decodeIdentityFile(f)
			if decodeErr == nil {
				return id, nil
			}
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return model.AuthIdentity{}, err
	}
	var id model.AuthIdentity
	id.DeviceGUID = uuid.Must(uuid.NewV7()).String()
	copy(id.PublicKey[:], pub)
	copy(id.PrivateKey[:], priv)

	f := identityFile{
		DeviceGUID: id.DeviceGUID,
		PublicKey:  base64Encode(id.PublicKey[:]),
		PrivateKey: base64Encode(id.PrivateKey[:]),
	}
	encoded, err := json.Marshal(f)
	if err != nil {
		return model.AuthIdentity{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return model.AuthIdentity{}, apperr.WithPath(apperr.CodeCreateDir, filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return model.AuthIdentity{}, apperr.WithPath(apperr.CodeWriteFile, path, err)
	}
	return id, nil
}

func decodeIdentityFile(f identityFile) (model.AuthIdentity, error) {
	pub, err := base64Decode(f.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return model.AuthIdentity{}, apperr.New(apperr.CodeBase64, "malformed identity public key")
	}
	priv, err := base64Decode(f.PrivateKey)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return model.AuthIdentity{}, apperr.New(apperr.CodeBase64, "malformed identity private key")
	}
	var id model.AuthIdentity
	id.DeviceGUID = f.DeviceGUID
	copy(id.PublicKey[:], pub)
	copy(id.PrivateKey[:], priv)
	return id, nil
}

// SignAuthMessage builds and signs the handshake message
// authSignPrefix || deviceKind || deviceID || nonce (byte concatenation,
// no separators) with this identity's private key.
func SignAuthMessage(id model.AuthIdentity, deviceKind, deviceID string, nonce []byte) []byte {
	msg := BuildAuthMessage(deviceKind, deviceID, nonce)
	return ed25519.Sign(id.PrivateKey[:], msg)
}

// BuildAuthMessage constructs the exact byte sequence that is signed
// and verified during the handshake (spec §4.9 step 3).
func BuildAuthMessage(deviceKind, deviceID string, nonce []byte) []byte {
	msg := make([]byte, 0, len(authSignPrefix)+len(deviceKind)+len(deviceID)+len(nonce))
	msg = append(msg, authSignPrefix...)
	msg = append(msg, deviceKind...)
	msg = append(msg, deviceID...)
	msg = append(msg, nonce...)
	return msg
}

// VerifyAuthSignature checks a handshake signature against a public key.
func VerifyAuthSignature(publicKey ed25519.PublicKey, deviceKind, deviceID string, nonce, signature []byte) bool {
	msg := BuildAuthMessage(deviceKind, deviceID, nonce)
	return ed25519.Verify(publicKey, msg, signature)
}
