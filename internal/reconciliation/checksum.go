package reconciliation

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const checksumSeparator = "###"

// EncodePayload serializes v as JSON and base64-encodes it with the standard
// alphabet, which is the request body format the async gateway signs.
func EncodePayload(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayload reverses EncodePayload into dst.
func DecodePayload(encoded string, dst any) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// ComputeChecksum returns hex(sha256(encoded + path + saltKey)) + "###" + saltIndex.
// Status polls sign an empty payload; callbacks sign with an empty path.
func ComputeChecksum(encoded, path, saltKey, saltIndex string) string {
	sum := sha256.Sum256([]byte(encoded + path + saltKey))
	return hex.EncodeToString(sum[:]) + checksumSeparator + saltIndex
}

// VerifyChecksum compares supplied against the expected checksum in constant time.
func VerifyChecksum(encoded, path, saltKey, saltIndex, supplied string) bool {
	if supplied == "" {
		return false
	}
	expected := ComputeChecksum(encoded, path, saltKey, saltIndex)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}

// Signer binds a salt key and index to the checksum scheme.
type Signer struct {
	saltKey   string
	saltIndex string
}

func NewSigner(saltKey, saltIndex string) Signer {
	return Signer{saltKey: saltKey, saltIndex: saltIndex}
}

func (s Signer) Sign(encoded, path string) string {
	return ComputeChecksum(encoded, path, s.saltKey, s.saltIndex)
}

func (s Signer) Verify(encoded, path, supplied string) bool {
	return VerifyChecksum(encoded, path, s.saltKey, s.saltIndex, supplied)
}
