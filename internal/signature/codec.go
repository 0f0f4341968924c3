// Package signature implements the gateway's X-VERIFY checksum:
// sha256hex(payload + salt key) followed by "###" and the salt index.
package signature

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"storefront-checkout/internal/apperr"
)

const separator = "###"

type Codec struct {
	saltKey   string
	saltIndex int
}

func NewCodec(saltKey string, saltIndex int) *Codec {
	return &Codec{saltKey: saltKey, saltIndex: saltIndex}
}

func (c *Codec) digest(payload string) string {
	sum := sha256.Sum256([]byte(payload + c.saltKey))
	return hex.EncodeToString(sum[:])
}

// Sign returns "<hex digest>###<salt index>" for payload.
func (c *Codec) Sign(payload string) string {
	return c.digest(payload) + separator + strconv.Itoa(c.saltIndex)
}

// Verify compares only the digest part; the index is metadata.
func (c *Codec) Verify(sig, payload string) bool {
	received, _, ok := strings.Cut(sig, separator)
	if !ok || received == "" {
		return false
	}
	expected := c.digest(payload)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(received)), []byte(expected)) == 1
}

// VerifyOrError is Verify returning apperr.KindBadSignature on mismatch.
func (c *Codec) VerifyOrError(sig, payload string) error {
	if !c.Verify(sig, payload) {
		return apperr.New(apperr.KindBadSignature, "signature verification failed")
	}
	return nil
}

// EncodePayload marshals v to JSON and base64-encodes it.
func EncodePayload(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayload base64-decodes encoded and unmarshals the JSON into v.
func DecodePayload(encoded string, v any) error {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return apperr.Wrap(apperr.KindMalformedPayload, err, "decode base64 payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Wrap(apperr.KindMalformedPayload, err, "decode json payload")
	}
	return nil
}
