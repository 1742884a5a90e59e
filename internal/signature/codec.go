package signature

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Fields stripped from the payload before canonicalization. The timestamp
// and nonce are validated separately and are outside the signed material.
var unsignedFields = [...]string{"signature", "timestamp", "nonce"}

// Codec signs and verifies request payloads with a shared secret. The
// secret is fixed for the process lifetime; construct one Codec at startup
// and share it.
type Codec struct {
	secret []byte
}

// NewCodec returns a Codec using the given shared secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Sign computes the signature for payload. The signature, timestamp and
// nonce fields are ignored if present.
func (c *Codec) Sign(payload map[string]any) (string, error) {
	canonical, err := canonicalize(stripUnsigned(payload))
	if err != nil {
		return "", err
	}
	return c.digest(canonical), nil
}

// Verify reports whether sig is the valid signature for payload. It never
// panics or errors on malformed input; any failure verifies as false.
// Comparison is constant-time.
func (c *Codec) Verify(payload map[string]any, sig string) bool {
	if sig == "" {
		return false
	}
	canonical, err := canonicalize(stripUnsigned(payload))
	if err != nil {
		return false
	}
	expected := c.digest(canonical)
	supplied := strings.ToLower(sig)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}

// digest applies the two-round hash: sha256(canonical+secret), hex encoded,
// then sha256(hex+secret) hex encoded again.
func (c *Codec) digest(canonical string) string {
	h1 := sha256.Sum256(append([]byte(canonical), c.secret...))
	inner := hex.EncodeToString(h1[:])
	h2 := sha256.Sum256(append([]byte(inner), c.secret...))
	return hex.EncodeToString(h2[:])
}

func stripUnsigned(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	for _, f := range unsignedFields {
		delete(out, f)
	}
	return out
}
