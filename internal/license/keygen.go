package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateKey returns a fresh license key: TS- plus 16 uppercase hex
// characters from crypto/rand.
func GenerateKey() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate license key: %w", err)
	}
	return KeyPrefix + strings.ToUpper(hex.EncodeToString(buf[:])), nil
}
