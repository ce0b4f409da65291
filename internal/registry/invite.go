package registry

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const DefaultCodeLength = 5

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxCodeAttempts bounds the collision check against waiting rooms.
const maxCodeAttempts = 5

// GenerateCode returns an n-character uppercase alphanumeric invite code.
func GenerateCode(n int) (string, error) {
	code := make([]byte, n)
	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}

// NormalizeCode turns user input into lookup form.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
