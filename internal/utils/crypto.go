// internal/utils/crypto.go
package utils

import (
	"crypto/rand"
	"math/big"
)

// Codes are read aloud and typed by consumers, so easily confused
// characters are left out.
const codeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func GenerateRandomString(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	return randomFrom(charset, length)
}

// GenerateVerificationCode returns the code printed on a batch label.
func GenerateVerificationCode() (string, error) {
	code, err := randomFrom(codeCharset, 10)
	if err != nil {
		return "", err
	}
	return "FT-" + code, nil
}

func randomFrom(charset string, length int) (string, error) {
	b := make([]byte, length)

	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}

	return string(b), nil
}
