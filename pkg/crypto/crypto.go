package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// CodeAlphabet is the 32-character set used for human-readable pairing codes.
// Visually ambiguous characters (0/O, 1/I) are excluded so codes survive
// being read aloud or copied by hand.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// HashPassword returns a bcrypt hash of the supplied password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares the hashed password with the plaintext candidate.
func VerifyPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("crypto: token length must be positive")
	}

	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// GenerateCode returns a random code of the requested length drawn from CodeAlphabet.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("crypto: code length must be positive")
	}

	alphabetSize := big.NewInt(int64(len(CodeAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		out[i] = CodeAlphabet[n.Int64()]
	}
	return string(out), nil
}
