package booking

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const tokenBytes = 32

// Tokens issues cancellation tokens and derives the keyed digest that is
// stored in place of the token.
type Tokens struct {
	key []byte
}

func NewTokens(secret []byte) *Tokens {
	key := secret
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &Tokens{key: key}
}

// Issue returns a fresh URL-safe token and its digest.
func (t *Tokens) Issue() (string, []byte, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate cancellation token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	return token, t.Digest(token), nil
}

func (t *Tokens) Digest(token string) []byte {
	h, err := blake2b.New256(t.key)
	if err != nil {
		// Key length is bounded in NewTokens.
		panic(err)
	}
	h.Write([]byte(token))
	return h.Sum(nil)
}
