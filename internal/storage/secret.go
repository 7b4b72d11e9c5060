package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

var errSecretCorrupt = errors.New("cannot decrypt stored secret")

const secretNonceSize = 24

// secretCipher encrypts device SNMP communities at rest. With no key
// configured it is a passthrough, so existing plaintext databases keep
// working.
type secretCipher struct {
	key *[32]byte
}

func newSecretCipher(key string) *secretCipher {
	if key == "" {
		return &secretCipher{}
	}
	sum := sha256.Sum256([]byte(key))
	return &secretCipher{key: &sum}
}

// Encrypt seals a plaintext secret into hex(nonce || box).
func (c *secretCipher) Encrypt(plain string) (string, error) {
	if c.key == nil {
		return plain, nil
	}

	var nonce [secretNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, c.key)
	return hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *secretCipher) Decrypt(stored string) (string, error) {
	if c.key == nil {
		return stored, nil
	}
	if stored == "" {
		return "", nil
	}

	raw, err := hex.DecodeString(stored)
	if err != nil || len(raw) < secretNonceSize {
		return "", errSecretCorrupt
	}

	var nonce [secretNonceSize]byte
	copy(nonce[:], raw[:secretNonceSize])

	plain, ok := secretbox.Open(nil, raw[secretNonceSize:], &nonce, c.key)
	if !ok {
		return "", errSecretCorrupt
	}

	return string(plain), nil
}
