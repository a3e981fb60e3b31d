package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidToken covers malformed, truncated or tampered tokens.
var ErrInvalidToken = errors.New("invalid token")

// EncryptToken seals the plaintext with a key derived from the salt and
// returns a url-safe token. Used to authenticate payment processor
// callbacks: the webhook URL carries a sealed ticket id that the handler
// opens and compares.
func EncryptToken(plaintext, salt string) (string, error) {
	key := sha256.Sum256([]byte(salt))
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return "", fmt.Errorf("crypt: new cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypt: nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// DecryptToken opens a token produced by EncryptToken.
func DecryptToken(token, salt string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return "", ErrInvalidToken
	}

	key := sha256.Sum256([]byte(salt))
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return "", fmt.Errorf("crypt: new cipher: %w", err)
	}

	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidToken
	}
	return string(plaintext), nil
}
