/*
Package fluentdynamo – field-level encryption.

Fields flagged Crypt are run through a FieldCipher after encode and before
decode. GCMCipher is the stock provider; external key services plug in by
implementing the interface.
*/
package fluentdynamo

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// FieldCipher encrypts and decrypts individual stored string values. The
// entity and field names let providers scope keys or derive AAD.
type FieldCipher interface {
	Encrypt(ctx context.Context, entity, field, plaintext string) (string, error)
	Decrypt(ctx context.Context, entity, field, ciphertext string) (string, error)
}

// CipherConfig configures one named key for GCMCipher.
type CipherConfig struct {
	Password string
	Cipher   string // e.g. "aes-256-gcm"
}

// GCMCipher is an AES-256-GCM FieldCipher with SHA-256 password-derived
// keys. New values are sealed under the "primary" key; decryption honors
// whichever named key the stored value was sealed under.
type GCMCipher struct {
	keys map[string][]byte
}

// NewGCMCipher builds a cipher from named key configs. A "primary" entry
// is required for encryption.
func NewGCMCipher(cfg map[string]*CipherConfig) *GCMCipher {
	c := &GCMCipher{keys: map[string][]byte{}}
	for name, k := range cfg {
		h := sha256.Sum256([]byte(k.Password))
		c.keys[name] = h[:]
	}
	return c
}

// Encrypt seals text under the primary key. The stored form is
// "primary::<hex nonce>:<base64 nonce+ciphertext>".
func (c *GCMCipher) Encrypt(ctx context.Context, entity, field, text string) (string, error) {
	if text == "" {
		return text, nil
	}
	key := c.keys["primary"]
	if key == nil {
		return "", NewArgError("No primary cipher key")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(text), nil)
	encoded := base64.StdEncoding.EncodeToString(sealed)
	return fmt.Sprintf("primary::%x:%s", nonce, encoded), nil
}

// Decrypt opens a stored value. Values that do not carry the sealed
// format are returned unchanged, so plaintext written before a field was
// flagged Crypt still reads back.
func (c *GCMCipher) Decrypt(ctx context.Context, entity, field, text string) (string, error) {
	if text == "" {
		return text, nil
	}
	parts := strings.SplitN(text, ":", 4)
	if len(parts) < 4 {
		return text, nil
	}
	key := c.keys[parts[0]]
	if key == nil {
		return "", NewArgError(fmt.Sprintf("No cipher key %q", parts[0]))
	}
	data, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
