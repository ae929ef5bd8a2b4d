// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracestore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

// KeyEnv names the environment variable holding the record encryption key.
const KeyEnv = "TRACEHUB_STORE_KEY"

// sealedMagic prefixes encrypted records so plaintext and sealed files can
// be told apart.
var sealedMagic = []byte("THS1")

// Cipher encrypts trace records at rest with AES-256-GCM.
// The trace id is bound as additional data, so a record copied under
// another id fails to open.
type Cipher struct {
	aead cipher.AEAD
}

// LoadCipher builds a Cipher from KeyEnv. The value is either a
// base64-encoded 32-byte key or a passphrase stretched with HKDF-SHA256.
// It returns nil, nil when the variable is unset.
func LoadCipher() (*Cipher, error) {
	keyStr := os.Getenv(KeyEnv)
	if keyStr == "" {
		return nil, nil
	}
	return NewCipher(keyStr)
}

// NewCipher builds a Cipher from a base64 key or passphrase.
func NewCipher(keyStr string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(keyStr)
	if err != nil || len(key) != 32 {
		key, err = deriveKey(keyStr)
		if err != nil {
			return nil, err
		}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// GenerateKey returns a new random base64-encoded key.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func deriveKey(passphrase string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(passphrase), []byte("tracehub"), []byte("trace records"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext for the record id.
// Output layout: magic | nonce | ciphertext.
func (c *Cipher) Seal(id string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(sealedMagic)+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, []byte(id)), nil
}

// Open decrypts a record sealed for id.
func (c *Cipher) Open(id string, sealed []byte) ([]byte, error) {
	if !bytes.HasPrefix(sealed, sealedMagic) {
		return nil, fmt.Errorf("record is not encrypted")
	}
	sealed = sealed[len(sealedMagic):]

	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// IsSealed reports whether data was produced by Seal.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealedMagic)
}
