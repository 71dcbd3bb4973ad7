package token

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
)

// FileStore keeps one AES-GCM-encrypted JSON file per tenant under dir.
// Intended for local development; production uses the vault store.
type FileStore struct {
	dir  string
	aead cipher.AEAD
}

// NewFileStore creates a FileStore. keyHex must decode to a 32-byte AES key.
func NewFileStore(dir, keyHex string) (*FileStore, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode token file key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("token file key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create token dir: %w", err)
	}

	return &FileStore{dir: dir, aead: aead}, nil
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) path(clientID string) string {
	return filepath.Join(s.dir, clientID+".tok")
}

func (s *FileStore) Get(_ context.Context, clientID string) (model.Credential, error) {
	blob, err := os.ReadFile(s.path(clientID))
	if err != nil {
		if os.IsNotExist(err) {
			return model.Credential{}, ErrNotFound
		}
		return model.Credential{}, fmt.Errorf("read token file: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(blob) < nonceSize {
		return model.Credential{}, fmt.Errorf("token file for %s is truncated", clientID)
	}

	plain, err := s.aead.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
	if err != nil {
		return model.Credential{}, fmt.Errorf("decrypt token file: %w", err)
	}

	var cred model.Credential
	if err := json.Unmarshal(plain, &cred); err != nil {
		return model.Credential{}, fmt.Errorf("unmarshal credential: %w", err)
	}
	return cred, nil
}

func (s *FileStore) Put(_ context.Context, clientID string, cred model.Credential) error {
	plain, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	blob := s.aead.Seal(nonce, nonce, plain, nil)

	// Write via a temp file so a crash mid-write never leaves a torn credential.
	tmp := s.path(clientID) + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path(clientID)); err != nil {
		return fmt.Errorf("rename token file: %w", err)
	}
	return nil
}
