package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
)

// VaultStore keeps credentials in a remote secret vault exposing the KV v2
// HTTP API. One secret per tenant under <mount>/data/qbo-tokens/<client_id>.
type VaultStore struct {
	addr  string
	token string
	mount string
	http  *http.Client
}

// NewVaultStore creates a VaultStore for the given vault address and mount.
func NewVaultStore(addr, authToken, mount string) (*VaultStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if authToken == "" {
		return nil, fmt.Errorf("vault token is required")
	}
	if mount == "" {
		mount = "secret"
	}
	return &VaultStore{
		addr:  addr,
		token: authToken,
		mount: mount,
		http:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

var _ Store = (*VaultStore)(nil)

func (s *VaultStore) secretURL(clientID string) string {
	return fmt.Sprintf("%s/v1/%s/data/qbo-tokens/%s", s.addr, s.mount, url.PathEscape(clientID))
}

func (s *VaultStore) Get(ctx context.Context, clientID string) (model.Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.secretURL(clientID), nil)
	if err != nil {
		return model.Credential{}, err
	}
	req.Header.Set("X-Vault-Token", s.token)

	resp, err := s.http.Do(req)
	if err != nil {
		return model.Credential{}, fmt.Errorf("vault get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return model.Credential{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return model.Credential{}, fmt.Errorf("vault get: unexpected status %d", resp.StatusCode)
	}

	var envelope struct {
		Data struct {
			Data model.Credential `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return model.Credential{}, fmt.Errorf("decode vault secret: %w", err)
	}
	return envelope.Data.Data, nil
}

func (s *VaultStore) Put(ctx context.Context, clientID string, cred model.Credential) error {
	payload, err := json.Marshal(map[string]any{"data": cred})
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.secretURL(clientID), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("X-Vault-Token", s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("vault put: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("vault put: unexpected status %d", resp.StatusCode)
	}
	return nil
}
