package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/config"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
)

// Refresh tokens expire at 101 days; warn well before that.
const refreshTokenWarnAge = 90 * 24 * time.Hour

// Manager owns the OAuth credential lifecycle for all tenants: reads and
// writes through the Store, refreshes access tokens against the OAuth token
// endpoint, and serializes refreshes per tenant. Issuing two simultaneous
// refreshes against the same refresh token can invalidate both, so concurrent
// callers share the result of the in-flight refresh via singleflight.
type Manager struct {
	store  Store
	cfg    config.QBOConfig
	buffer time.Duration
	http   *http.Client
	flight singleflight.Group
	log    zerolog.Logger
}

// NewManager creates a token Manager on top of the given Store.
func NewManager(store Store, cfg config.QBOConfig, buffer time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		cfg:    cfg,
		buffer: buffer,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

// Get returns the stored credential for a tenant without refreshing.
func (m *Manager) Get(ctx context.Context, clientID string) (model.Credential, error) {
	return m.store.Get(ctx, clientID)
}

// Put stores a credential, e.g. from the initial consent flow.
func (m *Manager) Put(ctx context.Context, clientID string, cred model.Credential) error {
	return m.store.Put(ctx, clientID, cred)
}

// Access returns a valid access token and the tenant's realm ID, refreshing
// when the stored token is inside the expiry buffer.
func (m *Manager) Access(ctx context.Context, clientID string) (accessToken, realmID string, err error) {
	cred, err := m.store.Get(ctx, clientID)
	if err != nil {
		return "", "", err
	}

	if cred.ExpiresWithin(m.buffer) {
		m.log.Info().Str("client_id", clientID).Msg("access token near expiry, refreshing")
		cred, err = m.Refresh(ctx, clientID)
		if err != nil {
			return "", "", err
		}
	}

	m.warnRefreshTokenAge(clientID, cred)
	return cred.AccessToken, cred.RealmID, nil
}

// Refresh exchanges the tenant's refresh token for a new credential pair and
// persists it. Refresh is serialized per tenant: a refresh already in flight
// makes concurrent callers wait for its result instead of issuing a second
// exchange.
func (m *Manager) Refresh(ctx context.Context, clientID string) (model.Credential, error) {
	v, err, _ := m.flight.Do(clientID, func() (any, error) {
		return m.refresh(ctx, clientID)
	})
	if err != nil {
		return model.Credential{}, err
	}
	return v.(model.Credential), nil
}

func (m *Manager) refresh(ctx context.Context, clientID string) (model.Credential, error) {
	cred, err := m.store.Get(ctx, clientID)
	if err != nil {
		return model.Credential{}, err
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return model.Credential{}, err
	}
	req.SetBasicAuth(m.cfg.ClientID, m.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return model.Credential{}, fmt.Errorf("token refresh request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		// The refresh token itself was rejected; only a new consent flow can recover.
		return model.Credential{}, fmt.Errorf("token endpoint returned %d: %w", resp.StatusCode, ErrReconsentRequired)
	}
	if resp.StatusCode != http.StatusOK {
		return model.Credential{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokens); err != nil {
		return model.Credential{}, fmt.Errorf("decode token response: %w", err)
	}

	now := time.Now()
	updated := model.Credential{
		AccessToken:   tokens.AccessToken,
		RefreshToken:  tokens.RefreshToken,
		RealmID:       cred.RealmID,
		Expiry:        now.Add(time.Duration(tokens.ExpiresIn) * time.Second),
		RefreshIssued: now,
	}
	if err := m.store.Put(ctx, clientID, updated); err != nil {
		return model.Credential{}, fmt.Errorf("persist refreshed credential: %w", err)
	}

	m.log.Info().Str("client_id", clientID).Msg("refreshed tokens")
	return updated, nil
}

// Exchange trades an authorization code from the consent flow for the
// tenant's initial credential pair and persists it under clientID.
func (m *Manager) Exchange(ctx context.Context, clientID, code, realmID string) (model.Credential, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {m.cfg.RedirectURI},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return model.Credential{}, err
	}
	req.SetBasicAuth(m.cfg.ClientID, m.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return model.Credential{}, fmt.Errorf("code exchange request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return model.Credential{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokens); err != nil {
		return model.Credential{}, fmt.Errorf("decode token response: %w", err)
	}

	now := time.Now()
	cred := model.Credential{
		AccessToken:   tokens.AccessToken,
		RefreshToken:  tokens.RefreshToken,
		RealmID:       realmID,
		Expiry:        now.Add(time.Duration(tokens.ExpiresIn) * time.Second),
		RefreshIssued: now,
	}
	if err := m.store.Put(ctx, clientID, cred); err != nil {
		return model.Credential{}, fmt.Errorf("persist initial credential: %w", err)
	}

	m.log.Info().Str("client_id", clientID).Str("realm_id", realmID).Msg("stored initial credential")
	return cred, nil
}

func (m *Manager) warnRefreshTokenAge(clientID string, cred model.Credential) {
	if cred.RefreshIssued.IsZero() {
		return
	}
	if age := time.Since(cred.RefreshIssued); age > refreshTokenWarnAge {
		m.log.Warn().
			Str("client_id", clientID).
			Int("age_days", int(age.Hours()/24)).
			Msg("refresh token approaching 101-day expiry, re-authorize soon")
	}
}
