package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/fisioflow/calsync/internal/calendar"
	"github.com/fisioflow/calsync/internal/observability/metrics"
	"github.com/fisioflow/calsync/pkg/logging"
)

const defaultExpirySkew = 5 * time.Minute

// ManagerConfig wires the credential manager.
type ManagerConfig struct {
	Store      Store
	OAuth      *oauth2.Config
	ExpirySkew time.Duration
	RevokeURL  string // empty disables best-effort revocation on disconnect
	HTTPClient *http.Client
	Logger     *logging.Logger
	Metrics    *metrics.SyncMetrics
	Now        func() time.Time
}

// Manager hands out valid access tokens, refreshing and persisting rotated
// grants as needed. Concurrent refreshes for the same owner collapse into a
// single token-endpoint call.
type Manager struct {
	store      Store
	oauth      *oauth2.Config
	skew       time.Duration
	revokeURL  string
	httpClient *http.Client
	logger     *logging.Logger
	metrics    *metrics.SyncMetrics
	now        func() time.Time
	group      singleflight.Group
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Store == nil {
		panic("credentials: store required")
	}
	if cfg.OAuth == nil {
		panic("credentials: oauth config required")
	}
	skew := cfg.ExpirySkew
	if skew <= 0 {
		skew = defaultExpirySkew
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:      cfg.Store,
		oauth:      cfg.OAuth,
		skew:       skew,
		revokeURL:  cfg.RevokeURL,
		httpClient: httpClient,
		logger:     logger,
		metrics:    cfg.Metrics,
		now:        now,
	}
}

// ConsentURL builds the authorization URL for an owner. offline access and a
// forced consent screen guarantee Google returns a refresh token; the owner id
// rides in the state parameter.
func (m *Manager) ConsentURL(ownerID string) string {
	return m.oauth.AuthCodeURL(ownerID,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades an authorization code for tokens and stores them under the
// owner. A grant that comes back without a refresh token is rejected: without
// one the connection would silently die at first expiry.
func (m *Manager) Exchange(ctx context.Context, ownerID, code string, opts ...oauth2.AuthCodeOption) (*Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := m.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, m.classifyTokenErr("exchange", err)
	}
	if tok.RefreshToken == "" {
		return nil, &calendar.InvalidRequestError{
			Status: http.StatusBadRequest,
			Detail: "authorization grant carried no refresh token; re-run consent with prompt=consent",
		}
	}
	cred := &Credential{
		OwnerID:      ownerID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        strings.Join(m.oauth.Scopes, " "),
		Expiry:       tok.Expiry,
	}
	if err := m.store.Save(ctx, cred); err != nil {
		return nil, err
	}
	m.logger.Info("calendar connected", "owner_id", ownerID, "expiry", tok.Expiry)
	return cred, nil
}

// AccessToken returns an access token valid for at least the configured skew,
// refreshing it first when necessary.
func (m *Manager) AccessToken(ctx context.Context, ownerID string) (string, error) {
	cred, err := m.store.Get(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if m.fresh(cred) {
		return cred.AccessToken, nil
	}
	refreshed, err := m.refresh(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Status reports whether the owner has a stored grant and when the current
// access token expires.
func (m *Manager) Status(ctx context.Context, ownerID string) (bool, time.Time, error) {
	cred, err := m.store.Get(ctx, ownerID)
	if errors.Is(err, calendar.ErrCredentialMissing) {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, err
	}
	return true, cred.Expiry, nil
}

// Disconnect revokes the grant best-effort and removes it from the store.
// Revocation failures are logged, never surfaced: the local delete is what
// disconnects the calendar.
func (m *Manager) Disconnect(ctx context.Context, ownerID string) error {
	cred, err := m.store.Get(ctx, ownerID)
	if errors.Is(err, calendar.ErrCredentialMissing) {
		return nil
	}
	if err != nil {
		return err
	}
	if m.revokeURL != "" && cred.RefreshToken != "" {
		m.revoke(ctx, ownerID, cred.RefreshToken)
	}
	return m.store.Delete(ctx, ownerID)
}

func (m *Manager) fresh(cred *Credential) bool {
	return cred.AccessToken != "" && m.now().Add(m.skew).Before(cred.Expiry)
}

// refresh funnels concurrent callers for one owner through a single
// token-endpoint round trip. It re-reads the store inside the critical
// section: another caller (or replica) may already have refreshed.
func (m *Manager) refresh(ctx context.Context, ownerID string) (*Credential, error) {
	v, err, _ := m.group.Do(ownerID, func() (any, error) {
		current, err := m.store.Get(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if m.fresh(current) {
			return current, nil
		}
		if current.RefreshToken == "" {
			if delErr := m.store.Delete(ctx, ownerID); delErr != nil {
				return nil, delErr
			}
			return nil, fmt.Errorf("credentials: no refresh token on file: %w", calendar.ErrAuthExpired)
		}

		tokCtx := context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
		tok, err := m.oauth.TokenSource(tokCtx, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
		if err != nil {
			classified := m.classifyTokenErr("refresh", err)
			if errors.Is(classified, calendar.ErrAuthExpired) {
				m.metrics.ObserveRefresh("auth_expired")
				if delErr := m.store.Delete(ctx, ownerID); delErr != nil {
					m.logger.Error("drop revoked credential", "owner_id", ownerID, "error", delErr)
				}
				m.logger.Warn("calendar grant revoked", "owner_id", ownerID)
			} else {
				m.metrics.ObserveRefresh("error")
			}
			return nil, classified
		}

		next := *current
		next.AccessToken = tok.AccessToken
		next.TokenType = tok.TokenType
		next.Expiry = tok.Expiry
		if tok.RefreshToken != "" {
			next.RefreshToken = tok.RefreshToken
		}
		if err := m.store.Save(ctx, &next); err != nil {
			return nil, err
		}
		m.metrics.ObserveRefresh("ok")
		m.logger.Info("access token refreshed", "owner_id", ownerID, "expiry", tok.Expiry)
		return &next, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credential), nil
}

// classifyTokenErr maps token-endpoint failures onto the engine taxonomy.
// invalid_grant means the user revoked access or the refresh token is dead;
// everything else from the endpoint is treated as retryable.
func (m *Manager) classifyTokenErr(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" || (re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized) {
			return fmt.Errorf("credentials: %s rejected: %w", op, calendar.ErrAuthExpired)
		}
		if re.ErrorCode == "invalid_request" || re.ErrorCode == "invalid_client" {
			return &calendar.InvalidRequestError{
				Status: re.Response.StatusCode,
				Detail: fmt.Sprintf("%s: %s", re.ErrorCode, re.ErrorDescription),
			}
		}
	}
	return &calendar.TransientError{Err: fmt.Errorf("credentials: %s failed: %w", op, err)}
}

func (m *Manager) revoke(ctx context.Context, ownerID, token string) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		m.logger.Warn("build revoke request", "owner_id", ownerID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn("revoke grant", "owner_id", ownerID, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		m.logger.Warn("revoke grant", "owner_id", ownerID, "status", resp.StatusCode)
	}
}
