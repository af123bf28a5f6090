// Package oauth holds the owner's YouTube credentials and exchanges the stored
// refresh credential for short-lived access credentials at Google's token
// endpoint. StartRefresher keeps the access credential warm with jittered checks.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/cadegiameos/Reaper-Gift-Wheel/telemetry"
)

var (
	// ErrNotConnected means no owner refresh credential is stored.
	ErrNotConnected = errors.New("youtube owner not connected")
	// ErrRefreshFailed means the token endpoint rejected or could not be reached.
	ErrRefreshFailed = errors.New("access credential refresh failed")
)

// defaultAccessLifetime is assumed when the endpoint omits expires_in.
const defaultAccessLifetime = time.Hour

// Refresher implements the Credential Refresher.
type Refresher struct {
	creds   *CredentialStore
	conf    *oauth2.Config
	timeout time.Duration
	// HTTPClient is used for token requests when set (tests, proxies).
	HTTPClient *http.Client

	mu sync.Mutex // one refresh at a time per process
}

// NewRefresher builds a Refresher for the Google OAuth client. tokenURL
// overrides google.Endpoint's token URL when non-empty.
func NewRefresher(creds *CredentialStore, clientID, clientSecret, tokenURL string) *Refresher {
	ep := google.Endpoint
	if tokenURL != "" {
		ep.TokenURL = tokenURL
	}
	return &Refresher{
		creds: creds,
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     ep,
		},
		timeout: 15 * time.Second,
	}
}

// SetTimeout bounds each token endpoint call.
func (r *Refresher) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// Connected reports whether an owner credential is stored.
func (r *Refresher) Connected(ctx context.Context) (bool, error) { return r.creds.Connected(ctx) }

// SaveRefreshToken stores a new owner credential.
func (r *Refresher) SaveRefreshToken(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds.SaveRefreshToken(ctx, token)
}

// Disconnect drops the stored owner credential and any cached access credential.
func (r *Refresher) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds.Disconnect(ctx)
}

// EnsureAccessCredential returns a usable access credential, refreshing it
// when the cached one is missing or within a minute of expiry. It makes at
// most one token endpoint call and never retries.
func (r *Refresher) EnsureAccessCredential(ctx context.Context) (string, error) {
	if tok, ok, err := r.creds.AccessToken(ctx); err != nil {
		return "", err
	} else if ok {
		return tok.AccessToken, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// another caller may have refreshed while we waited
	if tok, ok, err := r.creds.AccessToken(ctx); err == nil && ok {
		return tok.AccessToken, nil
	}

	rt, err := r.creds.RefreshToken(ctx)
	if err != nil {
		return "", err
	}
	if rt == "" {
		telemetry.RecordRefresh("not_connected")
		return "", ErrNotConnected
	}

	tok, err := r.exchange(ctx, rt)
	if err != nil {
		telemetry.RecordRefresh("error")
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			slog.Warn("token endpoint rejected refresh", slog.String("code", re.ErrorCode), slog.String("component", "oauth"))
		}
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	telemetry.RecordRefresh("ok")

	if tok.Expiry.IsZero() {
		tok.Expiry = time.Now().Add(defaultAccessLifetime)
	}
	if err := r.creds.SaveAccessToken(ctx, tok); err != nil {
		slog.Warn("access token persist failed", slog.Any("err", err), slog.String("component", "oauth"))
	}
	if tok.RefreshToken != "" && tok.RefreshToken != rt {
		if err := r.creds.SaveRefreshToken(ctx, tok.RefreshToken); err != nil {
			slog.Warn("rotated refresh token persist failed", slog.Any("err", err), slog.String("component", "oauth"))
		} else if err := r.creds.SaveAccessToken(ctx, tok); err != nil {
			slog.Warn("access token persist failed", slog.Any("err", err), slog.String("component", "oauth"))
		}
	}
	slog.Debug("access credential refreshed", slog.Time("expiry", tok.Expiry), slog.String("component", "oauth"))
	return tok.AccessToken, nil
}

func (r *Refresher) exchange(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if r.conf.ClientID == "" || r.conf.ClientSecret == "" {
		return nil, errors.New("missing google client id/secret")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}
	return r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// StartRefresher launches a goroutine that keeps the access credential warm so
// poll cycles rarely pay for a refresh. Failures are logged; the next poll
// surfaces them through EnsureAccessCredential.
func StartRefresher(ctx context.Context, r *Refresher, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			if ok, err := r.Connected(ctx); err == nil && ok {
				if _, err := r.EnsureAccessCredential(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
					slog.Warn("background token refresh failed", slog.Any("err", err), slog.String("component", "oauth"))
				}
			}
			// per-iteration jitter of +/-20%
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval + jitter):
			}
		}
	}()
}
