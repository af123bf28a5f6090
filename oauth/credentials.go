package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/cadegiameos/Reaper-Gift-Wheel/crypto"
	"github.com/cadegiameos/Reaper-Gift-Wheel/store"
)

// expiryBuffer is subtracted from an access credential's lifetime before it is reused.
const expiryBuffer = 60 * time.Second

// CredentialStore persists the owner's refresh credential (sealed) and the
// current access credential in the store.
type CredentialStore struct {
	store  store.Store
	sealer crypto.Sealer
}

// NewCredentialStore returns a CredentialStore; a nil sealer stores plaintext.
func NewCredentialStore(s store.Store, sealer crypto.Sealer) *CredentialStore {
	if sealer == nil {
		sealer = crypto.Plain{}
	}
	return &CredentialStore{store: s, sealer: sealer}
}

// SaveRefreshToken replaces the owner credential and drops any access credential minted from the old one.
func (c *CredentialStore) SaveRefreshToken(ctx context.Context, token string) error {
	sealed, err := c.sealer.Seal(token)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	if err := c.store.Set(ctx, store.KeyRefreshToken, sealed, 0); err != nil {
		return err
	}
	return c.store.Delete(ctx, store.KeyAccessToken)
}

// RefreshToken returns the stored refresh credential or "" when none is stored.
func (c *CredentialStore) RefreshToken(ctx context.Context) (string, error) {
	v, ok, err := c.store.Get(ctx, store.KeyRefreshToken)
	if err != nil || !ok {
		return "", err
	}
	rt, err := c.sealer.Open(v)
	if err != nil {
		return "", fmt.Errorf("open refresh token: %w", err)
	}
	return rt, nil
}

// Connected reports whether an owner refresh credential is stored.
func (c *CredentialStore) Connected(ctx context.Context) (bool, error) {
	v, ok, err := c.store.Get(ctx, store.KeyRefreshToken)
	if err != nil {
		return false, err
	}
	return ok && v != "", nil
}

type storedAccess struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry"`
}

// SaveAccessToken caches tok until expiryBuffer before it expires.
func (c *CredentialStore) SaveAccessToken(ctx context.Context, tok *oauth2.Token) error {
	ttl := time.Until(tok.Expiry) - expiryBuffer
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(storedAccess{AccessToken: tok.AccessToken, Expiry: tok.Expiry})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, store.KeyAccessToken, string(b), ttl)
}

// AccessToken returns the cached access credential if one is still usable.
func (c *CredentialStore) AccessToken(ctx context.Context) (*oauth2.Token, bool, error) {
	v, ok, err := c.store.Get(ctx, store.KeyAccessToken)
	if err != nil || !ok {
		return nil, false, err
	}
	var sa storedAccess
	if err := json.Unmarshal([]byte(v), &sa); err != nil {
		// unreadable cache entry is treated as a miss
		return nil, false, nil
	}
	if sa.AccessToken == "" || time.Until(sa.Expiry) <= expiryBuffer {
		return nil, false, nil
	}
	return &oauth2.Token{AccessToken: sa.AccessToken, TokenType: "Bearer", Expiry: sa.Expiry}, true, nil
}

// Disconnect forgets both credentials.
func (c *CredentialStore) Disconnect(ctx context.Context) error {
	return c.store.Delete(ctx, store.KeyRefreshToken, store.KeyAccessToken)
}
