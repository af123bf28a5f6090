// Package access implements the editor capability that guards destructive
// wheel operations. Until an owner connects every caller is allowed; after
// that only the holder of the minted editor token is.
package access

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/cadegiameos/Reaper-Gift-Wheel/store"
)

var (
	// ErrUnauthorized is returned to callers without the editor token.
	ErrUnauthorized = errors.New("only the connected editor may clear the wheel")
	// ErrEmptyRefreshToken rejects an owner connection without a credential.
	ErrEmptyRefreshToken = errors.New("refresh token is empty")
)

// Owner is the credential side of an owner connection.
type Owner interface {
	Connected(ctx context.Context) (bool, error)
	SaveRefreshToken(ctx context.Context, token string) error
	Disconnect(ctx context.Context) error
}

// Gate authorizes destructive operations.
type Gate struct {
	store store.Store
	owner Owner
}

// NewGate returns a Gate backed by s.
func NewGate(s store.Store, owner Owner) *Gate {
	return &Gate{store: s, owner: owner}
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// AuthorizeDestructive returns nil when credential may clear the wheel and
// ErrUnauthorized when it may not. Store failures are returned as-is.
func (g *Gate) AuthorizeDestructive(ctx context.Context, credential string) error {
	connected, err := g.owner.Connected(ctx)
	if err != nil {
		return fmt.Errorf("check owner: %w", err)
	}
	if !connected {
		return nil
	}
	ok, err := g.IsEditor(ctx, credential)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// IsEditor reports whether credential matches the current editor session.
func (g *Gate) IsEditor(ctx context.Context, credential string) (bool, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return false, nil
	}
	want, ok, err := g.store.Get(ctx, store.KeyEditorSession)
	if err != nil {
		return false, fmt.Errorf("load editor session: %w", err)
	}
	if !ok || want == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(digest(credential)), []byte(want)) == 1, nil
}

// MintEditorSession issues a fresh editor token, invalidating the previous one.
// Only its digest is stored; the returned token is the caller's to hand out.
func (g *Gate) MintEditorSession(ctx context.Context) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate editor token: %w", err)
	}
	token := hex.EncodeToString(b)
	if err := g.store.Set(ctx, store.KeyEditorSession, digest(token), 0); err != nil {
		return "", fmt.Errorf("store editor session: %w", err)
	}
	return token, nil
}

// ConnectOwner stores the owner's refresh credential and mints the editor
// token bound to this connection.
func (g *Gate) ConnectOwner(ctx context.Context, refreshToken string) (string, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return "", ErrEmptyRefreshToken
	}
	if err := g.owner.SaveRefreshToken(ctx, refreshToken); err != nil {
		return "", fmt.Errorf("save refresh token: %w", err)
	}
	return g.MintEditorSession(ctx)
}

// DisconnectOwner forgets the owner credential and the editor session, which
// returns the wheel to its unconfigured state. Callers authorize first.
func (g *Gate) DisconnectOwner(ctx context.Context) error {
	if err := g.owner.Disconnect(ctx); err != nil {
		return fmt.Errorf("forget owner: %w", err)
	}
	if err := g.store.Delete(ctx, store.KeyEditorSession); err != nil {
		return fmt.Errorf("drop editor session: %w", err)
	}
	return nil
}
