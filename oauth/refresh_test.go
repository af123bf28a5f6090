package oauth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cadegiameos/Reaper-Gift-Wheel/crypto"
	"github.com/cadegiameos/Reaper-Gift-Wheel/store"
	"github.com/cadegiameos/Reaper-Gift-Wheel/testutil"
)

func newTestRefresher(t *testing.T, ts *testutil.MockTokenServer) (*Refresher, *CredentialStore, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	creds := NewCredentialStore(mem, crypto.Plain{})
	r := NewRefresher(creds, "client-id", "client-secret", ts.TokenURL())
	r.SetTimeout(2 * time.Second)
	return r, creds, mem
}

func TestEnsureAccessCredentialNotConnected(t *testing.T) {
	ts := testutil.NewMockTokenServer(t, "access-1", 3600)
	r, _, _ := newTestRefresher(t, ts)

	_, err := r.EnsureAccessCredential(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if ts.Calls() != 0 {
		t.Errorf("token endpoint called %d times without a refresh credential", ts.Calls())
	}
}

func TestEnsureAccessCredentialRefreshesAndCaches(t *testing.T) {
	ts := testutil.NewMockTokenServer(t, "access-1", 3600)
	r, creds, _ := newTestRefresher(t, ts)
	ctx := context.Background()
	if err := creds.SaveRefreshToken(ctx, "refresh-1"); err != nil {
		t.Fatal(err)
	}

	tok, err := r.EnsureAccessCredential(ctx)
	if err != nil {
		t.Fatalf("EnsureAccessCredential: %v", err)
	}
	if tok != "access-1" {
		t.Errorf("token = %q, want access-1", tok)
	}
	if got := ts.LastRefreshToken(); got != "refresh-1" {
		t.Errorf("endpoint saw refresh_token %q", got)
	}

	// second call is served from the store
	if _, err := r.EnsureAccessCredential(ctx); err != nil {
		t.Fatal(err)
	}
	if ts.Calls() != 1 {
		t.Errorf("token endpoint calls = %d, want 1", ts.Calls())
	}
}

func TestEnsureAccessCredentialShortLivedNotCached(t *testing.T) {
	// expires inside the 60s buffer, so every call refreshes
	ts := testutil.NewMockTokenServer(t, "access-short", 30)
	r, creds, _ := newTestRefresher(t, ts)
	ctx := context.Background()
	_ = creds.SaveRefreshToken(ctx, "refresh-1")

	for i := 0; i < 2; i++ {
		if _, err := r.EnsureAccessCredential(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if ts.Calls() != 2 {
		t.Errorf("token endpoint calls = %d, want 2", ts.Calls())
	}
}

func TestEnsureAccessCredentialRefreshFailed(t *testing.T) {
	ts := testutil.NewMockTokenServer(t, "access-1", 3600)
	ts.Fail(http.StatusBadRequest)
	r, creds, _ := newTestRefresher(t, ts)
	ctx := context.Background()
	_ = creds.SaveRefreshToken(ctx, "revoked")

	_, err := r.EnsureAccessCredential(ctx)
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("err = %v, want ErrRefreshFailed", err)
	}
	if ts.Calls() != 1 {
		t.Errorf("token endpoint calls = %d, want exactly one attempt", ts.Calls())
	}
	// the stored credential is kept for the next attempt
	if ok, _ := creds.Connected(ctx); !ok {
		t.Error("refresh failure must not disconnect the owner")
	}
}

func TestEnsureAccessCredentialUnreachable(t *testing.T) {
	mem := store.NewMemory()
	creds := NewCredentialStore(mem, nil)
	r := NewRefresher(creds, "id", "secret", "http://127.0.0.1:1/token")
	r.SetTimeout(500 * time.Millisecond)
	_ = creds.SaveRefreshToken(context.Background(), "rt")

	if _, err := r.EnsureAccessCredential(context.Background()); !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("err = %v, want ErrRefreshFailed", err)
	}
}

func TestEnsureAccessCredentialMissingClient(t *testing.T) {
	ts := testutil.NewMockTokenServer(t, "access-1", 3600)
	creds := NewCredentialStore(store.NewMemory(), nil)
	r := NewRefresher(creds, "", "", ts.TokenURL())
	_ = creds.SaveRefreshToken(context.Background(), "rt")

	if _, err := r.EnsureAccessCredential(context.Background()); !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("err = %v, want ErrRefreshFailed", err)
	}
	if ts.Calls() != 0 {
		t.Error("endpoint should not be called without client credentials")
	}
}

func TestEnsureAccessCredentialRotation(t *testing.T) {
	ts := testutil.NewMockTokenServer(t, "access-1", 3600)
	ts.Rotate("refresh-2")
	r, creds, _ := newTestRefresher(t, ts)
	ctx := context.Background()
	_ = creds.SaveRefreshToken(ctx, "refresh-1")

	if _, err := r.EnsureAccessCredential(ctx); err != nil {
		t.Fatal(err)
	}
	rt, _ := creds.RefreshToken(ctx)
	if rt != "refresh-2" {
		t.Errorf("refresh token = %q, want rotated refresh-2", rt)
	}
	// rotation keeps the freshly minted access credential
	if _, ok, _ := creds.AccessToken(ctx); !ok {
		t.Error("access credential dropped after rotation")
	}
}

func TestSaveRefreshTokenDropsAccess(t *testing.T) {
	ts := testutil.NewMockTokenServer(t, "access-1", 3600)
	r, creds, _ := newTestRefresher(t, ts)
	ctx := context.Background()
	_ = r.SaveRefreshToken(ctx, "owner-a")
	if _, err := r.EnsureAccessCredential(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.SaveRefreshToken(ctx, "owner-b"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := creds.AccessToken(ctx); ok {
		t.Fatal("access credential of the previous owner survived a reconnect")
	}
	if _, err := r.EnsureAccessCredential(ctx); err != nil {
		t.Fatal(err)
	}
	if ts.LastRefreshToken() != "owner-b" {
		t.Errorf("refresh used %q, want owner-b", ts.LastRefreshToken())
	}
}

func TestCredentialStoreSealed(t *testing.T) {
	sealer, err := crypto.NewAESSealer("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	if err != nil {
		t.Fatal(err)
	}
	mem := store.NewMemory()
	creds := NewCredentialStore(mem, sealer)
	ctx := context.Background()
	if err := creds.SaveRefreshToken(ctx, "secret-refresh"); err != nil {
		t.Fatal(err)
	}
	raw, _, _ := mem.Get(ctx, store.KeyRefreshToken)
	if !crypto.IsSealed(raw) {
		t.Errorf("stored value %q is not sealed", raw)
	}
	got, err := creds.RefreshToken(ctx)
	if err != nil || got != "secret-refresh" {
		t.Fatalf("RefreshToken = %q, %v", got, err)
	}

	if err := creds.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := creds.Connected(ctx); ok {
		t.Error("still connected after Disconnect")
	}
}

func TestStartRefresherWarmsToken(t *testing.T) {
	ts := testutil.NewMockTokenServer(t, "warm", 3600)
	r, creds, _ := newTestRefresher(t, ts)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = creds.SaveRefreshToken(ctx, "rt")

	StartRefresher(ctx, r, 100*time.Millisecond)
	<-ctx.Done()

	if _, ok, _ := creds.AccessToken(context.Background()); !ok {
		t.Error("background refresher did not store an access credential")
	}
}
