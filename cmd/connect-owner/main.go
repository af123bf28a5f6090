// Command connect-owner stores the channel owner's YouTube refresh token and
// prints a freshly minted editor token. It is the shell counterpart of
// POST /owner/connect for deployments where the admin API is not exposed.
//
// Usage:
//
//	connect-owner --refresh-token TOKEN [--check]
//	echo TOKEN | connect-owner
//
// The store backend, DSN/URL and ENCRYPTION_KEY come from the same environment
// as the service. --check exchanges the token once at Google before saving.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/cadegiameos/Reaper-Gift-Wheel/access"
	"github.com/cadegiameos/Reaper-Gift-Wheel/bootstrap"
	"github.com/cadegiameos/Reaper-Gift-Wheel/config"
	"github.com/cadegiameos/Reaper-Gift-Wheel/oauth"
	"github.com/cadegiameos/Reaper-Gift-Wheel/store"
)

func main() {
	refreshToken := flag.String("refresh-token", "", "owner refresh token (read from stdin when empty)")
	verify := flag.Bool("check", false, "exchange the token at Google before saving it")
	flag.Parse()

	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.StoreBackend == config.BackendMemory {
		slog.Error("STORE_BACKEND=memory is process-local; connect through POST /owner/connect instead")
		os.Exit(1)
	}

	token := *refreshToken
	if token == "" {
		if token, err = readToken(os.Stdin); err != nil {
			slog.Error("read refresh token", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	backend, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("open store", slog.Any("err", err))
		os.Exit(1)
	}
	defer backend.Close()
	sealer, err := bootstrap.Sealer(cfg)
	if err != nil {
		slog.Error("encryption key", slog.Any("err", err))
		os.Exit(1)
	}

	editor, err := connect(ctx, backend.Store, oauth.NewCredentialStore(backend.Store, sealer), cfg, token, *verify)
	if err != nil {
		slog.Error("connect owner failed", slog.Any("err", err))
		os.Exit(1)
	}
	fmt.Println(editor)
}

// readToken takes the first non-empty line of r.
func readToken(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", access.ErrEmptyRefreshToken
}

// connect optionally verifies token at the token endpoint, then stores it and
// mints the editor session.
func connect(ctx context.Context, s store.Store, creds *oauth.CredentialStore, cfg *config.Config, token string, verify bool) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", access.ErrEmptyRefreshToken
	}
	refresher := oauth.NewRefresher(creds, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleTokenURL)
	refresher.SetTimeout(cfg.RemoteTimeout)

	if verify {
		if !cfg.OAuthReady() {
			return "", errors.New("--check needs GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET")
		}
		// exchange against a scratch store so a bad token never replaces a good one
		probe := oauth.NewRefresher(oauth.NewCredentialStore(store.NewMemory(), nil), cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleTokenURL)
		probe.SetTimeout(cfg.RemoteTimeout)
		if err := probe.SaveRefreshToken(ctx, token); err != nil {
			return "", err
		}
		if _, err := probe.EnsureAccessCredential(ctx); err != nil {
			return "", err
		}
		slog.Info("refresh token verified")
	}

	return access.NewGate(s, refresher).ConnectOwner(ctx, token)
}
