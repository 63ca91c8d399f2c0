package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"sendertally/internal/config"
	"sendertally/internal/credential"
	"sendertally/internal/gmail"
	"sendertally/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Provider:    "gmail",
		Limit:       100,
		PageSize:    100,
		MaxAttempts: 3,
		Format:      "text",
		LogLevel:    "info",
		TokenStore:  "file",
		ConfigDir:   t.TempDir(),
	}
}

// fakeGoogle serves the token endpoint and the Gmail profile. Only
// accessToken is accepted by the profile endpoint.
func fakeGoogle(t *testing.T, accessToken string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"refresh_token":"r","token_type":"Bearer","expires_in":3600}`, accessToken)
	})
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer "+accessToken {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
			return
		}
		fmt.Fprint(w, `{"emailAddress":"me@example.com","messagesTotal":42}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeClientSecret(t *testing.T, dir, tokenURL string) {
	t.Helper()
	js := fmt.Sprintf(`{"installed":{"client_id":"id","client_secret":"secret",`+
		`"auth_uri":"https://accounts.example.com/auth","token_uri":%q,`+
		`"redirect_uris":["http://localhost"]}}`, tokenURL)
	if err := os.WriteFile(filepath.Join(dir, "client_secret.json"), []byte(js), 0o600); err != nil {
		t.Fatal(err)
	}
}

type pastePrompter struct{ shown string }

func (p *pastePrompter) AuthURL(u string) { p.shown = u }

func (p *pastePrompter) ReadCode(context.Context) (string, error) {
	u, err := url.Parse(p.shown)
	if err != nil {
		return "", err
	}
	return "http://localhost/?code=c&state=" + url.QueryEscape(u.Query().Get("state")), nil
}

func gmailOpts(srv *httptest.Server) []option.ClientOption {
	return []option.ClientOption{option.WithEndpoint(srv.URL + "/")}
}

func TestOpen_GmailCachedToken(t *testing.T) {
	cfg := testConfig(t)
	srv := fakeGoogle(t, "cached")
	writeClientSecret(t, cfg.ConfigDir, srv.URL+"/token")
	tok := &oauth2.Token{AccessToken: "cached", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	if err := credential.NewFileStore(filepath.Join(cfg.ConfigDir, "token.json")).SaveToken(tok); err != nil {
		t.Fatal(err)
	}

	src, err := Open(context.Background(), cfg, Deps{GmailOptions: gmailOpts(srv)})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	if src.Account.Email != "me@example.com" || src.Account.MessagesTotal != 42 {
		t.Fatalf("account = %+v", src.Account)
	}
}

func TestOpen_GmailRevokedTokenReauthorizes(t *testing.T) {
	cfg := testConfig(t)
	cfg.TokenStore = "sqlite"
	srv := fakeGoogle(t, "fresh")
	writeClientSecret(t, cfg.ConfigDir, srv.URL+"/token")

	tokens, closer, err := OpenTokenStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	stale := &oauth2.Token{AccessToken: "revoked", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	if err := tokens.SaveToken(stale); err != nil {
		t.Fatal(err)
	}
	closer.Close()

	src, err := Open(context.Background(), cfg, Deps{Prompter: &pastePrompter{}, GmailOptions: gmailOpts(srv)})
	if err != nil {
		t.Fatal(err)
	}
	src.Close()
	if src.Account.Email != "me@example.com" {
		t.Fatalf("account = %+v", src.Account)
	}

	tokens, closer, err = OpenTokenStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()
	saved, err := tokens.LoadToken()
	if err != nil {
		t.Fatal(err)
	}
	if saved.AccessToken != "fresh" {
		t.Fatalf("stored token = %q", saved.AccessToken)
	}
}

func TestOpen_GmailRevokedWithoutPrompt(t *testing.T) {
	cfg := testConfig(t)
	srv := fakeGoogle(t, "fresh")
	writeClientSecret(t, cfg.ConfigDir, srv.URL+"/token")
	stale := &oauth2.Token{AccessToken: "revoked", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	if err := credential.NewFileStore(filepath.Join(cfg.ConfigDir, "token.json")).SaveToken(stale); err != nil {
		t.Fatal(err)
	}

	_, err := Open(context.Background(), cfg, Deps{GmailOptions: gmailOpts(srv)})
	if !errors.Is(err, gmail.ErrAuth) {
		t.Fatalf("want ErrAuth, got %v", err)
	}
}

func TestOpen_MissingClientSecret(t *testing.T) {
	cfg := testConfig(t)
	if _, err := Open(context.Background(), cfg, Deps{}); !errors.Is(err, gmail.ErrAuth) {
		t.Fatalf("want ErrAuth, got %v", err)
	}
}

func TestOpen_IMAPNeedsPassword(t *testing.T) {
	cfg := testConfig(t)
	cfg.Provider = "imap"
	cfg.IMAP = config.IMAP{Host: "127.0.0.1", Port: 1, Username: "me", Security: "none"}
	if _, err := Open(context.Background(), cfg, Deps{}); err == nil {
		t.Fatal("expected missing password error")
	}
}

func TestOpenTokenStore(t *testing.T) {
	cfg := testConfig(t)

	s, closer, err := OpenTokenStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*credential.FileStore); !ok || closer != nil {
		t.Fatalf("file store = %T, closer %v", s, closer)
	}

	cfg.TokenStore = "sqlite"
	s, closer, err = OpenTokenStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()
	if _, ok := s.(*store.SQLiteStore); !ok {
		t.Fatalf("sqlite store = %T", s)
	}
	if _, err := os.Stat(filepath.Join(cfg.ConfigDir, "sendertally.db")); err != nil {
		t.Fatal(err)
	}
}
