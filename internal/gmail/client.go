package gmail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"sendertally/internal/credential"
)

// ErrAuth marks failures to obtain or use credentials. They are fatal.
var ErrAuth = errors.New("gmail authentication failed")

const authTimeout = 5 * time.Minute

// LoadOAuthConfig reads the OAuth client at <configDir>/client_secret.json.
// Only the read-only Gmail scope is requested.
func LoadOAuthConfig(configDir string) (*oauth2.Config, error) {
	credPath := filepath.Join(configDir, "client_secret.json")
	b, err := os.ReadFile(credPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: no OAuth client at %s (download it from the Google Cloud console)", ErrAuth, credPath)
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials at %s: %w", credPath, err)
	}
	cfg, err := google.ConfigFromJSON(b, gmailv1.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth config: %w", err)
	}
	return cfg, nil
}

// Prompter shows the consent URL to the user and collects a pasted
// authorization code (or the full redirect URL) as a fallback to the
// loopback redirect.
type Prompter interface {
	AuthURL(authURL string)
	ReadCode(ctx context.Context) (string, error)
}

// CredentialProvider is an oauth2.TokenSource that loads the cached token,
// refreshes it when it expires and falls back to the browser consent flow.
// Every new or refreshed token is written back to the store.
type CredentialProvider struct {
	ctx    context.Context
	cfg    *oauth2.Config
	store  credential.TokenStore
	prompt Prompter
	logger *log.Logger

	mu     sync.Mutex
	tok    *oauth2.Token
	cached bool // tok came from the store rather than a fresh consent
}

// NewCredentialProvider returns a provider using ctx for refreshes and token
// exchange. prompt may be nil, in which case a missing or revoked token is an error.
func NewCredentialProvider(ctx context.Context, cfg *oauth2.Config, store credential.TokenStore, prompt Prompter, logger *log.Logger) *CredentialProvider {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &CredentialProvider{ctx: ctx, cfg: cfg, store: store, prompt: prompt, logger: logger}
}

// Token implements oauth2.TokenSource.
func (p *CredentialProvider) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tok.Valid() {
		return p.tok, nil
	}
	if p.tok == nil {
		tok, err := p.store.LoadToken()
		switch {
		case errors.Is(err, credential.ErrNoToken):
		case err != nil:
			p.logger.Warn("ignoring unreadable token cache", "err", err)
		default:
			p.tok, p.cached = tok, true
			if tok.Valid() {
				return tok, nil
			}
		}
	}

	if p.tok != nil && p.tok.RefreshToken != "" {
		tok, err := p.cfg.TokenSource(p.ctx, p.tok).Token()
		if err == nil {
			p.logger.Debug("refreshed access token", "expiry", tok.Expiry)
			p.save(tok)
			return tok, nil
		}
		p.logger.Warn("token refresh failed, re-authorizing", "err", err)
	}

	if p.prompt == nil {
		return nil, fmt.Errorf("%w: no valid cached token and no interactive prompt", ErrAuth)
	}
	tok, err := p.authorize(p.ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	p.save(tok)
	p.cached = false
	return tok, nil
}

// Cached reports whether the current token was loaded from the store.
func (p *CredentialProvider) Cached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached
}

// Reset forgets the current token and removes it from the store, so the
// next Token call runs the consent flow.
func (p *CredentialProvider) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tok, p.cached = nil, false
	return p.store.DeleteToken()
}

func (p *CredentialProvider) save(tok *oauth2.Token) {
	p.tok = tok
	if err := p.store.SaveToken(tok); err != nil {
		// The run can continue with the in-memory token.
		p.logger.Warn("could not persist token", "err", err)
	}
}

// authorize runs the consent flow. A loopback server on a random localhost
// port captures the redirect; the prompter can supply the code instead.
func (p *CredentialProvider) authorize(ctx context.Context) (*oauth2.Token, error) {
	cfg := *p.cfg
	state := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	codes := make(chan string, 1)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		p.logger.Warn("loopback listener unavailable, paste the code instead", "err", err)
	} else {
		cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/", ln.Addr().(*net.TCPAddr).Port)
		srv := &http.Server{
			ReadHeaderTimeout: 5 * time.Second,
			Handler:           loopbackHandler(state, codes),
		}
		go func() { _ = srv.Serve(ln) }()
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	p.prompt.AuthURL(cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))

	type pasted struct {
		input string
		err   error
	}
	pastes := make(chan pasted, 1)
	go func() {
		in, err := p.prompt.ReadCode(ctx)
		pastes <- pasted{in, err}
	}()

	var code string
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for authorization: %w", ctx.Err())
	case code = <-codes:
	case r := <-pastes:
		if r.err != nil {
			return nil, fmt.Errorf("read auth code: %w", r.err)
		}
		if code, err = codeFromInput(r.input, state); err != nil {
			return nil, err
		}
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	p.logger.Info("authorization complete")
	return tok, nil
}

func loopbackHandler(state string, codes chan<- string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			http.Error(w, "Authorization failed: "+e, http.StatusBadRequest)
			return
		}
		if q.Get("state") != state {
			http.Error(w, "State mismatch", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Missing 'code' parameter", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authentication complete. You can close this window.")
		select {
		case codes <- code:
		default:
		}
	})
}

// codeFromInput accepts either the bare authorization code or the full
// redirect URL copied from the browser.
func codeFromInput(input, state string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty authorization code")
	}
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse redirect URL: %w", err)
	}
	q := u.Query()
	if s := q.Get("state"); s != "" && s != state {
		return "", errors.New("state mismatch in pasted URL")
	}
	code := q.Get("code")
	if code == "" {
		return "", errors.New("no 'code' parameter found in pasted URL")
	}
	return code, nil
}

// TerminalPrompter prints the consent URL and reads a pasted code from In.
// When Open is set it is tried first, e.g. with OpenBrowser.
type TerminalPrompter struct {
	In   io.Reader
	Out  io.Writer
	Open func(url string) error
}

func (t TerminalPrompter) AuthURL(authURL string) {
	if t.Open != nil {
		if err := t.Open(authURL); err == nil {
			fmt.Fprintln(t.Out, "Opened your browser for authorization. If nothing appeared, use the URL below.")
		}
	}
	fmt.Fprintln(t.Out, "Open this URL in your browser to authorize sendertally (read-only access):")
	fmt.Fprintln(t.Out, authURL)
	fmt.Fprintln(t.Out, "")
	fmt.Fprintln(t.Out, "Waiting for the browser redirect. If it cannot reach this machine, paste the")
	fmt.Fprintln(t.Out, "AUTH CODE or the FULL redirect URL here and press Enter.")
	fmt.Fprint(t.Out, "> ")
}

func (t TerminalPrompter) ReadCode(ctx context.Context) (string, error) {
	sc := bufio.NewScanner(t.In)
	sc.Buffer(make([]byte, 0, 1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		// Stdin closed: keep waiting for the loopback redirect.
		<-ctx.Done()
		return "", ctx.Err()
	}
	return sc.Text(), nil
}

// NewService builds a Gmail client authenticated by ts.
func NewService(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*gmailv1.Service, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	svc, err := gmailv1.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}
