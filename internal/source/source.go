// Package source turns the configuration into an authenticated
// fetch.Provider and the account it reads.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/charmbracelet/log"
	"google.golang.org/api/option"

	"sendertally/internal/config"
	"sendertally/internal/credential"
	"sendertally/internal/fetch"
	"sendertally/internal/gmail"
	"sendertally/internal/imapsrc"
	"sendertally/internal/model"
	"sendertally/internal/store"
)

// Deps carries what Open needs besides the configuration.
type Deps struct {
	Prompter gmail.Prompter // nil disables interactive consent
	Logger   *log.Logger
	// GmailOptions are appended to the Gmail client options.
	GmailOptions []option.ClientOption
}

// Source is an opened mail provider. Close releases its connection and
// token cache.
type Source struct {
	Provider fetch.Provider
	Account  model.Account
	closers  []io.Closer
}

func (s *Source) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

// Open authenticates and fetches the account profile.
func Open(ctx context.Context, cfg *config.Config, deps Deps) (*Source, error) {
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard)
	}
	switch cfg.Provider {
	case "imap":
		return openIMAP(ctx, cfg, deps)
	default:
		return openGmail(ctx, cfg, deps)
	}
}

func openGmail(ctx context.Context, cfg *config.Config, deps Deps) (*Source, error) {
	src := &Source{}
	tokens, closer, err := OpenTokenStore(cfg)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		src.closers = append(src.closers, closer)
	}

	oauthCfg, err := gmail.LoadOAuthConfig(cfg.ConfigDir)
	if err != nil {
		src.Close()
		return nil, err
	}
	creds := gmail.NewCredentialProvider(ctx, oauthCfg, tokens, deps.Prompter, deps.Logger)
	connect := func() (*gmail.Provider, model.Account, error) {
		svc, err := gmail.NewService(ctx, creds, deps.GmailOptions...)
		if err != nil {
			return nil, model.Account{}, err
		}
		p := gmail.NewProvider(svc, gmail.ProviderOptions{
			Query:            cfg.Query,
			Labels:           cfg.Labels,
			IncludeSpamTrash: cfg.IncludeSpamTrash,
		})
		acct, err := p.Account(ctx)
		return p, acct, err
	}

	p, acct, err := connect()
	if errors.Is(err, gmail.ErrAuth) && creds.Cached() {
		// A revoked grant still looks valid locally until the API rejects it.
		deps.Logger.Warn("cached token rejected, re-authorizing", "err", err)
		if rerr := creds.Reset(); rerr != nil {
			deps.Logger.Warn("could not clear token cache", "err", rerr)
		}
		p, acct, err = connect()
	}
	if err != nil {
		src.Close()
		return nil, err
	}
	src.Provider, src.Account = p, acct
	return src, nil
}

func openIMAP(ctx context.Context, cfg *config.Config, deps Deps) (*Source, error) {
	password, err := imapPassword(cfg, deps.Logger)
	if err != nil {
		return nil, err
	}
	p, err := imapsrc.Open(ctx, imapsrc.Config{
		Host:     cfg.IMAP.Host,
		Port:     cfg.IMAP.Port,
		Username: cfg.IMAP.Username,
		Password: password,
		Security: imapsrc.Security(cfg.IMAP.Security),
		Mailbox:  cfg.IMAP.Mailbox,
	}, deps.Logger)
	if err != nil {
		return nil, err
	}
	acct, err := p.Account(ctx)
	if err != nil {
		p.Close()
		return nil, err
	}
	return &Source{Provider: p, Account: acct, closers: []io.Closer{p}}, nil
}

// imapPassword prefers the configured password. With the keyring token
// store it is saved there, and read back on later runs when unset.
func imapPassword(cfg *config.Config, logger *log.Logger) (string, error) {
	if cfg.TokenStore != "keyring" {
		if cfg.IMAP.Password == "" {
			return "", errors.New("no IMAP password: set SENDERTALLY_IMAP_PASSWORD or use --token-store keyring")
		}
		return cfg.IMAP.Password, nil
	}
	ring, err := credential.OpenKeyring(cfg.ConfigDir)
	if err != nil {
		return "", err
	}
	ks := credential.NewKeyringStore(ring)
	if cfg.IMAP.Password != "" {
		if err := ks.SetPassword(cfg.IMAP.Username, cfg.IMAP.Password); err != nil {
			logger.Warn("could not save IMAP password to keyring", "err", err)
		}
		return cfg.IMAP.Password, nil
	}
	pw, err := ks.Password(cfg.IMAP.Username)
	if err != nil {
		return "", fmt.Errorf("no IMAP password configured and none in keyring: %w", err)
	}
	return pw, nil
}

// OpenTokenStore returns the configured OAuth token cache. The closer is
// nil for stores that hold no open resources.
func OpenTokenStore(cfg *config.Config) (credential.TokenStore, io.Closer, error) {
	switch cfg.TokenStore {
	case "sqlite":
		s, err := store.NewSQLiteStore(filepath.Join(cfg.ConfigDir, "sendertally.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "keyring":
		ring, err := credential.OpenKeyring(cfg.ConfigDir)
		if err != nil {
			return nil, nil, err
		}
		return credential.NewKeyringStore(ring), nil, nil
	default:
		return credential.NewFileStore(filepath.Join(cfg.ConfigDir, "token.json")), nil, nil
	}
}
