package credential

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const (
	serviceName = "sendertally"
	tokenKey    = "gmail-oauth-token"
)

// OpenKeyring opens the system keyring, falling back to an encrypted file
// under dir when no native backend is available.
func OpenKeyring(dir string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dir, "keyring"),
		FilePasswordFunc:         keyring.FixedStringPrompt("sendertally-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// KeyringStore keeps the token and mailbox passwords in a keyring.
type KeyringStore struct {
	ring keyring.Keyring
}

func NewKeyringStore(ring keyring.Keyring) *KeyringStore { return &KeyringStore{ring: ring} }

func (s *KeyringStore) LoadToken() (*oauth2.Token, error) {
	item, err := s.ring.Get(tokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("getting token from keyring: %w", err)
	}
	return unmarshalToken(item.Data)
}

func (s *KeyringStore) SaveToken(tok *oauth2.Token) error {
	b, err := marshalToken(tok)
	if err != nil {
		return err
	}
	if err := s.ring.Set(keyring.Item{Key: tokenKey, Data: b, Label: "sendertally Gmail token"}); err != nil {
		return fmt.Errorf("saving token to keyring: %w", err)
	}
	return nil
}

func (s *KeyringStore) DeleteToken() error {
	if err := s.ring.Remove(tokenKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting token from keyring: %w", err)
	}
	return nil
}

// Password returns the mailbox password stored for user.
func (s *KeyringStore) Password(user string) (string, error) {
	item, err := s.ring.Get("imap:" + user)
	if err != nil {
		return "", fmt.Errorf("getting password for %q: %w", user, err)
	}
	return string(item.Data), nil
}

// SetPassword stores the mailbox password for user.
func (s *KeyringStore) SetPassword(user, password string) error {
	if err := s.ring.Set(keyring.Item{Key: "imap:" + user, Data: []byte(password)}); err != nil {
		return fmt.Errorf("setting password for %q: %w", user, err)
	}
	return nil
}
