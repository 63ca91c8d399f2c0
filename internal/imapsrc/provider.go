// Package imapsrc lists sender headers from any IMAP mailbox. The mailbox is
// opened read-only and only the From header is fetched, with PEEK so no
// \Seen flags change.
package imapsrc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/textproto"

	"sendertally/internal/fetch"
	"sendertally/internal/model"
)

// ErrAuth is returned when the server rejects the login.
var ErrAuth = errors.New("imap authentication failed")

// Security selects how the connection is protected.
type Security string

const (
	SecurityTLS      Security = "tls"
	SecurityStartTLS Security = "starttls"
	SecurityNone     Security = "none"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Security Security
	Mailbox  string
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Provider implements fetch.Provider over one IMAP connection. Message IDs
// are UIDs; the cursor is an offset into the UID list taken at Open.
type Provider struct {
	cfg    Config
	logger *log.Logger

	mu     sync.Mutex // guards client
	client *imapclient.Client
	uids   []imap.UID // newest first
}

var _ fetch.Provider = (*Provider)(nil)

var fromSection = &imap.FetchItemBodySection{
	Specifier:    imap.PartSpecifierHeader,
	HeaderFields: []string{"From"},
	Peek:         true,
}

// Open connects, logs in, examines the mailbox and snapshots its UIDs.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (*Provider, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}

	var (
		client *imapclient.Client
		err    error
	)
	switch cfg.Security {
	case SecurityStartTLS:
		client, err = imapclient.DialStartTLS(cfg.addr(), nil)
	case SecurityNone:
		client, err = imapclient.DialInsecure(cfg.addr(), nil)
	default:
		client, err = imapclient.DialTLS(cfg.addr(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", cfg.addr(), err)
	}

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w for %s: %v", ErrAuth, cfg.Username, err)
	}

	p := &Provider{cfg: cfg, logger: logger, client: client}
	if err := p.snapshot(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Provider) snapshot(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sel, err := p.client.Select(p.cfg.Mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return fmt.Errorf("examining %s: %w", p.cfg.Mailbox, err)
	}
	data, err := p.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return fmt.Errorf("searching %s: %w", p.cfg.Mailbox, err)
	}
	uids := data.AllUIDs()
	slices.Reverse(uids)
	p.uids = uids
	p.logger.Debug("mailbox examined", "mailbox", p.cfg.Mailbox, "exists", sel.NumMessages, "uids", len(uids))
	return nil
}

// Account reports the login name and the number of messages in the mailbox.
func (p *Provider) Account(context.Context) (model.Account, error) {
	return model.Account{Email: p.cfg.Username, MessagesTotal: len(p.uids)}, nil
}

func (p *Provider) ListPage(ctx context.Context, cursor string, pageSize int) (fetch.Page, error) {
	if err := ctx.Err(); err != nil {
		return fetch.Page{}, err
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(p.uids) {
			return fetch.Page{}, fmt.Errorf("invalid cursor %q", cursor)
		}
		start = n
	}
	end := min(start+pageSize, len(p.uids))

	page := fetch.Page{IDs: make([]string, 0, end-start), Estimate: len(p.uids)}
	for _, uid := range p.uids[start:end] {
		page.IDs = append(page.IDs, strconv.FormatUint(uint64(uid), 10))
	}
	if end < len(p.uids) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (p *Provider) GetMetadata(ctx context.Context, id string) (model.MessageMeta, error) {
	if err := ctx.Err(); err != nil {
		return model.MessageMeta{}, err
	}
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return model.MessageMeta{}, fmt.Errorf("invalid message id %q", id)
	}

	p.mu.Lock()
	bufs, err := p.client.Fetch(imap.UIDSetNum(imap.UID(n)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{fromSection},
	}).Collect()
	p.mu.Unlock()
	if err != nil {
		return model.MessageMeta{}, classify(fmt.Errorf("fetching UID %s: %w", id, err))
	}
	if len(bufs) == 0 {
		return model.MessageMeta{}, fmt.Errorf("message UID %s not found", id)
	}

	headers, err := parseHeaders(bufs[0].FindBodySection(fromSection))
	if err != nil {
		return model.MessageMeta{}, fmt.Errorf("parsing headers of UID %s: %w", id, err)
	}
	return model.MessageMeta{ID: id, Headers: headers}, nil
}

// Close logs out and closes the connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.client.Logout().Wait(); err != nil {
		p.logger.Debug("imap logout", "err", err)
	}
	return p.client.Close()
}

func parseHeaders(raw []byte) ([]model.Header, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, err
	}
	var out []model.Header
	fields := h.Fields()
	for fields.Next() {
		out = append(out, model.Header{Name: fields.Key(), Value: fields.Value()})
	}
	return out, nil
}

// classify marks timeouts as transient. Server NO/BAD replies are final.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fetch.Transient(err)
	}
	return err
}
