package gmail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"google.golang.org/api/googleapi"
	gmailv1 "google.golang.org/api/gmail/v1"

	"sendertally/internal/fetch"
	"sendertally/internal/model"
)

// ProviderOptions narrows which messages are listed.
type ProviderOptions struct {
	Query            string   // Gmail search query, e.g. "newer_than:1y"
	Labels           []string // label IDs, e.g. INBOX
	IncludeSpamTrash bool
}

// Provider lists and reads message metadata through the Gmail API. It never
// modifies the mailbox.
type Provider struct {
	svc  *gmailv1.Service
	user string
	opts ProviderOptions
}

var _ fetch.Provider = (*Provider)(nil)

func NewProvider(svc *gmailv1.Service, opts ProviderOptions) *Provider {
	return &Provider{svc: svc, user: "me", opts: opts}
}

// Account returns the authenticated address and Gmail's message total.
func (p *Provider) Account(ctx context.Context) (model.Account, error) {
	prof, err := p.svc.Users.GetProfile(p.user).Context(ctx).Do()
	if err != nil {
		return model.Account{}, classify(fmt.Errorf("get profile: %w", err))
	}
	return model.Account{Email: prof.EmailAddress, MessagesTotal: int(prof.MessagesTotal)}, nil
}

func (p *Provider) ListPage(ctx context.Context, cursor string, pageSize int) (fetch.Page, error) {
	call := p.svc.Users.Messages.List(p.user).
		IncludeSpamTrash(p.opts.IncludeSpamTrash).
		MaxResults(int64(pageSize)).
		Fields("messages/id", "nextPageToken", "resultSizeEstimate").
		Context(ctx)
	if p.opts.Query != "" {
		call = call.Q(p.opts.Query)
	}
	if len(p.opts.Labels) > 0 {
		call = call.LabelIds(p.opts.Labels...)
	}
	if cursor != "" {
		call = call.PageToken(cursor)
	}
	resp, err := call.Do()
	if err != nil {
		return fetch.Page{}, classify(fmt.Errorf("list messages: %w", err))
	}

	page := fetch.Page{
		IDs:        make([]string, 0, len(resp.Messages)),
		NextCursor: resp.NextPageToken,
		Estimate:   int(resp.ResultSizeEstimate),
	}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, m.Id)
	}
	return page, nil
}

func (p *Provider) GetMetadata(ctx context.Context, id string) (model.MessageMeta, error) {
	msg, err := p.svc.Users.Messages.Get(p.user, id).
		Format("metadata").
		MetadataHeaders("From").
		Fields("id", "payload/headers").
		Context(ctx).
		Do()
	if err != nil {
		return model.MessageMeta{}, classify(fmt.Errorf("get message %s: %w", id, err))
	}
	meta := model.MessageMeta{ID: id}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			meta.Headers = append(meta.Headers, model.Header{Name: h.Name, Value: h.Value})
		}
	}
	return meta, nil
}

// classify marks rate limiting, server errors and dropped connections as
// transient and 401 as an authentication failure.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
			return fetch.Transient(err)
		case apiErr.Code == http.StatusForbidden && hasReason(apiErr, "rateLimitExceeded", "userRateLimitExceeded"):
			return fetch.Transient(err)
		case apiErr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%w: %w", ErrAuth, err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fetch.Transient(err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return fetch.Transient(err)
	}
	return err
}

func hasReason(e *googleapi.Error, reasons ...string) bool {
	for _, item := range e.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}
