package util

import (
	"errors"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"sendertally/internal/model"
)

// ErrNoSender is returned when a message has no usable From header.
var ErrNoSender = errors.New("no sender in From header")

// Extractor turns message metadata into a normalized Sender.
type Extractor struct {
	// StripPlusAlias folds user+tag@x.com into user@x.com.
	StripPlusAlias bool
}

// Extract returns the sender of meta, or ErrNoSender when the From header is
// missing or blank. The result depends only on the header value.
func (e Extractor) Extract(meta model.MessageMeta) (model.Sender, error) {
	from, ok := meta.Header("From")
	if !ok {
		return model.Sender{}, ErrNoSender
	}
	addr, name := ParseFrom(from)
	if addr == "" {
		return model.Sender{}, ErrNoSender
	}
	addr = strings.ToLower(addr)
	if e.StripPlusAlias {
		addr = StripPlusAlias(addr)
	}
	return model.Sender{Address: addr, DisplayName: name}, nil
}

// NormalizeSender extracts the lower-cased address from a From header value.
// It returns an empty string for blank input.
//   - "Name <User@Example.COM>" -> "user@example.com"
//   - "user@example.com"        -> "user@example.com"
//   - anything unparsable       -> the trimmed, lower-cased value
func NormalizeSender(fromHeader string) string {
	addr, _ := ParseFrom(fromHeader)
	return strings.ToLower(addr)
}

// ParseFrom splits a From header into address and display name. Encoded
// words in the display name are decoded.
func ParseFrom(fromHeader string) (addr, name string) {
	v := strings.TrimSpace(fromHeader)
	if v == "" {
		return "", ""
	}
	if a, err := mail.ParseAddress(v); err == nil && a != nil && a.Address != "" {
		return a.Address, strings.TrimSpace(a.Name)
	}

	// Some headers are lists; take the first element that parses.
	if strings.Contains(v, ",") {
		for _, p := range strings.Split(v, ",") {
			a, err := mail.ParseAddress(strings.TrimSpace(p))
			if err == nil && a != nil && a.Address != "" {
				return a.Address, strings.TrimSpace(a.Name)
			}
		}
	}

	// Not RFC 5322, but may still be "Display Name <address>". A null
	// reverse-path "<>" has no sender.
	if lt := strings.IndexByte(v, '<'); lt > -1 {
		if gt := strings.IndexByte(v[lt:], '>'); gt > 0 {
			inner := strings.TrimSpace(v[lt+1 : lt+gt])
			if inner == "" {
				return "", ""
			}
			return inner, strings.Trim(strings.TrimSpace(v[:lt]), `"'`)
		}
	}
	return v, ""
}

// StripPlusAlias removes a +tag from the local part: user+news@x.com -> user@x.com.
// Dots are kept; only some providers ignore them.
func StripPlusAlias(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		return addr
	}
	local, domain := addr[:at], addr[at+1:]
	if plus := strings.IndexByte(local, '+'); plus > 0 {
		local = local[:plus]
	}
	return local + "@" + domain
}

// Domain returns the part after the last '@', or "" if there is none.
func Domain(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return addr[at+1:]
}
