package util

import (
	"errors"
	"testing"

	"sendertally/internal/model"
)

func TestNormalizeSender_Basic(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`Jane Doe <jane@example.com>`, "jane@example.com"},
		{`jane@example.com`, "jane@example.com"},
		{`Name <User@Example.COM>`, "user@example.com"},
		{`"Name" <user+news@Example.com>`, "user+news@example.com"}, // alias kept by default
		{`  user.name@example.com  `, "user.name@example.com"},
		{`bad address`, "bad address"}, // unparsable: whole trimmed value
		{`Broken <weird address>`, "weird address"},
		{`"A" <not-an-email> , "B" <c@D.com>`, "c@d.com"}, // list fallback picks first valid
		{`<>`, ""},
		{``, ""},
		{`   `, ""},
	}
	for _, tc := range tests {
		if got := NormalizeSender(tc.in); got != tc.want {
			t.Errorf("NormalizeSender(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseFrom_DisplayName(t *testing.T) {
	tests := []struct {
		in, addr, name string
	}{
		{`Jane Doe <jane@example.com>`, "jane@example.com", "Jane Doe"},
		{`"Doe, Jane" <jane@example.com>`, "jane@example.com", "Doe, Jane"},
		{`=?UTF-8?B?SsOpcsO0bWU=?= <j@example.com>`, "j@example.com", "Jérôme"},
		{`'Quoted' <weird address>`, "weird address", "Quoted"},
		{`jane@example.com`, "jane@example.com", ""},
	}
	for _, tc := range tests {
		addr, name := ParseFrom(tc.in)
		if addr != tc.addr || name != tc.name {
			t.Errorf("ParseFrom(%q) = %q, %q; want %q, %q", tc.in, addr, name, tc.addr, tc.name)
		}
	}
}

func meta(from ...string) model.MessageMeta {
	m := model.MessageMeta{ID: "x"}
	for _, f := range from {
		m.Headers = append(m.Headers, model.Header{Name: "From", Value: f})
	}
	return m
}

func TestExtractor_Extract(t *testing.T) {
	var e Extractor

	got, err := e.Extract(meta("Jane Doe <Jane@Example.com>"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Address != "jane@example.com" || got.DisplayName != "Jane Doe" {
		t.Fatalf("got %+v", got)
	}

	if _, err := e.Extract(meta()); !errors.Is(err, ErrNoSender) {
		t.Fatalf("missing header: want ErrNoSender, got %v", err)
	}
	if _, err := e.Extract(meta("")); !errors.Is(err, ErrNoSender) {
		t.Fatalf("empty header: want ErrNoSender, got %v", err)
	}

	// Header names are matched case-insensitively.
	lower := model.MessageMeta{Headers: []model.Header{{Name: "from", Value: "a@b.com"}}}
	if got, err := e.Extract(lower); err != nil || got.Address != "a@b.com" {
		t.Fatalf("lowercase header: got %+v, %v", got, err)
	}
}

func TestExtractor_StripPlusAlias(t *testing.T) {
	e := Extractor{StripPlusAlias: true}
	got, err := e.Extract(meta(`"Shop" <user+news@Example.com>`))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Address != "user@example.com" {
		t.Fatalf("got %q", got.Address)
	}
}

func TestExtractor_Idempotent(t *testing.T) {
	var e Extractor
	inputs := []string{"Jane Doe <JANE@example.com>", "jane@example.com", "bad address", `"A" <x>, b@c.d`}
	for _, in := range inputs {
		first, err1 := e.Extract(meta(in))
		for i := 0; i < 3; i++ {
			again, err2 := e.Extract(meta(in))
			if again != first || err1 != err2 {
				t.Fatalf("Extract(%q) not stable: %+v/%v vs %+v/%v", in, first, err1, again, err2)
			}
		}
	}
}

func TestDomain(t *testing.T) {
	tests := map[string]string{
		"a@example.com": "example.com",
		"a@b@c.org":     "c.org",
		"nodomain":      "",
		"trailing@":     "",
	}
	for in, want := range tests {
		if got := Domain(in); got != want {
			t.Errorf("Domain(%q) = %q; want %q", in, got, want)
		}
	}
}
