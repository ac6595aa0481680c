package logger

import (
	"context"
	"testing"
)

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"":                     "",
		"john.doe@example.com": "joh***@example.com",
		"jo@ok.com":            "jo***@ok.com",
		"no-at-sign":           "***",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskIP(t *testing.T) {
	cases := map[string]string{
		"192.168.1.100":                   "192.168.*.*",
		"2001:db8:85a3:0:0:8a2e:370:7334": "2001:db8:85a3:0:*:*:*:*",
		"not-an-ip":                       "***",
		"":                                "",
	}
	for in, want := range cases {
		if got := MaskIP(in); got != want {
			t.Fatalf("MaskIP(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskPhone(t *testing.T) {
	if got := MaskPhone("+1 (555) 123-4567"); got != "***4567" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskPhone("12"); got != "***" {
		t.Fatalf("short numbers must be fully masked, got %q", got)
	}
}

func TestWithContextAddsRequestID(t *testing.T) {
	ctx := context.WithValue(context.Background(), RequestIDKey{}, "req-1")
	if WithContext(ctx) == nil {
		t.Fatalf("expected logger")
	}
	if WithContext(context.Background()) == nil {
		t.Fatalf("expected logger without request id")
	}
}
