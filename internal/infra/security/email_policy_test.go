package security

import "testing"

func TestEmailPolicyFormat(t *testing.T) {
	policy := NewEmailPolicy()

	valid := []string{"jane@ok.com", "JANE.DOE+tag@Example.ORG", "a_b%c@sub.domain.co"}
	for _, email := range valid {
		if !policy.IsValidFormat(email) {
			t.Fatalf("expected %q to be valid", email)
		}
	}

	invalid := []string{"", "   ", "jane", "jane@", "@ok.com", "jane@ok", "jane@ok.c", "jane doe@ok.com"}
	for _, email := range invalid {
		if policy.IsValidFormat(email) {
			t.Fatalf("expected %q to be invalid", email)
		}
	}
}

func TestEmailPolicyDisposable(t *testing.T) {
	policy := NewEmailPolicy("Burner.example ")

	cases := map[string]bool{
		"jane@ok.com":             false,
		"jane@mailinator.com":     true,
		"jane@MAILINATOR.com":     true,
		"jane@inbox.yopmail.com":  true,
		"jane@burner.example":     true,
		"jane@a.b.mailinator.com": false,
		"jane@notmailinator.com":  false,
		"":                        true,
		"no-at-sign":              true,
		"trailing@":               true,
	}

	for email, want := range cases {
		if got := policy.IsDisposable(email); got != want {
			t.Fatalf("IsDisposable(%q) = %v, want %v", email, got, want)
		}
	}
}
