package security

import (
	"regexp"
	"strings"

	"github.com/arklim/patient-portal-iam/internal/core/port"
)

var emailFormat = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}$`)

// DefaultDisposableDomains lists throwaway mail providers refused at registration.
var DefaultDisposableDomains = []string{
	"mailinator.com",
	"trashmail.com",
	"tempmail.com",
	"tempmail.org",
	"10minutemail.com",
	"guerrillamail.com",
	"maildrop.cc",
	"dispostable.com",
	"yopmail.com",
}

// EmailPolicy checks address syntax and rejects disposable providers.
type EmailPolicy struct {
	disposable map[string]struct{}
}

// NewEmailPolicy combines the default blacklist with extra domains.
func NewEmailPolicy(extra ...string) *EmailPolicy {
	set := make(map[string]struct{}, len(DefaultDisposableDomains)+len(extra))
	for _, list := range [][]string{DefaultDisposableDomains, extra} {
		for _, d := range list {
			d = strings.ToLower(strings.TrimSpace(d))
			if d != "" {
				set[d] = struct{}{}
			}
		}
	}
	return &EmailPolicy{disposable: set}
}

func (p *EmailPolicy) IsValidFormat(email string) bool {
	email = strings.TrimSpace(email)
	return email != "" && emailFormat.MatchString(email)
}

// IsDisposable matches the domain and its parent domain (first label
// stripped) so subdomains of a listed provider are caught. Addresses without
// a domain are reported as disposable.
func (p *EmailPolicy) IsDisposable(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return true
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	if domain == "" {
		return true
	}
	if _, found := p.disposable[domain]; found {
		return true
	}
	if _, base, ok := strings.Cut(domain, "."); ok {
		if _, found := p.disposable[base]; found {
			return true
		}
	}
	return false
}

var _ port.EmailPolicy = (*EmailPolicy)(nil)
