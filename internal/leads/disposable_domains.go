package leads

import "strings"

// disposableDomains lists throwaway email providers that never convert and
// pollute the CRM. Matching covers the domain itself and any subdomain.
var disposableDomains = map[string]struct{}{
	"10minutemail.com":  {},
	"33mail.com":        {},
	"anonbox.net":       {},
	"burnermail.io":     {},
	"dispostable.com":   {},
	"emailondeck.com":   {},
	"fakeinbox.com":     {},
	"getnada.com":       {},
	"guerrillamail.com": {},
	"guerrillamail.org": {},
	"inboxkitten.com":   {},
	"maildrop.cc":       {},
	"mailinator.com":    {},
	"mailnesia.com":     {},
	"mintemail.com":     {},
	"mohmal.com":        {},
	"mytemp.email":      {},
	"sharklasers.com":   {},
	"spamgourmet.com":   {},
	"temp-mail.org":     {},
	"tempail.com":       {},
	"tempmail.com":      {},
	"tempmailo.com":     {},
	"throwawaymail.com": {},
	"trashmail.com":     {},
	"yopmail.com":       {},
	"yopmail.fr":        {},
}

// IsDisposableDomain reports whether the domain belongs to a known
// disposable email provider.
func IsDisposableDomain(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	if _, ok := disposableDomains[domain]; ok {
		return true
	}
	for known := range disposableDomains {
		if strings.HasSuffix(domain, "."+known) {
			return true
		}
	}
	return false
}
