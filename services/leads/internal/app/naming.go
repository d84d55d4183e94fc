package app

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ExportName derives a readable export name from the company URL, using the
// registrable domain when one can be found ("https://app.acme.co.uk/x" ->
// "acme.co.uk leads").
func ExportName(companyURL string) string {
	host := hostOf(companyURL)
	if host == "" {
		name := strings.TrimSpace(companyURL)
		if name == "" {
			return "Leads"
		}
		return name + " leads"
	}
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		host = domain
	}
	return host + " leads"
}

func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
