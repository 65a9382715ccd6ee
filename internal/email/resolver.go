package email

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// IMAP hosts of common providers, keyed by address domain
var knownIMAPServers = map[string]string{
	"gmail.com":      "imap.gmail.com:993",
	"googlemail.com": "imap.gmail.com:993",
	"outlook.com":    "outlook.office365.com:993",
	"hotmail.com":    "outlook.office365.com:993",
	"live.com":       "outlook.office365.com:993",
	"yahoo.com":      "imap.mail.yahoo.com:993",
	"icloud.com":     "imap.mail.me.com:993",
	"me.com":         "imap.mail.me.com:993",
	"aol.com":        "imap.aol.com:993",
	"zoho.com":       "imap.zoho.com:993",
	"fastmail.com":   "imap.fastmail.com:993",
	"gmx.com":        "imap.gmx.com:993",
	"yandex.com":     "imap.yandex.com:993",
}

// Resolver guesses the IMAP server of an address
type Resolver struct {
	reachable func(ctx context.Context, hostport string) bool
	lookupMX  func(ctx context.Context, domain string) ([]*net.MX, error)
}

// NewResolver creates a resolver that checks hosts over TCP
func NewResolver() *Resolver {
	return &Resolver{
		reachable: func(ctx context.Context, hostport string) bool {
			d := net.Dialer{Timeout: 3 * time.Second}
			conn, err := d.DialContext(ctx, "tcp", hostport)
			if err != nil {
				return false
			}
			conn.Close()
			return true
		},
		lookupMX: net.DefaultResolver.LookupMX,
	}
}

// Resolve returns host:port for address. Known providers win, then the
// imap./mail. subdomains, then hosts derived from the primary MX record.
func (r *Resolver) Resolve(ctx context.Context, address string) (string, error) {
	at := strings.LastIndexByte(address, '@')
	if at <= 0 || at == len(address)-1 {
		return "", fmt.Errorf("invalid email format")
	}
	domain := strings.ToLower(address[at+1:])

	if server, ok := knownIMAPServers[domain]; ok {
		return server, nil
	}

	candidates := []string{"imap." + domain, "mail." + domain}
	if mx, err := r.lookupMX(ctx, domain); err == nil && len(mx) > 0 {
		host := strings.TrimSuffix(mx[0].Host, ".")
		if _, base, ok := strings.Cut(host, "."); ok {
			candidates = append(candidates, "imap."+base, "mail."+base)
		}
	}

	for _, host := range candidates {
		if r.reachable(ctx, host+":993") {
			return host + ":993", nil
		}
	}
	return "imap." + domain + ":993", nil
}
