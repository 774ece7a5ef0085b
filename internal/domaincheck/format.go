package domaincheck

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/publicsuffix"
)

const (
	maxDomainLength = 253
	maxLabelLength  = 63
)

// Format errors returned by CheckFormat.
var (
	ErrEmpty         = errors.New("empty domain")
	ErrMissingDot    = errors.New("missing dot")
	ErrTooLong       = errors.New("domain longer than 253 characters")
	ErrInvalidChars  = errors.New("domain contains characters outside [a-z0-9.-]")
	ErrEmptyLabel    = errors.New("empty label")
	ErrLabelTooLong  = errors.New("label longer than 63 characters")
	ErrLabelHyphen   = errors.New("label starts or ends with a hyphen")
	ErrUnknownSuffix = errors.New("unknown or invalid TLD")
	ErrNoRegistrable = errors.New("missing domain name")
)

// Parts is a hostname split on public-suffix boundaries.
type Parts struct {
	Subdomain string // e.g. "shop.eu" for shop.eu.example.co.uk
	Domain    string // e.g. "example"
	Suffix    string // e.g. "co.uk"
}

// Registrable returns the domain plus its public suffix.
func (p Parts) Registrable() string {
	return p.Domain + "." + p.Suffix
}

// Labels returns the subdomain labels followed by the domain label.
func (p Parts) Labels() []string {
	var labels []string
	if p.Subdomain != "" {
		labels = strings.Split(p.Subdomain, ".")
	}
	return append(labels, p.Domain)
}

// Normalize reduces a user-supplied domain or URL to a bare lowercase
// hostname: scheme, "www." prefix, path, query, fragment and the trailing
// root dot are removed.
func Normalize(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(d, "://"); i != -1 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i != -1 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	d = strings.TrimSuffix(d, ".")
	return d
}

// CheckFormat validates the syntax of a normalized hostname and splits it
// into its public-suffix aware parts. No network access is performed.
func CheckFormat(host string) (Parts, error) {
	if host == "" {
		return Parts{}, ErrEmpty
	}
	if !strings.Contains(host, ".") {
		return Parts{}, ErrMissingDot
	}
	if len(host) > maxDomainLength {
		return Parts{}, ErrTooLong
	}
	for i := 0; i < len(host); i++ {
		c := host[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '.' || c == '-') {
			return Parts{}, ErrInvalidChars
		}
	}
	for _, label := range strings.Split(host, ".") {
		switch {
		case label == "":
			return Parts{}, ErrEmptyLabel
		case len(label) > maxLabelLength:
			return Parts{}, fmt.Errorf("%w: %q", ErrLabelTooLong, label[:16]+"...")
		case strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-"):
			return Parts{}, fmt.Errorf("%w: %q", ErrLabelHyphen, label)
		}
	}
	return Split(strings.ToLower(host))
}

// Split divides a hostname into subdomain, domain and public suffix using
// the public suffix list, so multi-label suffixes such as co.uk are kept
// whole.
func Split(host string) (Parts, error) {
	suffix, icann := publicsuffix.PublicSuffix(host)
	// Names under an unlisted TLD fall through to the list's implicit "*"
	// rule, which yields a single-label, non-ICANN suffix.
	if suffix == "" || (!icann && !strings.Contains(suffix, ".")) {
		return Parts{}, ErrUnknownSuffix
	}
	if host == suffix {
		return Parts{}, ErrNoRegistrable
	}

	rest := strings.TrimSuffix(host, "."+suffix)
	p := Parts{Suffix: suffix, Domain: rest}
	if i := strings.LastIndex(rest, "."); i != -1 {
		p.Subdomain = rest[:i]
		p.Domain = rest[i+1:]
	}
	if p.Domain == "" {
		return Parts{}, ErrNoRegistrable
	}
	return p, nil
}
