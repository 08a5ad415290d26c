// Package syntax performs the cheapest possible rejection of an
// address before any network calls: a structural regex check and
// domain extraction with IDN folding.
package syntax

import (
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var addressPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// Valid reports whether address has the shape local@domain.tld.
func Valid(address string) bool {
	return addressPattern.MatchString(strings.TrimSpace(address))
}

// ExtractDomain returns the ASCII/punycode form of address's domain
// part, folding any internationalized domain name per IDNA. It
// returns ok=false if address has no '@' or the domain cannot be
// folded to ASCII.
func ExtractDomain(address string) (domain string, ok bool) {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return "", false
	}
	raw := strings.ToLower(strings.TrimSpace(address[at+1:]))
	if raw == "" {
		return "", false
	}
	ascii, err := idna.ToASCII(raw)
	if err != nil {
		return "", false
	}
	return ascii, true
}
