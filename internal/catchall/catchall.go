// Package catchall probes whether a domain's mail server accepts any
// recipient, by attempting delivery to two independent synthetic
// local-parts within one session and requiring both to be accepted.
package catchall

import (
	"crypto/rand"
	"math/big"

	"mailprobe/internal/verdict"
)

const tokenLength = 15
const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Checker runs one confirmation-pass catch-all probe against domain
// through host:port and reports whether both synthetic recipients
// were accepted. internal/smtpsession.CheckCatchAll, partially applied
// over a context, Config and port, satisfies this.
type Checker func(host, domain, firstToken, secondToken string) (bool, verdict.SessionOutcome)

// Probe generates two independent random local-parts and reports
// whether check confirms domain is catch-all on host. A domain that
// accepts one synthetic address but rejects the other is not treated
// as catch-all, guarding against a single flaky accept.
func Probe(check Checker, host, domain string) (bool, verdict.SessionOutcome) {
	return check(host, domain, randomToken(), randomToken())
}

func randomToken() string {
	b := make([]byte, tokenLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			b[i] = charset[0]
			continue
		}
		b[i] = charset[n.Int64()]
	}
	return string(b)
}
