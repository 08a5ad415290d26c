// Package mxresolve resolves a domain's mail exchangers, falling back
// to A records when no MX record exists, and caches lookups with a
// single-flight guard so a burst of probes against one domain issues
// only one DNS round trip.
package mxresolve

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"mailprobe/internal/errtag"
)

// MxCandidate is one mail-exchanger host, preference-sorted.
type MxCandidate struct {
	Host       string
	Preference int
}

// resolver is the subset of *net.Resolver this package depends on,
// injectable for tests.
type resolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
	LookupHost(ctx context.Context, domain string) ([]string, error)
}

type netResolver struct{ r *net.Resolver }

func (n netResolver) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	return n.r.LookupMX(ctx, domain)
}

func (n netResolver) LookupHost(ctx context.Context, domain string) ([]string, error) {
	return n.r.LookupHost(ctx, domain)
}

type entry struct {
	candidates []MxCandidate
	err        error
	expires    time.Time
	done       chan struct{}
}

// Cache is a thread-safe, TTL-bounded, single-flight MX resolver.
type Cache struct {
	mu            sync.Mutex
	entries       map[string]*entry
	resolver      resolver
	lookupTimeout time.Duration
	ttl           time.Duration
}

// New creates a resolver cache using the standard library resolver.
func New(lookupTimeout, ttl time.Duration) *Cache {
	return &Cache{
		entries:       make(map[string]*entry),
		resolver:      netResolver{r: &net.Resolver{}},
		lookupTimeout: lookupTimeout,
		ttl:           ttl,
	}
}

// NewWithResolver overrides the resolver implementation, for tests.
func NewWithResolver(lookupTimeout, ttl time.Duration, r resolver) *Cache {
	c := New(lookupTimeout, ttl)
	c.resolver = r
	return c
}

// ResolveMX returns the preference-sorted MX candidates for domain,
// falling back to A/AAAA records when no MX record exists. An empty,
// non-error slice means the domain genuinely advertises no mail
// exchanger, including a not-found answer to both the MX and the
// fallback lookup. A non-nil error wraps errtag.ErrResolve and means
// the lookup itself failed (timeout, server failure, refused, ...).
func (c *Cache) ResolveMX(ctx context.Context, domain string) ([]MxCandidate, error) {
	domain = strings.ToLower(domain)

	c.mu.Lock()
	if e, ok := c.entries[domain]; ok {
		select {
		case <-e.done:
			if time.Now().Before(e.expires) {
				c.mu.Unlock()
				return copyCandidates(e.candidates), e.err
			}
		default:
			c.mu.Unlock()
			<-e.done
			return copyCandidates(e.candidates), e.err
		}
	}

	e := &entry{done: make(chan struct{})}
	c.entries[domain] = e
	c.mu.Unlock()

	e.candidates, e.err = c.lookup(ctx, domain)
	e.expires = time.Now().Add(c.ttl)
	close(e.done)

	return copyCandidates(e.candidates), e.err
}

func (c *Cache) lookup(ctx context.Context, domain string) ([]MxCandidate, error) {
	lctx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	records, err := c.resolver.LookupMX(lctx, domain)
	if err != nil {
		if isNotFound(err) {
			return c.fallbackToA(lctx, domain)
		}
		return nil, fmt.Errorf("%w: mx lookup for %s: %v", errtag.ErrResolve, domain, err)
	}
	if len(records) == 0 {
		return c.fallbackToA(lctx, domain)
	}

	candidates := make([]MxCandidate, 0, len(records))
	for _, r := range records {
		candidates = append(candidates, MxCandidate{
			Host:       strings.TrimSuffix(strings.ToLower(r.Host), "."),
			Preference: preferenceOf(r.Pref),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Preference < candidates[j].Preference
	})
	return candidates, nil
}

func (c *Cache) fallbackToA(ctx context.Context, domain string) ([]MxCandidate, error) {
	addrs, err := c.resolver.LookupHost(ctx, domain)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: a-record lookup for %s: %v", errtag.ErrResolve, domain, err)
	}
	candidates := make([]MxCandidate, 0, len(addrs))
	for _, a := range addrs {
		candidates = append(candidates, MxCandidate{Host: a, Preference: 0})
	}
	return candidates, nil
}

func preferenceOf(pref uint16) int {
	if uint32(pref) > math.MaxInt32 {
		return int(^uint32(0) >> 1)
	}
	return int(pref)
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound
	}
	return false
}

func copyCandidates(in []MxCandidate) []MxCandidate {
	if in == nil {
		return nil
	}
	out := make([]MxCandidate, len(in))
	copy(out, in)
	return out
}
