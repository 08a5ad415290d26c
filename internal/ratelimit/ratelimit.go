// Package ratelimit throttles outbound SMTP probing, both globally
// and per destination domain, so a single run never looks like a
// spam burst to any one mail provider.
package ratelimit

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DomainRate pins a fixed rate for one domain, overriding the default
// used for every domain not explicitly listed.
type DomainRate struct {
	Domain string
	Rate   float64
	Burst  int
}

// Manager holds a global limiter plus a lazily-grown table of
// per-domain limiters, generalized from the teacher's fixed Gmail/
// Outlook/Yahoo table into configuration.
type Manager struct {
	log            *logrus.Entry
	global         *rate.Limiter
	mu             sync.RWMutex
	domainLimiters map[string]*rate.Limiter
	defaultRate    float64
	defaultBurst   int
}

// New builds a Manager with globalRate/globalBurst applied to every
// probe and defaultRate/defaultBurst applied to any domain not named
// in overrides.
func New(log *logrus.Entry, globalRate float64, globalBurst int, defaultRate float64, defaultBurst int, overrides []DomainRate) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Manager{
		log:            log,
		global:         rate.NewLimiter(rate.Limit(globalRate), globalBurst),
		domainLimiters: make(map[string]*rate.Limiter),
		defaultRate:    defaultRate,
		defaultBurst:   defaultBurst,
	}
	for _, o := range overrides {
		m.domainLimiters[strings.ToLower(o.Domain)] = rate.NewLimiter(rate.Limit(o.Rate), o.Burst)
	}
	return m
}

// Wait blocks until both the global and the domain-specific limiter
// admit one more probe, or ctx is cancelled first.
func (m *Manager) Wait(ctx context.Context, domain string) error {
	domain = strings.ToLower(domain)

	if err := m.global.Wait(ctx); err != nil {
		return err
	}

	limiter := m.limiterFor(domain)
	if err := limiter.Wait(ctx); err != nil {
		return err
	}

	m.log.WithField("domain", domain).Trace("ratelimit: admitted probe")
	return nil
}

func (m *Manager) limiterFor(domain string) *rate.Limiter {
	m.mu.RLock()
	limiter, ok := m.domainLimiters[domain]
	m.mu.RUnlock()
	if ok {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if limiter, ok = m.domainLimiters[domain]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(m.defaultRate), m.defaultBurst)
	m.domainLimiters[domain] = limiter
	return limiter
}
