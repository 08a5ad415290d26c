// Package probe assembles syntax checking, domain-list lookups, MX
// resolution, catch-all detection, and the multi-port race into a
// single Categorize(address) -> Verdict pipeline.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mailprobe/internal/catchall"
	"mailprobe/internal/domainlist"
	"mailprobe/internal/errtag"
	"mailprobe/internal/mxresolve"
	"mailprobe/internal/racer"
	"mailprobe/internal/ratelimit"
	"mailprobe/internal/smtpsession"
	"mailprobe/internal/syntax"
	"mailprobe/internal/verdict"
)

// DefaultPorts is the port set the racer dials for every domain,
// matching the teacher's narrower SMTP_PORTS deployment.
var DefaultPorts = []int{25, 587, 465}

// Orchestrator wires together every probing component behind one
// Categorize call.
type Orchestrator struct {
	log        *logrus.Entry
	lists      *domainlist.Classifier
	resolver   *mxresolve.Cache
	limiter    *ratelimit.Manager
	sessionCfg smtpsession.Config
	ports      []int
}

// New builds an Orchestrator. ports defaults to DefaultPorts when nil.
func New(log *logrus.Entry, lists *domainlist.Classifier, resolver *mxresolve.Cache, limiter *ratelimit.Manager, sessionCfg smtpsession.Config, ports []int) *Orchestrator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if ports == nil {
		ports = DefaultPorts
	}
	return &Orchestrator{log: log, lists: lists, resolver: resolver, limiter: limiter, sessionCfg: sessionCfg, ports: ports}
}

// Categorize runs the full probing pipeline for address and always
// returns a Verdict; it never returns an error, folding every failure
// mode into the Verdict's Category/Errors fields instead.
func (o *Orchestrator) Categorize(ctx context.Context, address string) verdict.Verdict {
	now := time.Now()
	v := verdict.NewVerdict(address, now)
	log := o.log.WithField("address", address)

	if !syntax.Valid(address) {
		v.Category = classifyErr(fmt.Errorf("%w: %s is not a valid address", errtag.ErrSyntax, address))
		return v
	}

	domain, ok := syntax.ExtractDomain(address)
	if !ok {
		v.Category = classifyErr(fmt.Errorf("%w: could not extract domain from %s", errtag.ErrSyntax, address))
		return v
	}

	switch {
	case o.lists.IsWhitelisted(domain):
		v.Category = verdict.CategoryWhitelisted
		return v
	case o.lists.IsDisposable(domain):
		v.Category = verdict.CategoryDisposable
		return v
	case o.lists.IsBlacklisted(domain):
		v.Category = verdict.CategoryBlacklisted
		return v
	}

	candidates, err := o.resolver.ResolveMX(ctx, domain)
	if err != nil {
		// mxresolve already wraps with errtag.ErrResolve; classifyErr
		// is what lets this branch (a DNS failure) read differently
		// from the len(candidates)==0 branch below (a clean empty
		// result, no error at all).
		log.WithError(err).Warn("probe: MX resolution failed")
		v.Category = classifyErr(err)
		v.Errors = err.Error()
		return v
	}
	if len(candidates) == 0 {
		v.Category = verdict.CategoryInvalid
		return v
	}
	host := candidates[0].Host

	if err := o.limiter.Wait(ctx, domain); err != nil {
		wrapped := fmt.Errorf("%w: rate limiter wait for %s: %v", errtag.ErrInternal, domain, err)
		v.Category = classifyErr(wrapped)
		v.Errors = wrapped.Error()
		return v
	}

	catchAll, catchOutcome := catchall.Probe(o.checkCatchAll(ctx), host, domain)
	if catchOutcome.Err != "" {
		log.WithField("mxHost", host).WithField("error", catchOutcome.Err).Warn("probe: catch-all probe failed")
		v.Category = verdict.CategoryUnknown
		v.Errors = catchOutcome.Err
		return v
	} else if catchAll {
		v.Category = verdict.CategoryCatchAll
		v.CatchAll = true
		v.MailHost = host
		v.Timestamp = now
		return v
	}

	outcome := racer.Race(ctx, log, o.ports, o.raceProbe(ctx, host, domain, address))

	if isBlacklistedReply(outcome) {
		policyErr := fmt.Errorf("%w: %s", errtag.ErrPolicy, outcome.ReplyText)
		v.Category = classifyErr(policyErr)
		v.Errors = outcome.ReplyText
		v.Status = verdict.StatusBlacklisted
		v.SmtpCode = outcome.ReplyCode
		v.MailHost = outcome.MailHost
		v.Transcript = outcome.Transcript
		return v
	}

	v.Status = outcome.Status
	v.SmtpCode = outcome.ReplyCode
	v.DiagnosticTag = outcome.DiagnosticTag
	v.MailHost = outcome.MailHost
	v.Transcript = outcome.Transcript
	v.PortOpened = outcome.ReplyCode >= 0
	v.ConnectionSuccessful = outcome.Err == ""
	v.Errors = outcome.Err
	// The outward category mapping table stays exactly as categoryFor
	// computes it; wrapOutcomeErr only differentiates the log line
	// between a socket/TLS failure and an unparseable reply, it never
	// feeds back into v.Category.
	v.Category = categoryFor(outcome.DiagnosticTag, outcome.Status)
	if sessionErr := wrapOutcomeErr(outcome); sessionErr != nil {
		switch {
		case errors.Is(sessionErr, errtag.ErrNetwork):
			log.WithError(sessionErr).Debug("probe: session ended on a network failure")
		case errors.Is(sessionErr, errtag.ErrProtocol):
			log.WithError(sessionErr).Debug("probe: session ended on an unparseable reply")
		}
	}
	return v
}

// classifyErr maps one of errtag's sentinel-wrapped errors to the
// outward category taxonomy. The steps that run before the multi-port
// race call this, as does the post-race blacklist override; for every
// other race outcome categoryFor, not classifyErr, owns the category
// decision.
func classifyErr(err error) string {
	switch {
	case errors.Is(err, errtag.ErrSyntax):
		return verdict.CategoryInvalid
	case errors.Is(err, errtag.ErrPolicy):
		return verdict.CategoryBlacklisted
	case errors.Is(err, errtag.ErrResolve), errors.Is(err, errtag.ErrInternal):
		return verdict.CategoryUnknown
	default:
		return verdict.CategoryUnknown
	}
}

// wrapOutcomeErr tags a completed race outcome's diagnostic tag with
// the network/protocol errtag sentinel it corresponds to, purely for
// differentiated logging; it never drives categoryFor's output.
func wrapOutcomeErr(outcome verdict.SessionOutcome) error {
	switch outcome.DiagnosticTag {
	case "ConnectFailed", "DNSResolutionFailed", "IOError", "Timeout", "TLSHandshakeFailed":
		return fmt.Errorf("%w: %s", errtag.ErrNetwork, outcome.DiagnosticTag)
	case "Unclassified":
		return fmt.Errorf("%w: %s", errtag.ErrProtocol, outcome.DiagnosticTag)
	default:
		return nil
	}
}

// checkCatchAll partially applies context and session config onto
// smtpsession.CheckCatchAll so it satisfies catchall.Checker.
func (o *Orchestrator) checkCatchAll(ctx context.Context) catchall.Checker {
	return func(host, domain, first, second string) (bool, verdict.SessionOutcome) {
		return smtpsession.CheckCatchAll(ctx, o.sessionCfg, host, 25, domain, first, second)
	}
}

// raceProbe wraps smtpsession.RunSession with the shared rate limiter
// so every port the racer dials is individually throttled.
func (o *Orchestrator) raceProbe(ctx context.Context, host, domain, target string) racer.Probe {
	return func(raceCtx context.Context, port int) verdict.SessionOutcome {
		if err := o.limiter.Wait(raceCtx, domain); err != nil {
			return verdict.SessionOutcome{Status: verdict.StatusUnknownFailure, DiagnosticTag: "RateLimited", Err: err.Error()}
		}
		return smtpsession.RunSession(raceCtx, o.sessionCfg, host, port, target)
	}
}

func isBlacklistedReply(outcome verdict.SessionOutcome) bool {
	if outcome.Status == verdict.StatusBlacklisted {
		return true
	}
	lower := strings.ToLower(outcome.ReplyText)
	return strings.Contains(lower, "550 5.7.1") || strings.Contains(lower, "blocked") || strings.Contains(lower, "spamhaus")
}

// categoryFor maps a diagnostic tag plus recipient status to the
// outward category taxonomy.
func categoryFor(tag string, status verdict.RecipientStatus) string {
	switch tag {
	case "Accepted":
		return verdict.CategoryValid
	case "Forwarded":
		return verdict.CategoryForwarded
	case "CannotVerify":
		return verdict.CategoryCannotVerify
	case "MailboxBusy":
		return verdict.CategoryMailboxBusy
	case "LocalError":
		return verdict.CategoryLocalError
	case "InsufficientStorage":
		return verdict.CategoryInsufficientStorage
	case "UserNotFound", "UserNotLocal", "MailboxNameInvalid", "MailboxNotFound":
		return verdict.CategoryUserNotFound
	case "RelayDenied":
		return verdict.CategoryRelayDenied
	case "AccessDenied":
		return verdict.CategoryAccessDenied
	case "Greylisted":
		return verdict.CategoryGreylisted
	case "SyntaxError":
		return verdict.CategorySyntaxError
	case "TransactionFailed":
		return verdict.CategoryInvalid
	case "BlockedByBlacklist", "BlockedBySpamhaus":
		return verdict.CategoryBlacklisted
	default:
		if status == verdict.StatusTemporaryFailure {
			return verdict.CategoryUnknown
		}
		return verdict.CategoryInvalid
	}
}
