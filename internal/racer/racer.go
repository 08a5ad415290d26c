// Package racer fans a probe out across several SMTP ports
// concurrently and returns whichever outcome settles the question
// first, cancelling the rest.
package racer

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"mailprobe/internal/verdict"
)

const maxWorkers = 5

// Probe runs one session against a single port and returns its outcome.
type Probe func(ctx context.Context, port int) verdict.SessionOutcome

// portResult pairs a probe outcome with the port it came from, the
// way the teacher's future list preserves per-port provenance.
type portResult struct {
	port    int
	outcome verdict.SessionOutcome
	ran     bool
}

// Race runs probe against every port concurrently, bounded by a
// worker pool sized max(len(ports), maxWorkers). It returns the first
// outcome with verdict.StatusValid, cancelling the remaining probes.
// If none is Valid, it returns the first completed outcome that still
// carries a real reply code (ReplyCode >= 0) — a dial/IO failure sets
// ReplyCode -1 and is skipped in favor of a port that actually talked
// to a server. If every port fails to even get a reply, it returns a
// synthetic AllPortsFailed outcome.
func Race(ctx context.Context, log *logrus.Entry, ports []int, probe Probe) verdict.SessionOutcome {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log.WithField("ports", ports).Debug("racer: starting parallel port checks")

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, workerCount(ports))
	results := make([]portResult, len(ports))
	var wg sync.WaitGroup

	for i, port := range ports {
		wg.Add(1)
		go func(i, port int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			select {
			case <-raceCtx.Done():
				return
			default:
			}

			outcome := probe(raceCtx, port)
			results[i] = portResult{port: port, outcome: outcome, ran: true}

			if outcome.Status == verdict.StatusValid {
				log.WithField("port", port).Info("racer: valid recipient found, cancelling remaining ports")
				cancel()
			}
		}(i, port)
	}
	wg.Wait()

	for _, r := range results {
		if r.ran && r.outcome.Status == verdict.StatusValid {
			return r.outcome
		}
	}

	for _, r := range results {
		if r.ran && r.outcome.ReplyCode >= 0 {
			log.WithFields(logrus.Fields{"port": r.port, "status": r.outcome.Status}).Debug("racer: returning first completed non-valid result")
			return r.outcome
		}
	}

	log.Warn("racer: all ports failed validation")
	return verdict.SessionOutcome{
		Status:        verdict.StatusUnknownFailure,
		ReplyCode:     -1,
		DiagnosticTag: "AllPortsFailed",
		Err:           "all ports failed",
	}
}

// workerCount bounds the pool at maxWorkers, mirroring the teacher's
// fixed-size executor sizing.
func workerCount(ports []int) int {
	if len(ports) < maxWorkers {
		return len(ports)
	}
	return maxWorkers
}
