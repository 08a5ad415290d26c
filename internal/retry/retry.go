// Package retry drives two periodic background jobs: draining the
// Redis greylist queue of addresses whose temporary failure has aged
// past its backoff, and refreshing cache rows whose TTL has expired.
// Both are generalizations of the teacher's RetryMonitor ZSET pattern.
package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"mailprobe/internal/verdict"
)

const retryQueueKey = "email_retry_queue"

// retryableTags are the diagnostic tags the orchestrator can produce
// that mean "worth trying again later", beyond the fixed 450/451/421
// code check the teacher used.
var retryableTags = map[string]bool{
	"Greylisted":         true,
	"MailboxBusy":        true,
	"LocalError":         true,
	"ServiceUnavailable": true,
	"Timeout":            true,
}

// ShouldRetry reports whether v's outcome is worth re-probing later.
func ShouldRetry(v verdict.Verdict) bool {
	if v.Status == verdict.StatusTemporaryFailure {
		return true
	}
	return retryableTags[v.DiagnosticTag]
}

// Job is the unit of work pushed onto the greylist queue and the main
// job queue alike, mirroring the teacher's EmailJob.
type Job struct {
	JobID string `json:"jobId"`
	Email string `json:"email"`
}

// Driver runs the ticking backfill/retry loop.
type Driver struct {
	log            *logrus.Entry
	rdb            *redis.Client
	mainQueueKey   string
	retryDelay     time.Duration
	refreshExpired func(ctx context.Context, backfill func(ctx context.Context, address string)) error
	backfill       func(ctx context.Context, address string)
}

// New builds a Driver. mainQueueKey is the Redis list the batch
// worker BRPOPs from; refreshExpired is typically cache.Cache's
// method of the same name; backfill registers an address with the
// primary store.
func New(log *logrus.Entry, rdb *redis.Client, mainQueueKey string, retryDelay time.Duration,
	refreshExpired func(ctx context.Context, backfill func(ctx context.Context, address string)) error,
	backfill func(ctx context.Context, address string)) *Driver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{
		log:            log,
		rdb:            rdb,
		mainQueueKey:   mainQueueKey,
		retryDelay:     retryDelay,
		refreshExpired: refreshExpired,
		backfill:       backfill,
	}
}

// Enqueue schedules job to become eligible for retry after d.
func (r *Driver) Enqueue(ctx context.Context, job Job, d time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal retry job: %w", err)
	}
	score := float64(time.Now().Add(d).Unix())
	if err := r.rdb.ZAdd(ctx, retryQueueKey, redis.Z{Score: score, Member: string(payload)}).Err(); err != nil {
		return fmt.Errorf("enqueue retry job: %w", err)
	}
	return nil
}

// Run ticks every interval until ctx is done, draining the retry
// queue and refreshing expired cache rows on every tick.
func (r *Driver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drainRetryQueue(ctx)
			if r.refreshExpired != nil {
				if err := r.refreshExpired(ctx, r.backfill); err != nil {
					r.log.WithError(err).Warn("retry: refresh expired cache rows failed")
				}
			}
		}
	}
}

func (r *Driver) drainRetryQueue(ctx context.Context) {
	now := time.Now().Unix()
	items, err := r.rdb.ZRangeByScore(ctx, retryQueueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		r.log.WithError(err).Warn("retry: failed to read retry queue")
		return
	}
	if len(items) == 0 {
		return
	}
	r.log.WithField("count", len(items)).Info("retry: draining eligible retry jobs")

	for _, raw := range items {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			r.log.WithError(err).Warn("retry: dropping unparseable retry job")
			r.rdb.ZRem(ctx, retryQueueKey, raw)
			continue
		}

		removed, err := r.rdb.ZRem(ctx, retryQueueKey, raw).Result()
		if err != nil || removed == 0 {
			continue
		}

		payload, _ := json.Marshal(job)
		if err := r.rdb.LPush(ctx, r.mainQueueKey, string(payload)).Err(); err != nil {
			r.log.WithField("address", job.Email).WithError(err).Warn("retry: requeue failed, re-adding to retry queue")
			r.rdb.ZAdd(ctx, retryQueueKey, redis.Z{Score: float64(now) + r.retryDelay.Seconds(), Member: raw})
		}
	}
}
