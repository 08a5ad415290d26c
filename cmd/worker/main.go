// Command worker is a Redis BRPOP batch consumer: it pulls
// EmailJob{JobID, Email} payloads off a queue, runs each through the
// cache-fronted probe orchestrator, and persists the resulting
// verdict. It plays the role of the out-of-scope HTTP façade's
// ingestion path.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"mailprobe/internal/cache"
	"mailprobe/internal/config"
	"mailprobe/internal/domainlist"
	"mailprobe/internal/errtag"
	"mailprobe/internal/mxresolve"
	"mailprobe/internal/probe"
	"mailprobe/internal/ratelimit"
	"mailprobe/internal/retry"
	"mailprobe/internal/smtpsession"
	"mailprobe/internal/store"
	"mailprobe/internal/verdict"
)

const (
	workerCount  = 50
	mainQueueKey = "email_queue"
)

// job mirrors the teacher's EmailJob wire shape.
type job struct {
	JobID string `json:"jobId"`
	Email string `json:"email"`
}

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("worker: failed to load configuration")
	}
	log.WithField("config", cfg.String()).Info("worker: starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.WithError(err).Fatal("worker: failed to connect to Redis")
	}
	log.Info("worker: connected to Redis")

	primaryStore, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("worker: failed to connect to Postgres")
	}
	defer primaryStore.Close()
	if err := primaryStore.EnsureSchema(ctx); err != nil {
		log.WithError(err).Fatal("worker: failed to ensure primary store schema")
	}
	log.Info("worker: connected to Postgres")

	whitelist, err := domainlist.LoadFile(cfg.WhitelistDomainsFile)
	if err != nil {
		log.WithError(err).Fatal("worker: failed to load whitelist")
	}
	disposable, err := domainlist.LoadFile(cfg.DisposableDomainsFile)
	if err != nil {
		log.WithError(err).Fatal("worker: failed to load disposable domain list")
	}
	blacklist, err := domainlist.LoadFile(cfg.BlacklistDomainsFile)
	if err != nil {
		log.WithError(err).Fatal("worker: failed to load blacklist")
	}
	lists := domainlist.NewClassifier(whitelist, disposable, blacklist)

	var dialer smtpsession.Dialer = smtpsession.DefaultDialer
	if cfg.Socks5Proxy != "" {
		dialer = smtpsession.NewDialer(&smtpsession.ProxyConfig{Address: cfg.Socks5Proxy, Username: cfg.ProxyUser, Password: cfg.ProxyPass})
		log.WithField("proxy", cfg.Socks5Proxy).Info("worker: dialing through SOCKS5 proxy")
	}

	sessionCfg := smtpsession.Config{HeloName: cfg.HeloName, MailFrom: cfg.MailFrom, Timeout: cfg.SMTPTimeout, Dial: dialer}
	resolver := mxresolve.New(5*time.Second, time.Hour)
	limiter := ratelimit.New(log, 10, 10, 5, 5, []ratelimit.DomainRate{
		{Domain: "gmail.com", Rate: 2, Burst: 2},
		{Domain: "googlemail.com", Rate: 2, Burst: 2},
		{Domain: "outlook.com", Rate: 1, Burst: 1},
		{Domain: "hotmail.com", Rate: 1, Burst: 1},
		{Domain: "live.com", Rate: 1, Burst: 1},
		{Domain: "yahoo.com", Rate: 1, Burst: 1},
	})

	orchestrator := probe.New(log, lists, resolver, limiter, sessionCfg, probe.DefaultPorts)
	resultCache := cache.New(log, rdb, cfg.CacheTTL, orchestrator.Categorize)

	retryDriver := retry.New(log, rdb, mainQueueKey, 15*time.Minute,
		resultCache.RefreshExpired,
		func(ctx context.Context, address string) {
			if err := primaryStore.Insert(ctx, address); err != nil {
				log.WithField("address", address).WithError(err).Warn("worker: backfill insert failed")
			}
		})
	go retryDriver.Run(ctx, cfg.ValidationInterval)

	jobs := make(chan job, workerCount*2)
	for i := 0; i < workerCount; i++ {
		go runWorker(ctx, log, i+1, jobs, resultCache, primaryStore, retryDriver)
	}
	log.WithField("workers", workerCount).Info("worker: pool started")

	consume(ctx, log, rdb, jobs)
}

// consume BRPOPs jobs off the main queue and fans them into the
// worker pool, dropping a job rather than blocking if the pool's
// buffer is full.
func consume(ctx context.Context, log *logrus.Entry, rdb *redis.Client, jobs chan<- job) {
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			return
		default:
		}

		result, err := rdb.BRPop(ctx, 5*time.Second, mainQueueKey).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			log.WithError(err).Warn("worker: error reading from queue")
			time.Sleep(time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var j job
		if err := json.Unmarshal([]byte(result[1]), &j); err != nil {
			log.WithError(err).Warn("worker: failed to parse job payload")
			continue
		}

		select {
		case jobs <- j:
		default:
			log.WithField("address", j.Email).Warn("worker: pool full, dropping job")
		}
	}
}

func runWorker(ctx context.Context, log *logrus.Entry, id int, jobs <-chan job, resultCache *cache.Cache, primaryStore *store.Store, retryDriver *retry.Driver) {
	for j := range jobs {
		processJob(ctx, log.WithField("worker", id), j, resultCache, primaryStore, retryDriver)
	}
}

func processJob(ctx context.Context, log *logrus.Entry, j job, resultCache *cache.Cache, primaryStore *store.Store, retryDriver *retry.Driver) {
	log = log.WithField("address", j.Email)
	log.Debug("worker: processing job")

	v, err := resultCache.Fetch(ctx, j.Email)
	if err != nil {
		if errors.Is(err, errtag.ErrInternal) {
			// Redis itself is unreachable, not a verdict for this
			// address — retry rather than drop the job.
			log.WithError(err).Warn("worker: cache infra failure, scheduling retry")
			if retryErr := retryDriver.Enqueue(ctx, retry.Job{JobID: j.JobID, Email: j.Email}, 2*time.Minute); retryErr != nil {
				log.WithError(retryErr).Error("worker: failed to enqueue after cache infra failure")
			}
			return
		}
		log.WithError(err).Warn("worker: cache fetch failed")
		return
	}

	if retry.ShouldRetry(v) {
		if err := retryDriver.Enqueue(ctx, retry.Job{JobID: j.JobID, Email: j.Email}, 15*time.Minute); err != nil {
			log.WithError(err).Warn("worker: failed to enqueue retry, updating job status as-is")
		} else {
			log.Info("worker: greylisted, queued for retry")
			return
		}
	}

	if err := primaryStore.Insert(ctx, j.Email); err != nil {
		log.WithError(err).Warn("worker: failed to register address in primary store")
	}
	if err := primaryStore.MarkValidated(ctx, j.Email, time.Now()); err != nil {
		log.WithError(err).Warn("worker: failed to mark address validated")
	}
	if err := primaryStore.UpdateJobStatus(ctx, j.JobID, j.Email, statusLabel(v), v.SmtpCode, v.DiagnosticTag); err != nil {
		log.WithError(err).Warn("worker: failed to update job status")
		return
	}

	log.WithFields(logrus.Fields{"category": v.Category, "smtpCode": v.SmtpCode}).Info("worker: job complete")
}

func statusLabel(v verdict.Verdict) string {
	if v.Category != "" {
		return v.Category
	}
	return string(v.Status)
}
