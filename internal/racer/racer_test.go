package racer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mailprobe/internal/verdict"
)

func TestRaceReturnsFirstValidAndCancelsRest(t *testing.T) {
	var cancelled int32

	probe := func(ctx context.Context, port int) verdict.SessionOutcome {
		if port == 465 {
			return verdict.SessionOutcome{Status: verdict.StatusValid, ReplyCode: 250, Port: port}
		}
		select {
		case <-ctx.Done():
			atomic.AddInt32(&cancelled, 1)
		case <-time.After(200 * time.Millisecond):
		}
		return verdict.SessionOutcome{Status: verdict.StatusUnknownFailure, Port: port}
	}

	start := time.Now()
	outcome := Race(context.Background(), nil, []int{25, 587, 465}, probe)

	assert.Equal(t, verdict.StatusValid, outcome.Status)
	assert.Equal(t, 465, outcome.Port)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "losing probes should be cancelled rather than run to their 200ms timeout")
}

func TestRaceReturnsFirstCompletedWhenNoneValid(t *testing.T) {
	probe := func(ctx context.Context, port int) verdict.SessionOutcome {
		return verdict.SessionOutcome{Status: verdict.StatusUserNotFound, Port: port}
	}

	outcome := Race(context.Background(), nil, []int{25, 587}, probe)

	assert.Equal(t, verdict.StatusUserNotFound, outcome.Status)
}

func TestRaceSkipsDialFailureInFavorOfRealReplyWhenNoneValid(t *testing.T) {
	probe := func(ctx context.Context, port int) verdict.SessionOutcome {
		if port == 25 {
			return verdict.SessionOutcome{Status: verdict.StatusUnknownFailure, ReplyCode: -1, Port: port, DiagnosticTag: "ConnectFailed"}
		}
		return verdict.SessionOutcome{Status: verdict.StatusUserNotFound, ReplyCode: 550, Port: port, DiagnosticTag: "UserNotFound"}
	}

	outcome := Race(context.Background(), nil, []int{25, 587}, probe)

	assert.Equal(t, "UserNotFound", outcome.DiagnosticTag, "a real reply should win over a dial failure")
	assert.Equal(t, 587, outcome.Port)
}

func TestRaceAllPortsFailedWhenContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	probe := func(ctx context.Context, port int) verdict.SessionOutcome {
		t.Fatal("probe should not run once context is already cancelled before scheduling")
		return verdict.SessionOutcome{}
	}

	outcome := Race(ctx, nil, []int{25, 587, 465}, probe)

	assert.Equal(t, "AllPortsFailed", outcome.DiagnosticTag)
}

func TestWorkerCountBoundedByMax(t *testing.T) {
	assert.Equal(t, maxWorkers, workerCount([]int{1, 2, 3, 4, 5, 6, 7}))
	assert.Equal(t, 2, workerCount([]int{1, 2}))
}
