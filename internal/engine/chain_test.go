package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Test helpers --

const (
	engineA = schemas.EnginePrimaryDriver
	engineB = schemas.EngineSecondaryDriver
	engineC = schemas.EngineSubprocessBrowser
	engineD = schemas.EngineRawHTTP
)

// recorder tracks which adapters were invoked and in what order.
type recorder struct {
	mu    sync.Mutex
	calls []schemas.EngineKind
}

func (r *recorder) adapter(kind schemas.EngineKind, fn func(ctx context.Context) (*Capture, error)) Adapter {
	return AdapterFunc{
		EngineKind: kind,
		Fn: func(ctx context.Context, _ schemas.SessionProfile, _ Task) (*Capture, error) {
			r.mu.Lock()
			r.calls = append(r.calls, kind)
			r.mu.Unlock()
			return fn(ctx)
		},
	}
}

func (r *recorder) called() []schemas.EngineKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schemas.EngineKind(nil), r.calls...)
}

func page(body string) func(context.Context) (*Capture, error) {
	return func(context.Context) (*Capture, error) {
		return &Capture{StatusCode: 200, HTML: []byte(body)}, nil
	}
}

func broken(msg string) func(context.Context) (*Capture, error) {
	return func(context.Context) (*Capture, error) {
		return nil, errors.New(msg)
	}
}

var testTask = Task{Name: "load login", URL: "https://portal.example.com/login", Marker: "Sign In"}

func newTestChain(t *testing.T, reg *Registry, timeouts TimeoutFunc) *Chain {
	return NewChain(reg, DefaultScorer(100, []int{403}), timeouts, zaptest.NewLogger(t))
}

// -- Chain behaviour --

func TestChain_StopsAtFirstSuccess(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(
		rec.adapter(engineA, broken("browser crashed")),
		rec.adapter(engineB, page("<html>Please Sign in</html>")),
		rec.adapter(engineC, page("<html>sign in</html>")),
	)

	res := newTestChain(t, reg, nil).Run(context.Background(), schemas.SessionProfile{}, testTask, []schemas.EngineKind{engineA, engineB, engineC})

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, schemas.OutcomeFailure, res.Attempts[0].Outcome)
	assert.Equal(t, "browser crashed", res.Attempts[0].ErrorMessage)
	assert.Equal(t, schemas.OutcomeSuccess, res.Attempts[1].Outcome)
	assert.Equal(t, []schemas.EngineKind{engineA, engineB}, rec.called(), "engine C must never be attempted")

	require.True(t, res.Usable())
	assert.Equal(t, engineB, res.Selected.Engine)
	assert.Equal(t, schemas.OutcomeSuccess, res.Status)
	assert.True(t, res.Authoritative)
	require.NotNil(t, res.Evidence)
	assert.Equal(t, engineB, res.Evidence.Engine)
}

func TestChain_SuccessAtPositionK(t *testing.T) {
	order := []schemas.EngineKind{engineA, engineB, engineC, engineD}
	for k := 1; k <= len(order); k++ {
		rec := &recorder{}
		reg := NewRegistry()
		for i, kind := range order {
			if i == k-1 {
				reg.Register(rec.adapter(kind, page("Sign In")))
			} else {
				reg.Register(rec.adapter(kind, broken("failed")))
			}
		}

		res := newTestChain(t, reg, nil).Run(context.Background(), schemas.SessionProfile{}, testTask, order)
		assert.Len(t, res.Attempts, k)
		assert.Equal(t, order[:k], rec.called())
		assert.Equal(t, schemas.OutcomeSuccess, res.Status)
	}
}

func TestChain_AllFail(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(
		rec.adapter(engineA, broken("a")),
		rec.adapter(engineB, page("")),
		rec.adapter(engineC, func(context.Context) (*Capture, error) {
			return &Capture{StatusCode: 403, HTML: []byte("Sign In")}, nil
		}),
	)
	order := []schemas.EngineKind{engineA, engineB, engineC}

	res := newTestChain(t, reg, nil).Run(context.Background(), schemas.SessionProfile{}, testTask, order)

	require.Len(t, res.Attempts, len(order))
	for _, a := range res.Attempts {
		assert.Equal(t, schemas.OutcomeFailure, a.Outcome)
		assert.NotEmpty(t, a.ErrorMessage)
	}
	assert.Equal(t, schemas.OutcomeFailure, res.Status)
	assert.False(t, res.Usable())
	assert.Nil(t, res.Evidence)
}

func TestChain_BestAmbiguousIsNonAuthoritative(t *testing.T) {
	reg := NewRegistry(
		AdapterFunc{EngineKind: engineA, Fn: func(context.Context, schemas.SessionProfile, Task) (*Capture, error) {
			return &Capture{HTML: []byte(strings.Repeat("x", 20))}, nil
		}},
		AdapterFunc{EngineKind: engineB, Fn: func(context.Context, schemas.SessionProfile, Task) (*Capture, error) {
			return &Capture{HTML: []byte(strings.Repeat("x", 60))}, nil
		}},
		AdapterFunc{EngineKind: engineC, Fn: func(context.Context, schemas.SessionProfile, Task) (*Capture, error) {
			return &Capture{HTML: []byte(strings.Repeat("x", 60))}, nil
		}},
	)

	res := newTestChain(t, reg, nil).Run(context.Background(), schemas.SessionProfile{}, testTask, []schemas.EngineKind{engineA, engineB, engineC})

	require.Len(t, res.Attempts, 3)
	require.True(t, res.Usable())
	assert.Equal(t, engineB, res.Selected.Engine, "ties go to the earliest attempt")
	assert.Equal(t, schemas.OutcomeAmbiguous, res.Status)
	assert.False(t, res.Authoritative)
	assert.InDelta(t, 0.6, res.Selected.Score, 1e-9)
	require.NotNil(t, res.Selected.EvidenceSizeBytes)
	assert.Equal(t, 60, *res.Selected.EvidenceSizeBytes)
}

func TestChain_ChallengePageDoesNotStopChain(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(
		rec.adapter(engineD, page("<html>Checking your browser...</html>")),
		rec.adapter(engineA, page("<html>Sign In</html>")),
	)
	chain := NewChain(reg, DefaultScorer(20000, []int{403}), nil, zaptest.NewLogger(t))

	res := chain.Run(context.Background(), schemas.SessionProfile{}, testTask, []schemas.EngineKind{engineD, engineA})

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, schemas.OutcomeAmbiguous, res.Attempts[0].Outcome)
	assert.Equal(t, []schemas.EngineKind{engineD, engineA}, rec.called())
	assert.Equal(t, engineA, res.Selected.Engine)
	assert.Equal(t, schemas.OutcomeSuccess, res.Status)
	assert.True(t, res.Authoritative)
}

func TestChain_UnknownAdapter(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(rec.adapter(engineB, page("Sign In")))

	res := newTestChain(t, reg, nil).Run(context.Background(), schemas.SessionProfile{}, testTask, []schemas.EngineKind{engineA, engineB})

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, schemas.OutcomeFailure, res.Attempts[0].Outcome)
	assert.Equal(t, "no adapter registered", res.Attempts[0].ErrorMessage)
	assert.Equal(t, engineB, res.Selected.Engine)
}

func TestChain_PerEngineTimeout(t *testing.T) {
	rec := &recorder{}
	var sawDeadline time.Duration
	reg := NewRegistry(
		rec.adapter(engineA, func(ctx context.Context) (*Capture, error) {
			if dl, ok := ctx.Deadline(); ok {
				sawDeadline = time.Until(dl)
			}
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		rec.adapter(engineB, page("Sign In")),
	)
	timeouts := func(kind schemas.EngineKind) time.Duration {
		if kind == engineA {
			return 50 * time.Millisecond
		}
		return time.Second
	}

	start := time.Now()
	res := newTestChain(t, reg, timeouts).Run(context.Background(), schemas.SessionProfile{}, testTask, []schemas.EngineKind{engineA, engineB})

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.LessOrEqual(t, sawDeadline, 50*time.Millisecond)
	require.Len(t, res.Attempts, 2)
	assert.Contains(t, res.Attempts[0].ErrorMessage, "timed out")
	assert.Equal(t, schemas.OutcomeSuccess, res.Status)
}

func TestChain_CancelledContextStillRecordsAttempt(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(rec.adapter(engineA, page("Sign In")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestChain(t, reg, nil).Run(ctx, schemas.SessionProfile{}, testTask, []schemas.EngineKind{engineA, engineB})

	require.Len(t, res.Attempts, 1)
	assert.Equal(t, schemas.OutcomeFailure, res.Attempts[0].Outcome)
	assert.Contains(t, res.Attempts[0].ErrorMessage, "not attempted")
	assert.Empty(t, rec.called())
}

func TestRegistryKinds(t *testing.T) {
	reg := NewRegistry(AdapterFunc{EngineKind: engineD}, AdapterFunc{EngineKind: engineA})
	assert.Equal(t, []schemas.EngineKind{engineA, engineD}, reg.Kinds())
	_, ok := reg.Lookup(engineB)
	assert.False(t, ok)
}
