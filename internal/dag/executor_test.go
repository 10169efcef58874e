package dag

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/elt/pkg/models"
)

func failing(name string, deps ...string) Step {
	return Step{Name: name, Depends: deps, Action: ActionFunc(func(context.Context) error {
		return errors.New("boom")
	})}
}

func TestExecutor_FailureIsolation(t *testing.T) {
	e := &Executor{Concurrency: 2}
	res, err := e.Run(context.Background(),
		step("seed"),
		failing("A", "seed"),
		step("B", "seed"),
		step("C", "A", "B"),
	)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.StatusOf("seed"))
	assert.Equal(t, StatusFailed, res.StatusOf("A"))
	assert.Equal(t, StatusSuccess, res.StatusOf("B"))
	assert.Equal(t, StatusSkipped, res.StatusOf("C"))
	assert.Equal(t, models.RunFailed, res.Status)
	assert.Equal(t, []string{"A"}, res.Failed)

	assert.ErrorIs(t, res.Steps["A"].Err, models.ErrStepFailed)
	assert.ErrorIs(t, res.Steps["C"].Err, ErrUpstreamFailed)
	assert.NotContains(t, res.DispatchOrder, "C")
}

func TestExecutor_AllSucceed(t *testing.T) {
	var count atomic.Int32
	inc := ActionFunc(func(context.Context) error {
		count.Add(1)
		return nil
	})
	e := &Executor{}
	res, err := e.Run(context.Background(),
		Step{Name: "seed", Action: inc},
		Step{Name: "a", Depends: []string{"seed"}, Action: inc},
		Step{Name: "b", Depends: []string{"seed"}, Action: inc},
	)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, res.Status)
	assert.EqualValues(t, 3, count.Load())
	assert.Empty(t, res.Failed)
}

func TestExecutor_InvalidGraphDispatchesNothing(t *testing.T) {
	var ran atomic.Bool
	e := &Executor{}
	_, err := e.Run(context.Background(),
		Step{Name: "a", Action: ActionFunc(func(context.Context) error { ran.Store(true); return nil })},
		step("b", "nope"),
	)
	require.ErrorIs(t, err, models.ErrInvalidGraph)
	assert.False(t, ran.Load())
}

func TestExecutor_DeterministicWithSingleWorker(t *testing.T) {
	steps := []Step{
		step("seed"),
		step("zeta", "seed"),
		step("alpha", "seed"),
		step("mid", "alpha"),
		step("beta", "seed"),
		step("last", "zeta", "mid", "beta"),
	}

	var orders [][]string
	for i := 0; i < 5; i++ {
		res, err := (&Executor{Concurrency: 1}).Run(context.Background(), steps...)
		require.NoError(t, err)
		orders = append(orders, res.DispatchOrder)
	}

	want := []string{"seed", "alpha", "beta", "mid", "zeta", "last"}
	for _, o := range orders {
		assert.Equal(t, want, o)
	}

	g, err := NewGraph(steps...)
	require.NoError(t, err)
	assert.Equal(t, want, g.TopologicalOrder())
}

func TestExecutor_ConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := ActionFunc(func(context.Context) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	var steps []Step
	for i := 0; i < 6; i++ {
		steps = append(steps, Step{Name: fmt.Sprintf("s%d", i), Action: slow})
	}
	res, err := (&Executor{Concurrency: 2}).Run(context.Background(), steps...)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, res.Status)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(2), peak.Load())
}

func TestExecutor_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	e := &Executor{Concurrency: 1, DefaultTimeout: time.Second}
	res, err := e.Run(context.Background(),
		Step{Name: "stuck", Timeout: 30 * time.Millisecond, Action: ActionFunc(func(context.Context) error {
			<-release // ignores its context
			return nil
		})},
		step("after", "stuck"),
		Step{Name: "polite", Timeout: 30 * time.Millisecond, Action: ActionFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})},
	)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.StatusOf("stuck"))
	assert.ErrorIs(t, res.Steps["stuck"].Err, models.ErrStepTimeout)
	assert.Equal(t, StatusSkipped, res.StatusOf("after"))
	assert.Equal(t, StatusFailed, res.StatusOf("polite"))
	assert.ErrorIs(t, res.Steps["polite"].Err, models.ErrStepTimeout)
	assert.Equal(t, models.RunFailed, res.Status)
}

func TestExecutor_PanicFailsStep(t *testing.T) {
	res, err := (&Executor{}).Run(context.Background(),
		Step{Name: "bad", Action: ActionFunc(func(context.Context) error { panic("oops") })},
		step("good"),
	)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.StatusOf("bad"))
	assert.Contains(t, res.Steps["bad"].Err.Error(), "oops")
	assert.Equal(t, StatusSuccess, res.StatusOf("good"))
}

func TestExecutor_CancellationLetsRunningStepsFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var sawCancel atomic.Bool

	e := &Executor{Concurrency: 1}
	resCh := make(chan *Result, 1)
	go func() {
		res, err := e.Run(ctx,
			Step{Name: "a", Action: ActionFunc(func(actx context.Context) error {
				close(started)
				time.Sleep(50 * time.Millisecond)
				sawCancel.Store(actx.Err() != nil)
				return nil
			})},
			step("b", "a"),
			step("c"),
		)
		require.NoError(t, err)
		resCh <- res
	}()

	<-started
	cancel()
	res := <-resCh

	assert.True(t, res.Cancelled)
	assert.False(t, sawCancel.Load(), "running action must not observe run cancellation")
	assert.Equal(t, StatusSuccess, res.StatusOf("a"))
	assert.Equal(t, StatusSkipped, res.StatusOf("b"))
	assert.Equal(t, StatusSkipped, res.StatusOf("c"))
	assert.ErrorIs(t, res.Steps["b"].Err, context.Canceled)
	assert.Equal(t, []string{"a"}, res.DispatchOrder)
	assert.Equal(t, models.RunFailed, res.Status)
}

func TestExecutor_Hooks(t *testing.T) {
	var mu sync.Mutex
	var started, finished []string
	e := &Executor{
		Concurrency:  1,
		OnStepStart:  func(name string) { mu.Lock(); started = append(started, name); mu.Unlock() },
		OnStepFinish: func(r StepResult) { mu.Lock(); finished = append(finished, r.Name+":"+r.Status.String()); mu.Unlock() },
	}
	_, err := e.Run(context.Background(), step("a"), failing("b", "a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, started)
	assert.Equal(t, []string{"a:success", "b:failed"}, finished)
}

// Every node of a random DAG ends in exactly one terminal state, a node is
// skipped iff one of its ancestors failed, and nodes with no failed ancestor
// are unaffected by failures elsewhere.
func TestExecutor_RandomGraphsTerminate(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 50; iter++ {
		n := 3 + rng.Intn(12)
		fail := map[string]bool{}
		var steps []Step
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("n%02d", i)
			var deps []string
			for j := 0; j < i; j++ {
				if rng.Intn(4) == 0 {
					deps = append(deps, fmt.Sprintf("n%02d", j))
				}
			}
			if rng.Intn(5) == 0 {
				fail[name] = true
				steps = append(steps, failing(name, deps...))
			} else {
				steps = append(steps, step(name, deps...))
			}
		}

		g, err := NewGraph(steps...)
		require.NoError(t, err)
		res := (&Executor{Concurrency: 1 + rng.Intn(4)}).Execute(context.Background(), g)

		anyBad := false
		for _, name := range g.Names() {
			st := res.StatusOf(name)
			require.True(t, st.IsTerminal(), "%s not terminal", name)

			failedAncestor := false
			for _, other := range g.Names() {
				if fail[other] && contains(g.Descendants(other), name) {
					failedAncestor = true
				}
			}
			switch {
			case failedAncestor:
				assert.Equal(t, StatusSkipped, st, name)
			case fail[name]:
				assert.Equal(t, StatusFailed, st, name)
			default:
				assert.Equal(t, StatusSuccess, st, name)
			}
			if st != StatusSuccess {
				anyBad = true
			}
		}
		if anyBad {
			assert.Equal(t, models.RunFailed, res.Status)
		} else {
			assert.Equal(t, models.RunSuccess, res.Status)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
