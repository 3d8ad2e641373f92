package batch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/capquote/internal/batch"
	"github.com/noah-isme/capquote/internal/snapshot"
)

type fakeResolver struct {
	mu       sync.Mutex
	fail     map[string]error
	fresh    map[string]bool
	panicOn  string
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	gets     []string
	forced   []string
}

func (f *fakeResolver) GetTotal(ctx context.Context, id string) (snapshot.Result, error) {
	return f.handle(ctx, id, false)
}

func (f *fakeResolver) Recalculate(ctx context.Context, id string) (snapshot.Result, error) {
	return f.handle(ctx, id, true)
}

func (f *fakeResolver) handle(ctx context.Context, id string, forced bool) (snapshot.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	if forced {
		f.forced = append(f.forced, id)
	} else {
		f.gets = append(f.gets, id)
	}
	err := f.fail[id]
	fresh := f.fresh[id]
	f.mu.Unlock()

	if id == f.panicOn {
		panic("boom")
	}
	if err != nil {
		return snapshot.Result{}, err
	}
	return snapshot.Result{OrderID: id, Total: decimal.NewFromInt(10), Fresh: fresh && !forced}, nil
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("ord-%03d", i)
	}
	return out
}

func TestRunIsolatesFailures(t *testing.T) {
	resolver := &fakeResolver{
		fail:    map[string]error{"ord-003": errors.New("missing base price"), "ord-007": errors.New("no units")},
		fresh:   map[string]bool{"ord-001": true, "ord-002": true},
		panicOn: "ord-009",
	}
	r, err := batch.NewRecalculator(batch.Config{Resolver: resolver})
	require.NoError(t, err)

	report := r.Run(context.Background(), ids(12), 3)
	require.Equal(t, 12, report.Total)
	require.Equal(t, 9, report.Succeeded)
	require.Equal(t, 3, report.Failed)
	require.Equal(t, 2, report.Fresh)
	require.Len(t, report.Failures, 3)
	require.Equal(t, "ord-003", report.Failures[0].OrderID)
	require.Equal(t, "missing base price", report.Failures[0].Reason)
	require.Equal(t, "ord-009", report.Failures[2].OrderID)
	require.Len(t, resolver.gets, 12)
}

func TestRunBoundsConcurrency(t *testing.T) {
	resolver := &fakeResolver{delay: 10 * time.Millisecond}
	r, err := batch.NewRecalculator(batch.Config{Resolver: resolver})
	require.NoError(t, err)

	report := r.Run(context.Background(), ids(20), 4)
	require.Equal(t, 20, report.Succeeded)
	require.LessOrEqual(t, resolver.peak.Load(), int32(4))
	require.GreaterOrEqual(t, resolver.peak.Load(), int32(2))
}

func TestRunDedupesAndForces(t *testing.T) {
	resolver := &fakeResolver{fresh: map[string]bool{"a": true}}
	r, err := batch.NewRecalculator(batch.Config{Resolver: resolver, Force: true})
	require.NoError(t, err)

	report := r.Run(context.Background(), []string{"a", "b", "a", " ", "b"}, 0)
	require.Equal(t, 2, report.Total)
	require.Equal(t, 0, report.Fresh)
	sort.Strings(resolver.forced)
	require.Equal(t, []string{"a", "b"}, resolver.forced)
	require.Empty(t, resolver.gets)
}

func TestRunCancelledContextFailsRemaining(t *testing.T) {
	resolver := &fakeResolver{}
	r, err := batch.NewRecalculator(batch.Config{Resolver: resolver})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := r.Run(ctx, ids(5), 1)
	require.Equal(t, 5, report.Total)
	require.Equal(t, report.Total, report.Succeeded+report.Failed)
}

type pagedLister struct {
	ids   []string
	calls []string
	err   error
}

func (l *pagedLister) ListOrderIDs(_ context.Context, after string, limit int) ([]string, error) {
	l.calls = append(l.calls, after)
	if l.err != nil {
		return nil, l.err
	}
	var out []string
	for _, id := range l.ids {
		if id > after {
			out = append(out, id)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestSweepPaginates(t *testing.T) {
	resolver := &fakeResolver{fail: map[string]error{"ord-004": errors.New("bad")}}
	r, err := batch.NewRecalculator(batch.Config{Resolver: resolver, PageSize: 4, PageDelay: time.Millisecond})
	require.NoError(t, err)

	lister := &pagedLister{ids: ids(10)}
	report, err := r.Sweep(context.Background(), lister)
	require.NoError(t, err)
	require.Equal(t, 10, report.Total)
	require.Equal(t, 9, report.Succeeded)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, []string{"", "ord-003", "ord-007"}, lister.calls)
}

func TestSweepExactPageBoundary(t *testing.T) {
	resolver := &fakeResolver{}
	r, err := batch.NewRecalculator(batch.Config{Resolver: resolver, PageSize: 5, PageDelay: -1})
	require.NoError(t, err)

	lister := &pagedLister{ids: ids(10)}
	report, err := r.Sweep(context.Background(), lister)
	require.NoError(t, err)
	require.Equal(t, 10, report.Total)
	require.Equal(t, []string{"", "ord-004", "ord-009"}, lister.calls)
}

func TestSweepZeroPageDelayDoesNotPause(t *testing.T) {
	r, err := batch.NewRecalculator(batch.Config{Resolver: &fakeResolver{}, PageSize: 1})
	require.NoError(t, err)

	lister := &pagedLister{ids: ids(30)}
	start := time.Now()
	report, err := r.Sweep(context.Background(), lister)
	require.NoError(t, err)
	require.Equal(t, 30, report.Total)
	require.Less(t, time.Since(start), time.Second)
}

func TestSweepStopsOnListError(t *testing.T) {
	r, err := batch.NewRecalculator(batch.Config{Resolver: &fakeResolver{}})
	require.NoError(t, err)
	_, err = r.Sweep(context.Background(), &pagedLister{err: errors.New("db down")})
	require.ErrorContains(t, err, "db down")

	_, err = batch.NewRecalculator(batch.Config{})
	require.Error(t, err)
}

type recordingClient struct {
	tasks []*asynq.Task
	err   error
}

func (c *recordingClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

func TestEnqueuerBuildsTask(t *testing.T) {
	client := &recordingClient{}
	enq := batch.TaskEnqueuer{Client: client, Unique: time.Minute, MaxRetry: 5}
	require.NoError(t, enq.Enqueue(context.Background(), "ord-1", true))
	require.Len(t, client.tasks, 1)
	require.Equal(t, batch.TypeRecalculate, client.tasks[0].Type())

	var payload batch.RecalculatePayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	require.Equal(t, batch.RecalculatePayload{OrderID: "ord-1", Force: true}, payload)

	require.Error(t, enq.Enqueue(context.Background(), "", false))
}

func TestEnqueuerIgnoresDuplicates(t *testing.T) {
	enq := batch.TaskEnqueuer{Client: &recordingClient{err: asynq.ErrDuplicateTask}}
	require.NoError(t, enq.Enqueue(context.Background(), "ord-1", false))

	enq = batch.TaskEnqueuer{Client: &recordingClient{err: errors.New("redis down")}}
	require.ErrorContains(t, enq.Enqueue(context.Background(), "ord-1", false), "redis down")
}

func TestTaskHandler(t *testing.T) {
	resolver := &fakeResolver{fail: map[string]error{"bad": errors.New("no base price")}}
	h := batch.TaskHandler{Resolver: resolver}

	task, err := batch.NewRecalculateTask("ord-1", false)
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Equal(t, []string{"ord-1"}, resolver.gets)

	task, err = batch.NewRecalculateTask("ord-2", true)
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Equal(t, []string{"ord-2"}, resolver.forced)

	task, err = batch.NewRecalculateTask("bad", false)
	require.NoError(t, err)
	err = h.ProcessTask(context.Background(), task)
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	err = h.ProcessTask(context.Background(), asynq.NewTask(batch.TypeRecalculate, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = h.ProcessTask(context.Background(), asynq.NewTask(batch.TypeRecalculate, []byte(`{"orderId":""}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
