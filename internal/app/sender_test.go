package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/chunkship/internal/domain"
)

var errBoom = errors.New("boom")

// fakeQueue is an in-memory ChunkQueue that records the add order and can
// inject peek and drop failures.
type fakeQueue struct {
	mu        sync.Mutex
	chunks    []domain.Chunk
	added     []domain.Chunk
	max       int
	peekFails int
	dropErr   error
}

func (q *fakeQueue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

func (q *fakeQueue) Add(chunks []domain.Chunk) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.max > 0 && len(q.chunks)+len(chunks) > q.max {
		return domain.ErrQueueFull
	}
	q.chunks = append(q.chunks, chunks...)
	q.added = append(q.added, chunks...)
	return nil
}

func (q *fakeQueue) Peek(n int) ([]domain.Chunk, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.peekFails > 0 {
		q.peekFails--
		return nil, errBoom
	}
	if n > len(q.chunks) {
		n = len(q.chunks)
	}
	return append([]domain.Chunk(nil), q.chunks[:n]...), nil
}

func (q *fakeQueue) Drop(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dropErr != nil {
		return q.dropErr
	}
	if n > len(q.chunks) {
		n = len(q.chunks)
	}
	q.chunks = q.chunks[n:]
	return nil
}

func (q *fakeQueue) Added() []domain.Chunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.Chunk(nil), q.added...)
}

type transportCall struct {
	device string
	chunks []domain.Chunk
	at     time.Time
}

// fakeTransport records calls and the highest number of overlapping calls.
// Results come from errs in order, then fail.
type fakeTransport struct {
	mu          sync.Mutex
	calls       []transportCall
	errs        []error
	fail        error
	block       chan struct{}
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func (f *fakeTransport) Post(ctx context.Context, deviceID string, chunks []domain.Chunk) error {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	idx := len(f.calls)
	f.calls = append(f.calls, transportCall{
		device: deviceID,
		chunks: domain.CloneChunks(chunks),
		at:     time.Now(),
	})
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if idx < len(f.errs) {
		return f.errs[idx]
	}
	return f.fail
}

func (f *fakeTransport) Calls() []transportCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transportCall(nil), f.calls...)
}

func (f *fakeTransport) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *fakeTransport) SetFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

// recordingEmitter records delivery outcomes.
type recordingEmitter struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
}

func (r *recordingEmitter) OnOutcome(o domain.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recordingEmitter) Outcomes() []domain.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Outcome(nil), r.outcomes...)
}

func fastConfig() SenderConfig {
	cfg := DefaultSenderConfig()
	cfg.MinPostInterval = 0
	cfg.BackoffInitial = 5 * time.Millisecond
	cfg.BackoffMax = 20 * time.Millisecond
	return cfg
}

func newTestSender(t *testing.T, q *fakeQueue, tr *fakeTransport, cfg SenderConfig) (*ChunkSender, *recordingEmitter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	em := &recordingEmitter{}
	s, err := NewChunkSender(ctx, "dev-1", q, tr, cfg, mockLogger{}, em)
	if err != nil {
		t.Fatalf("NewChunkSender: %v", err)
	}
	return s, em
}

func waitDrained(t *testing.T, s *ChunkSender) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("sender did not settle: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func chunks(names ...string) []domain.Chunk {
	out := make([]domain.Chunk, len(names))
	for i, n := range names {
		out[i] = domain.Chunk(n)
	}
	return out
}

func sameChunks(a, b []domain.Chunk) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if string(a[i]) != string(b[i]) {
			return false
		}
	}
	return true
}

func TestNewChunkSender_Validation(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{}
	ctx := context.Background()

	bad := fastConfig()
	bad.BatchSize = 0

	tests := []struct {
		name    string
		device  string
		queue   *fakeQueue
		cfg     SenderConfig
		wantErr error
	}{
		{"empty device", "", q, fastConfig(), domain.ErrInvalidDevice},
		{"nil queue", "d", nil, fastConfig(), domain.ErrInvalidConfig},
		{"zero batch size", "d", q, bad, domain.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.queue == nil {
				_, err = NewChunkSender(ctx, tt.device, nil, tr, tt.cfg, mockLogger{}, nil)
			} else {
				_, err = NewChunkSender(ctx, tt.device, tt.queue, tr, tt.cfg, mockLogger{}, nil)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewChunkSender() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestChunkSender_RetriesThenSucceeds(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{errs: []error{errBoom, errBoom}}
	cfg := fastConfig()
	cfg.MaxConsecutiveErrors = 5
	s, em := newTestSender(t, q, tr, cfg)

	if err := s.EnqueueAndPost(chunks("a", "b")); err != nil {
		t.Fatalf("EnqueueAndPost: %v", err)
	}
	waitDrained(t, s)

	calls := tr.Calls()
	if len(calls) != 3 {
		t.Fatalf("got %d transport calls, want 3", len(calls))
	}
	for i, c := range calls {
		if !sameChunks(c.chunks, chunks("a", "b")) {
			t.Errorf("call %d payload = %q, want [a b]", i, c.chunks)
		}
	}
	if q.Count() != 0 {
		t.Errorf("queue count = %d, want 0", q.Count())
	}
	if s.State() != domain.SenderIdle {
		t.Errorf("state = %v, want Idle", s.State())
	}
	if s.ConsecutiveErrors() != 0 {
		t.Errorf("ConsecutiveErrors() = %d, want 0", s.ConsecutiveErrors())
	}

	outcomes := em.Outcomes()
	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}
	if outcomes[0].RetryIn != 5*time.Millisecond || outcomes[1].RetryIn != 10*time.Millisecond {
		t.Errorf("retry delays = %v, %v, want 5ms, 10ms", outcomes[0].RetryIn, outcomes[1].RetryIn)
	}
	if !outcomes[2].Delivered() || outcomes[2].Attempt != 3 {
		t.Errorf("final outcome = %+v, want delivered on attempt 3", outcomes[2])
	}
}

func TestChunkSender_DropsAfterMaxConsecutiveErrors(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{fail: errBoom}
	cfg := fastConfig()
	cfg.MaxConsecutiveErrors = 2
	s, em := newTestSender(t, q, tr, cfg)

	_ = s.EnqueueAndPost(chunks("a"))
	waitDrained(t, s)

	if n := len(tr.Calls()); n != 2 {
		t.Errorf("got %d transport calls, want 2", n)
	}
	if q.Count() != 0 {
		t.Errorf("queue count = %d, want 0 after drop", q.Count())
	}
	outcomes := em.Outcomes()
	if len(outcomes) != 2 || !outcomes[1].Dropped {
		t.Fatalf("outcomes = %+v, want second outcome dropped", outcomes)
	}
	if outcomes[0].Dropped {
		t.Error("first failure should not drop")
	}
}

func TestChunkSender_MaxOneDropsOnFirstFailure(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{errs: []error{errBoom}}
	cfg := fastConfig()
	cfg.MaxConsecutiveErrors = 1
	cfg.BatchSize = 1
	s, _ := newTestSender(t, q, tr, cfg)

	_ = s.EnqueueAndPost(chunks("a", "b"))
	waitDrained(t, s)

	calls := tr.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d transport calls, want 2", len(calls))
	}
	if !sameChunks(calls[1].chunks, chunks("b")) {
		t.Errorf("second call = %q, want [b]", calls[1].chunks)
	}
}

func TestChunkSender_CircuitOpenDoesNotCountTowardsDrop(t *testing.T) {
	open := fmt.Errorf("%w: %w", domain.ErrTransport, domain.ErrCircuitOpen)
	q := &fakeQueue{}
	tr := &fakeTransport{errs: []error{open, open, open}}
	cfg := fastConfig()
	cfg.MaxConsecutiveErrors = 1
	s, em := newTestSender(t, q, tr, cfg)

	_ = s.EnqueueAndPost(chunks("a"))
	waitDrained(t, s)

	calls := tr.Calls()
	if len(calls) != 4 {
		t.Fatalf("got %d transport calls, want 4", len(calls))
	}
	for i, c := range calls {
		if !sameChunks(c.chunks, chunks("a")) {
			t.Errorf("call %d = %q, want [a]", i, c.chunks)
		}
	}
	if q.Count() != 0 || s.ConsecutiveErrors() != 0 {
		t.Errorf("count = %d errors = %d, want 0 and 0", q.Count(), s.ConsecutiveErrors())
	}
	for _, o := range em.Outcomes() {
		if o.Dropped {
			t.Errorf("outcome %+v dropped while the circuit was open", o)
		}
	}
}

func TestChunkSender_ZeroMaxRetriesForever(t *testing.T) {
	q := &fakeQueue{}
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = errBoom
	}
	tr := &fakeTransport{errs: errs}
	cfg := fastConfig()
	cfg.MaxConsecutiveErrors = 0
	cfg.BackoffInitial = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	s, em := newTestSender(t, q, tr, cfg)

	_ = s.EnqueueAndPost(chunks("a"))
	waitDrained(t, s)

	if n := len(tr.Calls()); n != 11 {
		t.Errorf("got %d transport calls, want 11", n)
	}
	for _, o := range em.Outcomes() {
		if o.Dropped {
			t.Fatal("batch dropped with unlimited retries")
		}
	}
	if q.Count() != 0 {
		t.Errorf("queue count = %d, want 0", q.Count())
	}
}

func TestChunkSender_PreservesOrderAcrossBatches(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{}
	cfg := fastConfig()
	cfg.BatchSize = 2
	s, _ := newTestSender(t, q, tr, cfg)

	_ = s.EnqueueAndPost(chunks("c0", "c1", "c2", "c3", "c4"))
	waitDrained(t, s)

	want := [][]domain.Chunk{chunks("c0", "c1"), chunks("c2", "c3"), chunks("c4")}
	calls := tr.Calls()
	if len(calls) != len(want) {
		t.Fatalf("got %d calls, want %d", len(calls), len(want))
	}
	for i := range want {
		if !sameChunks(calls[i].chunks, want[i]) {
			t.Errorf("call %d = %q, want %q", i, calls[i].chunks, want[i])
		}
	}
}

func TestChunkSender_MaxBatchBytes(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{}
	cfg := fastConfig()
	cfg.MaxBatchBytes = 4
	s, _ := newTestSender(t, q, tr, cfg)

	_ = s.EnqueueAndPost(chunks("aa", "bb", "ccccc", "d"))
	waitDrained(t, s)

	want := [][]domain.Chunk{chunks("aa", "bb"), chunks("ccccc"), chunks("d")}
	calls := tr.Calls()
	if len(calls) != len(want) {
		t.Fatalf("got %d calls, want %d", len(calls), len(want))
	}
	for i := range want {
		if !sameChunks(calls[i].chunks, want[i]) {
			t.Errorf("call %d = %q, want %q", i, calls[i].chunks, want[i])
		}
	}
}

func TestChunkSender_ConcurrentEnqueueNeverOverlaps(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{delay: 2 * time.Millisecond}
	cfg := fastConfig()
	cfg.BatchSize = 3
	s, _ := newTestSender(t, q, tr, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.EnqueueAndPost([]domain.Chunk{{byte(i)}})
		}(i)
	}
	wg.Wait()
	waitDrained(t, s)

	if tr.MaxInFlight() != 1 {
		t.Errorf("max concurrent transport calls = %d, want 1", tr.MaxInFlight())
	}

	var delivered []domain.Chunk
	for _, c := range tr.Calls() {
		delivered = append(delivered, c.chunks...)
	}
	if !sameChunks(delivered, q.Added()) {
		t.Errorf("delivered %v, want enqueue order %v", delivered, q.Added())
	}
}

func TestChunkSender_StopDuringBackoff(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{fail: errBoom}
	cfg := fastConfig()
	cfg.BackoffInitial = 100 * time.Millisecond
	cfg.BackoffMax = time.Second
	s, _ := newTestSender(t, q, tr, cfg)

	_ = s.EnqueueAndPost(chunks("a"))
	waitFor(t, "backoff", func() bool { return s.State() == domain.SenderWaitingBackoff })

	s.Stop()
	waitDrained(t, s)
	if s.IsPosting() {
		t.Error("IsPosting() = true after Stop")
	}

	time.Sleep(150 * time.Millisecond)
	if n := len(tr.Calls()); n != 1 {
		t.Fatalf("got %d transport calls while stopped, want 1", n)
	}
	if q.Count() != 1 {
		t.Fatalf("queue count = %d, want 1", q.Count())
	}

	tr.SetFail(nil)
	s.Post()
	waitDrained(t, s)

	if n := len(tr.Calls()); n != 2 {
		t.Errorf("got %d transport calls after resume, want 2", n)
	}
	if q.Count() != 0 {
		t.Errorf("queue count = %d, want 0", q.Count())
	}
}

func TestChunkSender_StopWhileInFlight(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{block: make(chan struct{})}
	cfg := fastConfig()
	cfg.BatchSize = 1
	s, _ := newTestSender(t, q, tr, cfg)

	_ = s.EnqueueAndPost(chunks("a", "b"))
	waitFor(t, "first call", func() bool { return len(tr.Calls()) == 1 })

	s.Stop()
	if s.State() != domain.SenderStopped {
		t.Errorf("state = %v, want Stopped", s.State())
	}
	close(tr.block)
	waitDrained(t, s)

	if n := len(tr.Calls()); n != 1 {
		t.Errorf("got %d calls, want 1 (no call after Stop)", n)
	}
	if q.Count() != 1 {
		t.Errorf("queue count = %d, want 1 (in-flight result applied)", q.Count())
	}
	if s.State() != domain.SenderStopped {
		t.Errorf("state = %v, want Stopped", s.State())
	}
}

func TestChunkSender_StopThenPostWhileInFlight(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{block: make(chan struct{})}
	cfg := fastConfig()
	cfg.BatchSize = 1
	s, _ := newTestSender(t, q, tr, cfg)

	_ = s.EnqueueAndPost(chunks("a", "b"))
	waitFor(t, "first call", func() bool { return len(tr.Calls()) == 1 })

	s.Stop()
	s.Post()
	close(tr.block)
	waitDrained(t, s)

	if tr.MaxInFlight() != 1 {
		t.Errorf("max concurrent calls = %d, want 1", tr.MaxInFlight())
	}
	if n := len(tr.Calls()); n != 2 {
		t.Errorf("got %d calls, want 2", n)
	}
	if q.Count() != 0 {
		t.Errorf("queue count = %d, want 0", q.Count())
	}
}

func TestChunkSender_StopWhileInFlightFailureDrops(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{block: make(chan struct{}), errs: []error{errBoom}}
	cfg := fastConfig()
	cfg.BatchSize = 1
	cfg.MaxConsecutiveErrors = 1
	s, em := newTestSender(t, q, tr, cfg)

	_ = s.EnqueueAndPost(chunks("a", "b"))
	waitFor(t, "first call", func() bool { return len(tr.Calls()) == 1 })

	s.Stop()
	close(tr.block)
	waitDrained(t, s)

	if n := len(tr.Calls()); n != 1 {
		t.Errorf("got %d calls, want 1 (no call after Stop)", n)
	}
	if q.Count() != 1 {
		t.Errorf("queue count = %d, want 1 (failed batch dropped)", q.Count())
	}
	if s.State() != domain.SenderStopped {
		t.Errorf("state = %v, want Stopped", s.State())
	}
	outcomes := em.Outcomes()
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	if !outcomes[0].Dropped {
		t.Errorf("outcome = %+v, want Dropped", outcomes[0])
	}
}

func TestChunkSender_StopWhileInFlightFailureKeepsBackoff(t *testing.T) {
	const backoff = 200 * time.Millisecond

	q := &fakeQueue{}
	tr := &fakeTransport{block: make(chan struct{}), errs: []error{errBoom}}
	cfg := fastConfig()
	cfg.BackoffInitial = backoff
	cfg.BackoffMax = time.Second
	s, em := newTestSender(t, q, tr, cfg)

	_ = s.EnqueueAndPost(chunks("a"))
	waitFor(t, "first call", func() bool { return len(tr.Calls()) == 1 })

	s.Stop()
	released := time.Now()
	close(tr.block)
	waitDrained(t, s)

	if s.State() != domain.SenderStopped || s.ConsecutiveErrors() != 1 {
		t.Fatalf("state = %v errors = %d, want Stopped and 1", s.State(), s.ConsecutiveErrors())
	}
	if n := len(tr.Calls()); n != 1 {
		t.Fatalf("got %d calls before Post, want 1", n)
	}

	s.Post()
	waitDrained(t, s)

	calls := tr.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if gap := calls[1].at.Sub(released); gap < backoff {
		t.Errorf("retry after %v, want at least %v", gap, backoff)
	}
	if q.Count() != 0 || s.ConsecutiveErrors() != 0 {
		t.Errorf("count = %d errors = %d, want 0 and 0", q.Count(), s.ConsecutiveErrors())
	}
	if got := em.Outcomes()[0].RetryIn; got != backoff {
		t.Errorf("RetryIn = %v, want %v", got, backoff)
	}
}

func TestChunkSender_PostWithEmptyQueue(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{}
	s, _ := newTestSender(t, q, tr, fastConfig())

	s.Post()
	if s.State() != domain.SenderIdle {
		t.Errorf("state = %v, want Idle", s.State())
	}

	s.Stop()
	s.Post()
	if s.State() != domain.SenderIdle {
		t.Errorf("state after Stop+Post = %v, want Idle", s.State())
	}
	if n := len(tr.Calls()); n != 0 {
		t.Errorf("got %d calls, want 0", n)
	}
}

func TestChunkSender_EnqueueWhileStopped(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{}
	s, _ := newTestSender(t, q, tr, fastConfig())

	s.Stop()
	if err := q.Add(chunks("a")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(tr.Calls()); n != 0 {
		t.Errorf("got %d calls while stopped, want 0", n)
	}

	_ = s.EnqueueAndPost(chunks("b"))
	waitDrained(t, s)
	if n := len(tr.Calls()); n != 1 {
		t.Errorf("got %d calls, want 1", n)
	}
}

func TestChunkSender_QueueFullStillPosts(t *testing.T) {
	q := &fakeQueue{max: 1}
	tr := &fakeTransport{}
	s, _ := newTestSender(t, q, tr, fastConfig())

	if err := q.Add(chunks("a")); err != nil {
		t.Fatal(err)
	}
	err := s.EnqueueAndPost(chunks("b"))
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Errorf("EnqueueAndPost() error = %v, want ErrQueueFull", err)
	}
	waitDrained(t, s)
	if n := len(tr.Calls()); n != 1 {
		t.Errorf("got %d calls, want 1", n)
	}
}

func TestChunkSender_AlreadyInFlightDoesNotRetry(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{errs: []error{domain.ErrAlreadyInFlight}}
	s, em := newTestSender(t, q, tr, fastConfig())

	_ = s.EnqueueAndPost(chunks("a"))
	waitDrained(t, s)

	if n := len(tr.Calls()); n != 1 {
		t.Errorf("got %d calls, want 1", n)
	}
	if q.Count() != 1 {
		t.Errorf("queue count = %d, want 1", q.Count())
	}
	if s.State() != domain.SenderIdle || s.ConsecutiveErrors() != 0 {
		t.Errorf("state = %v errors = %d, want Idle and 0", s.State(), s.ConsecutiveErrors())
	}
	if len(em.Outcomes()) != 1 {
		t.Errorf("got %d outcomes, want 1", len(em.Outcomes()))
	}
}

func TestChunkSender_PeekFailureRetries(t *testing.T) {
	q := &fakeQueue{peekFails: 2}
	tr := &fakeTransport{}
	s, em := newTestSender(t, q, tr, fastConfig())

	_ = s.EnqueueAndPost(chunks("a"))
	waitDrained(t, s)

	if n := len(tr.Calls()); n != 1 {
		t.Errorf("got %d calls, want 1", n)
	}
	if q.Count() != 0 {
		t.Errorf("queue count = %d, want 0", q.Count())
	}
	if n := len(em.Outcomes()); n != 1 {
		t.Errorf("got %d outcomes, want 1 (peek failures are not deliveries)", n)
	}
}

func TestChunkSender_MinPostInterval(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTransport{}
	cfg := fastConfig()
	cfg.BatchSize = 1
	cfg.MinPostInterval = 40 * time.Millisecond
	s, _ := newTestSender(t, q, tr, cfg)

	_ = s.EnqueueAndPost(chunks("a", "b"))
	waitDrained(t, s)

	calls := tr.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if gap := calls[1].at.Sub(calls[0].at); gap < 30*time.Millisecond {
		t.Errorf("gap between calls = %v, want at least ~40ms", gap)
	}
}

func TestChunkSender_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := &fakeQueue{}
	tr := &fakeTransport{fail: errBoom}
	cfg := fastConfig()
	cfg.BackoffInitial = time.Second
	cfg.BackoffMax = time.Second

	s, err := NewChunkSender(ctx, "dev", q, tr, cfg, mockLogger{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.EnqueueAndPost(chunks("a"))
	waitFor(t, "backoff", func() bool { return s.State() == domain.SenderWaitingBackoff })

	cancel()
	waitDrained(t, s)
	if s.State() != domain.SenderStopped {
		t.Errorf("state = %v, want Stopped", s.State())
	}

	s.Post()
	if s.IsPosting() {
		t.Error("Post after context cancel started a cycle")
	}
}
