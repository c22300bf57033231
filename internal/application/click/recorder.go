package click

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/affiliate-tracker/internal/domain"
	"github.com/baechuer/affiliate-tracker/internal/metrics"
)

// Input is what the redirect handler knows about a click. ClientIP never
// leaves the recorder unhashed.
type Input struct {
	LinkID    string
	SubID     string
	ClientIP  string
	UserAgent string
	Referer   string
	ClickedAt time.Time

	clickID string
}

// FailureFunc observes clicks that were dropped after the retry budget.
type FailureFunc func(clickID string, in Input, err error)

type Options struct {
	QueueSize      int
	Workers        int
	MaxAttempts    int
	RetryBackoff   time.Duration
	PersistTimeout time.Duration
	IPHashSalt     string
	OnFailure      FailureFunc
}

// Recorder persists clicks off the redirect path through a bounded queue
// drained by a fixed set of workers.
type Recorder struct {
	store   ClickStore
	scorer  *FraudScorer
	metrics *metrics.Metrics
	opts    Options

	queue chan Input
	wg    sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

func NewRecorder(store ClickStore, scorer *FraudScorer, m *metrics.Metrics, opts Options) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if scorer == nil {
		scorer = NewFraudScorer(nil, 0, 0)
	}
	return &Recorder{
		store:   store,
		scorer:  scorer,
		metrics: m,
		opts:    opts,
		queue:   make(chan Input, opts.QueueSize),
	}
}

// Record enqueues a click and returns its id. It never blocks: when the
// queue is full or the recorder is stopped the click is dropped and
// queued is false.
func (r *Recorder) Record(in Input) (clickID string, queued bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.metrics.RecordClickDropped("stopped")
		return "", false
	}

	in.clickID = uuid.NewString()
	if in.ClickedAt.IsZero() {
		in.ClickedAt = time.Now().UTC()
	}

	select {
	case r.queue <- in:
		r.metrics.SetClickQueueDepth(len(r.queue))
		return in.clickID, true
	default:
		r.metrics.RecordClickDropped("queue_full")
		zlog.Warn().Str("link_id", in.LinkID).Msg("click_dropped: queue full")
		return "", false
	}
}

func (r *Recorder) Start(ctx context.Context) {
	for i := 0; i < r.opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

// Stop refuses new clicks, drains what is queued and waits for workers.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	r.wg.Wait()
}

func (r *Recorder) worker(ctx context.Context) {
	defer r.wg.Done()
	for in := range r.queue {
		r.metrics.SetClickQueueDepth(len(r.queue))
		r.process(ctx, in)
	}
}

func (r *Recorder) process(ctx context.Context, in Input) {
	c := r.buildClick(ctx, in)

	var err error
	for attempt := 1; ; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, r.opts.PersistTimeout)
		err = r.store.InsertClick(pctx, c)
		cancel()
		if err == nil {
			r.metrics.RecordClickRecorded()
			return
		}
		if attempt >= r.opts.MaxAttempts || !sleepCtx(ctx, r.opts.RetryBackoff<<(attempt-1)) {
			break
		}
	}

	r.metrics.RecordClickDropped("store")
	zlog.Error().Err(err).
		Str("click_id", c.ID).
		Str("link_id", c.TrackingLinkID).
		Int("attempts", r.opts.MaxAttempts).
		Msg("click_dropped: store unavailable")
	if r.opts.OnFailure != nil {
		r.opts.OnFailure(c.ID, in, err)
	}
}

func (r *Recorder) buildClick(ctx context.Context, in Input) *domain.Click {
	ipHash := HashIP(in.ClientIP, r.opts.IPHashSalt)
	platform, browser := ParseUserAgent(in.UserAgent)
	score, flags := r.scorer.Score(ctx, ipHash, in.UserAgent)

	if flags.IsBot {
		r.metrics.RecordFraudSignal("bot")
	}
	if flags.VelocityExceeded {
		r.metrics.RecordFraudSignal("velocity")
	}

	return &domain.Click{
		ID:                in.clickID,
		TrackingLinkID:    in.LinkID,
		IPHash:            ipHash,
		UserAgent:         truncate(in.UserAgent, maxUserAgentLen),
		Referer:           truncate(in.Referer, maxRefererLen),
		DeviceFingerprint: DeviceFingerprint(in.UserAgent, in.ClientIP),
		Platform:          platform,
		Browser:           browser,
		SubID:             in.SubID,
		FraudScore:        score,
		FraudFlags:        flags,
		ClickedAt:         in.ClickedAt,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
