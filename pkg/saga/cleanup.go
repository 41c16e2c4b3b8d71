package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sagalog/sagalog/pkg/logger"
)

// Cleanup defaults. Aborted sagas are kept longer because they are the ones
// an operator is most likely to dig into.
const (
	DefaultCompletedRetention = 7 * 24 * time.Hour
	DefaultAbortedRetention   = 30 * 24 * time.Hour
	DefaultScanInterval       = time.Hour
)

// ArchiveHook receives a saga's full message sequence right before deletion.
// A nil return lets the deletion proceed.
type ArchiveHook func(ctx context.Context, sagaID string, msgs []Message) error

// CleanupPredicate overrides the default age/status eligibility policy. It
// receives the saga's messages and decides deletion on its own; retention
// durations are ignored when a predicate is set.
type CleanupPredicate func(sagaID string, msgs []Message) bool

// CleanupStats summarizes one scan.
type CleanupStats struct {
	Scanned  int
	Deleted  int
	Archived int
	Errors   int
}

// CleanupService periodically scans the log and deletes terminal sagas past
// their retention horizon, bounding storage growth. Active sagas are never
// touched, regardless of age.
type CleanupService struct {
	log                Log
	logger             logger.Logger
	metrics            MetricsRecorder
	completedRetention time.Duration
	abortedRetention   time.Duration
	scanInterval       time.Duration
	archive            ArchiveHook
	predicate          CleanupPredicate
	onCleanup          func(deleted, archived int)
	onError            func(error)
	strictArchive      bool
	now                func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// CleanupOption configures a CleanupService.
type CleanupOption func(*CleanupService)

// WithCompletedRetention sets how long completed sagas are kept.
func WithCompletedRetention(d time.Duration) CleanupOption {
	return func(c *CleanupService) { c.completedRetention = d }
}

// WithAbortedRetention sets how long terminally aborted sagas are kept.
func WithAbortedRetention(d time.Duration) CleanupOption {
	return func(c *CleanupService) { c.abortedRetention = d }
}

// WithScanInterval sets the pause between periodic scans.
func WithScanInterval(d time.Duration) CleanupOption {
	return func(c *CleanupService) { c.scanInterval = d }
}

// WithArchiveHook installs a hook invoked with the saga's messages before
// deletion. By default a failing hook is reported through the error observer
// and the deletion proceeds anyway; WithStrictArchive changes that.
func WithArchiveHook(hook ArchiveHook) CleanupOption {
	return func(c *CleanupService) { c.archive = hook }
}

// WithStrictArchive makes a failing archive hook veto the deletion, keeping
// the saga for the next scan.
func WithStrictArchive(strict bool) CleanupOption {
	return func(c *CleanupService) { c.strictArchive = strict }
}

// WithPredicate replaces the default age/status policy entirely.
func WithPredicate(p CleanupPredicate) CleanupOption {
	return func(c *CleanupService) { c.predicate = p }
}

// WithCleanupObserver registers fn to receive the per-scan totals.
func WithCleanupObserver(fn func(deleted, archived int)) CleanupOption {
	return func(c *CleanupService) { c.onCleanup = fn }
}

// WithErrorObserver registers fn to receive per-saga scan errors.
func WithErrorObserver(fn func(error)) CleanupOption {
	return func(c *CleanupService) { c.onError = fn }
}

// WithCleanupLogger overrides the process-default logger.
func WithCleanupLogger(l logger.Logger) CleanupOption {
	return func(c *CleanupService) { c.logger = l }
}

// WithCleanupMetrics installs a metrics recorder.
func WithCleanupMetrics(m MetricsRecorder) CleanupOption {
	return func(c *CleanupService) { c.metrics = m }
}

// withClock fixes the scan's notion of now. Tests only.
func withClock(now func() time.Time) CleanupOption {
	return func(c *CleanupService) { c.now = now }
}

// NewCleanupService returns a cleanup service over log. Call Start for
// periodic scanning or RunCleanup for a single pass.
func NewCleanupService(log Log, opts ...CleanupOption) *CleanupService {
	c := &CleanupService{
		log:                log,
		logger:             logger.Default(),
		metrics:            NopMetrics(),
		completedRetention: DefaultCompletedRetention,
		abortedRetention:   DefaultAbortedRetention,
		scanInterval:       DefaultScanInterval,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the periodic scanner. Starting an already running service is
// a no-op. Stop halts it.
func (c *CleanupService) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.loop(ctx, c.done)
	c.logger.Info("cleanup service started",
		"scan_interval", c.scanInterval,
		"completed_retention", c.completedRetention,
		"aborted_retention", c.abortedRetention)
}

// Stop cancels the next scan and waits for an in-flight one to drain.
// Stopping a stopped service is a no-op.
func (c *CleanupService) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.running = false
	c.mu.Unlock()

	cancel()
	<-done
	c.logger.Info("cleanup service stopped")
}

func (c *CleanupService) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.RunCleanup(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("cleanup scan failed", "error", err)
			}
		}
	}
}

// RunCleanup performs one scan on demand. Per-saga errors are routed to the
// error observer and do not stop the scan; the returned error reports only a
// failure to enumerate sagas or a cancelled context.
func (c *CleanupService) RunCleanup(ctx context.Context) (CleanupStats, error) {
	started := c.now()
	var stats CleanupStats

	ids, err := c.log.ActiveSagaIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("cleanup: list sagas: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Scanned++
		if err := c.cleanOne(ctx, id, &stats); err != nil {
			stats.Errors++
			c.reportError(err)
		}
	}

	if c.onCleanup != nil {
		c.onCleanup(stats.Deleted, stats.Archived)
	}
	c.metrics.RecordCleanupScan(stats.Deleted, stats.Archived, stats.Errors, c.now().Sub(started))
	c.logger.InfoContext(ctx, "cleanup scan completed",
		"scanned", stats.Scanned, "deleted", stats.Deleted,
		"archived", stats.Archived, "errors", stats.Errors)
	return stats, nil
}

func (c *CleanupService) cleanOne(ctx context.Context, sagaID string, stats *CleanupStats) error {
	msgs, err := c.log.Messages(ctx, sagaID)
	if err != nil {
		return fmt.Errorf("cleanup saga %q: %w", sagaID, err)
	}
	if !c.eligible(sagaID, msgs) {
		return nil
	}

	if c.archive != nil {
		if err := c.archive(ctx, sagaID, msgs); err != nil {
			werr := fmt.Errorf("archive saga %q: %w", sagaID, err)
			if c.strictArchive {
				return werr
			}
			c.reportError(werr)
			stats.Errors++
		} else {
			stats.Archived++
		}
	}

	if err := c.log.DeleteSaga(ctx, sagaID); err != nil {
		return fmt.Errorf("delete saga %q: %w", sagaID, err)
	}
	stats.Deleted++
	c.logger.DebugContext(ctx, "saga evicted", "saga_id", sagaID)
	return nil
}

// eligible applies the custom predicate when present, else the default
// policy: a completed saga older than completedRetention, or a terminally
// aborted saga older than abortedRetention. Age is measured from the last
// message. Anything still active or mid-compensation is kept.
func (c *CleanupService) eligible(sagaID string, msgs []Message) bool {
	if c.predicate != nil {
		return c.predicate(sagaID, msgs)
	}
	st, err := FoldMessages(msgs)
	if err != nil {
		c.reportError(fmt.Errorf("fold saga %q: %w", sagaID, err))
		return false
	}
	if !st.Terminal() {
		return false
	}
	age := c.now().Sub(st.UpdatedAt())
	if st.Completed() {
		return age > c.completedRetention
	}
	return age > c.abortedRetention
}

func (c *CleanupService) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
	c.logger.Warn("cleanup error", "error", err)
}
