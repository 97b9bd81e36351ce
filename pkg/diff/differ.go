package diff

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/alex-mirkin/reladiff/internal/logutil"
	"github.com/alex-mirkin/reladiff/pkg/dbconn"
	"github.com/alex-mirkin/reladiff/pkg/parallel"
)

const (
	// DefaultBisectionFactor is how many child segments each recursion
	// level splits into.
	DefaultBisectionFactor = 32

	// DefaultBisectionThreshold is the row count below which segments
	// are materialized and diffed locally.
	DefaultBisectionThreshold = 16 * 1024

	// DefaultMaxTotalQueries caps backend queries in flight across the
	// whole run, over all recursion levels.
	DefaultMaxTotalQueries = 64

	// DefaultSlowChecksumWarning is how long a checksum query may take
	// before an advisory is logged.
	DefaultSlowChecksumWarning = 10 * time.Second
)

// Differ finds the diff between two SQL tables.
//
// It uses checksums to quickly decide whether a key range differs at
// all, then bisects recursively until the disagreeing ranges are small
// enough to download and compare locally. Works best for tables that
// are mostly identical, with minor discrepancies.
type Differ struct {
	// BisectionFactor is the number of segments per iteration. Must be
	// at least 2 and below BisectionThreshold. 0 means the default.
	BisectionFactor int

	// BisectionThreshold is the row count under which segments are
	// compared locally instead of bisected further. 0 means the default.
	BisectionThreshold int64

	// Threaded controls whether the child segment pairs of a bisection
	// level are diffed concurrently; when false they run one at a time.
	// The left and right queries of a single segment pair always run
	// concurrently. Defaults to true via NewDiffer; the zero value of the
	// field is honored as-is.
	Threaded bool

	// MaxPoolSize caps how many child segment pairs of one bisection
	// level are diffed at once. 0 means unbounded per level (the global
	// query cap still applies). It does not apply to the left/right
	// query pair of a segment, which always runs as two concurrent calls.
	MaxPoolSize int

	// MaxTotalQueries caps backend queries in flight across the whole
	// run. 0 means the default; negative means unbounded.
	MaxTotalQueries int64

	// SlowChecksumWarning is the advisory threshold for checksum query
	// duration. 0 means the default.
	SlowChecksumWarning time.Duration

	// Debug promotes per-segment progress to info level.
	Debug bool

	// Logger receives diagnostics; nil means zap.NewNop.
	Logger *zap.Logger
}

// NewDiffer returns a Differ with the default configuration.
func NewDiffer() *Differ {
	return &Differ{
		BisectionFactor:    DefaultBisectionFactor,
		BisectionThreshold: DefaultBisectionThreshold,
		Threaded:           true,
	}
}

// run is one diff invocation: the normalized configuration plus the
// state shared across recursion levels.
type run struct {
	factor    int
	threshold int64
	poolLimit int
	slowWarn  time.Duration
	debug     bool

	logger *zap.Logger
	sem    *semaphore.Weighted
	stats  *Stats
}

// Diff diffs the given tables and returns a lazy event stream.
//
// Events are (+, row) for rows present in left but not in right, and
// (-, row) for the converse, with row values in canonical column order.
// The stream aborts on the first backend error; events already emitted
// remain valid. Cancelling ctx or calling Close aborts in-flight
// queries.
func (d *Differ) Diff(ctx context.Context, left, right *TableSegment) (*Diff, error) {
	r, err := d.newRun()
	if err != nil {
		return nil, err
	}

	r.logger.Info("diffing tables",
		zap.Int("bisection_factor", r.factor),
		zap.Int64("bisection_threshold", r.threshold))

	// Phase 1: discover the common key bounds, both sides in parallel.
	type bounds struct{ min, max int64 }
	keyRange := func(s *TableSegment) func(context.Context) (bounds, error) {
		return func(ctx context.Context) (bounds, error) {
			if err := r.acquire(ctx); err != nil {
				return bounds{}, err
			}
			defer r.release()
			r.stats.queries.Add(1)
			minKey, maxKey, err := s.QueryKeyRange(ctx)
			return bounds{minKey, maxKey}, err
		}
	}
	b1, b2, err := parallel.Pair(ctx, keyRange(left), keyRange(right))
	if err != nil {
		return nil, err
	}

	startKey := min(b1.min, b2.min)
	// Ranges are semi-open on the right, so the discovered max needs
	// one past it.
	endKey := max(b1.max, b2.max) + 1

	left = left.withKeyRange(startKey, endKey)
	right = right.withKeyRange(startKey, endKey)

	runCtx, cancel := context.WithCancel(ctx)
	stream := &Diff{
		events: make(chan Event),
		cancel: cancel,
		stats:  r.stats,
	}
	emit := func(ev Event) error {
		select {
		case stream.events <- ev:
			return nil
		case <-runCtx.Done():
			return runCtx.Err()
		}
	}
	go func() {
		defer cancel()
		stream.finish(r.bisectAndDiff(runCtx, left, right, 0, endKey-startKey, emit))
	}()
	return stream, nil
}

func (d *Differ) newRun() (*run, error) {
	factor := d.BisectionFactor
	if factor == 0 {
		factor = DefaultBisectionFactor
	}
	threshold := d.BisectionThreshold
	if threshold == 0 {
		threshold = DefaultBisectionThreshold
	}
	if factor < 2 {
		return nil, fmt.Errorf("%w: bisection factor must be at least 2, got %d", ErrConfig, factor)
	}
	if int64(factor) >= threshold {
		return nil, fmt.Errorf("%w: bisection factor %d must be below the bisection threshold %d", ErrConfig, factor, threshold)
	}

	poolLimit := d.MaxPoolSize
	if !d.Threaded {
		poolLimit = 1
	}
	slowWarn := d.SlowChecksumWarning
	if slowWarn == 0 {
		slowWarn = DefaultSlowChecksumWarning
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run_id", uuid.NewString()))

	var sem *semaphore.Weighted
	maxQueries := d.MaxTotalQueries
	if maxQueries == 0 {
		maxQueries = DefaultMaxTotalQueries
	}
	if maxQueries > 0 {
		sem = semaphore.NewWeighted(maxQueries)
	}

	return &run{
		factor:    factor,
		threshold: threshold,
		poolLimit: poolLimit,
		slowWarn:  slowWarn,
		debug:     d.Debug,
		logger:    logger,
		sem:       sem,
		stats:     &Stats{},
	}, nil
}

func (r *run) acquire(ctx context.Context) error {
	if r.sem == nil {
		return nil
	}
	return r.sem.Acquire(ctx, 1)
}

func (r *run) release() {
	if r.sem != nil {
		r.sem.Release(1)
	}
}

// bisectAndDiff recursively diffs two segments bounded over the same key
// range. maxRows is an upper bound on rows present in either segment; it
// shrinks monotonically down the recursion and terminates it even when
// keys are sparse.
func (r *run) bisectAndDiff(ctx context.Context, left, right *TableSegment, level int, maxRows int64, emit func(Event) error) error {
	if !left.IsBounded() || !right.IsBounded() {
		return fmt.Errorf("%w: bisection requires bounded segments", ErrConfig)
	}

	checkpoints, err := left.ChooseCheckpoints(r.factor - 1)
	if err != nil {
		return err
	}

	// Below the threshold, downloading and comparing locally is faster
	// than another round-trip of checksums. A range too narrow to split
	// is also compared locally, whatever its count, so recursion always
	// terminates.
	if maxRows < r.threshold || len(checkpoints) == 0 {
		rows1, rows2, err := parallel.Pair(ctx, r.getValues(left), r.getValues(right))
		if err != nil {
			return err
		}
		events := diffSets(rows1, rows2)
		r.progress(level, "segment compared locally",
			logutil.KeyRange(left.StartKey(), left.EndKey()),
			zap.Int("differences", len(events)))
		for _, ev := range events {
			if err := emit(ev); err != nil {
				return err
			}
		}
		return nil
	}

	segmented1, err := left.SegmentByCheckpoints(checkpoints)
	if err != nil {
		return err
	}
	segmented2, err := right.SegmentByCheckpoints(checkpoints)
	if err != nil {
		return err
	}

	// Children run concurrently, each buffering into its own channel;
	// the merge below preserves child order regardless of completion
	// order.
	n := len(segmented1)
	chans := make([]chan Event, n)
	for i := range chans {
		chans[i] = make(chan Event, 64)
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.poolLimit > 0 {
		g.SetLimit(r.poolLimit)
	}
	done := make(chan error, 1)
	go func() {
		for i := range n {
			ch := chans[i]
			s1, s2 := segmented1[i], segmented2[i]
			// g.Go blocks once the limit is reached, which is why the
			// spawn loop runs off the merge goroutine.
			g.Go(func() error {
				defer close(ch)
				return r.diffPair(gctx, s1, s2, level+1, i+1, n, func(ev Event) error {
					select {
					case ch <- ev:
						return nil
					case <-gctx.Done():
						return gctx.Err()
					}
				})
			})
		}
		done <- g.Wait()
	}()

	var emitErr error
	for _, ch := range chans {
		for ev := range ch {
			if emitErr == nil {
				emitErr = emit(ev)
			}
		}
	}
	if err := <-done; err != nil {
		return err
	}
	return emitErr
}

// diffPair compares one segment pair by checksum and recurses on
// mismatch.
func (r *run) diffPair(ctx context.Context, left, right *TableSegment, level, index, total int, emit func(Event) error) error {
	r.progress(level, "diffing segment",
		zap.Int("segment", index),
		zap.Int("of", total),
		logutil.KeyRange(left.StartKey(), left.EndKey()))

	cc1, cc2, err := parallel.Pair(ctx, r.countAndChecksum(left), r.countAndChecksum(right))
	if err != nil {
		return err
	}

	if cc1.count == 0 && cc2.count == 0 {
		r.logger.Warn("uneven distribution of keys detected (big gaps in the key column); "+
			"for better performance, increase the bisection threshold",
			logutil.KeyRange(left.StartKey(), left.EndKey()))
		if cc1.checksum.Valid || cc2.checksum.Valid {
			return fmt.Errorf("driver returned a non-null checksum for an empty segment")
		}
		return nil
	}

	if level == 1 {
		r.stats.leftRowCount.Add(cc1.count)
	}

	if !cc1.checksum.Equal(cc2.checksum) {
		return r.bisectAndDiff(ctx, left, right, level, max(cc1.count, cc2.count), emit)
	}
	return nil
}

type countChecksum struct {
	count    int64
	checksum dbconn.Checksum
}

func (r *run) countAndChecksum(s *TableSegment) func(context.Context) (countChecksum, error) {
	return func(ctx context.Context) (countChecksum, error) {
		if err := r.acquire(ctx); err != nil {
			return countChecksum{}, err
		}
		defer r.release()
		r.stats.queries.Add(1)

		start := time.Now()
		count, checksum, err := s.CountAndChecksum(ctx)
		if err != nil {
			return countChecksum{}, fmt.Errorf("checksum of keys [%d, %d): %w", s.StartKey(), s.EndKey(), err)
		}
		if d := time.Since(start); d > r.slowWarn {
			r.stats.slowChecksums.Add(1)
			r.logger.Warn("checksum is taking longer than expected; "+
				"increasing the bisection factor is recommended",
				zap.Duration("duration", d),
				logutil.KeyRange(s.StartKey(), s.EndKey()))
		}
		return countChecksum{count, checksum}, nil
	}
}

func (r *run) getValues(s *TableSegment) func(context.Context) ([]dbconn.Row, error) {
	return func(ctx context.Context) ([]dbconn.Row, error) {
		if err := r.acquire(ctx); err != nil {
			return nil, err
		}
		defer r.release()
		r.stats.queries.Add(1)

		rows, err := s.GetValues(ctx)
		if err != nil {
			return nil, fmt.Errorf("values of keys [%d, %d): %w", s.StartKey(), s.EndKey(), err)
		}
		return rows, nil
	}
}

func (r *run) progress(level int, msg string, fields ...zap.Field) {
	fields = append(fields, zap.Int("level", level))
	if r.debug {
		r.logger.Info(msg, fields...)
	} else {
		r.logger.Debug(msg, fields...)
	}
}
