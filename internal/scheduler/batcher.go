package scheduler

// Bounds on the adaptive batch size (spec.md §4.8).
const (
	minBatchSize = 8
	maxBatchSize = 512

	targetP99LatencyMs     = 5.0
	targetThroughputPerSec = 250_000.0
	efficientBatchSize     = 64
)

// Signals are the three measurements taken over a sliding 5-second
// window that drive adaptive batch sizing (spec.md §4.8).
type Signals struct {
	P99LatencyMs     float64
	ThroughputPerSec float64
	QueuePressure    float64 // queueLen / capacity
}

// Batcher tracks the current adaptive batch size and applies the
// control rules from spec.md §4.8. Grounded on the teacher's
// WorkerPool sizing-by-constant (services/mddbd/worker_pool.go),
// generalized from a fixed pool size to a size that responds to
// measured pressure.
type Batcher struct {
	size int
}

// NewBatcher starts at the efficient baseline size.
func NewBatcher() *Batcher { return &Batcher{size: efficientBatchSize} }

// Size returns the current batch size.
func (b *Batcher) Size() int { return b.size }

// AdjustWindow applies the window-level control rules in priority
// order: a latency breach always shrinks first; growth only happens
// when latency is within target (spec.md §4.8).
func (b *Batcher) AdjustWindow(sig Signals) {
	latencyOK := sig.P99LatencyMs <= targetP99LatencyMs
	switch {
	case !latencyOK:
		b.resize(float64(b.size) * 0.7)
	case sig.ThroughputPerSec < targetThroughputPerSec:
		b.resize(float64(b.size) * 1.3)
	case sig.QueuePressure > 0.8:
		b.resize(float64(b.size) * 1.5)
	case sig.QueuePressure < 0.1:
		b.nudgeToward(efficientBatchSize)
	}
}

// AdjustPerBatch applies the fifth rule: a batch whose processing
// took too long shrinks the size independently of the window signals
// (spec.md §4.8).
func (b *Batcher) AdjustPerBatch(processingTooSlow bool) {
	if processingTooSlow {
		b.resize(float64(b.size) * 0.85)
	}
}

func (b *Batcher) resize(target float64) {
	n := int(target)
	if n < minBatchSize {
		n = minBatchSize
	}
	if n > maxBatchSize {
		n = maxBatchSize
	}
	if n == b.size {
		// Guarantee forward progress on a persistent signal even when
		// rounding would otherwise leave the size unchanged.
		if target < float64(b.size) && n > minBatchSize {
			n--
		} else if target > float64(b.size) && n < maxBatchSize {
			n++
		}
	}
	b.size = n
}

func (b *Batcher) nudgeToward(target int) {
	switch {
	case b.size < target:
		b.resize(float64(b.size) + 1)
	case b.size > target:
		b.resize(float64(b.size) - 1)
	}
}
