// Package batch implements the embedding batch orchestrator described by
// §4.6: accumulation into size/time-bounded batches, submission, polling,
// result ingestion, and cost accounting. The batch map and "current batch"
// pointer are an arena-style design per the core's design notes: batches
// are kept by local id, requests carry their own id, and no mutable
// sub-object escapes the orchestrator's mutex.
package batch

import (
	"time"

	"github.com/google/uuid"
)

// State is a batch's lifecycle stage. Transitions are monotonic except to
// the Failed/Cancelled terminals (§3).
type State string

const (
	StateAccepting State = "accepting"
	StateReady     State = "ready"
	StateSubmitted State = "submitted"
	StateProcessing State = "processing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Sizing and timing constants from §4.6.
const (
	OptimalBatchSize = 20_000
	MaxBatchSize     = 50_000
	MaxBatchWait     = 5 * time.Minute
)

// Cost accounting defaults from §4.6.
const (
	DefaultCostPerMillionTokens = 0.13
	DefaultBatchDiscount        = 0.50
)

// Request is a single embedding request accumulated into a batch (§3).
type Request struct {
	ID         string
	Text       string
	Model      string
	Dimension  int
	Metadata   map[string]any
	TokenCount int
}

// Result is the per-request outcome after a batch completes.
type Result struct {
	RequestID string
	Embedding []float32
	Error     string
}

// CostSnapshot is the cost-accounting result computed when a batch is
// submitted (§4.6).
type CostSnapshot struct {
	IndividualCost  float64
	BatchCost       float64
	Savings         float64
	PercentSavings  float64
	TotalTokens     int64
}

// Batch is the in-memory record of one embedding batch (§3).
type Batch struct {
	LocalID        string
	ProviderID     string
	State          State
	CreatedAt      time.Time
	SubmittedAt    time.Time
	CompletedAt    time.Time
	Requests       []Request
	Results        map[string]Result
	Cost           CostSnapshot
	FailureReason  string
}

// newBatch creates an empty accepting batch with a fresh local id.
func newBatch() *Batch {
	return &Batch{
		LocalID:   uuid.NewString(),
		State:     StateAccepting,
		CreatedAt: time.Now(),
		Results:   make(map[string]Result),
	}
}

// canAccept reports whether the batch may still take new requests (§3:
// while accepting, request count ≤ MAX_BATCH_SIZE; once ready/submitted,
// no more requests may be added).
func (b *Batch) canAccept() bool {
	return b.State == StateAccepting && len(b.Requests) < MaxBatchSize
}

// readyToSubmit reports whether the batch has crossed the size or age
// threshold that promotes it from accepting to ready (§4.6).
func (b *Batch) readyToSubmit() bool {
	if b.State != StateAccepting {
		return false
	}
	return len(b.Requests) >= OptimalBatchSize || time.Since(b.CreatedAt) >= MaxBatchWait
}

// ComputeCost fills in the batch's cost snapshot given the baseline rate
// and discount factor (§4.6).
func (b *Batch) ComputeCost(baselineRate, discount float64) {
	var totalTokens int64
	for _, r := range b.Requests {
		totalTokens += int64(r.TokenCount)
	}

	individual := float64(totalTokens) / 1_000_000 * baselineRate
	batchCost := individual * (1 - discount)
	savings := individual - batchCost
	percentSavings := 0.0
	if individual > 0 {
		percentSavings = savings / individual * 100
	}

	b.Cost = CostSnapshot{
		IndividualCost: individual,
		BatchCost:      batchCost,
		Savings:        savings,
		PercentSavings: percentSavings,
		TotalTokens:    totalTokens,
	}
}
