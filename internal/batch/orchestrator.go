package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docserver-mcp/docserver/internal/embedding"
	"github.com/docserver-mcp/docserver/internal/metrics"
)

// Orchestrator accumulates embedding requests into size/time-bounded
// batches and drives them through submission, polling, and result
// ingestion (§4.6). The batch map and "current batch" pointer are guarded
// by a single mutex per §5's concurrency model; critical sections stay
// bounded to map/pointer manipulation, never an outbound provider call.
type Orchestrator struct {
	mu      sync.Mutex
	batches map[string]*Batch
	current *Batch

	client       *embedding.Client
	logger       *slog.Logger
	baselineRate float64
	discount     float64
	maxAge       time.Duration
}

// Config controls cost-accounting constants and in-memory retention.
type Config struct {
	BaselineCostPerMillion float64
	BatchDiscount          float64
	MaxCompletedAge        time.Duration
}

// DefaultConfig returns §4.6's defaults plus a one-hour in-memory
// retention window for terminal batches.
func DefaultConfig() Config {
	return Config{
		BaselineCostPerMillion: DefaultCostPerMillionTokens,
		BatchDiscount:          DefaultBatchDiscount,
		MaxCompletedAge:        time.Hour,
	}
}

// NewOrchestrator builds an orchestrator over an embedding client.
func NewOrchestrator(client *embedding.Client, cfg Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		batches:      make(map[string]*Batch),
		client:       client,
		logger:       logger,
		baselineRate: cfg.BaselineCostPerMillion,
		discount:     cfg.BatchDiscount,
		maxAge:       cfg.MaxCompletedAge,
	}
}

// AddRequest appends req to the current batch, creating a new one if none
// exists or the current batch can no longer accept requests (§4.6).
// Callers must keep request ids unique; adding a duplicate id within a
// batch is undefined per §4.6.
func (o *Orchestrator) AddRequest(req Request) (batchID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil || !o.current.canAccept() {
		b := newBatch()
		o.batches[b.LocalID] = b
		o.current = b
		metrics.BatchesByState.WithLabelValues(string(StateAccepting)).Inc()
	}

	o.current.Requests = append(o.current.Requests, req)
	if o.current.readyToSubmit() {
		o.current.State = StateReady
		metrics.BatchesByState.WithLabelValues(string(StateAccepting)).Dec()
		metrics.BatchesByState.WithLabelValues(string(StateReady)).Inc()
	}

	return o.current.LocalID
}

// Get returns a shallow copy of a batch's current state.
func (o *Orchestrator) Get(localID string) (Batch, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.batches[localID]
	if !ok {
		return Batch{}, false
	}
	return *b, true
}

// readyBatches returns every batch currently in the Ready state, for
// submission by the poller.
func (o *Orchestrator) readyBatches() []*Batch {
	o.mu.Lock()
	defer o.mu.Unlock()

	var ready []*Batch
	for _, b := range o.batches {
		if b.State == StateReady {
			ready = append(ready, b)
		}
	}
	return ready
}

// inFlightBatches returns every batch currently Submitted or Processing,
// for status polling.
func (o *Orchestrator) inFlightBatches() []*Batch {
	o.mu.Lock()
	defer o.mu.Unlock()

	var inFlight []*Batch
	for _, b := range o.batches {
		if b.State == StateSubmitted || b.State == StateProcessing {
			inFlight = append(inFlight, b)
		}
	}
	return inFlight
}

// Submit serializes a ready batch to provider-specific JSONL, uploads it,
// creates the provider batch job, and transitions it to Submitted.
func (o *Orchestrator) Submit(ctx context.Context, b *Batch) error {
	var buf bytes.Buffer
	for _, req := range b.Requests {
		line, err := json.Marshal(map[string]any{
			"custom_id": req.ID,
			"method":    "POST",
			"url":       "/v1/embeddings",
			"body": map[string]any{
				"model": req.Model,
				"input": req.Text,
			},
		})
		if err != nil {
			return fmt.Errorf("marshaling batch line for request %s: %w", req.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	fileID, err := o.client.UploadBatchFile(ctx, buf.Bytes(), fmt.Sprintf("batch-%s.jsonl", b.LocalID))
	if err != nil {
		o.transitionFailed(b, fmt.Errorf("uploading batch file: %w", err))
		return err
	}

	providerID, err := o.client.CreateBatch(ctx, fileID)
	if err != nil {
		o.transitionFailed(b, fmt.Errorf("creating batch: %w", err))
		return err
	}

	b.ComputeCost(o.baselineRate, o.discount)

	o.mu.Lock()
	metrics.BatchesByState.WithLabelValues(string(b.State)).Dec()
	b.ProviderID = providerID
	b.State = StateSubmitted
	b.SubmittedAt = time.Now()
	metrics.BatchesByState.WithLabelValues(string(StateSubmitted)).Inc()
	if o.current == b {
		o.current = nil
	}
	o.mu.Unlock()

	return nil
}

// promoteAging moves the current accepting batch to Ready if it has aged
// past MaxBatchWait, even though it never reached OptimalBatchSize (§4.6).
// AddRequest only re-evaluates readyToSubmit when a new request arrives, so
// a trailing current batch that stops receiving adds would otherwise sit in
// Accepting forever; the poller is the only other place this transition can
// happen.
func (o *Orchestrator) promoteAging() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil || !o.current.readyToSubmit() {
		return
	}
	metrics.BatchesByState.WithLabelValues(string(StateAccepting)).Dec()
	o.current.State = StateReady
	metrics.BatchesByState.WithLabelValues(string(StateReady)).Inc()
	o.current = nil
}

// PollOnce submits every ready batch and polls every in-flight batch once,
// in parallel via golang.org/x/sync/errgroup, matching the pack's bounded
// concurrent-fan-out idiom for provider calls.
func (o *Orchestrator) PollOnce(ctx context.Context) error {
	o.promoteAging()

	g, gctx := errgroup.WithContext(ctx)

	for _, b := range o.readyBatches() {
		b := b
		g.Go(func() error {
			if err := o.Submit(gctx, b); err != nil {
				o.logger.Error("batch submission failed", "batch", b.LocalID, "error", err)
			}
			return nil
		})
	}

	for _, b := range o.inFlightBatches() {
		b := b
		g.Go(func() error {
			if err := o.pollBatch(gctx, b); err != nil {
				o.logger.Error("batch poll failed", "batch", b.LocalID, "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func (o *Orchestrator) pollBatch(ctx context.Context, b *Batch) error {
	status, err := o.client.GetBatch(ctx, b.ProviderID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if b.State == StateSubmitted {
		metrics.BatchesByState.WithLabelValues(string(StateSubmitted)).Dec()
		b.State = StateProcessing
		metrics.BatchesByState.WithLabelValues(string(StateProcessing)).Inc()
	}
	o.mu.Unlock()

	switch status.Status {
	case "completed":
		return o.ingestResults(ctx, b, status.OutputFileID)
	case "failed", "expired", "cancelled":
		o.transitionFailed(b, fmt.Errorf("provider reported status %q", status.Status))
	}
	return nil
}

// ingestResults downloads and maps provider results onto per-request
// entries by request id (§4.6). Parse errors on individual lines are
// flagged per-entry rather than failing the whole batch.
func (o *Orchestrator) ingestResults(ctx context.Context, b *Batch, outputFileID string) error {
	content, err := o.client.DownloadBatchResults(ctx, outputFileID)
	if err != nil {
		return fmt.Errorf("downloading batch results: %w", err)
	}

	results := make(map[string]Result)
	for _, line := range bytes.Split(content, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry struct {
			CustomID string `json:"custom_id"`
			Response *struct {
				Body struct {
					Data []struct {
						Embedding []float32 `json:"embedding"`
					} `json:"data"`
				} `json:"body"`
			} `json:"response"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // malformed line; skip rather than abort the batch
		}

		if entry.Error != nil {
			results[entry.CustomID] = Result{RequestID: entry.CustomID, Error: entry.Error.Message}
			continue
		}
		if entry.Response != nil && len(entry.Response.Body.Data) > 0 {
			results[entry.CustomID] = Result{RequestID: entry.CustomID, Embedding: entry.Response.Body.Data[0].Embedding}
		}
	}

	o.mu.Lock()
	metrics.BatchesByState.WithLabelValues(string(b.State)).Dec()
	b.Results = results
	b.State = StateCompleted
	b.CompletedAt = time.Now()
	metrics.BatchesByState.WithLabelValues(string(StateCompleted)).Inc()
	o.mu.Unlock()

	return nil
}

func (o *Orchestrator) transitionFailed(b *Batch, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	metrics.BatchesByState.WithLabelValues(string(b.State)).Dec()
	b.State = StateFailed
	b.FailureReason = cause.Error()
	b.CompletedAt = time.Now()
	metrics.BatchesByState.WithLabelValues(string(StateFailed)).Inc()
	if o.current == b {
		o.current = nil
	}
}

// Cleanup purges terminal batches older than the configured max age,
// bounding the orchestrator's memory footprint (§4.6).
func (o *Orchestrator) Cleanup() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	purged := 0
	for id, b := range o.batches {
		if !isTerminal(b.State) {
			continue
		}
		if time.Since(b.CompletedAt) >= o.maxAge {
			delete(o.batches, id)
			metrics.BatchesByState.WithLabelValues(string(b.State)).Dec()
			purged++
		}
	}
	return purged
}

func isTerminal(s State) bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}
