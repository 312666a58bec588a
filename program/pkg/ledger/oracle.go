package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Fulfillment is an oracle answer to one request.
type Fulfillment struct {
	Request    RandomnessRequest
	Randomness [32]byte
}

// LocalOracle queues requests in memory and answers them with
// crypto/rand output when Deliver is called. It stands in for an external
// VRF on local ledgers and in tests.
type LocalOracle struct {
	log     *slog.Logger
	entropy io.Reader

	mu      sync.Mutex
	pending []RandomnessRequest
}

func NewLocalOracle(log *slog.Logger) *LocalOracle {
	return &LocalOracle{log: log, entropy: rand.Reader}
}

func (o *LocalOracle) Request(ctx context.Context, req RandomnessRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.pending {
		if p.Seed == req.Seed {
			return nil
		}
	}
	o.pending = append(o.pending, req)
	o.log.Debug("ledger/oracle: request queued", "kind", req.Kind, "round_id", req.RoundID, "target", req.Target)
	return nil
}

// Pending returns a copy of the queued requests.
func (o *LocalOracle) Pending() []RandomnessRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]RandomnessRequest(nil), o.pending...)
}

// Deliver answers every queued request through fn. Requests whose callback
// fails stay queued and the first error is returned. A failed randomness
// read stops delivery and keeps the remaining requests queued.
func (o *LocalOracle) Deliver(ctx context.Context, fn func(ctx context.Context, f Fulfillment) error) error {
	o.mu.Lock()
	queue := o.pending
	o.pending = nil
	o.mu.Unlock()

	var (
		failed   []RandomnessRequest
		firstErr error
	)
	for i, req := range queue {
		f := Fulfillment{Request: req}
		if _, err := io.ReadFull(o.entropy, f.Randomness[:]); err != nil {
			o.requeue(append(failed, queue[i:]...))
			return fmt.Errorf("failed to read randomness: %w", err)
		}
		if err := fn(ctx, f); err != nil {
			o.log.Warn("ledger/oracle: delivery failed", "kind", req.Kind, "round_id", req.RoundID, "error", err)
			failed = append(failed, req)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	o.requeue(failed)
	return firstErr
}

// requeue puts reqs back ahead of anything queued since Deliver started.
func (o *LocalOracle) requeue(reqs []RandomnessRequest) {
	if len(reqs) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(reqs, o.pending...)
}
