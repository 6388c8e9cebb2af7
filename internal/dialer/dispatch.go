package dialer

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/model"
	"github.com/sells-group/dialer-cli/internal/resilience"
)

// DispatchResult counts the chunks of one rank's send plan. For
// asynchronous dispatchers the counts are zero and Started is set.
type DispatchResult struct {
	DialerTaskID string `json:"dialer_task_id"`
	Rank         int    `json:"rank"`
	Chunks       int    `json:"chunks"`
	Sent         int    `json:"sent"`
	Failed       int    `json:"failed"`
	Started      bool   `json:"started,omitempty"`
}

// Dispatcher runs the send chain for one plan.
type Dispatcher interface {
	Dispatch(ctx context.Context, plan model.SendPlan) (*DispatchResult, error)
}

// InlineDispatcher submits chunks sequentially in the calling goroutine.
// Each chunk gets the pipeline's retry budget behind the create_task circuit
// breaker; an exhausted chunk is dead-lettered and the chain moves on. While
// the circuit is open the chain waits out the reset timeout rather than
// dead-lettering chunks it never tried.
type InlineDispatcher struct {
	Pipeline *Pipeline
}

// Dispatch implements Dispatcher.
func (d *InlineDispatcher) Dispatch(ctx context.Context, plan model.SendPlan) (*DispatchResult, error) {
	p := d.Pipeline
	res := &DispatchResult{DialerTaskID: plan.DialerTaskID, Rank: plan.Rank, Chunks: len(plan.Chunks)}

	retry := p.retry
	retry.OnRetry = resilience.RetryLogger("airudder", EndpointCreateTask)
	cb := p.breakers.Get(EndpointCreateTask)

	for _, ref := range plan.Chunks {
		err := p.submitWithBreaker(ctx, cb, retry, ref)
		if err == nil {
			res.Sent++
			continue
		}
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "dialer: send chain cancelled")
		}
		res.Failed++
		if dlErr := p.DeadLetterChunk(ctx, ref, err); dlErr != nil {
			zap.L().Error("dialer: dead-letter chunk", zap.Int("chunk", ref.ChunkIndex), zap.Error(dlErr))
		}
	}

	if err := p.FinishSend(ctx, plan.DialerTaskID, res.Sent, res.Failed); err != nil {
		return res, err
	}
	return res, nil
}

// submitWithBreaker sends one chunk, sleeping through open-circuit periods.
// Each wait is followed by a fresh retry budget; a chunk rejected by the
// circuit more than MaxAttempts times is returned as failed.
func (p *Pipeline) submitWithBreaker(ctx context.Context, cb *resilience.CircuitBreaker, retry resilience.RetryConfig, ref model.ChunkRef) error {
	for waits := 0; ; waits++ {
		if d := cb.RetryAfter(); d > 0 {
			zap.L().Warn("dialer: vendor circuit open, waiting",
				zap.Int("chunk", ref.ChunkIndex),
				zap.Duration("retry_after", d),
			)
			if err := p.sleep(ctx, d); err != nil {
				return err
			}
		}
		_, err := resilience.Call(ctx, cb, retry, func(ctx context.Context) (*model.VendorTask, error) {
			return p.SubmitChunk(ctx, ref)
		})
		if !errors.Is(err, resilience.ErrCircuitOpen) || waits >= retry.MaxAttempts {
			return err
		}
	}
}
