package pause

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/weave/internal/engine"
	"github.com/rendis/weave/internal/secrets"
	"github.com/rendis/weave/internal/store"
	"github.com/rendis/weave/pkg/schema"
)

// Controller owns the durable side of pause and resume: it persists
// execution state snapshots and maintains the PausedExecution
// accounting row.
//
// It implements the executor's PauseHandler, so attaching it to an
// Executor is all the wiring a pause needs.
type Controller struct {
	st     store.Store
	cipher secrets.Cipher
	logger *slog.Logger
}

// NewController creates a pause controller over the given store.
func NewController(st store.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{st: st, logger: logger}
}

// SetCipher enables at-rest encryption of snapshot payloads. Snapshots
// written before the cipher was configured remain readable.
func (c *Controller) SetCipher(cipher secrets.Cipher) {
	c.cipher = cipher
}

// HandlePause persists the captured state and updates the pause
// accounting. Repeated pauses of the same execution are coalesced into
// one row, but every pause still increments totalPauseCount so
// observers can see how often the execution suspended.
func (c *Controller) HandlePause(ctx context.Context, state *engine.SerializableExecutionState) error {
	raw, err := engine.EncodeState(state)
	if err != nil {
		return err
	}
	raw, err = c.sealState(raw)
	if err != nil {
		return err
	}

	snap := &store.Snapshot{
		ID:          uuid.NewString(),
		ExecutionID: state.ExecutionID,
		State:       raw,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.st.SaveSnapshot(ctx, snap); err != nil {
		return err
	}

	existing, err := c.st.GetPausedExecution(ctx, state.ExecutionID)
	if err != nil {
		var we *schema.WeaveError
		if !errors.As(err, &we) || we.Code != schema.ErrCodeNotFound {
			return err
		}
		existing = &store.PausedExecution{
			ExecutionID: state.ExecutionID,
			WorkflowID:  state.WorkflowID,
			CreatedAt:   snap.CreatedAt,
		}
	}

	existing.Status = schema.PauseStatusActivePaused
	existing.TotalPauseCount++
	existing.LatestSnapshotID = snap.ID
	existing.UpdatedAt = time.Now().UTC()
	if err := c.st.UpsertPausedExecution(ctx, existing); err != nil {
		return err
	}

	if err := c.st.UpdateExecutionLog(ctx, state.ExecutionID, store.ExecutionLogUpdate{
		StateSnapshotID: snap.ID,
	}); err != nil {
		// The snapshot itself is safe; only the log row reference is
		// stale.
		c.logger.WarnContext(ctx, "attach snapshot to execution log failed",
			slog.String("execution_id", state.ExecutionID),
			slog.String("error", err.Error()))
	}

	c.logger.InfoContext(ctx, "execution paused",
		slog.String("execution_id", state.ExecutionID),
		slog.String("snapshot_id", snap.ID),
		slog.Int("total_pause_count", existing.TotalPauseCount))
	return nil
}

// Resume loads the latest snapshot for the execution, advances the
// pause accounting, and returns the decoded state ready to hand to the
// Executor. An execution with no persisted snapshot cannot resume.
func (c *Controller) Resume(ctx context.Context, executionID string) (*engine.SerializableExecutionState, error) {
	paused, err := c.st.GetPausedExecution(ctx, executionID)
	if err != nil {
		var we *schema.WeaveError
		if errors.As(err, &we) && we.Code == schema.ErrCodeNotFound {
			return nil, schema.NewErrorf(schema.ErrCodeSnapshotNotFound,
				"execution %q has no pause record", executionID).WithCause(err)
		}
		return nil, err
	}

	snap, err := c.st.GetLatestSnapshot(ctx, executionID)
	if err != nil {
		return nil, err
	}

	raw, err := c.openState(snap.State)
	if err != nil {
		return nil, err
	}
	state, err := engine.DecodeState(raw)
	if err != nil {
		return nil, err
	}

	paused.ResumedCount++
	if paused.ResumedCount < paused.TotalPauseCount {
		paused.Status = schema.PauseStatusPartiallyResumed
	} else {
		paused.Status = schema.PauseStatusFullyResumed
	}
	paused.UpdatedAt = time.Now().UTC()
	if err := c.st.UpsertPausedExecution(ctx, paused); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "execution resuming",
		slog.String("execution_id", executionID),
		slog.String("pause_status", string(paused.Status)),
		slog.Int("resumed_count", paused.ResumedCount))
	return state, nil
}

// sealedEnvelope wraps an encrypted snapshot payload so the stored
// value stays valid JSON.
type sealedEnvelope struct {
	Sealed []byte `json:"sealed"`
}

func (c *Controller) sealState(raw json.RawMessage) (json.RawMessage, error) {
	if c.cipher == nil {
		return raw, nil
	}
	sealed, err := c.cipher.Seal(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sealedEnvelope{Sealed: sealed})
}

func (c *Controller) openState(raw json.RawMessage) (json.RawMessage, error) {
	var env sealedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Sealed) == 0 {
		// Plaintext snapshot.
		return raw, nil
	}
	if c.cipher == nil {
		return nil, schema.NewError(schema.ErrCodeSnapshot,
			"snapshot is encrypted but no cipher is configured")
	}
	return c.cipher.Open(env.Sealed)
}

// Status returns the pause accounting row for an execution.
func (c *Controller) Status(ctx context.Context, executionID string) (*store.PausedExecution, error) {
	return c.st.GetPausedExecution(ctx, executionID)
}

// ListPending returns paused executions that still owe a resume.
func (c *Controller) ListPending(ctx context.Context, limit int) ([]*store.PausedExecution, error) {
	all, err := c.st.ListPausedExecutions(ctx, limit)
	if err != nil {
		return nil, err
	}
	pending := make([]*store.PausedExecution, 0, len(all))
	for _, p := range all {
		if p.HasPendingPause() {
			pending = append(pending, p)
		}
	}
	return pending, nil
}
