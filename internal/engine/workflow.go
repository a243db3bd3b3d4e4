package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"efileflow/internal/domain"
	"efileflow/internal/events"
	"efileflow/internal/metrics"
	"efileflow/internal/repo"
)

// maxTransitionAttempts bounds how often a transition is re-evaluated after
// losing a concurrent update on the same file.
const maxTransitionAttempts = 3

// StateUpdate is a typed workflow transition request.
type StateUpdate struct {
	State domain.State
	// AssignedTo keeps the current assignee when empty.
	AssignedTo string
	// TeamInternal must agree with State; isWithinTeam is derived from State.
	TeamInternal bool
	// StartTAT starts the TAT clock on an external transition.
	StartTAT bool
	ActorID  string
	// Holder, when set, denies the update unless Holder has the file.
	Holder string
}

func (u StateUpdate) validate() error {
	if !u.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidStateUpdate, u.State)
	}
	if u.TeamInternal != u.State.WithinTeam() {
		return fmt.Errorf("%w: team_internal=%t contradicts state %s", ErrInvalidStateUpdate, u.TeamInternal, u.State)
	}
	return nil
}

// InitializeWorkflowState creates the workflow record for a file with the
// creator holding it inside the team. On an existing record only creator and
// assignee are refreshed.
func (e Engine) InitializeWorkflowState(ctx context.Context, fileID, creatorID string) (domain.WorkflowState, error) {
	if fileID == "" || creatorID == "" {
		return domain.WorkflowState{}, errors.New("file_id and creator_id required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowState{}, err
	}
	defer tx.Rollback()
	st, err := e.initializeTx(ctx, tx, fileID, creatorID, e.stamp())
	if err != nil {
		return domain.WorkflowState{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeWorkflowUpdated, fileID, "workflow_state", fileID, creatorID, events.EventPayload{
		"action": "initialize", "state": st.CurrentState, "assigned_to": st.CurrentAssignedTo,
	}); err != nil {
		return domain.WorkflowState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowState{}, err
	}
	return st, nil
}

func (e Engine) initializeTx(ctx context.Context, tx *sql.Tx, fileID, creatorID, now string) (domain.WorkflowState, error) {
	err := e.Repo.UpsertWorkflowState(ctx, tx, domain.WorkflowState{
		FileID:            fileID,
		CreatorID:         creatorID,
		CurrentAssignedTo: creatorID,
		CurrentState:      domain.StateTeamInternal,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		return domain.WorkflowState{}, fmt.Errorf("upsert workflow state: %w", err)
	}
	return e.Repo.GetWorkflowStateTx(ctx, tx, fileID)
}

// GetWorkflowState returns the workflow record of a file, or nil when the
// file has none.
func (e Engine) GetWorkflowState(ctx context.Context, fileID string) (*domain.WorkflowState, error) {
	st, err := e.Repo.GetWorkflowState(ctx, fileID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow state: %w", err)
	}
	return &st, nil
}

// UpdateWorkflowState applies upd to the file's workflow record and moves the
// file record to the new assignee in the same transaction.
func (e Engine) UpdateWorkflowState(ctx context.Context, fileID string, upd StateUpdate) (domain.WorkflowState, error) {
	if err := upd.validate(); err != nil {
		return domain.WorkflowState{}, err
	}
	return e.applyInTx(ctx, fileID, "update", upd)
}

// StartTAT forces the file into external routing and starts its TAT clock.
// The first start time is kept when the clock already runs.
func (e Engine) StartTAT(ctx context.Context, fileID, actorID string) (domain.WorkflowState, error) {
	return e.applyInTx(ctx, fileID, ActionStartTAT, StateUpdate{
		State:    domain.StateExternal,
		StartTAT: true,
		ActorID:  actorID,
	})
}

// MarkReturnToCreator hands the file back to its creator for rework.
func (e Engine) MarkReturnToCreator(ctx context.Context, fileID, creatorID, actorID string) (domain.WorkflowState, error) {
	st, err := e.Repo.GetWorkflowState(ctx, fileID)
	if err != nil {
		return domain.WorkflowState{}, err
	}
	if creatorID == "" {
		creatorID = st.CreatorID
	}
	if creatorID != st.CreatorID {
		return domain.WorkflowState{}, fmt.Errorf("%w: %s is not the creator of file %s", ErrInvalidStateUpdate, creatorID, fileID)
	}
	return e.applyInTx(ctx, fileID, ActionReturn, StateUpdate{
		State:        domain.StateReturnedToCreator,
		AssignedTo:   creatorID,
		TeamInternal: true,
		ActorID:      actorID,
	})
}

// applyInTx reads and writes the state in one transaction, retrying when a
// concurrent writer bumped the version in between.
func (e Engine) applyInTx(ctx context.Context, fileID, action string, upd StateUpdate) (domain.WorkflowState, error) {
	var next domain.WorkflowState
	err := e.retryStale(ctx, fileID, func() error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		cur, err := e.Repo.GetWorkflowStateTx(ctx, tx, fileID)
		if err != nil {
			return err
		}
		if upd.Holder != "" && cur.CurrentAssignedTo != upd.Holder {
			return DeniedError{Decision: deny(ReasonNotAssigned, false)}
		}
		now := e.stamp()
		next, err = e.transition(ctx, tx, cur, upd, now)
		if err != nil {
			return err
		}
		if action != "update" {
			if _, err := e.recordMovement(ctx, tx, cur, next, actorOr(upd.ActorID), action, "", now); err != nil {
				return err
			}
		}
		if err := e.Events.Append(ctx, tx, events.TypeWorkflowUpdated, fileID, "workflow_state", fileID, actorOr(upd.ActorID), transitionPayload(action, cur, next)); err != nil {
			return err
		}
		if !cur.TATStarted && next.TATStarted {
			if err := e.Events.Append(ctx, tx, events.TypeTATStarted, fileID, "file", fileID, actorOr(upd.ActorID), events.EventPayload{
				"tat_started_at": *next.TATStartedAt, "assigned_to": next.CurrentAssignedTo,
			}); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return domain.WorkflowState{}, err
	}
	metrics.ObserveTransition(action, string(next.CurrentState))
	return next, nil
}

// retryStale runs fn until it stops failing with repo.ErrStaleState.
func (e Engine) retryStale(ctx context.Context, fileID string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, repo.ErrStaleState) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		metrics.ObserveStaleRetry()
		e.log().Debug("workflow state changed concurrently; retrying",
			zap.String("file_id", fileID), zap.Int("attempt", attempt))
	}
	return err
}

// transition computes the successor of cur under upd, writes it guarded by
// cur.Version and moves the file record to the new assignee.
func (e Engine) transition(ctx context.Context, tx *sql.Tx, cur domain.WorkflowState, upd StateUpdate, now string) (domain.WorkflowState, error) {
	next := cur
	next.CurrentState = upd.State
	next.IsWithinTeam = upd.State.WithinTeam()
	if upd.AssignedTo != "" {
		next.CurrentAssignedTo = upd.AssignedTo
	}
	if !next.IsWithinTeam {
		stamp := now
		next.LastExternalMarkAt = &stamp
		if upd.StartTAT {
			next.TATStarted = true
			if next.TATStartedAt == nil {
				next.TATStartedAt = &stamp
			}
		}
	}
	next.UpdatedAt = now
	if err := e.Repo.UpdateWorkflowState(ctx, tx, next, cur.Version); err != nil {
		return domain.WorkflowState{}, err
	}
	next.Version = cur.Version + 1
	if err := e.Repo.SetAssignee(ctx, tx, cur.FileID, next.CurrentAssignedTo, now); err != nil {
		return domain.WorkflowState{}, fmt.Errorf("set assignee: %w", err)
	}
	return next, nil
}

func transitionPayload(action string, cur, next domain.WorkflowState) events.EventPayload {
	p := events.EventPayload{
		"action":      action,
		"from_state":  cur.CurrentState,
		"to_state":    next.CurrentState,
		"from_user":   cur.CurrentAssignedTo,
		"assigned_to": next.CurrentAssignedTo,
		"tat_started": next.TATStarted,
	}
	if !cur.TATStarted && next.TATStarted {
		p["tat_started_at"] = *next.TATStartedAt
	}
	return p
}

// IsFileWithTeam reports whether the file is actively circulating inside
// the creator's team. A file returned to its creator does not count.
func (e Engine) IsFileWithTeam(ctx context.Context, fileID string) (bool, error) {
	st, err := e.GetWorkflowState(ctx, fileID)
	if err != nil || st == nil {
		return false, err
	}
	return st.IsWithinTeam && st.CurrentState == domain.StateTeamInternal, nil
}

// TATRegister lists files with their TAT clock, optionally only those whose
// clock has started.
func (e Engine) TATRegister(ctx context.Context, onlyStarted bool) ([]domain.TATEntry, error) {
	entries, err := e.Repo.ListTATEntries(ctx, onlyStarted)
	if err != nil {
		return nil, fmt.Errorf("list tat entries: %w", err)
	}
	return entries, nil
}
