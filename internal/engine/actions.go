package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"efileflow/internal/domain"
	"efileflow/internal/events"
	"efileflow/internal/metrics"
	"efileflow/internal/repo"
)

// Movement actions recorded in file history.
const (
	ActionCreate   = "create"
	ActionMark     = "mark"
	ActionReturn   = "return"
	ActionStartTAT = "start_tat"
)

// SignatureMethods lists accepted signature capture methods.
var SignatureMethods = []any{"drawn", "typed", "otp", "dsc"}

type CreateFileOptions struct {
	ID         string
	FileNumber string
	Subject    string
	Category   string
	Department string
	CreatorID  string
}

func (o *CreateFileOptions) Validate() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.FileNumber, validation.Required, validation.Length(1, 64)),
		validation.Field(&o.Subject, validation.Required, validation.Length(1, 512)),
		validation.Field(&o.Category, validation.Length(0, 128)),
		validation.Field(&o.Department, validation.Length(0, 128)),
		validation.Field(&o.CreatorID, validation.Required),
	)
}

// CreateFile stores a new file held by its creator together with its initial
// workflow state.
func (e Engine) CreateFile(ctx context.Context, opts CreateFileOptions) (domain.File, domain.WorkflowState, error) {
	opts.FileNumber = strings.TrimSpace(opts.FileNumber)
	opts.Subject = strings.TrimSpace(opts.Subject)
	if err := opts.Validate(); err != nil {
		return domain.File{}, domain.WorkflowState{}, err
	}
	creator, ok, err := e.resolveUser(ctx, opts.CreatorID)
	if err != nil {
		return domain.File{}, domain.WorkflowState{}, err
	}
	if !ok {
		return domain.File{}, domain.WorkflowState{}, fmt.Errorf("creator %s: %w", opts.CreatorID, repo.ErrNotFound)
	}
	if !creator.IsActive {
		return domain.File{}, domain.WorkflowState{}, fmt.Errorf("creator %s is not active", opts.CreatorID)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	now := e.stamp()
	assignee := creator.ID
	f := domain.File{
		ID:         opts.ID,
		FileNumber: opts.FileNumber,
		Subject:    opts.Subject,
		Category:   opts.Category,
		Department: opts.Department,
		CreatorID:  creator.ID,
		AssignedTo: &assignee,
		Status:     "open",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.File{}, domain.WorkflowState{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertFile(ctx, tx, f); err != nil {
		return domain.File{}, domain.WorkflowState{}, fmt.Errorf("insert file: %w", err)
	}
	st, err := e.initializeTx(ctx, tx, f.ID, creator.ID, now)
	if err != nil {
		return domain.File{}, domain.WorkflowState{}, err
	}
	if err := e.Repo.InsertMovement(ctx, tx, domain.Movement{
		ID:        uuid.NewString(),
		FileID:    f.ID,
		ToUserID:  creator.ID,
		ToState:   st.CurrentState,
		Action:    ActionCreate,
		CreatedAt: now,
	}); err != nil {
		return domain.File{}, domain.WorkflowState{}, fmt.Errorf("insert movement: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeFileCreated, f.ID, "file", f.ID, creator.ID, events.EventPayload{
		"file_number": f.FileNumber, "subject": f.Subject, "state": st.CurrentState,
	}); err != nil {
		return domain.File{}, domain.WorkflowState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.File{}, domain.WorkflowState{}, err
	}
	metrics.ObserveTransition(ActionCreate, string(st.CurrentState))
	return f, st, nil
}

type MarkOptions struct {
	FileID   string
	ActorID  string
	ToUserID string
	Remarks  string
}

func (o *MarkOptions) Validate() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.FileID, validation.Required),
		validation.Field(&o.ActorID, validation.Required),
		validation.Field(&o.ToUserID, validation.Required),
		validation.Field(&o.Remarks, validation.Length(0, 2000)),
	)
}

// MarkResult describes an applied forward marking.
type MarkResult struct {
	State             domain.WorkflowState `json:"state"`
	Movement          domain.Movement      `json:"movement"`
	TeamInternal      bool                 `json:"team_internal"`
	TATStartedNow     bool                 `json:"tat_started_now"`
	RequiresSignature bool                 `json:"requires_signature"`
}

// MarkTo forwards a file to another user. The permission decision is taken
// against one version of the workflow state and the write only succeeds if
// that version is still current; otherwise the whole decision is re-run.
// A refusal is returned as DeniedError.
func (e Engine) MarkTo(ctx context.Context, opts MarkOptions) (MarkResult, error) {
	if err := opts.Validate(); err != nil {
		return MarkResult{}, err
	}
	var res MarkResult
	err := e.retryStale(ctx, opts.FileID, func() error {
		var err error
		res, err = e.markOnce(ctx, opts)
		return err
	})
	if err != nil {
		var de DeniedError
		if errors.As(err, &de) {
			metrics.ObserveMarkDenial(de.Decision.Reason)
			e.log().Info("mark denied",
				zap.String("file_id", opts.FileID), zap.String("actor_id", opts.ActorID),
				zap.String("to_user_id", opts.ToUserID), zap.String("reason", de.Decision.Reason))
		}
		return MarkResult{}, err
	}
	metrics.ObserveTransition(ActionMark, string(res.State.CurrentState))
	e.log().Info("file marked",
		zap.String("file_id", opts.FileID), zap.String("actor_id", opts.ActorID),
		zap.String("to_user_id", opts.ToUserID), zap.String("state", string(res.State.CurrentState)),
		zap.Bool("tat_started_now", res.TATStartedNow))
	return res, nil
}

func (e Engine) markOnce(ctx context.Context, opts MarkOptions) (MarkResult, error) {
	st, err := e.GetWorkflowState(ctx, opts.FileID)
	if err != nil {
		return MarkResult{}, err
	}
	if st == nil {
		// Files predating workflow tracking get their record on first move.
		f, ok, err := e.getFile(ctx, opts.FileID)
		if err != nil {
			return MarkResult{}, err
		}
		if ok {
			initial, err := e.InitializeWorkflowState(ctx, f.ID, f.CreatorID)
			if err != nil {
				return MarkResult{}, err
			}
			st = &initial
		}
	}
	decision, err := e.canMarkForward(ctx, opts.FileID, st, opts.ActorID, opts.ToUserID)
	if err != nil {
		return MarkResult{}, err
	}
	if !decision.CanMark {
		return MarkResult{}, DeniedError{Decision: decision}
	}
	within, err := e.withinTeamWorkflow(ctx, opts.FileID, st, opts.ActorID, opts.ToUserID)
	if err != nil {
		return MarkResult{}, err
	}
	upd := StateUpdate{State: domain.StateTeamInternal, AssignedTo: opts.ToUserID, TeamInternal: true, ActorID: opts.ActorID}
	if !within {
		upd = StateUpdate{State: domain.StateExternal, AssignedTo: opts.ToUserID, StartTAT: true, ActorID: opts.ActorID}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return MarkResult{}, err
	}
	defer tx.Rollback()
	now := e.stamp()
	next, err := e.transition(ctx, tx, *st, upd, now)
	if err != nil {
		return MarkResult{}, err
	}
	mv, err := e.recordMovement(ctx, tx, *st, next, opts.ActorID, ActionMark, opts.Remarks, now)
	if err != nil {
		return MarkResult{}, err
	}
	payload := transitionPayload(ActionMark, *st, next)
	payload["requires_signature"] = decision.RequiresSignature
	if opts.Remarks != "" {
		payload["remarks"] = opts.Remarks
	}
	if err := e.Events.Append(ctx, tx, events.TypeFileMarked, opts.FileID, "file", opts.FileID, opts.ActorID, payload); err != nil {
		return MarkResult{}, err
	}
	startedNow := !st.TATStarted && next.TATStarted
	if startedNow {
		if err := e.Events.Append(ctx, tx, events.TypeTATStarted, opts.FileID, "file", opts.FileID, opts.ActorID, events.EventPayload{
			"tat_started_at": *next.TATStartedAt, "assigned_to": next.CurrentAssignedTo,
		}); err != nil {
			return MarkResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return MarkResult{}, err
	}
	return MarkResult{
		State:             next,
		Movement:          mv,
		TeamInternal:      within,
		TATStartedNow:     startedNow,
		RequiresSignature: decision.RequiresSignature,
	}, nil
}

func (e Engine) recordMovement(ctx context.Context, tx *sql.Tx, cur, next domain.WorkflowState, actorID, action, remarks, now string) (domain.Movement, error) {
	from := actorID
	fromState := cur.CurrentState
	mv := domain.Movement{
		ID:         uuid.NewString(),
		FileID:     cur.FileID,
		FromUserID: &from,
		ToUserID:   next.CurrentAssignedTo,
		FromState:  &fromState,
		ToState:    next.CurrentState,
		Action:     action,
		Remarks:    remarks,
		CreatedAt:  now,
	}
	if err := e.Repo.InsertMovement(ctx, tx, mv); err != nil {
		return domain.Movement{}, fmt.Errorf("insert movement: %w", err)
	}
	return mv, nil
}

type StartTATOptions struct {
	FileID  string
	ActorID string
}

// StartFileTAT puts a file on the TAT clock without routing it. Only the
// current holder may do so; a file already on external TAT comes back
// unchanged.
func (e Engine) StartFileTAT(ctx context.Context, opts StartTATOptions) (domain.WorkflowState, error) {
	err := validation.ValidateStruct(&opts,
		validation.Field(&opts.FileID, validation.Required),
		validation.Field(&opts.ActorID, validation.Required),
	)
	if err != nil {
		return domain.WorkflowState{}, err
	}
	st, err := e.Repo.GetWorkflowState(ctx, opts.FileID)
	if err != nil {
		return domain.WorkflowState{}, err
	}
	if st.CurrentAssignedTo != opts.ActorID {
		return domain.WorkflowState{}, DeniedError{Decision: deny(ReasonNotAssigned, false)}
	}
	if st.TATStarted && st.CurrentState == domain.StateExternal {
		return st, nil
	}
	return e.applyInTx(ctx, opts.FileID, ActionStartTAT, StateUpdate{
		State:    domain.StateExternal,
		StartTAT: true,
		ActorID:  opts.ActorID,
		Holder:   opts.ActorID,
	})
}

type ReturnOptions struct {
	FileID  string
	ActorID string
	Remarks string
}

// ReturnToCreator sends the file back to its creator. Only the current
// holder may return it.
func (e Engine) ReturnToCreator(ctx context.Context, opts ReturnOptions) (domain.WorkflowState, error) {
	err := validation.ValidateStruct(&opts,
		validation.Field(&opts.FileID, validation.Required),
		validation.Field(&opts.ActorID, validation.Required),
		validation.Field(&opts.Remarks, validation.Length(0, 2000)),
	)
	if err != nil {
		return domain.WorkflowState{}, err
	}
	var next domain.WorkflowState
	err = e.retryStale(ctx, opts.FileID, func() error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		cur, err := e.Repo.GetWorkflowStateTx(ctx, tx, opts.FileID)
		if err != nil {
			return err
		}
		if cur.CurrentAssignedTo != opts.ActorID {
			return DeniedError{Decision: deny(ReasonNotAssigned, false)}
		}
		if cur.CurrentAssignedTo == cur.CreatorID {
			return DeniedError{Decision: deny(ReasonAlreadyWithCreator, false)}
		}
		now := e.stamp()
		next, err = e.transition(ctx, tx, cur, StateUpdate{
			State:        domain.StateReturnedToCreator,
			AssignedTo:   cur.CreatorID,
			TeamInternal: true,
			ActorID:      opts.ActorID,
		}, now)
		if err != nil {
			return err
		}
		if _, err := e.recordMovement(ctx, tx, cur, next, opts.ActorID, ActionReturn, opts.Remarks, now); err != nil {
			return err
		}
		payload := transitionPayload(ActionReturn, cur, next)
		if opts.Remarks != "" {
			payload["remarks"] = opts.Remarks
		}
		if err := e.Events.Append(ctx, tx, events.TypeFileReturned, opts.FileID, "file", opts.FileID, opts.ActorID, payload); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return domain.WorkflowState{}, err
	}
	metrics.ObserveTransition(ActionReturn, string(next.CurrentState))
	return next, nil
}

type SignOptions struct {
	FileID      string
	UserID      string
	Method      string
	ContentHash string
}

// Sign records an active signature of the user on the file.
func (e Engine) Sign(ctx context.Context, opts SignOptions) (domain.Signature, error) {
	if opts.Method == "" {
		opts.Method = "drawn"
	}
	err := validation.ValidateStruct(&opts,
		validation.Field(&opts.FileID, validation.Required),
		validation.Field(&opts.UserID, validation.Required),
		validation.Field(&opts.Method, validation.In(SignatureMethods...)),
		validation.Field(&opts.ContentHash, validation.Length(0, 128)),
	)
	if err != nil {
		return domain.Signature{}, err
	}
	if _, err := e.Repo.GetFile(ctx, opts.FileID); err != nil {
		return domain.Signature{}, fmt.Errorf("file %s: %w", opts.FileID, err)
	}
	u, ok, err := e.resolveUser(ctx, opts.UserID)
	if err != nil {
		return domain.Signature{}, err
	}
	if !ok {
		return domain.Signature{}, fmt.Errorf("user %s: %w", opts.UserID, repo.ErrNotFound)
	}
	if !u.IsActive {
		return domain.Signature{}, fmt.Errorf("user %s is not active", opts.UserID)
	}
	sig := domain.Signature{
		ID:          uuid.NewString(),
		FileID:      opts.FileID,
		UserID:      opts.UserID,
		Method:      opts.Method,
		ContentHash: opts.ContentHash,
		IsActive:    true,
		SignedAt:    e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Signature{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSignature(ctx, tx, sig); err != nil {
		return domain.Signature{}, fmt.Errorf("insert signature: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeSignatureAdded, opts.FileID, "signature", sig.ID, opts.UserID, events.EventPayload{
		"method": sig.Method,
	}); err != nil {
		return domain.Signature{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Signature{}, err
	}
	return sig, nil
}

// RevokeSignature deactivates the user's signatures on the file.
func (e Engine) RevokeSignature(ctx context.Context, fileID, userID string) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.DeactivateSignatures(ctx, tx, fileID, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke signatures: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("active signature: %w", repo.ErrNotFound)
	}
	if err := e.Events.Append(ctx, tx, events.TypeSignatureRevoked, fileID, "signature", "", userID, events.EventPayload{
		"revoked": n,
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// ListMovements returns the routing history of a file.
func (e Engine) ListMovements(ctx context.Context, fileID string) ([]domain.Movement, error) {
	if _, err := e.Repo.GetFile(ctx, fileID); err != nil {
		return nil, err
	}
	return e.Repo.ListMovements(ctx, fileID)
}

// CreateAPIKey issues a new API key for a directory user. The raw key is
// only returned here; the store keeps its hash.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name, issuedBy string) (domain.APIKey, string, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("user %s: %w", userID, err)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := "efk_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Events.Append(ctx, tx, events.TypeAPIKeyCreated, "", "api_key", key.ID, actorOr(issuedBy), events.EventPayload{"name": name, "user_id": userID}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}
