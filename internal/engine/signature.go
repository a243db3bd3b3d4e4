package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"efileflow/internal/domain"
)

// Signature rules, in evaluation order. The first rule that applies decides.
const (
	ruleTeamInternal   = "team_internal"
	ruleTeamRolePair   = "team_role_pair"
	ruleEscalation     = "escalation"
	ruleExternalTarget = "external_target"
	ruleExternalSource = "external_source"
	ruleExternalState  = "external_state"
	ruleDefault        = "default"
)

// RequiresESignatureBeforeMarking reports whether fromUserID must have signed
// the file before marking it to toUserID.
func (e Engine) RequiresESignatureBeforeMarking(ctx context.Context, fileID, fromUserID, toUserID string) (bool, error) {
	st, err := e.GetWorkflowState(ctx, fileID)
	if err != nil {
		return false, err
	}
	required, _, err := e.signatureRequirement(ctx, fileID, st, fromUserID, toUserID)
	return required, err
}

func (e Engine) signatureRequirement(ctx context.Context, fileID string, st *domain.WorkflowState, fromUserID, toUserID string) (bool, string, error) {
	if st != nil && st.CurrentState == domain.StateTeamInternal {
		within, err := e.withinTeamWorkflow(ctx, fileID, st, fromUserID, toUserID)
		if err != nil {
			return false, "", err
		}
		if within {
			return false, ruleTeamInternal, nil
		}
	}
	from, _, err := e.resolveUser(ctx, fromUserID)
	if err != nil {
		return false, "", err
	}
	to, _, err := e.resolveUser(ctx, toUserID)
	if err != nil {
		return false, "", err
	}
	r := e.routing()
	switch {
	case r.TeamMemberRoles.MatchesAny(from.RoleCode) && r.TeamMemberRoles.MatchesAny(to.RoleCode):
		return false, ruleTeamRolePair, nil
	case e.escalates(from.RoleCode, to.RoleCode):
		return true, ruleEscalation, nil
	case r.ExternalTierRoles.MatchesAny(to.RoleCode) && !r.TeamMemberRoles.MatchesAny(to.RoleCode):
		return true, ruleExternalTarget, nil
	case r.ExternalTierRoles.MatchesAny(from.RoleCode):
		return true, ruleExternalSource, nil
	case st != nil && st.CurrentState == domain.StateExternal:
		return true, ruleExternalState, nil
	}
	return false, ruleDefault, nil
}

func (e Engine) escalates(fromRole, toRole string) bool {
	for _, esc := range e.routing().Escalations {
		if esc.Matches(fromRole, toRole) {
			return true
		}
	}
	return false
}

// HasActiveSignature reports whether userID holds an active signature on fileID.
func (e Engine) HasActiveSignature(ctx context.Context, fileID, userID string) (bool, error) {
	n, err := e.Repo.CountActiveSignatures(ctx, fileID, userID)
	if err != nil {
		return false, fmt.Errorf("count signatures: %w", err)
	}
	return n > 0, nil
}

// CanMarkFileForward decides whether userID may mark the file to toUserID.
// A missing signature is reported as a decision, not an error, so the caller
// can prompt for one.
func (e Engine) CanMarkFileForward(ctx context.Context, fileID, userID, toUserID string) (domain.MarkDecision, error) {
	st, err := e.GetWorkflowState(ctx, fileID)
	if err != nil {
		return domain.MarkDecision{}, err
	}
	return e.canMarkForward(ctx, fileID, st, userID, toUserID)
}

func (e Engine) canMarkForward(ctx context.Context, fileID string, st *domain.WorkflowState, userID, toUserID string) (domain.MarkDecision, error) {
	f, ok, err := e.getFile(ctx, fileID)
	if err != nil {
		return domain.MarkDecision{}, err
	}
	if !ok {
		return deny(ReasonFileNotFound, false), nil
	}
	to, ok, err := e.resolveUser(ctx, toUserID)
	if err != nil {
		return domain.MarkDecision{}, err
	}
	if !ok {
		return deny(ReasonRecipientNotFound, false), nil
	}
	if !to.IsActive {
		return deny(ReasonRecipientInactive, false), nil
	}
	required, rule, err := e.signatureRequirement(ctx, fileID, st, userID, toUserID)
	if err != nil {
		return domain.MarkDecision{}, err
	}
	e.log().Debug("signature requirement evaluated",
		zap.String("file_id", fileID), zap.String("from", userID), zap.String("to", toUserID),
		zap.Bool("required", required), zap.String("rule", rule))
	if required {
		signed, err := e.HasActiveSignature(ctx, fileID, userID)
		if err != nil {
			return domain.MarkDecision{}, err
		}
		if !signed {
			return deny(ReasonSignatureRequired, true), nil
		}
	}
	holder := ""
	if f.AssignedTo != nil {
		holder = *f.AssignedTo
	}
	if userID == "" || (userID != holder && userID != f.CreatorID) {
		return deny(ReasonNotAssigned, required), nil
	}
	return domain.MarkDecision{CanMark: true, RequiresSignature: required}, nil
}
