package engine

import (
	"errors"

	"efileflow/internal/domain"
)

// Denial reasons surfaced to clients. Clients branch on MarkDecision flags,
// but the text is relayed verbatim and must stay stable.
const (
	ReasonFileNotFound       = "File not found"
	ReasonNotAssigned        = "Not assigned to file"
	ReasonSignatureRequired  = "E-signature required before marking forward"
	ReasonRecipientNotFound  = "Recipient not found"
	ReasonRecipientInactive  = "Recipient is not active"
	ReasonAlreadyWithCreator = "File is already with its creator"
)

// ErrInvalidStateUpdate is returned when a state update would break the
// isWithinTeam invariant or names an unknown state.
var ErrInvalidStateUpdate = errors.New("invalid workflow state update")

// DeniedError reports a routing action refused by the permission rules.
type DeniedError struct {
	Decision domain.MarkDecision
}

func (e DeniedError) Error() string {
	if e.Decision.Reason == "" {
		return "routing action denied"
	}
	return e.Decision.Reason
}

func deny(reason string, requiresSignature bool) domain.MarkDecision {
	return domain.MarkDecision{CanMark: false, RequiresSignature: requiresSignature, Reason: reason}
}
