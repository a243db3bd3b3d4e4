package server

import (
	"encoding/json"

	"efileflow/internal/domain"
	"efileflow/internal/engine"
)

// Request payloads

type CreateFileRequest struct {
	ID         *string `json:"id,omitempty"`
	FileNumber string  `json:"file_number" maxLength:"64"`
	Subject    string  `json:"subject" maxLength:"512"`
	Category   string  `json:"category,omitempty"`
	Department string  `json:"department,omitempty"`
}

type MarkRequest struct {
	ToUserID string `json:"to_user_id"`
	Remarks  string `json:"remarks,omitempty" maxLength:"2000"`
}

type MarkCheckRequest struct {
	ToUserID string `json:"to_user_id"`
	// UserID defaults to the caller.
	UserID *string `json:"user_id,omitempty"`
}

type ReturnRequest struct {
	Remarks string `json:"remarks,omitempty" maxLength:"2000"`
}

type SignRequest struct {
	Method      string `json:"method,omitempty" enum:"drawn,typed,otp,dsc"`
	ContentHash string `json:"content_hash,omitempty"`
}

type UpsertUserRequest struct {
	Name       string `json:"name"`
	RoleCode   string `json:"role_code"`
	Department string `json:"department,omitempty"`
	IsActive   *bool  `json:"is_active,omitempty"`
}

type LinkMemberRequest struct {
	MemberID string `json:"member_id"`
	TeamRole string `json:"team_role" enum:"AO,ASSISTANT,SE_ASSISTANT"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type FileResponse struct {
	File     domain.File           `json:"file"`
	Workflow *domain.WorkflowState `json:"workflow,omitempty"`
}

type MarkCheckResponse struct {
	domain.MarkDecision
	WithinTeam bool `json:"within_team"`
}

type RevokeResponse struct {
	Revoked int64 `json:"revoked"`
}

type APIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	// Key is only returned on creation.
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	FileID     string         `json:"file_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type EventsPage struct {
	Items      []EventResponse `json:"items"`
	NextCursor *int64          `json:"next_cursor,omitempty"`
}

type MeResponse struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

type MarkResponse = engine.MarkResult

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		FileID:     e.FileID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
