package domain

// State is the routing position of a file relative to its creator's team.
type State string

const (
	StateTeamInternal      State = "TEAM_INTERNAL"
	StateExternal          State = "EXTERNAL"
	StateReturnedToCreator State = "RETURNED_TO_CREATOR"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateTeamInternal, StateExternal, StateReturnedToCreator:
		return true
	}
	return false
}

// WithinTeam reports whether a file in state s is held inside the creator's team.
func (s State) WithinTeam() bool {
	return s == StateTeamInternal || s == StateReturnedToCreator
}

// Team role tags carried on team relations.
const (
	TeamRoleCreator     = "CREATOR"
	TeamRoleAO          = "AO"
	TeamRoleAssistant   = "ASSISTANT"
	TeamRoleSEAssistant = "SE_ASSISTANT"
)

type WorkflowState struct {
	FileID             string  `json:"file_id"`
	CreatorID          string  `json:"creator_id"`
	CurrentAssignedTo  string  `json:"current_assigned_to"`
	CurrentState       State   `json:"current_state" enum:"TEAM_INTERNAL,EXTERNAL,RETURNED_TO_CREATOR"`
	IsWithinTeam       bool    `json:"is_within_team"`
	TATStarted         bool    `json:"tat_started"`
	TATStartedAt       *string `json:"tat_started_at,omitempty" format:"date-time"`
	LastExternalMarkAt *string `json:"last_external_mark_at,omitempty" format:"date-time"`
	Version            int64   `json:"version"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

type File struct {
	ID         string  `json:"id"`
	FileNumber string  `json:"file_number"`
	Subject    string  `json:"subject"`
	Category   string  `json:"category,omitempty"`
	Department string  `json:"department,omitempty"`
	CreatorID  string  `json:"creator_id"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	Status     string  `json:"status" enum:"open,closed"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

// User is a directory entry.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RoleCode   string `json:"role_code"`
	Department string `json:"department,omitempty"`
	IsActive   bool   `json:"is_active"`
	CreatedAt  string `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt  string `json:"updated_at,omitempty" format:"date-time"`
}

type TeamRelation struct {
	ManagerID string `json:"manager_id"`
	MemberID  string `json:"member_id"`
	TeamRole  string `json:"team_role"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TeamMember is a team relation joined with the member's directory entry.
type TeamMember struct {
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	RoleCode   string `json:"role_code"`
	Department string `json:"department,omitempty"`
	TeamRole   string `json:"team_role"`
	ManagerID  string `json:"manager_id,omitempty"`
}

// ManagerInfo describes the manager a user assists.
type ManagerInfo struct {
	ManagerID  string `json:"manager_id"`
	Name       string `json:"name"`
	RoleCode   string `json:"role_code"`
	Department string `json:"department,omitempty"`
	TeamRole   string `json:"team_role"`
}

type Signature struct {
	ID          string `json:"id"`
	FileID      string `json:"file_id"`
	UserID      string `json:"user_id"`
	Method      string `json:"method"`
	ContentHash string `json:"content_hash,omitempty"`
	IsActive    bool   `json:"is_active"`
	SignedAt    string `json:"signed_at" format:"date-time"`
}

// Movement is one routing step in a file's history.
type Movement struct {
	ID         string  `json:"id"`
	FileID     string  `json:"file_id"`
	FromUserID *string `json:"from_user_id,omitempty"`
	ToUserID   string  `json:"to_user_id"`
	FromState  *State  `json:"from_state,omitempty"`
	ToState    State   `json:"to_state"`
	Action     string  `json:"action" enum:"create,mark,return,start_tat"`
	Remarks    string  `json:"remarks,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// MarkDecision is the outcome of a forward-marking permission check.
type MarkDecision struct {
	CanMark           bool   `json:"can_mark"`
	RequiresSignature bool   `json:"requires_signature"`
	Reason            string `json:"reason,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	FileID     string `json:"file_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TATEntry is a row of the turnaround-time register.
type TATEntry struct {
	FileID             string  `json:"file_id"`
	FileNumber         string  `json:"file_number"`
	Subject            string  `json:"subject"`
	CreatorID          string  `json:"creator_id"`
	CurrentAssignedTo  string  `json:"current_assigned_to"`
	CurrentState       State   `json:"current_state"`
	TATStarted         bool    `json:"tat_started"`
	TATStartedAt       *string `json:"tat_started_at,omitempty"`
	LastExternalMarkAt *string `json:"last_external_mark_at,omitempty"`
}

// Role is an administrative role and the permissions it carries. Roles gate
// directory and credential maintenance, never file routing.
type Role struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

// RoleGrant binds an actor to a role.
type RoleGrant struct {
	ActorID   string `json:"actor_id"`
	RoleID    string `json:"role_id"`
	GrantedBy string `json:"granted_by,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
