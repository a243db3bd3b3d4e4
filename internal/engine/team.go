package engine

import (
	"context"
	"errors"
	"fmt"

	"efileflow/internal/domain"
	"efileflow/internal/repo"
)

// GetTeamMembers lists the active members of managerID's team ordered by
// team role then name.
func (e Engine) GetTeamMembers(ctx context.Context, managerID string) ([]domain.TeamMember, error) {
	if managerID == "" {
		return nil, nil
	}
	members, err := e.Repo.ListTeamMembers(ctx, managerID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	return members, nil
}

// IsTeamMember reports whether userID is an active member of managerID's team.
func (e Engine) IsTeamMember(ctx context.Context, managerID, userID string) (bool, error) {
	if managerID == "" || userID == "" {
		return false, nil
	}
	return e.Repo.HasActiveTeamRelation(ctx, managerID, userID)
}

// GetManagerForUser returns the manager userID belongs to, or nil.
func (e Engine) GetManagerForUser(ctx context.Context, userID string) (*domain.ManagerInfo, error) {
	if userID == "" {
		return nil, nil
	}
	m, err := e.Repo.ManagerForUser(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manager for user: %w", err)
	}
	return &m, nil
}

// GetTeamMembersForMarking returns the creator, tagged CREATOR, followed by
// the creator's team members. A creator missing from the directory is still
// listed, with only its id.
func (e Engine) GetTeamMembersForMarking(ctx context.Context, creatorID string) ([]domain.TeamMember, error) {
	members, err := e.GetTeamMembers(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if creatorID == "" {
		return members, nil
	}
	creator, ok, err := e.resolveUser(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	entry := domain.TeamMember{UserID: creatorID, TeamRole: domain.TeamRoleCreator, ManagerID: creatorID}
	if ok {
		entry.Name = creator.Name
		entry.RoleCode = creator.RoleCode
		entry.Department = creator.Department
	}
	res := make([]domain.TeamMember, 0, len(members)+1)
	res = append(res, entry)
	for _, m := range members {
		if m.UserID == creatorID {
			continue
		}
		res = append(res, m)
	}
	return res, nil
}

// teamScoped reports whether userID is the creator or one of their team.
func (e Engine) teamScoped(ctx context.Context, creatorID, userID string) (bool, error) {
	if creatorID == "" || userID == "" {
		return false, nil
	}
	if userID == creatorID {
		return true, nil
	}
	return e.IsTeamMember(ctx, creatorID, userID)
}

// fileCreator returns the creator recorded on the workflow state, falling
// back to the file record. An empty id means neither exists.
func (e Engine) fileCreator(ctx context.Context, fileID string, st *domain.WorkflowState) (string, error) {
	if st != nil && st.CreatorID != "" {
		return st.CreatorID, nil
	}
	f, err := e.Repo.GetFile(ctx, fileID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}
	return f.CreatorID, nil
}

// IsWithinTeamWorkflow reports whether marking fileID from fromUserID to
// toUserID keeps it inside the creator's team. Files already routed
// externally never are.
func (e Engine) IsWithinTeamWorkflow(ctx context.Context, fileID, fromUserID, toUserID string) (bool, error) {
	st, err := e.GetWorkflowState(ctx, fileID)
	if err != nil {
		return false, err
	}
	return e.withinTeamWorkflow(ctx, fileID, st, fromUserID, toUserID)
}

func (e Engine) withinTeamWorkflow(ctx context.Context, fileID string, st *domain.WorkflowState, fromUserID, toUserID string) (bool, error) {
	if st != nil && st.CurrentState == domain.StateExternal {
		return false, nil
	}
	creatorID, err := e.fileCreator(ctx, fileID, st)
	if err != nil || creatorID == "" {
		return false, err
	}
	for _, id := range []string{fromUserID, toUserID} {
		ok, err := e.teamScoped(ctx, creatorID, id)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// GetAssistantsForManager returns the members of managerID's team holding
// an assistant team role.
func (e Engine) GetAssistantsForManager(ctx context.Context, managerID string) ([]domain.TeamMember, error) {
	members, err := e.GetTeamMembers(ctx, managerID)
	if err != nil {
		return nil, err
	}
	tags := e.routing().AssistantTeamRoles
	var res []domain.TeamMember
	for _, m := range members {
		if tags.Contains(m.TeamRole) {
			res = append(res, m)
		}
	}
	return res, nil
}

// IsSEOrCEAssistant returns the manager userID assists when that manager is
// an SE or CE and the relation carries an assistant team role.
func (e Engine) IsSEOrCEAssistant(ctx context.Context, userID string) (*domain.ManagerInfo, error) {
	m, err := e.GetManagerForUser(ctx, userID)
	if err != nil || m == nil {
		return nil, err
	}
	r := e.routing()
	if !r.AssistantTeamRoles.Contains(m.TeamRole) {
		return nil, nil
	}
	if !r.AssistantManagerRoles.MatchesAny(m.RoleCode) {
		return nil, nil
	}
	return m, nil
}
