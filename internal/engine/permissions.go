package engine

import (
	"context"
	"errors"
	"fmt"

	"efileflow/internal/domain"
	"efileflow/internal/repo"
	"efileflow/internal/rolecode"
)

// getFile returns the file record; found is false when it does not exist.
func (e Engine) getFile(ctx context.Context, fileID string) (domain.File, bool, error) {
	f, err := e.Repo.GetFile(ctx, fileID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.File{}, false, nil
	}
	if err != nil {
		return domain.File{}, false, fmt.Errorf("get file: %w", err)
	}
	return f, true, nil
}

// CanEditFile reports whether userID may edit the file. Only the creator
// ever may. While another user holds the file the creator is locked out
// unless it was explicitly returned.
//
// A file without a workflow record is editable by its creator as long as
// nobody else holds it; this keeps files created before workflow tracking
// usable.
func (e Engine) CanEditFile(ctx context.Context, fileID, userID string) (bool, error) {
	f, ok, err := e.getFile(ctx, fileID)
	if err != nil || !ok {
		return false, err
	}
	if userID == "" || userID != f.CreatorID {
		return false, nil
	}
	heldByOther := f.AssignedTo != nil && *f.AssignedTo != f.CreatorID
	st, err := e.GetWorkflowState(ctx, fileID)
	if err != nil {
		return false, err
	}
	if st == nil {
		return !heldByOther, nil
	}
	if heldByOther {
		return st.CurrentState == domain.StateReturnedToCreator, nil
	}
	switch st.CurrentState {
	case domain.StateTeamInternal, domain.StateReturnedToCreator:
		return true, nil
	}
	return false, nil
}

// CanAddPages reports whether userID may add pages to the file. Page-adding
// roles and budget or billing staff may while they hold the file; assistants
// of an SE or CE may while their manager holds it.
func (e Engine) CanAddPages(ctx context.Context, fileID, userID string) (bool, error) {
	u, ok, err := e.resolveUser(ctx, userID)
	if err != nil || !ok {
		return false, err
	}
	f, ok, err := e.getFile(ctx, fileID)
	if err != nil || !ok {
		return false, err
	}
	if f.AssignedTo == nil {
		return false, nil
	}
	assignee := *f.AssignedTo
	r := e.routing()
	privileged := r.PageAddingRoles.MatchesAny(u.RoleCode) || rolecode.DepartmentMatches(u.Department, r.PageAddingDepartments)
	if privileged && assignee == userID {
		return true, nil
	}
	mgr, err := e.IsSEOrCEAssistant(ctx, userID)
	if err != nil {
		return false, err
	}
	return mgr != nil && assignee == mgr.ManagerID, nil
}

// FilePermissions bundles the per-user permission checks of a file.
type FilePermissions struct {
	FileID         string `json:"file_id"`
	UserID         string `json:"user_id"`
	CanEdit        bool   `json:"can_edit"`
	CanAddPages    bool   `json:"can_add_pages"`
	IsFileWithTeam bool   `json:"is_file_with_team"`
}

// Permissions evaluates every permission check for userID on fileID.
func (e Engine) Permissions(ctx context.Context, fileID, userID string) (FilePermissions, error) {
	p := FilePermissions{FileID: fileID, UserID: userID}
	var err error
	if p.CanEdit, err = e.CanEditFile(ctx, fileID, userID); err != nil {
		return p, err
	}
	if p.CanAddPages, err = e.CanAddPages(ctx, fileID, userID); err != nil {
		return p, err
	}
	if p.IsFileWithTeam, err = e.IsFileWithTeam(ctx, fileID); err != nil {
		return p, err
	}
	return p, nil
}
