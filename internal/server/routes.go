package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"efileflow/internal/domain"
	"efileflow/internal/engine"
	"efileflow/internal/engine/auth"
	"efileflow/internal/repo"
	"efileflow/internal/report"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

type filePath struct {
	FileID string `path:"file_id"`
}

type userPath struct {
	UserID string `path:"user_id"`
}

type rolePath struct {
	ActorID string `path:"actor_id"`
	RoleID  string `path:"role_id"`
}

type managerPath struct {
	ManagerID string `path:"manager_id"`
}

func registerFiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-file",
		Method:        http.MethodPost,
		Path:          "/files",
		Summary:       "Create file",
		Description:   "Creates a file held by the caller, who becomes its creator.",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateFileRequest `json:"body"`
	}) (*struct {
		Body FileResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		opts := engine.CreateFileOptions{
			FileNumber: input.Body.FileNumber,
			Subject:    input.Body.Subject,
			Category:   input.Body.Category,
			Department: input.Body.Department,
			CreatorID:  actor,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		f, st, err := e.CreateFile(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FileResponse `json:"body"`
		}{Body: FileResponse{File: f, Workflow: &st}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-files",
		Method:      http.MethodGet,
		Path:        "/files",
		Summary:     "List files",
	}, func(ctx context.Context, input *struct {
		CreatorID  string `query:"creator_id"`
		AssignedTo string `query:"assigned_to"`
		Status     string `query:"status" enum:"open,closed"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.File `json:"body"`
	}, error) {
		files, err := e.Repo.ListFiles(ctx, repo.FileFilters{
			CreatorID:  input.CreatorID,
			AssignedTo: input.AssignedTo,
			Status:     input.Status,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.File `json:"body"`
		}{Body: nonNilSlice(files)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-file",
		Method:      http.MethodGet,
		Path:        "/files/{file_id}",
		Summary:     "Get file with its workflow state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *filePath) (*struct {
		Body FileResponse `json:"body"`
	}, error) {
		f, err := e.Repo.GetFile(ctx, input.FileID)
		if err != nil {
			return nil, handleError(err)
		}
		st, err := e.GetWorkflowState(ctx, input.FileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FileResponse `json:"body"`
		}{Body: FileResponse{File: f, Workflow: st}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow-state",
		Method:      http.MethodGet,
		Path:        "/files/{file_id}/workflow",
		Summary:     "Get workflow state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *filePath) (*struct {
		Body domain.WorkflowState `json:"body"`
	}, error) {
		st, err := e.GetWorkflowState(ctx, input.FileID)
		if err != nil {
			return nil, handleError(err)
		}
		if st == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "workflow state not found", nil)
		}
		return &struct {
			Body domain.WorkflowState `json:"body"`
		}{Body: *st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-movements",
		Method:      http.MethodGet,
		Path:        "/files/{file_id}/movements",
		Summary:     "List file movements",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *filePath) (*struct {
		Body []domain.Movement `json:"body"`
	}, error) {
		moves, err := e.ListMovements(ctx, input.FileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Movement `json:"body"`
		}{Body: nonNilSlice(moves)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "file-permissions",
		Method:      http.MethodGet,
		Path:        "/files/{file_id}/permissions",
		Summary:     "Evaluate edit and page permissions",
		Description: "user_id defaults to the caller.",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		FileID string `path:"file_id"`
		UserID string `query:"user_id"`
	}) (*struct {
		Body engine.FilePermissions `json:"body"`
	}, error) {
		userID := input.UserID
		if userID == "" {
			actor, aerr := actorIDFromContext(ctx)
			if aerr != nil {
				return nil, aerr
			}
			userID = actor
		}
		perms, err := e.Permissions(ctx, input.FileID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.FilePermissions `json:"body"`
		}{Body: perms}, nil
	})
}

func registerRouting(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "check-mark",
		Method:      http.MethodPost,
		Path:        "/files/{file_id}/mark/check",
		Summary:     "Check whether a file can be marked forward",
		Description: "Evaluates the marking rules without routing the file. A refusal is reported in the body, not as an error status.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		FileID string           `path:"file_id"`
		Body   MarkCheckRequest `json:"body"`
	}) (*struct {
		Body MarkCheckResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		if strings.TrimSpace(input.Body.ToUserID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to_user_id is required", nil)
		}
		userID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		if input.Body.UserID != nil && *input.Body.UserID != "" {
			userID = *input.Body.UserID
		}
		decision, err := e.CanMarkFileForward(ctx, input.FileID, userID, input.Body.ToUserID)
		if err != nil {
			return nil, handleError(err)
		}
		res := MarkCheckResponse{MarkDecision: decision}
		if decision.Reason != engine.ReasonFileNotFound {
			within, err := e.IsWithinTeamWorkflow(ctx, input.FileID, userID, input.Body.ToUserID)
			if err != nil {
				return nil, handleError(err)
			}
			res.WithinTeam = within
		}
		return &struct {
			Body MarkCheckResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-file",
		Method:      http.MethodPost,
		Path:        "/files/{file_id}/mark",
		Summary:     "Mark file forward",
		Description: "Routes the file from the caller to to_user_id. Refusals return 403 mark_denied with the reason and requires_signature in details.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		FileID string      `path:"file_id"`
		Body   MarkRequest `json:"body"`
	}) (*struct {
		Body MarkResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		res, err := e.MarkTo(ctx, engine.MarkOptions{
			FileID:   input.FileID,
			ActorID:  actor,
			ToUserID: input.Body.ToUserID,
			Remarks:  input.Body.Remarks,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MarkResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "return-file",
		Method:      http.MethodPost,
		Path:        "/files/{file_id}/return",
		Summary:     "Return file to its creator",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		FileID string         `path:"file_id"`
		Body   *ReturnRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body domain.WorkflowState `json:"body"`
	}, error) {
		actor, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		opts := engine.ReturnOptions{FileID: input.FileID, ActorID: actor}
		if input.Body != nil {
			opts.Remarks = input.Body.Remarks
		}
		st, err := e.ReturnToCreator(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-file-tat",
		Method:      http.MethodPost,
		Path:        "/files/{file_id}/tat/start",
		Summary:     "Start the TAT clock",
		Description: "Moves the file to external routing and starts its TAT clock without changing the holder. Holder only.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *filePath) (*struct {
		Body domain.WorkflowState `json:"body"`
	}, error) {
		actor, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		st, err := e.StartFileTAT(ctx, engine.StartTATOptions{FileID: input.FileID, ActorID: actor})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowState `json:"body"`
		}{Body: st}, nil
	})
}

func registerSignatures(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "sign-file",
		Method:        http.MethodPost,
		Path:          "/files/{file_id}/signatures",
		Summary:       "Sign file",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		FileID string       `path:"file_id"`
		Body   *SignRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body domain.Signature `json:"body"`
	}, error) {
		actor, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		opts := engine.SignOptions{FileID: input.FileID, UserID: actor}
		if input.Body != nil {
			opts.Method = input.Body.Method
			opts.ContentHash = input.Body.ContentHash
		}
		sig, err := e.Sign(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Signature `json:"body"`
		}{Body: sig}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-signature",
		Method:      http.MethodDelete,
		Path:        "/files/{file_id}/signatures/me",
		Summary:     "Revoke the caller's signatures on a file",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *filePath) (*struct {
		Body RevokeResponse `json:"body"`
	}, error) {
		actor, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		n, err := e.RevokeSignature(ctx, input.FileID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RevokeResponse `json:"body"`
		}{Body: RevokeResponse{Revoked: n}}, nil
	})
}

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-team-members",
		Method:      http.MethodGet,
		Path:        "/teams/{manager_id}/members",
		Summary:     "List active team members",
	}, func(ctx context.Context, input *managerPath) (*struct {
		Body []domain.TeamMember `json:"body"`
	}, error) {
		members, err := e.GetTeamMembers(ctx, input.ManagerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TeamMember `json:"body"`
		}{Body: nonNilSlice(members)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "link-team-member",
		Method:        http.MethodPost,
		Path:          "/teams/{manager_id}/members",
		Summary:       "Link team member",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ManagerID string            `path:"manager_id"`
		Body      LinkMemberRequest `json:"body"`
	}) (*struct {
		Body domain.TeamRelation `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, err := requirePermission(ctx, e, auth.PermTeamsWrite)
		if err != nil {
			return nil, handleError(err)
		}
		rel, err := e.LinkTeamMember(ctx, input.ManagerID, input.Body.MemberID, input.Body.TeamRole, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TeamRelation `json:"body"`
		}{Body: rel}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "unlink-team-member",
		Method:        http.MethodDelete,
		Path:          "/teams/{manager_id}/members/{member_id}",
		Summary:       "Unlink team member",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ManagerID string `path:"manager_id"`
		MemberID  string `path:"member_id"`
	}) (*struct{}, error) {
		actor, err := requirePermission(ctx, e, auth.PermTeamsWrite)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.UnlinkTeamMember(ctx, input.ManagerID, input.MemberID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assistants",
		Method:      http.MethodGet,
		Path:        "/teams/{manager_id}/assistants",
		Summary:     "List assistants of a manager",
	}, func(ctx context.Context, input *managerPath) (*struct {
		Body []domain.TeamMember `json:"body"`
	}, error) {
		members, err := e.GetAssistantsForManager(ctx, input.ManagerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TeamMember `json:"body"`
		}{Body: nonNilSlice(members)}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List directory users",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		users, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: nonNilSlice(users)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}",
		Summary:     "Get directory user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *userPath) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		u, err := e.Repo.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-user",
		Method:      http.MethodPut,
		Path:        "/users/{user_id}",
		Summary:     "Create or update directory user",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		UserID string            `path:"user_id"`
		Body   UpsertUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, err := requirePermission(ctx, e, auth.PermUsersWrite)
		if err != nil {
			return nil, handleError(err)
		}
		active := true
		if input.Body.IsActive != nil {
			active = *input.Body.IsActive
		}
		u, err := e.UpsertUser(ctx, domain.User{
			ID:         input.UserID,
			Name:       input.Body.Name,
			RoleCode:   input.Body.RoleCode,
			Department: input.Body.Department,
			IsActive:   active,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user-manager",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/manager",
		Summary:     "Get the manager a user belongs to",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		// SEOrCE restricts the lookup to assistants of an SE or CE.
		SEOrCE bool `query:"se_or_ce"`
	}) (*struct {
		Body domain.ManagerInfo `json:"body"`
	}, error) {
		var m *domain.ManagerInfo
		var err error
		if input.SEOrCE {
			m, err = e.IsSEOrCEAssistant(ctx, input.UserID)
		} else {
			m, err = e.GetManagerForUser(ctx, input.UserID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		if m == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no manager for user", nil)
		}
		return &struct {
			Body domain.ManagerInfo `json:"body"`
		}{Body: *m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "marking-candidates",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/marking-candidates",
		Summary:     "List the creator and team members a file can be marked to",
	}, func(ctx context.Context, input *userPath) (*struct {
		Body []domain.TeamMember `json:"body"`
	}, error) {
		members, err := e.GetTeamMembersForMarking(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TeamMember `json:"body"`
		}{Body: nonNilSlice(members)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events, newest first",
		Description: "Pass next_cursor back as before to page further.",
	}, func(ctx context.Context, input *struct {
		FileID string `query:"file_id"`
		Type   string `query:"type"`
		Before int64  `query:"before"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body EventsPage `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		evts, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			FileID: input.FileID,
			Type:   input.Type,
			Before: input.Before,
			Limit:  limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		page := EventsPage{Items: make([]EventResponse, 0, len(evts))}
		for _, evt := range evts {
			page.Items = append(page.Items, eventResponse(evt))
		}
		if len(evts) == limit {
			next := evts[len(evts)-1].ID
			page.NextCursor = &next
		}
		return &struct {
			Body EventsPage `json:"body"`
		}{Body: page}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "tat-report",
		Method:      http.MethodGet,
		Path:        "/reports/tat",
		Summary:     "Turnaround-time register",
	}, func(ctx context.Context, input *struct {
		Started bool `query:"started"`
	}) (*struct {
		Body []report.Row `json:"body"`
	}, error) {
		entries, err := e.TATRegister(ctx, input.Started)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []report.Row `json:"body"`
		}{Body: report.Build(entries, time.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tat-report-xlsx",
		Method:      http.MethodGet,
		Path:        "/reports/tat.xlsx",
		Summary:     "Turnaround-time register as a spreadsheet",
	}, func(ctx context.Context, input *struct {
		Started bool `query:"started"`
	}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		entries, err := e.TATRegister(ctx, input.Started)
		if err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := report.WriteExcel(&buf, report.Build(entries, time.Now())); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", "tat-register.xlsx"),
			Body:               buf.Bytes(),
		}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		roles, err := e.Auth.ActorRoles(ctx, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		perms, err := e.Auth.ActorPermissions(ctx, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{ActorID: p.ActorID, Source: p.Source, Roles: nonNilSlice(roles), Permissions: nonNilSlice(perms)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Issue an API key for the caller",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body *CreateAPIKeyRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actor, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		name := ""
		if input.Body != nil {
			name = input.Body.Name
		}
		key, raw, err := e.CreateAPIKey(ctx, actor, name, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: key.ID, ActorID: key.ActorID, Name: key.Name, Key: raw, CreatedAt: key.CreatedAt}}, nil
	})
}

const devTokenTTL = time.Hour

func registerDevAuth(api huma.API, e engine.Engine, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Mint a token for a directory user (development only)",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		if strings.TrimSpace(input.Body.ActorID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if _, err := e.Repo.GetUser(ctx, input.Body.ActorID); err != nil {
			return nil, handleError(err)
		}
		token, err := SignToken(cfg.JWTSecret, input.Body.ActorID, devTokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: TokenResponse{Token: token, ExpiresIn: int(devTokenTTL.Seconds())}}, nil
	})
}

func registerRoles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/roles",
		Summary:     "List administrative roles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Role `json:"body"`
	}, error) {
		roles, err := e.ListRoles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Role `json:"body"`
		}{Body: nonNilSlice(roles)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPut,
		Path:        "/actors/{actor_id}/roles/{role_id}",
		Summary:     "Grant a role",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *rolePath) (*struct {
		Body domain.RoleGrant `json:"body"`
	}, error) {
		actor, err := requirePermission(ctx, e, auth.PermRolesManage)
		if err != nil {
			return nil, handleError(err)
		}
		g, err := e.GrantRole(ctx, input.ActorID, input.RoleID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RoleGrant `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-role",
		Method:        http.MethodDelete,
		Path:          "/actors/{actor_id}/roles/{role_id}",
		Summary:       "Revoke a role",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *rolePath) (*struct{}, error) {
		actor, err := requirePermission(ctx, e, auth.PermRolesManage)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.RevokeRole(ctx, input.ActorID, input.RoleID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user-api-key",
		Method:        http.MethodPost,
		Path:          "/users/{user_id}/api-keys",
		Summary:       "Issue an API key for a user",
		Description:   "Callers may always issue keys for themselves; other users need api_keys.manage.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string               `path:"user_id"`
		Body   *CreateAPIKeyRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actor, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		if input.UserID != actor {
			if _, err := requirePermission(ctx, e, auth.PermAPIKeysManage); err != nil {
				return nil, handleError(err)
			}
		}
		name := ""
		if input.Body != nil {
			name = input.Body.Name
		}
		key, raw, err := e.CreateAPIKey(ctx, input.UserID, name, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: key.ID, ActorID: key.ActorID, Name: key.Name, Key: raw, CreatedAt: key.CreatedAt}}, nil
	})
}
