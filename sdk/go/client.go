package efilesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal e-file routing API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type File struct {
	ID         string  `json:"id"`
	FileNumber string  `json:"file_number"`
	Subject    string  `json:"subject"`
	CreatorID  string  `json:"creator_id"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	Status     string  `json:"status"`
}

type WorkflowState struct {
	FileID            string  `json:"file_id"`
	CreatorID         string  `json:"creator_id"`
	CurrentAssignedTo string  `json:"current_assigned_to"`
	CurrentState      string  `json:"current_state"`
	IsWithinTeam      bool    `json:"is_within_team"`
	TATStarted        bool    `json:"tat_started"`
	TATStartedAt      *string `json:"tat_started_at,omitempty"`
	Version           int64   `json:"version"`
}

type FileWithWorkflow struct {
	File     File           `json:"file"`
	Workflow *WorkflowState `json:"workflow,omitempty"`
}

type MarkDecision struct {
	CanMark           bool   `json:"can_mark"`
	RequiresSignature bool   `json:"requires_signature"`
	Reason            string `json:"reason,omitempty"`
	WithinTeam        bool   `json:"within_team"`
}

type MarkResult struct {
	State         WorkflowState `json:"state"`
	TeamInternal  bool          `json:"team_internal"`
	TATStartedNow bool          `json:"tat_started_now"`
}

type Signature struct {
	ID       string `json:"id"`
	FileID   string `json:"file_id"`
	UserID   string `json:"user_id"`
	Method   string `json:"method"`
	IsActive bool   `json:"is_active"`
	SignedAt string `json:"signed_at"`
}

type Permissions struct {
	CanEdit        bool `json:"can_edit"`
	CanAddPages    bool `json:"can_add_pages"`
	IsFileWithTeam bool `json:"is_file_with_team"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	FileID     string         `json:"file_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor *int64  `json:"next_cursor,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RequiresSignature reports whether err is a marking refusal that a
// signature by the caller would lift.
func RequiresSignature(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "mark_denied" {
		return false
	}
	v, _ := apiErr.Details["requires_signature"].(bool)
	return v
}

// CreateFile creates a file held by the caller.
func (c *Client) CreateFile(ctx context.Context, fileNumber, subject string) (FileWithWorkflow, error) {
	body := map[string]any{
		"file_number": fileNumber,
		"subject":     subject,
	}
	var resp FileWithWorkflow
	err := c.do(ctx, http.MethodPost, "files", body, &resp)
	return resp, err
}

// GetFile fetches a file with its workflow state.
func (c *Client) GetFile(ctx context.Context, fileID string) (FileWithWorkflow, error) {
	var resp FileWithWorkflow
	err := c.do(ctx, http.MethodGet, "files/"+url.PathEscape(fileID), nil, &resp)
	return resp, err
}

// CheckMark evaluates the marking rules without routing the file.
func (c *Client) CheckMark(ctx context.Context, fileID, toUserID string) (MarkDecision, error) {
	var resp MarkDecision
	err := c.do(ctx, http.MethodPost, "files/"+url.PathEscape(fileID)+"/mark/check", map[string]any{"to_user_id": toUserID}, &resp)
	return resp, err
}

// Mark forwards a file to toUserID.
func (c *Client) Mark(ctx context.Context, fileID, toUserID, remarks string) (MarkResult, error) {
	body := map[string]any{
		"to_user_id": toUserID,
		"remarks":    remarks,
	}
	var resp MarkResult
	err := c.do(ctx, http.MethodPost, "files/"+url.PathEscape(fileID)+"/mark", body, &resp)
	return resp, err
}

// Return sends a file back to its creator.
func (c *Client) Return(ctx context.Context, fileID, remarks string) (WorkflowState, error) {
	var resp WorkflowState
	err := c.do(ctx, http.MethodPost, "files/"+url.PathEscape(fileID)+"/return", map[string]any{"remarks": remarks}, &resp)
	return resp, err
}

// StartTAT starts the TAT clock on a file the caller holds.
func (c *Client) StartTAT(ctx context.Context, fileID string) (WorkflowState, error) {
	var resp WorkflowState
	err := c.do(ctx, http.MethodPost, "files/"+url.PathEscape(fileID)+"/tat/start", nil, &resp)
	return resp, err
}

// Sign records the caller's signature on a file.
func (c *Client) Sign(ctx context.Context, fileID, method string) (Signature, error) {
	var resp Signature
	err := c.do(ctx, http.MethodPost, "files/"+url.PathEscape(fileID)+"/signatures", map[string]any{"method": method}, &resp)
	return resp, err
}

// Permissions returns the caller's permissions on a file.
func (c *Client) Permissions(ctx context.Context, fileID string) (Permissions, error) {
	var resp Permissions
	err := c.do(ctx, http.MethodGet, "files/"+url.PathEscape(fileID)+"/permissions", nil, &resp)
	return resp, err
}

// EventsPage returns a page of audit events, newest first. A zero before
// starts at the newest event.
func (c *Client) EventsPage(ctx context.Context, limit int, before int64) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if before > 0 {
		q.Set("before", fmt.Sprint(before))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
