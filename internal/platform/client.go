// Package platform is a thin client for the SingleStore management API.
// Every request carries a bearer token resolved at call time, so the same
// client serves both the local interactive session and proxied remote
// sessions.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenSource yields the bearer token to attach to an outbound API call.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// APIError is a non-2xx response from the management API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("management API returned %d: %s", e.StatusCode, e.Body)
}

// Client calls the SingleStore management API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
}

// NewClient creates a management API client rooted at baseURL.
func NewClient(baseURL string, tokens TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
		logger:     logger,
	}
}

// WorkspaceGroup is a group of workspaces in one region.
type WorkspaceGroup struct {
	WorkspaceGroupID string `json:"workspaceGroupID"`
	Name             string `json:"name"`
	RegionID         string `json:"regionID"`
	State            string `json:"state"`
	CreatedAt        string `json:"createdAt"`
	FirewallRanges   []string `json:"firewallRanges,omitempty"`
}

// Workspace is a compute deployment inside a workspace group.
type Workspace struct {
	WorkspaceID      string `json:"workspaceID"`
	WorkspaceGroupID string `json:"workspaceGroupID"`
	Name             string `json:"name"`
	State            string `json:"state"`
	Size             string `json:"size"`
	Endpoint         string `json:"endpoint,omitempty"`
	CreatedAt        string `json:"createdAt"`
}

// Organization is the caller's current organization.
type Organization struct {
	OrgID string `json:"orgID"`
	Name  string `json:"name"`
}

// User is the authenticated platform user.
type User struct {
	UserID    string `json:"userID"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// Region is a deployment region offered by the platform.
type Region struct {
	RegionID string `json:"regionID"`
	Region   string `json:"region"`
	Provider string `json:"provider"`
}

// Job is a scheduled notebook job.
type Job struct {
	JobID       string          `json:"jobID"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	EnqueuedBy  string          `json:"enqueuedBy,omitempty"`
	CompletedAt string          `json:"completedExecutionsCount,omitempty"`
	Schedule    json.RawMessage `json:"schedule,omitempty"`
	Status      string          `json:"status,omitempty"`
}

// JobRequest describes a notebook job to create.
type JobRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	NotebookPath string `json:"notebookPath"`
	Mode         string `json:"mode"`
	StartAt      string `json:"startAt,omitempty"`
	Interval     int    `json:"executionIntervalInMinutes,omitempty"`
}

// ListWorkspaceGroups returns all workspace groups visible to the caller.
func (c *Client) ListWorkspaceGroups(ctx context.Context) ([]WorkspaceGroup, error) {
	var groups []WorkspaceGroup
	if err := c.get(ctx, "/v1/workspaceGroups", &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// ListWorkspaces returns the workspaces in a workspace group.
func (c *Client) ListWorkspaces(ctx context.Context, workspaceGroupID string) ([]Workspace, error) {
	path := "/v1/workspaces?workspaceGroupID=" + url.QueryEscape(workspaceGroupID)
	var workspaces []Workspace
	if err := c.get(ctx, path, &workspaces); err != nil {
		return nil, err
	}
	return workspaces, nil
}

// GetWorkspace returns a single workspace by id.
func (c *Client) GetWorkspace(ctx context.Context, workspaceID string) (*Workspace, error) {
	var workspace Workspace
	if err := c.get(ctx, "/v1/workspaces/"+url.PathEscape(workspaceID), &workspace); err != nil {
		return nil, err
	}
	return &workspace, nil
}

// CurrentOrganization returns the caller's organization.
func (c *Client) CurrentOrganization(ctx context.Context) (*Organization, error) {
	var org Organization
	if err := c.get(ctx, "/v1/organizations/current", &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// CurrentUser returns the authenticated user.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.get(ctx, "/v1/users/current", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListRegions returns the regions available for new workspace groups.
func (c *Client) ListRegions(ctx context.Context) ([]Region, error) {
	var regions []Region
	if err := c.get(ctx, "/v1/regions", &regions); err != nil {
		return nil, err
	}
	return regions, nil
}

// CreateJob schedules a notebook job.
func (c *Client) CreateJob(ctx context.Context, req *JobRequest) (*Job, error) {
	var job Job
	if err := c.post(ctx, "/v1/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob returns a scheduled job by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.get(ctx, "/v1/jobs/"+url.PathEscape(jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// UploadStageFile uploads content to a workspace group's stage area.
func (c *Client) UploadStageFile(ctx context.Context, workspaceGroupID, stagePath string, content []byte) error {
	path := fmt.Sprintf("/v1/stage/%s/fs/%s",
		url.PathEscape(workspaceGroupID), strings.TrimPrefix(stagePath, "/"))
	return c.do(ctx, http.MethodPut, path, "application/octet-stream",
		bytes.NewReader(content), nil)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, "", nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body), out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("management API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("management API error",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
		)
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
