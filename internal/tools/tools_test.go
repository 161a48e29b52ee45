package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s2mcp/internal/platform"
)

type staticTokens string

func (s staticTokens) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

func newTestDeps(t *testing.T, handler http.HandlerFunc) *Deps {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tokens := staticTokens("test-token")
	return &Deps{
		API:    platform.NewClient(srv.URL, tokens, nil),
		Tokens: tokens,
	}
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, res.Content)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestWorkspaceGroupsTool(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/workspaceGroups", r.URL.Path)
		fmt.Fprint(w, `[{"workspaceGroupID": "wg-1", "name": "prod", "state": "ACTIVE"}]`)
	})

	res, err := deps.handleWorkspaceGroups(context.Background(), callRequest(nil))
	require.NoError(t, err)
	require.False(t, res.IsError)

	text := resultText(t, res)
	assert.Contains(t, text, "wg-1")
	assert.Contains(t, text, "prod")
}

func TestWorkspacesToolRequiresGroup(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("API called without required argument")
	})

	res, err := deps.handleWorkspaces(context.Background(), callRequest(map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestWorkspacesTool(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wg-1", r.URL.Query().Get("workspaceGroupID"))
		fmt.Fprint(w, `[{"workspaceID": "ws-9", "name": "etl"}]`)
	})

	res, err := deps.handleWorkspaces(context.Background(), callRequest(map[string]interface{}{
		"workspace_group_id": "wg-1",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "ws-9")
}

func TestOrganizationToolSurfacesAPIError(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "token rejected"}`)
	})

	res, err := deps.handleOrganization(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestUploadNotebookTool(t *testing.T) {
	var gotBody string
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		buf := new(strings.Builder)
		_, _ = fmt.Fprint(buf, r.URL.Path)
		gotBody = buf.String()
		w.WriteHeader(http.StatusOK)
	})

	res, err := deps.handleUploadNotebook(context.Background(), callRequest(map[string]interface{}{
		"workspace_group_id": "wg-1",
		"path":               "demo.ipynb",
		"content":            `{"cells": []}`,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, gotBody, "/v1/stage/wg-1/fs/demo.ipynb")
}

func TestCreateJobTool(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/jobs", r.URL.Path)
		fmt.Fprint(w, `{"jobID": "job-7", "name": "nightly"}`)
	})

	res, err := deps.handleCreateJob(context.Background(), callRequest(map[string]interface{}{
		"name":             "nightly",
		"notebook_path":    "demo.ipynb",
		"mode":             "Recurring",
		"interval_minutes": float64(60),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "job-7")
}

func TestGetJobToolRequiresID(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("API called without required argument")
	})

	res, err := deps.handleGetJob(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRunSQLRequiresArguments(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {})

	res, err := deps.handleRunSQL(context.Background(), callRequest(map[string]interface{}{
		"endpoint": "db.example.com:3306",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "abc", normalizeValue([]byte("abc")))
	assert.Equal(t, int64(5), normalizeValue(int64(5)))
	assert.Nil(t, normalizeValue(nil))
}
