package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens string

func (s staticTokens) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

type failingTokens struct{}

var errNoToken = errors.New("no token")

func (failingTokens) AccessToken(context.Context) (string, error) {
	return "", errNoToken
}

func TestClientAttachesBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `[{"workspaceGroupID": "wg-1", "name": "prod"}]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens("tok-123"), nil)
	groups, err := c.ListWorkspaceGroups(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-123", gotAuth)
	require.Len(t, groups, 1)
	assert.Equal(t, "wg-1", groups[0].WorkspaceGroupID)
}

func TestClientTokenFailureShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL, failingTokens{}, nil)
	_, err := c.ListWorkspaceGroups(context.Background())
	require.ErrorIs(t, err, errNoToken)
	assert.False(t, called, "request sent without a token")
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "insufficient permissions"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens("tok"), nil)
	_, err := c.GetWorkspace(context.Background(), "ws-1")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "insufficient permissions")
}

func TestListWorkspacesQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens("tok"), nil)
	_, err := c.ListWorkspaces(context.Background(), "wg 1")
	require.NoError(t, err)
	assert.Equal(t, "workspaceGroupID=wg+1", gotQuery)
}

func TestUploadStageFile(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens("tok"), nil)
	err := c.UploadStageFile(context.Background(), "wg-1", "/notebooks/demo.ipynb", []byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/v1/stage/wg-1/fs/notebooks/demo.ipynb", gotPath)
}
