// Package tools defines the MCP tool catalogue: thin wrappers around the
// management API and SQL execution, with no control flow of their own.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"s2mcp/internal/platform"
)

// Deps are the collaborators the tool handlers call into.
type Deps struct {
	API    *platform.Client
	Tokens platform.TokenSource
	Logger *slog.Logger
}

// Register adds every tool to the MCP server.
func Register(s *server.MCPServer, deps *Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s.AddTool(mcp.NewTool("workspace_groups_info",
		mcp.WithDescription("List all workspace groups in the current organization"),
	), deps.handleWorkspaceGroups)

	s.AddTool(mcp.NewTool("workspaces_info",
		mcp.WithDescription("List the workspaces in a workspace group"),
		mcp.WithString("workspace_group_id",
			mcp.Required(),
			mcp.Description("ID of the workspace group"),
		),
	), deps.handleWorkspaces)

	s.AddTool(mcp.NewTool("organization_info",
		mcp.WithDescription("Get the current organization's details"),
	), deps.handleOrganization)

	s.AddTool(mcp.NewTool("user_info",
		mcp.WithDescription("Get details about the authenticated user"),
	), deps.handleUser)

	s.AddTool(mcp.NewTool("list_regions",
		mcp.WithDescription("List the regions available for new workspace groups"),
	), deps.handleRegions)

	s.AddTool(mcp.NewTool("run_sql",
		mcp.WithDescription("Execute a SQL statement against a workspace and return the rows"),
		mcp.WithString("endpoint",
			mcp.Required(),
			mcp.Description("Workspace endpoint host[:port]"),
		),
		mcp.WithString("database",
			mcp.Description("Database to run the statement in"),
		),
		mcp.WithString("username",
			mcp.Required(),
			mcp.Description("Database username"),
		),
		mcp.WithString("password",
			mcp.Description("Database password; defaults to the session's access token"),
		),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("SQL statement to execute"),
		),
	), deps.handleRunSQL)

	s.AddTool(mcp.NewTool("upload_notebook",
		mcp.WithDescription("Upload a notebook file to a workspace group's stage area"),
		mcp.WithString("workspace_group_id",
			mcp.Required(),
			mcp.Description("ID of the workspace group"),
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Destination path in the stage area"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Notebook content (JSON)"),
		),
	), deps.handleUploadNotebook)

	s.AddTool(mcp.NewTool("create_job",
		mcp.WithDescription("Schedule a notebook job"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Job name"),
		),
		mcp.WithString("notebook_path",
			mcp.Required(),
			mcp.Description("Stage path of the notebook to run"),
		),
		mcp.WithString("mode",
			mcp.Required(),
			mcp.Description("Execution mode: Once or Recurring"),
		),
		mcp.WithString("description",
			mcp.Description("Job description"),
		),
		mcp.WithNumber("interval_minutes",
			mcp.Description("Execution interval in minutes for recurring jobs"),
		),
	), deps.handleCreateJob)

	s.AddTool(mcp.NewTool("get_job",
		mcp.WithDescription("Get the status of a scheduled job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("ID of the job"),
		),
	), deps.handleGetJob)
}

// arguments extracts the tool call's argument map.
func arguments(req mcp.CallToolRequest) map[string]interface{} {
	args, _ := req.Params.Arguments.(map[string]interface{})
	return args
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

// jsonResult marshals v into a text tool result.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (d *Deps) handleWorkspaceGroups(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groups, err := d.API.ListWorkspaceGroups(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(groups)
}

func (d *Deps) handleWorkspaces(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	groupID := stringArg(args, "workspace_group_id")
	if groupID == "" {
		return mcp.NewToolResultError("workspace_group_id is required"), nil
	}

	workspaces, err := d.API.ListWorkspaces(ctx, groupID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(workspaces)
}

func (d *Deps) handleOrganization(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	org, err := d.API.CurrentOrganization(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(org)
}

func (d *Deps) handleUser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.API.CurrentUser(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(user)
}

func (d *Deps) handleRegions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	regions, err := d.API.ListRegions(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(regions)
}

func (d *Deps) handleUploadNotebook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	groupID := stringArg(args, "workspace_group_id")
	path := stringArg(args, "path")
	content := stringArg(args, "content")
	if groupID == "" || path == "" || content == "" {
		return mcp.NewToolResultError("workspace_group_id, path, and content are required"), nil
	}

	if err := d.API.UploadStageFile(ctx, groupID, path, []byte(content)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("uploaded %s", path)), nil
}

func (d *Deps) handleCreateJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	name := stringArg(args, "name")
	notebookPath := stringArg(args, "notebook_path")
	mode := stringArg(args, "mode")
	if name == "" || notebookPath == "" || mode == "" {
		return mcp.NewToolResultError("name, notebook_path, and mode are required"), nil
	}

	jobReq := &platform.JobRequest{
		Name:         name,
		Description:  stringArg(args, "description"),
		NotebookPath: notebookPath,
		Mode:         mode,
	}
	if interval, ok := args["interval_minutes"].(float64); ok {
		jobReq.Interval = int(interval)
	}

	job, err := d.API.CreateJob(ctx, jobReq)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(job)
}

func (d *Deps) handleGetJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	jobID := stringArg(args, "job_id")
	if jobID == "" {
		return mcp.NewToolResultError("job_id is required"), nil
	}

	job, err := d.API.GetJob(ctx, jobID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(job)
}
