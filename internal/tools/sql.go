package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mark3labs/mcp-go/mcp"
)

// sqlQueryTimeout bounds a single run_sql statement.
const sqlQueryTimeout = 60 * time.Second

// SQLResult is the JSON shape returned by the run_sql tool.
type SQLResult struct {
	Columns      []string                 `json:"columns,omitempty"`
	Rows         []map[string]interface{} `json:"rows,omitempty"`
	RowCount     int                      `json:"row_count"`
	RowsAffected int64                    `json:"rows_affected,omitempty"`
}

func (d *Deps) handleRunSQL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	endpoint := stringArg(args, "endpoint")
	username := stringArg(args, "username")
	statement := stringArg(args, "sql")
	if endpoint == "" || username == "" || statement == "" {
		return mcp.NewToolResultError("endpoint, username, and sql are required"), nil
	}

	password := stringArg(args, "password")
	if password == "" {
		// Workspaces accept the platform access token as the password.
		token, err := d.Tokens.AccessToken(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("no password given and no session token available: %v", err)), nil
		}
		password = token
	}

	cfg := mysql.NewConfig()
	cfg.User = username
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = endpoint
	cfg.DBName = stringArg(args, "database")
	cfg.TLSConfig = "preferred"
	cfg.Timeout = 10 * time.Second
	cfg.ParseTime = true

	result, err := runStatement(ctx, cfg.FormatDSN(), statement)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// runStatement opens a short-lived connection, executes one statement, and
// renders the rows as JSON-friendly values.
func runStatement(ctx context.Context, dsn, statement string) (*SQLResult, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	defer db.Close()

	queryCtx, cancel := context.WithTimeout(ctx, sqlQueryTimeout)
	defer cancel()

	rows, err := db.QueryContext(queryCtx, statement)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := &SQLResult{Columns: columns}
	values := make([]interface{}, len(columns))
	scanTargets := make([]interface{}, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// normalizeValue converts driver values into JSON-encodable ones.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return val
	}
}
