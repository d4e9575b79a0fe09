package toolservers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"
)

// DatabaseOptions configures the database tool server.
type DatabaseOptions struct {
	// Driver is "postgres" or "sqlite".
	Driver       string
	MaxRows      int
	QueryTimeout time.Duration
	ReadOnly     bool
}

// QueryArgs are the execute_query arguments.
type QueryArgs struct {
	SQL string `json:"sql" jsonschema:"SQL query to execute, for example SELECT * FROM adverse_events LIMIT 10"`
}

// QueryResult is the execute_query result.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Count     int      `json:"count"`
	Truncated bool     `json:"truncated,omitempty"`
}

// ErrWriteStatement is returned for statements a read-only server refuses.
var ErrWriteStatement = errors.New("only read-only statements are allowed (SELECT, WITH, EXPLAIN, SHOW)")

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	writeKeyword = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|drop|alter|create|truncate|grant|revoke|copy|vacuum|attach|detach|pragma)\b`)
)

var readOnlyVerbs = map[string]bool{
	"select":  true,
	"with":    true,
	"explain": true,
	"show":    true,
}

// driverNames maps config driver names to database/sql driver names.
var driverNames = map[string]string{
	"postgres": "postgres",
	"sqlite":   "sqlite",
}

// OpenDatabase opens and pings the configured database.
func OpenDatabase(ctx context.Context, driver, url string, maxConns int) (*sql.DB, error) {
	name, ok := driverNames[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open(name, url)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// Database serves execute_query over one database handle.
type Database struct {
	db     *sql.DB
	opts   DatabaseOptions
	logger *slog.Logger
}

// NewDatabase wraps db. The caller keeps ownership of db.
func NewDatabase(db *sql.DB, opts DatabaseOptions, logger *slog.Logger) *Database {
	if opts.MaxRows <= 0 {
		opts.MaxRows = 1000
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Database{db: db, opts: opts, logger: logger.With("component", "database-tools")}
}

// Register adds the database tools to server.
func (d *Database) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "execute_query",
		Description: "Execute a SQL query on the clinical trial database. Returns columns, rows, and count.",
	}, d.executeQuery)
}

func (d *Database) executeQuery(ctx context.Context, req *mcp.CallToolRequest, args QueryArgs) (*mcp.CallToolResult, QueryResult, error) {
	result, err := d.Query(ctx, args.SQL)
	if err != nil {
		d.logger.Debug("query failed", "error", err)
		return nil, QueryResult{}, err
	}
	return nil, result, nil
}

// Query runs one statement and collects at most MaxRows rows.
func (d *Database) Query(ctx context.Context, query string) (QueryResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return QueryResult{}, fmt.Errorf("sql is required")
	}
	if d.opts.ReadOnly {
		if err := CheckReadOnly(query); err != nil {
			return QueryResult{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.QueryTimeout)
	defer cancel()

	var rows *sql.Rows
	var err error
	if d.opts.ReadOnly && d.opts.Driver == "postgres" {
		tx, txErr := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if txErr != nil {
			return QueryResult{}, fmt.Errorf("begin read-only transaction: %w", txErr)
		}
		defer tx.Rollback() //nolint:errcheck
		rows, err = tx.QueryContext(ctx, query)
	} else {
		rows, err = d.db.QueryContext(ctx, query)
	}
	if err != nil {
		return QueryResult{}, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return QueryResult{}, fmt.Errorf("read columns: %w", err)
	}

	result := QueryResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if len(result.Rows) == d.opts.MaxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return QueryResult{}, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, fmt.Errorf("read rows: %w", err)
	}
	result.Count = len(result.Rows)
	return result, nil
}

// CheckReadOnly rejects anything but a single read statement.
func CheckReadOnly(query string) error {
	stripped := blockComment.ReplaceAllString(query, " ")
	stripped = lineComment.ReplaceAllString(stripped, " ")
	stripped = strings.TrimSpace(stripped)
	stripped = strings.TrimRight(stripped, "; \t\n")
	if strings.Contains(stripped, ";") {
		return fmt.Errorf("multiple statements are not allowed")
	}
	fields := strings.Fields(stripped)
	if len(fields) == 0 {
		return fmt.Errorf("sql is required")
	}
	verb := strings.ToLower(strings.TrimLeft(fields[0], "("))
	if !readOnlyVerbs[verb] {
		return ErrWriteStatement
	}
	// Catches data-modifying CTEs and EXPLAIN ANALYZE of writes.
	if writeKeyword.MatchString(stripped) {
		return ErrWriteStatement
	}
	return nil
}
