// Package toolservers implements the bundled MCP tool servers: database
// queries, ClinicalTrials.gov and openFDA lookups, and document access.
package toolservers

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/haasonsaas/trialchat/internal/config"
)

// Server names accepted by New.
const (
	DatabaseServer    = "database"
	ExternalAPIServer = "external-api"
	FilesystemServer  = "filesystem"
)

// Names lists the bundled servers.
var Names = []string{DatabaseServer, ExternalAPIServer, FilesystemServer}

var instructions = map[string]string{
	DatabaseServer:    "Read-only SQL access to the clinical trial database.",
	ExternalAPIServer: "Searches ClinicalTrials.gov studies and openFDA drug labels.",
	FilesystemServer:  "Reads clinical trial documents and data files from one directory.",
}

// New builds the named server from cfg. The returned cleanup releases
// resources the server holds and must be called once it stops.
func New(ctx context.Context, name string, cfg *config.Config, version string, logger *slog.Logger) (*mcp.Server, func() error, error) {
	if !slices.Contains(Names, name) {
		return nil, nil, fmt.Errorf("unknown tool server %q (want one of %v)", name, Names)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "clinical-trial-" + name,
		Version: version,
	}, &mcp.ServerOptions{
		Instructions: instructions[name],
		Logger:       logger,
	})
	cleanup := func() error { return nil }

	switch name {
	case DatabaseServer:
		db, err := OpenDatabase(ctx, cfg.Database.Driver, cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return nil, nil, err
		}
		NewDatabase(db, DatabaseOptions{
			Driver:       cfg.Database.Driver,
			MaxRows:      cfg.Database.MaxRows,
			QueryTimeout: cfg.Database.QueryTimeout,
			ReadOnly:     cfg.Database.IsReadOnly(),
		}, logger).Register(server)
		cleanup = db.Close
	case ExternalAPIServer:
		NewExternalAPI(ExternalAPIOptions{
			ClinicalTrialsURL: cfg.ExternalAPI.ClinicalTrialsURL,
			FDAURL:            cfg.ExternalAPI.FDAURL,
			FDAAPIKey:         cfg.ExternalAPI.FDAAPIKey,
			Timeout:           cfg.ExternalAPI.Timeout,
			CacheTTL:          cfg.ExternalAPI.CacheTTL,
			CacheSize:         cfg.ExternalAPI.CacheSize,
		}, logger).Register(server)
	case FilesystemServer:
		NewFilesystem(FilesystemOptions{
			Root:         cfg.Filesystem.Root,
			MaxFileBytes: cfg.Filesystem.MaxFileBytes,
		}, logger).Register(server)
	}
	return server, cleanup, nil
}

// Serve runs the named server over stdio until ctx ends or the client
// disconnects.
func Serve(ctx context.Context, name string, cfg *config.Config, version string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	server, cleanup, err := New(ctx, name, cfg, version, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(); err != nil {
			logger.Warn("tool server cleanup failed", "server", name, "error", err)
		}
	}()
	logger.Info("tool server listening on stdio", "server", name)
	return server.Run(ctx, &mcp.StdioTransport{})
}
