package toolservers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const maxListEntries = 1000

// FilesystemOptions configures the filesystem tool server.
type FilesystemOptions struct {
	Root         string
	MaxFileBytes int64
}

// ReadFileArgs are the read_file arguments.
type ReadFileArgs struct {
	Path string `json:"path" jsonschema:"Path of the file to read, relative to the served directory"`
}

// ReadFileResult is the read_file result.
type ReadFileResult struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Size      int64  `json:"size"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ListFilesArgs are the list_files arguments.
type ListFilesArgs struct {
	Directory string `json:"directory" jsonschema:"Directory to list, relative to the served directory"`
	Pattern   string `json:"pattern,omitempty" jsonschema:"Optional glob matched against file names, for example *.csv"`
}

// FileEntry describes one listed file.
type FileEntry struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	IsDir   bool   `json:"is_dir"`
	ModTime string `json:"mod_time"`
}

// ListFilesResult is the list_files result.
type ListFilesResult struct {
	Directory string      `json:"directory"`
	Files     []FileEntry `json:"files"`
	Count     int         `json:"count"`
	Truncated bool        `json:"truncated,omitempty"`
}

// Filesystem serves read-only access to documents under one directory.
type Filesystem struct {
	resolver Resolver
	maxBytes int64
	logger   *slog.Logger
}

// NewFilesystem creates the filesystem tools.
func NewFilesystem(opts FilesystemOptions, logger *slog.Logger) *Filesystem {
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 1 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filesystem{
		resolver: Resolver{Root: opts.Root},
		maxBytes: opts.MaxFileBytes,
		logger:   logger.With("component", "filesystem-tools"),
	}
}

// Register adds the filesystem tools to server.
func (f *Filesystem) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_file",
		Description: "Read the content of a clinical trial document or data file.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ReadFileArgs) (*mcp.CallToolResult, ReadFileResult, error) {
		result, err := f.ReadFile(args.Path)
		return nil, result, err
	})
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_files",
		Description: "List files in a directory, optionally filtered by a glob pattern such as *.csv or *.pdf.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ListFilesArgs) (*mcp.CallToolResult, ListFilesResult, error) {
		result, err := f.ListFiles(ctx, args.Directory, args.Pattern)
		return nil, result, err
	})
}

// ReadFile reads at most MaxFileBytes of a file.
func (f *Filesystem) ReadFile(path string) (ReadFileResult, error) {
	if path == "" {
		return ReadFileResult{}, fmt.Errorf("path is required")
	}
	abs, err := f.resolver.Resolve(path)
	if err != nil {
		return ReadFileResult{}, err
	}
	file, err := os.Open(abs)
	if err != nil {
		return ReadFileResult{}, fmt.Errorf("failed to read file: %w", relErr(err))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return ReadFileResult{}, fmt.Errorf("failed to read file: %w", relErr(err))
	}
	if info.IsDir() {
		return ReadFileResult{}, fmt.Errorf("%s is a directory", path)
	}

	data, err := io.ReadAll(io.LimitReader(file, f.maxBytes))
	if err != nil {
		return ReadFileResult{}, fmt.Errorf("failed to read file: %w", relErr(err))
	}
	return ReadFileResult{
		Path:      f.resolver.Rel(abs),
		Content:   string(data),
		Size:      info.Size(),
		Truncated: info.Size() > int64(len(data)),
	}, nil
}

// ListFiles walks directory and returns entries whose name matches pattern.
func (f *Filesystem) ListFiles(ctx context.Context, directory, pattern string) (ListFilesResult, error) {
	if pattern != "" {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return ListFilesResult{}, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}
	abs, err := f.resolver.Resolve(directory)
	if err != nil {
		return ListFilesResult{}, err
	}

	result := ListFilesResult{Directory: f.resolver.Rel(abs), Files: []FileEntry{}}
	errStop := errors.New("stop")
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == abs {
			return nil
		}
		if pattern != "" {
			if matched, _ := filepath.Match(pattern, d.Name()); !matched {
				return nil
			}
		}
		if len(result.Files) == maxListEntries {
			result.Truncated = true
			return errStop
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		result.Files = append(result.Files, FileEntry{
			Path:    f.resolver.Rel(path),
			Name:    d.Name(),
			Size:    info.Size(),
			IsDir:   d.IsDir(),
			ModTime: info.ModTime().Format(time.DateTime),
		})
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return ListFilesResult{}, fmt.Errorf("failed to list files: %w", relErr(err))
	}
	result.Count = len(result.Files)
	return result, nil
}

// relErr hides absolute host paths from errors returned to the model.
func relErr(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return fmt.Errorf("%s %s: %w", pathErr.Op, filepath.Base(pathErr.Path), pathErr.Err)
	}
	return err
}
