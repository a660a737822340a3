package tool

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	domaintool "github.com/agentrt/core/internal/domain/tool"
	apperrors "github.com/agentrt/core/pkg/errors"
	"go.uber.org/zap"
)

// confineOutputPath resolves requested against root and rejects anything
// that escapes it, mirroring confinePath but for the output directory
// rather than the sandbox working directory (the two roots are distinct:
// the sandbox holds the agent's working copy, the output dir holds
// finished artifacts meant for the user to collect).
func confineOutputPath(root, requested string) (string, error) {
	abs := requested
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", apperrors.NewPathEscapeError(requested, root, "use a path relative to the output directory")
	}
	return abs, nil
}

// WriteOutputTool writes a finished artifact into a directory the user
// will later collect from, distinct from the sandbox's scratch working
// directory.
type WriteOutputTool struct {
	outputDir string
	logger    *zap.Logger
}

// NewWriteOutputTool creates the write_output tool, rooted at outputDir.
func NewWriteOutputTool(outputDir string, logger *zap.Logger) *WriteOutputTool {
	return &WriteOutputTool{outputDir: outputDir, logger: logger}
}

func (t *WriteOutputTool) Name() string         { return "write_output" }
func (t *WriteOutputTool) Kind() domaintool.Kind { return domaintool.KindEdit }

func (t *WriteOutputTool) Description() string {
	return "Write a finished artifact (report, generated file, summary) to the output directory, " +
		"distinct from the scratch working directory used while the task is in progress."
}

func (t *WriteOutputTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path relative to the output directory",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteOutputTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	path, _ := args["path"].(string)
	content, ok := args["content"].(string)
	if path == "" || !ok {
		return &domaintool.Result{Success: false, Error: "path and content are required"}, nil
	}

	safePath, err := confineOutputPath(t.outputDir, path)
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}

	if err := os.MkdirAll(filepath.Dir(safePath), 0755); err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	if err := os.WriteFile(safePath, []byte(content), 0644); err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}

	t.logger.Info("output artifact written", zap.String("path", safePath), zap.Int("bytes", len(content)))

	return &domaintool.Result{
		Output:  fmt.Sprintf("Wrote %d bytes to output:%s", len(content), path),
		Success: true,
		Metadata: map[string]interface{}{
			"path":  safePath,
			"bytes": len(content),
		},
	}, nil
}

// ListOutputTool lists what has been produced in the output directory so far.
type ListOutputTool struct {
	outputDir string
	logger    *zap.Logger
}

// NewListOutputTool creates the list_output tool, rooted at outputDir.
func NewListOutputTool(outputDir string, logger *zap.Logger) *ListOutputTool {
	return &ListOutputTool{outputDir: outputDir, logger: logger}
}

func (t *ListOutputTool) Name() string         { return "list_output" }
func (t *ListOutputTool) Kind() domaintool.Kind { return domaintool.KindRead }

func (t *ListOutputTool) Description() string {
	return "List files already written to the output directory, with their sizes."
}

func (t *ListOutputTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ListOutputTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	if _, err := os.Stat(t.outputDir); os.IsNotExist(err) {
		return &domaintool.Result{Output: "(output directory is empty)", Success: true}, nil
	}

	var sb strings.Builder
	count := 0
	err := filepath.Walk(t.outputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(t.outputDir, path)
		if relErr != nil {
			return nil
		}
		sb.WriteString(fmt.Sprintf("%8d  %s\n", info.Size(), rel))
		count++
		return nil
	})
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	if count == 0 {
		return &domaintool.Result{Output: "(output directory is empty)", Success: true}, nil
	}

	return &domaintool.Result{
		Output:   sb.String(),
		Success:  true,
		Metadata: map[string]interface{}{"count": count},
	}, nil
}

// PreviewServerTool starts (or stops) a background static-file HTTP
// server rooted at the output directory, for the user to preview
// generated artifacts (rendered docs, built sites) without leaving the
// conversation. One server runs at a time per tool instance.
type PreviewServerTool struct {
	outputDir string
	logger    *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewPreviewServerTool creates the preview_server tool, serving outputDir.
func NewPreviewServerTool(outputDir string, logger *zap.Logger) *PreviewServerTool {
	return &PreviewServerTool{outputDir: outputDir, logger: logger}
}

func (t *PreviewServerTool) Name() string         { return "preview_server" }
func (t *PreviewServerTool) Kind() domaintool.Kind { return domaintool.KindExecute }

func (t *PreviewServerTool) Description() string {
	return "Start or stop a local preview server for the output directory's contents. " +
		"action='start' returns the URL to open; action='stop' shuts it down."
}

func (t *PreviewServerTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "start or stop",
				"enum":        []string{"start", "stop"},
			},
		},
		"required": []string{"action"},
	}
}

func (t *PreviewServerTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	action, _ := args["action"].(string)

	t.mu.Lock()
	defer t.mu.Unlock()

	switch action {
	case "start":
		if t.server != nil {
			return &domaintool.Result{Output: fmt.Sprintf("Preview server already running at %s", t.listener.Addr()), Success: true}, nil
		}
		if err := os.MkdirAll(t.outputDir, 0755); err != nil {
			return &domaintool.Result{Success: false, Error: err.Error()}, nil
		}

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return &domaintool.Result{Success: false, Error: err.Error()}, nil
		}

		srv := &http.Server{Handler: http.FileServer(http.Dir(t.outputDir))}
		t.server = srv
		t.listener = ln

		go func() {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				t.logger.Error("preview server error", zap.Error(err))
			}
		}()

		url := fmt.Sprintf("http://%s/", ln.Addr().String())
		t.logger.Info("preview server started", zap.String("url", url), zap.String("root", t.outputDir))

		return &domaintool.Result{
			Output:   fmt.Sprintf("Preview server started at %s", url),
			Success:  true,
			Metadata: map[string]interface{}{"url": url},
		}, nil

	case "stop":
		if t.server == nil {
			return &domaintool.Result{Output: "No preview server running", Success: true}, nil
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := t.server.Shutdown(shutdownCtx)
		t.server = nil
		t.listener = nil
		if err != nil {
			return &domaintool.Result{Success: false, Error: err.Error()}, nil
		}
		return &domaintool.Result{Output: "Preview server stopped", Success: true}, nil

	default:
		return &domaintool.Result{Success: false, Error: "action must be 'start' or 'stop'"}, nil
	}
}

// RunCommandTool is a narrower, non-interactive alternative to BashTool:
// a single confined command (no shell interpolation) for callers that want
// to run one program with explicit arguments rather than a shell pipeline.
type RunCommandTool struct {
	sandboxExec func(ctx context.Context, command string, args []string) (string, int, error)
	logger      *zap.Logger
}

// NewRunCommandTool creates the run_command tool. exec is the sandbox's
// confined Execute method, injected so this tool stays decoupled from the
// concrete sandbox type.
func NewRunCommandTool(exec func(ctx context.Context, command string, args []string) (string, int, error), logger *zap.Logger) *RunCommandTool {
	return &RunCommandTool{sandboxExec: exec, logger: logger}
}

func (t *RunCommandTool) Name() string         { return "run_command" }
func (t *RunCommandTool) Kind() domaintool.Kind { return domaintool.KindExecute }

func (t *RunCommandTool) Description() string {
	return "Run a single program with explicit arguments (no shell interpretation, no pipes/redirects). " +
		"Prefer this over bash when the command and its arguments are already known exactly; " +
		"it avoids quoting and injection pitfalls."
}

func (t *RunCommandTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The program to run (e.g. 'go', 'npm', 'python3')",
			},
			"args": map[string]interface{}{
				"type":        "array",
				"description": "Arguments to pass to the program",
				"items":       map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"command"},
	}
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	command, ok := args["command"].(string)
	if !ok || command == "" {
		return &domaintool.Result{Success: false, Error: "command is required"}, nil
	}

	var cmdArgs []string
	if raw, ok := args["args"].([]interface{}); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				cmdArgs = append(cmdArgs, s)
			}
		}
	}

	t.logger.Info("running command", zap.String("command", command), zap.Strings("args", cmdArgs))

	output, exitCode, err := t.sandboxExec(ctx, command, cmdArgs)
	if err != nil {
		return &domaintool.Result{Output: output, Success: false, Error: err.Error()}, nil
	}

	return &domaintool.Result{
		Output:   output,
		Success:  exitCode == 0,
		Metadata: map[string]interface{}{"exit_code": exitCode},
	}, nil
}
