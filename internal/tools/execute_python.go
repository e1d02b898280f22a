package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tollgate/internal/filestore"
	"github.com/nextlevelbuilder/tollgate/internal/sandbox"
)

// ExecutePythonConfig bounds the sandbox timeout (default 180s, hard cap
// 3600s). Grounded on the original tree's ExecTool
// (internal/tools/shell.go's executeInSandbox path): a sandbox.Manager
// keyed per thread, commands dispatched with docker exec, output harvested
// from an output directory mounted into the container.
type ExecutePythonConfig struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration

	// PricePerSecondUSD bills the sandbox by wall time. Defaults to
	// 0.0005/sec (roughly $0.03/minute of sandbox wall time).
	PricePerSecondUSD float64
}

func NewExecutePythonTool(mgr sandbox.Manager, files *filestore.Store, cfg ExecutePythonConfig) *Tool {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 180 * time.Second
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 3600 * time.Second
	}
	if cfg.PricePerSecondUSD <= 0 {
		cfg.PricePerSecondUSD = 0.0005
	}

	return &Tool{
		Name:        "execute_python",
		Description: "Run a Python script in an isolated sandbox with internet and pip access. Input files referenced by file id are staged into the working directory; files written to the output directory are returned as deliverable files.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code":            map[string]any{"type": "string", "description": "Python source to execute."},
				"input_file_ids":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Provider file ids to stage into the working directory before running."},
				"timeout_seconds": map[string]any{"type": "number", "description": "Execution timeout in seconds (default 180, max 3600)."},
			},
			"required": []string{"code"},
		},
		IsPaid: true,
		Executor: func(ctx context.Context, args map[string]any) *Result {
			code, _ := args["code"].(string)
			if code == "" {
				return ErrorResult("code is required")
			}

			timeout := cfg.DefaultTimeout
			if v, ok := args["timeout_seconds"].(float64); ok && v > 0 {
				timeout = time.Duration(v) * time.Second
				if timeout > cfg.MaxTimeout {
					timeout = cfg.MaxTimeout
				}
			}

			threadID := threadIDFromCtx(ctx)
			// The thread's container keeps the directory it was started
			// with mounted at /workspace, so every call for a thread uses
			// the same host directory.
			runDir := filepath.Join(os.TempDir(), "tollgate-exec-"+threadID)
			if err := os.MkdirAll(runDir, 0755); err != nil {
				return ErrorResult("could not prepare sandbox workspace: %v", err)
			}
			outputDir := filepath.Join(runDir, "output")
			_ = os.RemoveAll(outputDir)
			_ = os.Mkdir(outputDir, 0755)

			if ids, ok := args["input_file_ids"].([]any); ok {
				for _, idv := range ids {
					id, _ := idv.(string)
					if id == "" {
						continue
					}
					data, dlErr := files.Download(ctx, id)
					if dlErr != nil {
						return ErrorResult("could not stage input file %s: %v", id, dlErr)
					}
					if err := os.WriteFile(filepath.Join(runDir, id+".bin"), data, 0644); err != nil {
						return ErrorResult("could not write input file %s: %v", id, err)
					}
				}
			}

			scriptPath := filepath.Join(runDir, "script.py")
			if err := os.WriteFile(scriptPath, []byte(code), 0644); err != nil {
				return ErrorResult("could not write script: %v", err)
			}

			sb, err := mgr.Get(ctx, threadID, runDir)
			if err != nil {
				return ErrorResult("sandbox unavailable: %v", err)
			}

			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			started := time.Now()
			res, err := sb.Exec(runCtx, []string{"python3", "script.py"}, "/workspace")
			wallTime := time.Since(started)
			if err != nil {
				return ErrorResult("sandbox exec failed: %v", err)
			}

			output := res.Stdout
			if res.Stderr != "" {
				output += "\nSTDERR:\n" + res.Stderr
			}
			if res.ExitCode != 0 {
				output = fmt.Sprintf("exit code %d\n%s", res.ExitCode, output)
			}

			r := NewResult(output)
			r.IsError = res.ExitCode != 0
			r.OutputFiles = harvestOutputFiles(outputDir)
			r.CostUSD = wallTime.Seconds() * cfg.PricePerSecondUSD
			return r
		},
	}
}

func harvestOutputFiles(dir string) []FileBlob {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []FileBlob
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, FileBlob{
			Filename: e.Name(),
			Mime:     detectMimeByExt(e.Name()),
			Data:     data,
			Context:  "execute_python output: " + e.Name(),
		})
	}
	return out
}

func detectMimeByExt(name string) string {
	switch filepath.Ext(name) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

type threadIDCtxKey struct{}
type userIDCtxKey struct{}

func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadIDCtxKey{}, threadID)
}

func threadIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(threadIDCtxKey{}).(string); ok && v != "" {
		return v
	}
	return uuid.NewString()
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDCtxKey{}, userID)
}

func userIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(userIDCtxKey{}).(string)
	return v
}
