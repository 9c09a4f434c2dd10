// Package toolexec exposes the closed tool surface the Generation Pipeline
// offers a model: writeFile, readFile, listFiles, deleteFile, each bound to
// one app's workspace with path validation, a null-byte check, and a
// write-size ceiling. Every operation delegates to workspacestore, and
// failures come back as structured results instead of errors so the model
// loop can observe and adapt rather than abort.
package toolexec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/workbench/server/internal/provider"
	"github.com/workbench/server/internal/workspacestore"
)

// DefaultMaxFileSize is the write ceiling (1MB) when a caller doesn't
// configure one explicitly.
const DefaultMaxFileSize = 1 << 20

// FileEntry is one item in a listFiles result.
type FileEntry struct {
	Name        string `json:"name"`
	IsDirectory bool   `json:"isDirectory"`
}

// Result is the structured outcome of a single tool call. Failures come
// back as Success=false with Error set, never as a raised error, so the
// model loop can observe them and adapt.
type Result struct {
	Success bool        `json:"success"`
	Path    string      `json:"path,omitempty"`
	Content string      `json:"content,omitempty"`
	Message string      `json:"message,omitempty"`
	Files   []FileEntry `json:"files,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Executor binds the fixed tool surface to one app's workspace.
type Executor struct {
	store       *workspacestore.Store
	maxFileSize int
}

// New creates an Executor over store. maxFileSize <= 0 uses DefaultMaxFileSize.
func New(store *workspacestore.Store, maxFileSize int) *Executor {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Executor{store: store, maxFileSize: maxFileSize}
}

// Specs returns the tool specifications to offer a model.
func Specs() []provider.ToolSpec {
	return []provider.ToolSpec{
		{
			Name:        "writeFile",
			Description: "Write content to a file in the workspace, creating parent directories as needed.",
			InputSchema: mustSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"path", "content"},
			}),
		},
		{
			Name:        "readFile",
			Description: "Read the contents of a file in the workspace.",
			InputSchema: mustSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
				"required": []string{"path"},
			}),
		},
		{
			Name:        "listFiles",
			Description: "List the files and directories at a path in the workspace (defaults to the workspace root).",
			InputSchema: mustSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
			}),
		},
		{
			Name:        "deleteFile",
			Description: "Delete a file in the workspace.",
			InputSchema: mustSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
				"required": []string{"path"},
			}),
		},
	}
}

func mustSchema(v map[string]any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// Run dispatches a tool call by name and returns its result as a JSON
// string, ready to feed back into provider.ToolResult.Content. An unknown
// tool name is itself a structured failure, not an error return, since the
// model — not the caller — needs to see and recover from it.
func (e *Executor) Run(name string, input json.RawMessage) string {
	var res Result
	switch name {
	case "writeFile":
		res = e.writeFile(input)
	case "readFile":
		res = e.readFile(input)
	case "listFiles":
		res = e.listFiles(input)
	case "deleteFile":
		res = e.deleteFile(input)
	default:
		res = Result{Success: false, Error: fmt.Sprintf("unknown tool %q", name)}
	}
	out, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(out)
}

func (e *Executor) writeFile(input json.RawMessage) Result {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return Result{Success: false, Error: "invalid arguments: " + err.Error()}
	}
	if err := validatePath(args.Path); err != nil {
		return Result{Success: false, Path: args.Path, Error: err.Error()}
	}
	if len(args.Content) > e.maxFileSize {
		return Result{Success: false, Path: args.Path, Error: fmt.Sprintf("content exceeds maximum size of %d bytes", e.maxFileSize)}
	}
	if err := e.store.WriteFile(args.Path, []byte(args.Content)); err != nil {
		return Result{Success: false, Path: args.Path, Error: err.Error()}
	}
	return Result{Success: true, Path: args.Path, Message: "file written"}
}

func (e *Executor) readFile(input json.RawMessage) Result {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return Result{Success: false, Error: "invalid arguments: " + err.Error()}
	}
	if err := validatePath(args.Path); err != nil {
		return Result{Success: false, Path: args.Path, Error: err.Error()}
	}
	data, err := e.store.ReadFile(args.Path)
	if err != nil {
		return Result{Success: false, Path: args.Path, Error: err.Error()}
	}
	return Result{Success: true, Path: args.Path, Content: string(data)}
}

func (e *Executor) listFiles(input json.RawMessage) Result {
	var args struct {
		Path string `json:"path"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return Result{Success: false, Error: "invalid arguments: " + err.Error()}
		}
	}
	if args.Path != "" {
		if err := validatePath(args.Path); err != nil {
			return Result{Success: false, Path: args.Path, Error: err.Error()}
		}
	}
	entries, err := e.store.List(args.Path)
	if err != nil {
		return Result{Success: false, Path: args.Path, Error: err.Error()}
	}
	files := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		files = append(files, FileEntry{Name: entry.Name, IsDirectory: entry.IsDir})
	}
	return Result{Success: true, Path: args.Path, Files: files}
}

func (e *Executor) deleteFile(input json.RawMessage) Result {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return Result{Success: false, Error: "invalid arguments: " + err.Error()}
	}
	if err := validatePath(args.Path); err != nil {
		return Result{Success: false, Path: args.Path, Error: err.Error()}
	}
	if err := e.store.DeleteFile(args.Path); err != nil {
		return Result{Success: false, Path: args.Path, Error: err.Error()}
	}
	return Result{Success: true, Path: args.Path, Message: "file deleted"}
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path is required")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("file path contains a null byte")
	}
	return nil
}
