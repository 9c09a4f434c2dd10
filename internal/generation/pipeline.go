package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/workbench/server/internal/persistence"
	"github.com/workbench/server/internal/provider"
	"github.com/workbench/server/internal/toolexec"
	"github.com/workbench/server/internal/workspacestore"
)

// SystemDirective is the fixed system prompt handed to every provider.
const SystemDirective = `You are an AI assistant building a web application inside an isolated
workspace. You can read, write, list, and delete files using the tools
provided. Prefer small, focused edits. Explain what you changed in prose;
let the tools perform the actual file mutations.`

// ErrChatNotFound and ErrForbidden are the structured errors Run returns
// before any SSE framing begins, letting the HTTP layer map them to 404/403
// without having started writing a text/event-stream response yet.
var (
	ErrChatNotFound = errors.New("generation: chat not found")
	ErrForbidden    = errors.New("generation: caller does not own this chat")
)

// Params bundles everything Run needs for one generation turn.
type Params struct {
	ChatID      int64
	OwnerUserID int64
	Prompt      string
	Redo        bool

	App      persistence.App
	Store    *workspacestore.Store
	Executor *toolexec.Executor
}

// Pipeline drives one generation turn: load history,
// persist the user turn, stream a tool-calling completion, and persist the
// resulting assistant turn — or persist nothing at all if the stream is
// cancelled.
type Pipeline struct {
	persist  *persistence.Store
	registry *provider.Registry
	sessions *SessionManager
	maxSteps int
}

// New creates a Pipeline.
func New(persist *persistence.Store, registry *provider.Registry, sessions *SessionManager, maxSteps int) *Pipeline {
	if maxSteps <= 0 {
		maxSteps = 10
	}
	return &Pipeline{persist: persist, registry: registry, sessions: sessions, maxSteps: maxSteps}
}

// Sessions exposes the session manager so the HTTP layer can wire
// POST /stream/cancel/{streamId}.
func (p *Pipeline) Sessions() *SessionManager { return p.sessions }

// Run executes one generation turn, writing framed SSE events to w. It
// returns only after the stream is fully drained (completed, cancelled, or
// errored) — the caller does not need to manage a goroutine.
func (p *Pipeline) Run(ctx context.Context, w http.ResponseWriter, params Params) error {
	chat, err := p.persist.GetChat(params.ChatID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return ErrChatNotFound
		}
		return err
	}
	if chat.AppID != params.App.ID {
		return ErrChatNotFound
	}
	if params.App.OwnerUserID != params.OwnerUserID {
		return ErrForbidden
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fw := newFrameWriter(w)

	history, err := p.persist.ListMessages(params.ChatID)
	if err != nil {
		_ = fw.writeError(err.Error())
		return err
	}

	if err := p.ensureInitialized(params, fw); err != nil {
		_ = fw.writeError(err.Error())
		return err
	}

	var userMsg persistence.Message
	requestID := newRequestID()
	if !params.Redo {
		userMsg, err = p.persist.AppendMessage(params.ChatID, persistence.RoleUser, params.Prompt, requestID)
		if err != nil {
			_ = fw.writeError(err.Error())
			return err
		}
		history = append(history, userMsg)
	}

	session, genCtx := p.sessions.Create(ctx, params.ChatID, params.OwnerUserID)
	defer p.sessions.Release(session.ID)

	if err := fw.writeStreamID(session.ID); err != nil {
		return err
	}
	if !params.Redo {
		if err := fw.writeMessage(toPayload(userMsg)); err != nil {
			return err
		}
	}

	client, err := p.registry.Resolve(provider.Name(params.App.SelectedProvider), params.App.SelectedModel)
	if err != nil {
		if errors.Is(err, provider.ErrMissingCredential) {
			_ = fw.writeError("the configured provider is missing its API credential")
			return nil
		}
		_ = fw.writeError(err.Error())
		return nil
	}

	req := provider.Request{
		System:   SystemDirective,
		Messages: buildPromptMessages(history, params.Redo),
		Tools:    toolexec.Specs(),
		Model:    params.App.SelectedModel,
	}

	assistantContent, err := p.drive(genCtx, client, req, params, fw)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Cancelled: no partial assistant message is persisted, SSE just closes.
			return nil
		}
		_ = fw.writeError(err.Error())
		return nil
	}

	assistantMsg, err := p.persist.AppendMessage(params.ChatID, persistence.RoleAssistant, assistantContent, requestID)
	if err != nil {
		_ = fw.writeError(err.Error())
		return err
	}
	if _, err := p.persist.CreateAppVersion(params.App.ID, assistantMsg.ID, "generation turn"); err != nil {
		slog.Warn("failed to record app version snapshot", "app", params.App.ID, "error", err)
	}

	return fw.writeEnd(toPayload(assistantMsg), params.ChatID)
}

// drive runs the provider's streaming tool-calling loop for up to maxSteps
// turns, emitting chunk/fileUpdate frames and executing tool calls against
// the Tool Executor in between. It returns the accumulated assistant prose.
func (p *Pipeline) drive(ctx context.Context, client provider.Client, req provider.Request, params Params, fw *frameWriter) (string, error) {
	var full string

	for step := 0; step < p.maxSteps; step++ {
		streamer, err := client.Stream(ctx, req)
		if err != nil {
			return "", fmt.Errorf("upstream stream failed: %w", err)
		}

		var stepText string
		var toolCalls []provider.ToolCall

		for {
			chunk, err := streamer.Recv()
			if err != nil {
				_ = streamer.Close()
				return "", err
			}
			if chunk.Done {
				break
			}
			if chunk.Text != "" {
				stepText += chunk.Text
				full += chunk.Text
				if err := fw.writeChunk(chunk.Text, full); err != nil {
					_ = streamer.Close()
					return "", err
				}
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		}
		_ = streamer.Close()

		if len(toolCalls) == 0 {
			return full, nil
		}

		results := make([]provider.ToolResult, 0, len(toolCalls))
		for _, call := range toolCalls {
			output := params.Executor.Run(call.Name, call.Input)
			results = append(results, provider.ToolResult{ToolCallID: call.ID, Content: output})
			if path, ok := mutatedPath(call.Name, output); ok {
				if err := fw.writeFileUpdate(path); err != nil {
					return "", err
				}
			}
		}

		// Only this step's prose goes back into the conversation; `full` is
		// the cumulative text for outward-facing fullContent frames.
		req.ToolResults = results
		req.Messages = append(req.Messages, provider.Message{Role: "assistant", Content: stepText})
	}

	return full, nil
}

// ensureInitialized materializes a minimal template file set the first time
// a chat generates against a workspace with no project marker, before any
// model work starts.
func (p *Pipeline) ensureInitialized(params Params, fw *frameWriter) error {
	exists, err := params.Store.Exists("package.json")
	if err != nil {
		return fmt.Errorf("check project marker: %w", err)
	}
	if exists {
		return nil
	}
	if err := fw.writeStatus("initializing workspace"); err != nil {
		return err
	}
	if err := materializeTemplate(params.Store, params.App.Template); err != nil {
		return fmt.Errorf("materialize template: %w", err)
	}
	return fw.writeStatus("workspace initialized")
}

func buildPromptMessages(history []persistence.Message, redo bool) []provider.Message {
	msgs := make([]provider.Message, 0, len(history))
	n := len(history)
	if redo && n > 0 && history[n-1].Role == persistence.RoleAssistant {
		// redo excludes the prior assistant turn from the replayed prompt
		// without deleting it from the chat history.
		n--
	}
	for _, m := range history[:n] {
		msgs = append(msgs, provider.Message{Role: string(m.Role), Content: m.Content})
	}
	return msgs
}

func toPayload(m persistence.Message) MessagePayload {
	return MessagePayload{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Role:      string(m.Role),
		Content:   m.Content,
		RequestID: m.RequestID,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

func mutatedPath(toolName, resultJSON string) (string, bool) {
	if toolName != "writeFile" && toolName != "deleteFile" {
		return "", false
	}
	var res struct {
		Success bool   `json:"success"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal([]byte(resultJSON), &res); err != nil || !res.Success {
		return "", false
	}
	return res.Path, true
}

func newRequestID() string {
	return uuid.NewString()
}
