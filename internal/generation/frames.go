package generation

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// MessagePayload is the persisted-message shape echoed on `message` and
// `end` frames.
type MessagePayload struct {
	ID        int64  `json:"id"`
	ChatID    int64  `json:"chatId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	RequestID string `json:"requestId,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// frameWriter writes framed SSE events to an http.ResponseWriter, flushing
// after every frame so a client sees text incrementally rather than
// buffered until the response closes.
type frameWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newFrameWriter(w http.ResponseWriter) *frameWriter {
	flusher, _ := w.(http.Flusher)
	return &frameWriter{w: w, flusher: flusher}
}

func (fw *frameWriter) writeStreamID(streamID string) error {
	return fw.write(map[string]any{"type": "streamId", "streamId": streamID})
}

func (fw *frameWriter) writeStatus(message string) error {
	return fw.write(map[string]any{"type": "status", "message": message})
}

func (fw *frameWriter) writeMessage(msg MessagePayload) error {
	return fw.write(map[string]any{"type": "message", "message": msg})
}

func (fw *frameWriter) writeChunk(content, fullContent string) error {
	return fw.write(map[string]any{"type": "chunk", "content": content, "fullContent": fullContent})
}

func (fw *frameWriter) writeFileUpdate(path string) error {
	return fw.write(map[string]any{"type": "fileUpdate", "path": path, "message": fmt.Sprintf("updated %s", path)})
}

func (fw *frameWriter) writeEnd(msg MessagePayload, chatID int64) error {
	return fw.write(map[string]any{"type": "end", "message": msg, "chatId": chatID})
}

func (fw *frameWriter) writeError(errMsg string) error {
	return fw.write(map[string]any{"type": "error", "error": errMsg})
}

func (fw *frameWriter) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fw.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := fw.w.Write(data); err != nil {
		return err
	}
	if _, err := fw.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
	return nil
}
