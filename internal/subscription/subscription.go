// Package subscription is the WebSocket layer where clients join/leave
// per-workspace log rooms and receive log bus events as `terminal:log`
// messages. Each connection carries its own join/leave registry over the
// per-workspace Log Bus.
package subscription

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/workbench/server/internal/logbus"
)

// writeTimeout bounds how long a single outbound write may block before the
// connection is considered dead.
const writeTimeout = 5 * time.Second

// inboundMessage is the shape of client-sent control frames.
type inboundMessage struct {
	Event       string `json:"event"`
	WorkspaceID string `json:"workspaceId"`
}

// outboundLog is the `terminal:log` frame shape sent to subscribers.
type outboundLog struct {
	Event string `json:"event"`
	Data  struct {
		AppID     string `json:"appId"`
		Message   string `json:"message"`
		IsError   bool   `json:"isError"`
		Timestamp string `json:"timestamp"`
	} `json:"data"`
}

// OwnershipCheck reports whether userID owns workspaceID. The fabric calls
// this before subscribing a connection to a room on join-app. Every other
// route in this service enforces ownership the same way, and tenant
// isolation applies just as much to the log-subscription transport as to
// the REST surface.
type OwnershipCheck func(userID int64, workspaceID string) bool

// Fabric upgrades connections and bridges them to the Log Bus.
type Fabric struct {
	bus            *logbus.Bus
	allowedOrigins []string
	readBuf        int
	writeBuf       int
	ownership      OwnershipCheck
}

// New creates a Fabric bridging bus to WebSocket clients. allowedOrigins
// supports exact matches, "*", and "https://*.example.com"-style wildcard
// subdomain patterns. ownership gates every join-app by the connection's
// authenticated caller; pass a function that always returns true only for
// tests that have no notion of app ownership.
func New(bus *logbus.Bus, allowedOrigins []string, readBuf, writeBuf int, ownership OwnershipCheck) *Fabric {
	if readBuf <= 0 {
		readBuf = 1024
	}
	if writeBuf <= 0 {
		writeBuf = 1024
	}
	if ownership == nil {
		ownership = func(int64, string) bool { return false }
	}
	return &Fabric{bus: bus, allowedOrigins: allowedOrigins, readBuf: readBuf, writeBuf: writeBuf, ownership: ownership}
}

func (f *Fabric) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  f.readBuf,
		WriteBufferSize: f.writeBuf,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return f.originAllowed(origin)
		},
	}
}

func (f *Fabric) originAllowed(origin string) bool {
	for _, allowed := range f.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if strings.Contains(allowed, "*") && matchWildcardOrigin(origin, allowed) {
			return true
		}
	}
	return false
}

func matchWildcardOrigin(origin, pattern string) bool {
	parts := strings.SplitN(pattern, "*", 2)
	if len(parts) != 2 {
		return false
	}
	prefix, suffix := parts[0], parts[1]
	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}
	middle := origin[len(prefix) : len(origin)-len(suffix)]
	return !strings.Contains(middle, "/")
}

// ServeHTTP upgrades the connection and runs its join/leave/forward loop
// until the client disconnects. userID is the already-authenticated caller
// (the handler wrapping this in withAuth resolves it before calling in),
// used to gate every join-app against OwnershipCheck.
func (f *Fabric) ServeHTTP(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := f.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("subscription: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &connection{conn: conn, bus: f.bus, ownership: f.ownership, userID: userID, subs: make(map[string]*logbus.Subscriber)}
	defer c.leaveAll()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Event {
		case "join-app":
			c.join(msg.WorkspaceID)
		case "leave-app":
			c.leave(msg.WorkspaceID)
		}
	}
}

// connection tracks one WebSocket client's active room subscriptions and
// serializes writes to its socket (gorilla/websocket forbids concurrent
// writers on a single connection).
type connection struct {
	conn      *websocket.Conn
	bus       *logbus.Bus
	ownership OwnershipCheck
	userID    int64

	mu   sync.Mutex
	subs map[string]*logbus.Subscriber

	wmu sync.Mutex // serializes WriteMessage calls across forwarder goroutines
}

// join subscribes the connection to workspaceID's log room, refusing
// silently (no subscription, no error frame) when the connection's
// authenticated caller doesn't own that workspace.
func (c *connection) join(workspaceID string) {
	if workspaceID == "" {
		return
	}
	if !c.ownership(c.userID, workspaceID) {
		slog.Warn("subscription: join-app rejected, caller does not own workspace", "workspace", workspaceID)
		return
	}
	c.mu.Lock()
	if _, ok := c.subs[workspaceID]; ok {
		c.mu.Unlock()
		return
	}
	sub := c.bus.Subscribe(workspaceID)
	c.subs[workspaceID] = sub
	c.mu.Unlock()

	go c.forward(workspaceID, sub)
}

func (c *connection) leave(workspaceID string) {
	c.mu.Lock()
	sub, ok := c.subs[workspaceID]
	if ok {
		delete(c.subs, workspaceID)
	}
	c.mu.Unlock()
	if ok {
		c.bus.Unsubscribe(workspaceID, sub)
	}
}

func (c *connection) leaveAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*logbus.Subscriber)
	c.mu.Unlock()

	for workspaceID, sub := range subs {
		c.bus.Unsubscribe(workspaceID, sub)
	}
}

func (c *connection) forward(workspaceID string, sub *logbus.Subscriber) {
	for line := range sub.C() {
		frame := outboundLog{Event: "terminal:log"}
		frame.Data.AppID = workspaceID
		frame.Data.Message = line.Text
		frame.Data.IsError = line.Stream == "stderr"
		frame.Data.Timestamp = line.Timestamp.UTC().Format(time.RFC3339Nano)

		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		c.wmu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err = c.conn.WriteMessage(websocket.TextMessage, data)
		c.wmu.Unlock()
		if err != nil {
			return
		}
	}
}
