package server

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/capydeploy/capydeploy/apps/agent/auth"
	"github.com/capydeploy/capydeploy/pkg/protocol"
)

// WSServer handles WebSocket connections from the Hub. Only one Hub
// session is live at a time: a new connection attempt pre-empts and
// waits for the prior session's read pump to fully exit before it is
// installed, so two sessions never race over the same upload/session
// state.
type WSServer struct {
	server   *Server
	authMgr  *auth.Manager
	upgrader websocket.Upgrader

	mu           sync.RWMutex
	hubConn      *HubConnection
	onConnect    func(hubID, hubName, hubIP string)
	onDisconnect func()

	// pendingArtwork buffers images uploaded before a game's real Steam
	// AppID is known (appID==0 at send time); applied once
	// handleCompleteUpload learns the AppID from shortcut creation.
	pendingArtwork []pendingArtwork

	// bulkCancel holds the cancellation func for each upload's bulk
	// side-band listener goroutine, keyed by uploadId, so complete/cancel
	// can tear it down if the Hub never dialed it.
	bulkMu     sync.Mutex
	bulkCancel map[string]context.CancelFunc
}

// pendingArtwork holds one binary artwork image received before the
// owning shortcut's AppID was known.
type pendingArtwork struct {
	ArtworkType string
	ContentType string
	Data        []byte
}

// HubConnection represents an active connection from a Hub.
type HubConnection struct {
	conn       *websocket.Conn
	name       string
	version    string
	hubID      string
	remoteAddr string
	authorized bool
	sendCh     chan []byte
	closeCh    chan struct{}
	closed     bool
	closeMu    sync.Mutex

	// done is closed once readPump has returned, so a pre-empting
	// connection can wait for this session to be fully torn down
	// before installing itself.
	done chan struct{}
}

// NewWSServer creates a new WebSocket server.
func NewWSServer(s *Server, authMgr *auth.Manager, onConnect func(string, string, string), onDisconnect func()) *WSServer {
	return &WSServer{
		server:  s,
		authMgr: authMgr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local network
			},
		},
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
		bulkCancel:   make(map[string]context.CancelFunc),
	}
}

// DisconnectHub closes the current Hub connection if any.
func (ws *WSServer) DisconnectHub() {
	ws.mu.Lock()
	hub := ws.hubConn
	ws.mu.Unlock()

	if hub != nil && hub.conn != nil {
		hub.conn.Close()
	}
}

// HandleWS handles the WebSocket upgrade and connection. If a Hub session
// is already connected, it is pre-empted: its read pump is cancelled and
// awaited to completion before the new session takes the slot, so at most
// one session is ever active and no two readers race over ws.hubConn.
func (ws *WSServer) HandleWS(w http.ResponseWriter, r *http.Request) {
	// Check if connections are accepted
	if ws.server.cfg.AcceptConnections != nil && !ws.server.cfg.AcceptConnections() {
		http.Error(w, "connections not accepted", http.StatusServiceUnavailable)
		log.Printf("WS: Rejected connection from %s: connections disabled", r.RemoteAddr)
		return
	}

	// Pre-empt any existing session and wait for its read pump to exit
	// before upgrading the new one.
	ws.preemptExisting(r.RemoteAddr)

	// Upgrade connection
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS: Upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}

	log.Printf("WS: New connection from %s", r.RemoteAddr)

	// Extract IP from remote address (format: "IP:port")
	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		remoteIP = host
	}

	// Create hub connection
	hub := &HubConnection{
		conn:       conn,
		remoteAddr: remoteIP,
		sendCh:     make(chan []byte, 256),
		closeCh:    make(chan struct{}),
		done:       make(chan struct{}),
	}

	ws.mu.Lock()
	// A second connection could have raced in between preemptExisting
	// returning and this lock; if the slot was refilled, pre-empt again.
	if ws.hubConn != nil {
		stale := ws.hubConn
		ws.mu.Unlock()
		ws.preemptConn(stale)
		ws.mu.Lock()
	}
	ws.hubConn = hub
	ws.mu.Unlock()

	// Start goroutines
	go ws.writePump(hub)
	go ws.readPump(hub)
}

// preemptExisting cancels and waits out the currently installed Hub
// session, if any, logging which remote address triggered the takeover.
func (ws *WSServer) preemptExisting(newRemoteAddr string) {
	ws.mu.RLock()
	existing := ws.hubConn
	ws.mu.RUnlock()

	if existing == nil {
		return
	}

	log.Printf("WS: %s taking over existing Hub session (%s)", newRemoteAddr, existing.remoteAddr)
	ws.preemptConn(existing)
}

// preemptConn closes a single Hub session and blocks until its read pump
// has observed the close and returned.
func (ws *WSServer) preemptConn(hub *HubConnection) {
	ws.closeHub(hub)
	<-hub.done
}

// readPump handles incoming messages from the Hub.
func (ws *WSServer) readPump(hub *HubConnection) {
	defer func() {
		ws.closeHub(hub)
		close(hub.done)
	}()

	// gorilla's own SetReadLimit is kept above WSMaxMessageSize: exceeding
	// it makes ReadMessage return a terminal error that would tear down
	// this whole Hub session, which spec §4.C forbids for a merely
	// oversize frame ("dropped and logged", connection "not closed"). The
	// actual WSMaxMessageSize enforcement happens below, after the read,
	// so an over-limit frame can be discarded without losing the session.
	hub.conn.SetReadLimit(protocol.WSReadCeiling)
	hub.conn.SetReadDeadline(time.Now().Add(protocol.WSPongWait))
	hub.conn.SetPongHandler(func(string) error {
		hub.conn.SetReadDeadline(time.Now().Add(protocol.WSPongWait))
		return nil
	})

	for {
		messageType, data, err := hub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS: Read error: %v", err)
			}
			return
		}

		if len(data) > protocol.WSMaxMessageSize {
			log.Printf("WS: Dropping oversize frame from %s (%d bytes > %d max)",
				hub.remoteAddr, len(data), protocol.WSMaxMessageSize)
			continue
		}

		switch messageType {
		case websocket.TextMessage:
			ws.handleTextMessage(hub, data)
		case websocket.BinaryMessage:
			ws.handleBinaryMessage(hub, data)
		}
	}
}

// writePump handles outgoing messages to the Hub.
func (ws *WSServer) writePump(hub *HubConnection) {
	ticker := time.NewTicker(protocol.WSPingPeriod)
	defer func() {
		ticker.Stop()
		hub.conn.Close()
	}()

	for {
		select {
		case message, ok := <-hub.sendCh:
			hub.conn.SetWriteDeadline(time.Now().Add(protocol.WSWriteWait))
			if !ok {
				hub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := hub.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WS: Write error: %v", err)
				return
			}

		case <-ticker.C:
			hub.conn.SetWriteDeadline(time.Now().Add(protocol.WSWriteWait))
			if err := hub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-hub.closeCh:
			return
		}
	}
}

// handleTextMessage processes JSON messages from the Hub.
func (ws *WSServer) handleTextMessage(hub *HubConnection, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("WS: Invalid message: %v", err)
		ws.sendError(hub, "", protocol.WSErrCodeBadRequest, "invalid message format")
		return
	}

	if ws.server.cfg.Verbose {
		log.Printf("WS: Received %s (id=%s)", msg.Type, msg.ID)
	}

	// Route message by type
	switch msg.Type {
	case protocol.MsgTypeHubConnected:
		ws.handleHubConnected(hub, &msg)
	case protocol.MsgTypePairConfirm:
		ws.handlePairConfirm(hub, &msg)
	case protocol.MsgTypePing:
		ws.handlePing(hub, &msg)
	case protocol.MsgTypeGetInfo:
		ws.handleGetInfo(hub, &msg)
	case protocol.MsgTypeGetConfig:
		ws.handleGetConfig(hub, &msg)
	case protocol.MsgTypeGetSteamUsers:
		ws.handleGetSteamUsers(hub, &msg)
	case protocol.MsgTypeListShortcuts:
		ws.handleListShortcuts(hub, &msg)
	case protocol.MsgTypeCreateShortcut:
		ws.handleCreateShortcut(hub, &msg)
	case protocol.MsgTypeDeleteShortcut:
		ws.handleDeleteShortcut(hub, &msg)
	case protocol.MsgTypeDeleteGame:
		ws.handleDeleteGame(hub, &msg)
	case protocol.MsgTypeApplyArtwork:
		ws.handleApplyArtwork(hub, &msg)
	case protocol.MsgTypeRestartSteam:
		ws.handleRestartSteam(hub, &msg)
	case protocol.MsgTypeInitUpload:
		ws.handleInitUpload(hub, &msg)
	case protocol.MsgTypeUploadChunk:
		ws.handleUploadChunk(hub, &msg)
	case protocol.MsgTypeCompleteUpload:
		ws.handleCompleteUpload(hub, &msg)
	case protocol.MsgTypeCancelUpload:
		ws.handleCancelUpload(hub, &msg)
	case protocol.MsgTypeTelemetryStatus:
		ws.handleGetTelemetryStatus(hub, &msg)
	case protocol.MsgTypeSetConsoleLogFilter:
		ws.handleSetConsoleLogFilter(hub, &msg)
	case protocol.MsgTypeSetConsoleLogEnabled:
		ws.handleSetConsoleLogEnabled(hub, &msg)
	case protocol.MsgTypeSetGameLogWrapper:
		ws.handleSetGameLogWrapper(hub, &msg)
	default:
		log.Printf("WS: Unknown message type: %s", msg.Type)
		ws.sendError(hub, msg.ID, protocol.WSErrCodeNotImplemented, "unknown message type")
	}
}

// handleBinaryMessage processes binary data: upload chunks and artwork
// images share the same framing ([4-byte BE header length][header
// JSON][payload bytes]), distinguished by the header's "type" field.
func (ws *WSServer) handleBinaryMessage(hub *HubConnection, data []byte) {
	if len(data) < 4 {
		log.Printf("WS: Binary message too short")
		return
	}

	headerLen := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if len(data) < 4+headerLen {
		log.Printf("WS: Binary message header incomplete")
		return
	}

	var header struct {
		ID          string `json:"id"`
		Type        string `json:"type,omitempty"`
		UploadID    string `json:"uploadId"`
		FilePath    string `json:"filePath"`
		Offset      int64  `json:"offset"`
		Checksum    string `json:"checksum,omitempty"`
		AppID       uint32 `json:"appId,omitempty"`
		ArtworkType string `json:"artworkType,omitempty"`
		ContentType string `json:"contentType,omitempty"`
	}

	if err := json.Unmarshal(data[4:4+headerLen], &header); err != nil {
		log.Printf("WS: Invalid binary header: %v", err)
		return
	}

	payload := data[4+headerLen:]

	if header.Type == "artwork_image" {
		ws.handleBinaryArtwork(hub, header.ID, header.AppID, header.ArtworkType, header.ContentType, payload)
		return
	}

	ws.handleBinaryChunk(hub, header.ID, header.UploadID, header.FilePath, header.Offset, header.Checksum, payload)
}

// closeHub closes the hub connection and notifies.
func (ws *WSServer) closeHub(hub *HubConnection) {
	hub.closeMu.Lock()
	if hub.closed {
		hub.closeMu.Unlock()
		return
	}
	hub.closed = true
	hub.closeMu.Unlock()

	close(hub.closeCh)
	hub.conn.Close()

	ws.mu.Lock()
	if ws.hubConn == hub {
		ws.hubConn = nil
	}
	ws.mu.Unlock()

	log.Printf("WS: Hub disconnected (%s)", hub.name)
	if ws.onDisconnect != nil {
		ws.onDisconnect()
	}
}

// send sends a message to the hub.
func (ws *WSServer) send(hub *HubConnection, msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("WS: Marshal error: %v", err)
		return
	}

	hub.closeMu.Lock()
	if hub.closed {
		hub.closeMu.Unlock()
		return
	}
	hub.closeMu.Unlock()

	select {
	case hub.sendCh <- data:
	default:
		log.Printf("WS: Send buffer full, dropping message")
	}
}

// sendError sends an error message.
func (ws *WSServer) sendError(hub *HubConnection, id string, code int, message string) {
	if id == "" {
		id = uuid.New().String()
	}
	ws.send(hub, protocol.NewErrorMessage(id, code, message))
}

// SendEvent sends a push event to the connected hub.
func (ws *WSServer) SendEvent(msgType protocol.MessageType, payload any) {
	ws.mu.RLock()
	hub := ws.hubConn
	ws.mu.RUnlock()

	if hub == nil {
		return
	}

	msg, err := protocol.NewMessage(uuid.New().String(), msgType, payload)
	if err != nil {
		log.Printf("WS: Failed to create event: %v", err)
		return
	}

	ws.send(hub, msg)
}

// IsConnected returns true if a hub is connected.
func (ws *WSServer) IsConnected() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.hubConn != nil
}

// trackBulkCancel records the cancellation func for an upload's bulk
// side-band listener goroutine so it can be stopped from
// handleCompleteUpload/handleCancelUpload if the Hub never dialed it.
func (ws *WSServer) trackBulkCancel(uploadID string, cancel context.CancelFunc) {
	ws.bulkMu.Lock()
	defer ws.bulkMu.Unlock()
	ws.bulkCancel[uploadID] = cancel
}

// stopBulkListener cancels and forgets the bulk side-band listener for an
// upload, if one was opened. Safe to call even if none was opened, or if
// it already exited on its own after serving the one connection it allows.
func (ws *WSServer) stopBulkListener(uploadID string) {
	ws.bulkMu.Lock()
	cancel, ok := ws.bulkCancel[uploadID]
	delete(ws.bulkCancel, uploadID)
	ws.bulkMu.Unlock()

	if ok {
		cancel()
	}
}

// GetConnectedHub returns the name of the connected hub, or empty if none.
func (ws *WSServer) GetConnectedHub() string {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	if ws.hubConn != nil {
		return ws.hubConn.name
	}
	return ""
}
