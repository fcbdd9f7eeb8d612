package server

import (
	"context"
	"hash/crc32"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/capydeploy/capydeploy/apps/agent/artwork"
	"github.com/capydeploy/capydeploy/apps/agent/bulktransfer"
	"github.com/capydeploy/capydeploy/apps/agent/shortcuts"
	agentSteam "github.com/capydeploy/capydeploy/apps/agent/steam"
	"github.com/capydeploy/capydeploy/pkg/protocol"
	"github.com/capydeploy/capydeploy/pkg/steam"
	"github.com/capydeploy/capydeploy/pkg/transfer"
)

// handleHubConnected processes the hub_connected handshake.
func (ws *WSServer) handleHubConnected(hub *HubConnection, msg *protocol.Message) {
	var req protocol.HubConnectedRequest
	if err := msg.ParsePayload(&req); err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "invalid payload")
		return
	}

	hub.name = req.Name
	hub.version = req.Version
	hub.hubID = req.HubID
	log.Printf("WS: Hub connected: %s v%s (ID: %s, protocolVersion=%d)", req.Name, req.Version, req.HubID, req.ProtocolVersion)

	if protocol.CheckVersion(req.ProtocolVersion) == protocol.VersionIncompatible {
		log.Printf("WS: Hub %s protocol version %d is incompatible with %d, closing",
			req.Name, req.ProtocolVersion, protocol.CurrentProtocolVersion)
		ws.sendError(hub, msg.ID, protocol.WSErrCodeNotAccepted, "incompatible protocol version")
		ws.closeHub(hub)
		return
	}

	// If no auth manager, allow all connections (backwards compatibility)
	if ws.authMgr == nil {
		ws.acceptHub(hub, msg)
		return
	}

	// If Hub provided a token, validate it
	if req.Token != "" && req.HubID != "" {
		if ws.authMgr.ValidateToken(req.HubID, req.Token) {
			log.Printf("WS: Hub %s authenticated with valid token", req.Name)
			ws.acceptHub(hub, msg)
			return
		}
		log.Printf("WS: Hub %s provided invalid token, requiring pairing", req.Name)
	}

	// Hub not authorized - require pairing
	if req.HubID == "" {
		// Hub without ID cannot pair (old client)
		ws.sendError(hub, msg.ID, protocol.WSErrCodeUnauthorized, "hub_id required for pairing")
		return
	}

	// Generate pairing code
	code, err := ws.authMgr.GenerateCode(req.HubID, req.Name, req.Platform)
	if err != nil {
		log.Printf("WS: Failed to generate pairing code: %v", err)
		ws.sendError(hub, msg.ID, protocol.WSErrCodeInternal, err.Error())
		return
	}

	log.Printf("WS: Pairing required for Hub %s, code: %s", req.Name, code)

	// Send pairing required response
	resp, _ := msg.Reply(protocol.MsgTypePairingRequired, protocol.PairingRequiredResponse{
		Code:      code,
		ExpiresIn: 60,
	})
	ws.send(hub, resp)
}

// acceptHub completes the handshake for an authorized Hub.
func (ws *WSServer) acceptHub(hub *HubConnection, msg *protocol.Message) {
	hub.authorized = true

	// Build agent status with telemetry info
	info := ws.server.GetInfo()
	statusResp := protocol.AgentStatusResponse{
		Name:              info.Name,
		Version:           info.Version,
		Platform:          info.Platform,
		AcceptConnections: info.AcceptConnections,
		ProtocolVersion:   protocol.CurrentProtocolVersion,
	}
	if ws.server.cfg.GetTelemetryEnabled != nil {
		statusResp.TelemetryEnabled = ws.server.cfg.GetTelemetryEnabled()
	}
	if ws.server.cfg.GetTelemetryInterval != nil {
		statusResp.TelemetryInterval = ws.server.cfg.GetTelemetryInterval()
	}

	resp, _ := msg.Reply(protocol.MsgTypeAgentStatus, statusResp)
	ws.send(hub, resp)

	// Notify callback
	if ws.onConnect != nil {
		ws.onConnect(hub.hubID, hub.name, hub.remoteAddr)
	}

	// Start telemetry if enabled
	ws.server.StartTelemetry()
}

// handlePairConfirm processes a pairing confirmation from the Hub.
func (ws *WSServer) handlePairConfirm(hub *HubConnection, msg *protocol.Message) {
	var req protocol.PairConfirmRequest
	if err := msg.ParsePayload(&req); err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "invalid payload")
		return
	}

	if ws.authMgr == nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeInternal, "auth not configured")
		return
	}

	// Validate the pairing code
	token, err := ws.authMgr.ValidateCode(hub.hubID, hub.name, req.Code)
	if err != nil {
		log.Printf("WS: Pairing failed for Hub %s: %v", hub.name, err)
		resp, _ := msg.Reply(protocol.MsgTypePairFailed, protocol.PairFailedResponse{
			Reason: err.Error(),
		})
		ws.send(hub, resp)
		return
	}

	log.Printf("WS: Pairing successful for Hub %s", hub.name)

	// Send success with token
	resp, _ := msg.Reply(protocol.MsgTypePairSuccess, protocol.PairSuccessResponse{
		Token: token,
	})
	ws.send(hub, resp)

	// Mark hub as authorized and complete handshake
	hub.authorized = true

	// Notify pairing success callback (for UI update)
	if ws.server.cfg.OnPairingSuccess != nil {
		ws.server.cfg.OnPairingSuccess()
	}

	if ws.onConnect != nil {
		ws.onConnect(hub.hubID, hub.name, hub.remoteAddr)
	}
}

// handlePing responds to ping with pong.
func (ws *WSServer) handlePing(hub *HubConnection, msg *protocol.Message) {
	resp, _ := msg.Reply(protocol.MsgTypePong, nil)
	ws.send(hub, resp)
}

// handleGetInfo returns agent information.
func (ws *WSServer) handleGetInfo(hub *HubConnection, msg *protocol.Message) {
	info := ws.server.GetInfo()
	resp, _ := msg.Reply(protocol.MsgTypeInfoResponse, protocol.InfoResponse{Agent: info})
	ws.send(hub, resp)
}

// handleGetConfig returns agent configuration.
func (ws *WSServer) handleGetConfig(hub *HubConnection, msg *protocol.Message) {
	resp, _ := msg.Reply(protocol.MsgTypeConfigResponse, protocol.ConfigResponse{
		InstallPath: ws.server.GetInstallPath(),
	})
	ws.send(hub, resp)
}

// handleGetSteamUsers returns the list of Steam users.
func (ws *WSServer) handleGetSteamUsers(hub *HubConnection, msg *protocol.Message) {
	users, err := steam.GetUsers()
	if err != nil {
		log.Printf("WS: Error getting Steam users: %v", err)
		ws.sendError(hub, msg.ID, protocol.WSErrCodeInternal, err.Error())
		return
	}

	// Convert to protocol type
	protoUsers := make([]protocol.SteamUser, len(users))
	for i, u := range users {
		protoUsers[i] = protocol.SteamUser{
			ID: u.ID,
			// Name not available from steam.User, client should resolve if needed
		}
	}

	resp, _ := msg.Reply(protocol.MsgTypeSteamUsersResponse, protocol.SteamUsersResponse{
		Users: protoUsers,
	})
	ws.send(hub, resp)
}

// handleListShortcuts returns shortcuts for a user.
func (ws *WSServer) handleListShortcuts(hub *HubConnection, msg *protocol.Message) {
	var req protocol.ListShortcutsRequest
	if err := msg.ParsePayload(&req); err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "invalid payload")
		return
	}

	mgr, err := shortcuts.NewManager()
	if err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeInternal, err.Error())
		return
	}

	userID := strconv.FormatUint(uint64(req.UserID), 10)
	list, err := mgr.List(userID)
	if err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeInternal, err.Error())
		return
	}

	resp, _ := msg.Reply(protocol.MsgTypeShortcutsResponse, protocol.ShortcutsListResponse{
		Shortcuts: list,
	})
	ws.send(hub, resp)
}

// handleCreateShortcut creates a new shortcut.
func (ws *WSServer) handleCreateShortcut(hub *HubConnection, msg *protocol.Message) {
	var req protocol.CreateShortcutRequest
	if err := msg.ParsePayload(&req); err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "invalid payload")
		return
	}

	mgr, err := shortcuts.NewManager()
	if err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeInternal, err.Error())
		return
	}

	userID := strconv.FormatUint(uint64(req.UserID), 10)
	appID, err := mgr.Create(userID, req.Shortcut)
	if err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeInternal, err.Error())
		return
	}

	log.Printf("WS: Created shortcut '%s' with AppID %d for user %s", req.Shortcut.Name, appID, userID)
	ws.server.NotifyShortcutChange()

	resp, _ := msg.Reply(protocol.MsgTypeOperationResult, protocol.CreateShortcutResponse{
		AppID: appID,
	})
	ws.send(hub, resp)
}

// handleDeleteShortcut deletes a shortcut.
func (ws *WSServer) handleDeleteShortcut(hub *HubConnection, msg *protocol.Message) {
	var req protocol.DeleteShortcutWithRestartRequest
	if err := msg.ParsePayload(&req); err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "invalid payload")
		return
	}

	mgr, err := shortcuts.NewManager()
	if err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeInternal, err.Error())
		return
	}

	// Get shortcut info before deleting (for notification)
	list, _ := mgr.List(req.UserID)
	var gameName string
	for _, sc := range list {
		if sc.AppID == req.AppID {
			gameName = sc.Name
			break
		}
	}

	// Notify UI about delete start
	ws.server.NotifyOperation("delete", "start", gameName, 0, "Eliminando...")
	ws.SendEvent(protocol.MsgTypeOperationEvent, protocol.OperationEvent{
		Type:     "delete",
		Status:   "start",
		GameName: gameName,
		Progress: 0,
		Message:  "Eliminando...",
	})

	if err := mgr.Delete(req.UserID, req.AppID); err != nil {
		ws.server.NotifyOperation("delete", "error", gameName, 0, err.Error())
		ws.sendError(hub, msg.ID, protocol.WSErrCodeInternal, err.Error())
		return
	}

	log.Printf("WS: Deleted shortcut with AppID %d for user %s", req.AppID, req.UserID)
	ws.server.NotifyShortcutChange()

	// Notify UI about delete complete
	ws.server.NotifyOperation("delete", "complete", gameName, 100, "Eliminado")
	ws.SendEvent(protocol.MsgTypeOperationEvent, protocol.OperationEvent{
		Type:     "delete",
		Status:   "complete",
		GameName: gameName,
		Progress: 100,
		Message:  "Eliminado",
	})

	resp, _ := msg.Reply(protocol.MsgTypeOperationResult, protocol.OperationResult{
		Success: true,
		Message: "deleted",
	})
	ws.send(hub, resp)
}

// handleDeleteGame deletes a game completely. Agent handles everything internally.
func (ws *WSServer) handleDeleteGame(hub *HubConnection, msg *protocol.Message) {
	var req protocol.DeleteGameRequest
	if err := msg.ParsePayload(&req); err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "invalid payload")
		return
	}

	// Get Steam users internally - Hub doesn't need to know about this
	users, err := steam.GetUsers()
	if err != nil || len(users) == 0 {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeInternal, "no Steam users found")
		return
	}
	userID := users[0].ID

	mgr, err := shortcuts.NewManager()
	if err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeInternal, err.Error())
		return
	}

	// Get shortcut info before deleting (for notification)
	list, _ := mgr.List(userID)
	var gameName string
	for _, sc := range list {
		if sc.AppID == req.AppID {
			gameName = sc.Name
			break
		}
	}

	if gameName == "" {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeNotFound, "game not found")
		return
	}

	// Notify UI about delete start
	ws.server.NotifyOperation("delete", "start", gameName, 0, "Eliminando...")
	ws.SendEvent(protocol.MsgTypeOperationEvent, protocol.OperationEvent{
		Type:     "delete",
		Status:   "start",
		GameName: gameName,
		Progress: 0,
		Message:  "Eliminando...",
	})

	// Delete shortcut (this also deletes game folder and artwork)
	if err := mgr.Delete(userID, req.AppID); err != nil {
		ws.server.NotifyOperation("delete", "error", gameName, 0, err.Error())
		ws.sendError(hub, msg.ID, protocol.WSErrCodeInternal, err.Error())
		return
	}

	log.Printf("WS: Deleted game '%s' (AppID: %d) for user %s", gameName, req.AppID, userID)
	ws.server.NotifyShortcutChange()

	// Notify UI about delete complete
	ws.server.NotifyOperation("delete", "complete", gameName, 100, "Eliminado")
	ws.SendEvent(protocol.MsgTypeOperationEvent, protocol.OperationEvent{
		Type:     "delete",
		Status:   "complete",
		GameName: gameName,
		Progress: 100,
		Message:  "Eliminado",
	})

	resp, _ := msg.Reply(protocol.MsgTypeOperationResult, protocol.DeleteGameResponse{
		Status:         "deleted",
		GameName:       gameName,
		SteamRestarted: false,
	})
	ws.send(hub, resp)
}

// handleApplyArtwork applies artwork to a shortcut.
func (ws *WSServer) handleApplyArtwork(hub *HubConnection, msg *protocol.Message) {
	var req protocol.ApplyArtworkRequest
	if err := msg.ParsePayload(&req); err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "invalid payload")
		return
	}

	result, err := artwork.Apply(req.UserID, req.AppID, req.Artwork)
	if err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeInternal, err.Error())
		return
	}

	log.Printf("WS: Applied artwork for AppID %d: %v", req.AppID, result.Applied)

	// Convert result to protocol type
	failed := make([]protocol.ArtworkFailed, len(result.Failed))
	for i, f := range result.Failed {
		failed[i] = protocol.ArtworkFailed{
			Type:  f.Type,
			Error: f.Error,
		}
	}

	resp, _ := msg.Reply(protocol.MsgTypeArtworkResponse, protocol.ArtworkResponse{
		Applied: result.Applied,
		Failed:  failed,
	})
	ws.send(hub, resp)
}

// handleBinaryArtwork processes a binary artwork image message.
// When appID is 0 (pre-CompleteUpload), artwork data is stored as pending
// and applied during handleCompleteUpload with the real AppID.
// When appID > 0, artwork is applied immediately.
func (ws *WSServer) handleBinaryArtwork(hub *HubConnection, msgID string, appID uint32, artworkType, contentType string, data []byte) {
	log.Printf("WS: Received artwork image: appID=%d, type=%s, contentType=%s, size=%d",
		appID, artworkType, contentType, len(data))

	if appID == 0 {
		// Store for later — applied during handleCompleteUpload with real AppID
		ws.mu.Lock()
		ws.pendingArtwork = append(ws.pendingArtwork, pendingArtwork{
			ArtworkType: artworkType,
			ContentType: contentType,
			Data:        data,
		})
		ws.mu.Unlock()
		log.Printf("WS: Stored pending artwork: type=%s (%d bytes)", artworkType, len(data))
		resp, _ := protocol.NewMessage(msgID, protocol.MsgTypeArtworkImageResponse, protocol.ArtworkImageResponse{
			Success:     true,
			ArtworkType: artworkType,
		})
		ws.send(hub, resp)
		return
	}

	if err := artwork.ApplyFromData(appID, artworkType, data, contentType); err != nil {
		log.Printf("WS: Failed to apply artwork image: %v", err)
		resp, _ := protocol.NewMessage(msgID, protocol.MsgTypeArtworkImageResponse, protocol.ArtworkImageResponse{
			Success:     false,
			ArtworkType: artworkType,
			Error:       err.Error(),
		})
		ws.send(hub, resp)
		return
	}

	log.Printf("WS: Applied artwork image: appID=%d, type=%s", appID, artworkType)
	resp, _ := protocol.NewMessage(msgID, protocol.MsgTypeArtworkImageResponse, protocol.ArtworkImageResponse{
		Success:     true,
		ArtworkType: artworkType,
	})
	ws.send(hub, resp)
}

// handleRestartSteam restarts Steam.
func (ws *WSServer) handleRestartSteam(hub *HubConnection, msg *protocol.Message) {
	controller := agentSteam.NewController()
	result := controller.Restart()

	log.Printf("WS: Steam restart: success=%v, message=%s", result.Success, result.Message)

	resp, _ := msg.Reply(protocol.MsgTypeSteamResponse, protocol.RestartSteamResponse{
		Success: result.Success,
		Message: result.Message,
	})
	ws.send(hub, resp)
}

// handleInitUpload initializes a new upload session.
func (ws *WSServer) handleInitUpload(hub *HubConnection, msg *protocol.Message) {
	var req protocol.InitUploadRequestFull
	if err := msg.ParsePayload(&req); err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "invalid payload")
		return
	}

	if req.Config.GameName == "" {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "gameName is required")
		return
	}

	// Convert protocol files to transfer files
	files := make([]transfer.FileEntry, len(req.Files))
	for i, f := range req.Files {
		files[i] = transfer.FileEntry{
			RelativePath: f.RelativePath,
			Size:         f.Size,
		}
	}

	session := ws.server.CreateUpload(req.Config, req.TotalSize, files)
	session.Start()

	log.Printf("WS: Upload session created: %s for game '%s' (%d bytes, %d files)",
		session.ID, req.Config.GameName, req.TotalSize, len(req.Files))

	// Notify UI about install start
	ws.server.NotifyOperation("install", "start", req.Config.GameName, 0, "Iniciando instalación...")
	ws.SendEvent(protocol.MsgTypeOperationEvent, protocol.OperationEvent{
		Type:     "install",
		Status:   "start",
		GameName: req.Config.GameName,
		Progress: 0,
		Message:  "Iniciando instalación...",
	})

	resp := protocol.InitUploadResponseFull{
		UploadID:  session.ID,
		ChunkSize: transfer.DefaultChunkSize,
	}

	// Open the optional bulk side-band listener. The Hub may dial it
	// instead of streaming chunks over WS binary frames; if it never
	// dials, the listener stays open until complete_upload or
	// cancel_upload stops it, and the WS path alone carries the whole
	// upload.
	gamePath := ws.server.GetUploadPath(req.Config.GameName, req.Config.InstallPath)
	if port, token, err := ws.startBulkListener(session, gamePath); err != nil {
		log.Printf("WS: bulk side-band unavailable for upload %s: %v", session.ID, err)
	} else {
		resp.TCPPort = port
		resp.TCPToken = token
	}

	replyMsg, _ := msg.Reply(protocol.MsgTypeUploadInitResponse, resp)
	ws.send(hub, replyMsg)
}

// startBulkListener opens a bulk side-band TCP listener for one upload and
// serves its single allowed connection in the background, feeding progress
// through the same UploadSession.AddProgress/ShouldEmitProgress gate the WS
// chunk path uses. Returns the port/token to relay to the Hub.
func (ws *WSServer) startBulkListener(session *transfer.UploadSession, gamePath string) (int, string, error) {
	onProgress := func(bytesWritten int64, filePath string, offset int64) {
		session.AddProgress(bytesWritten, filePath, offset)
		progress := session.Progress()
		pct := progress.Percentage()
		if session.ShouldEmitProgress(pct, time.Now()) {
			ws.server.NotifyOperation("install", "progress", session.Config.GameName, pct, "")
			ws.SendEvent(protocol.MsgTypeUploadProgress, protocol.UploadProgressEvent{
				UploadID:         session.ID,
				TransferredBytes: progress.TransferredBytes,
				TotalBytes:       progress.TotalBytes,
				CurrentFile:      progress.CurrentFile,
				Percentage:       pct,
			})
		}
	}

	listener, port, token, err := bulktransfer.Listen(gamePath, onProgress)
	if err != nil {
		return 0, "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	ws.trackBulkCancel(session.ID, cancel)

	go func() {
		defer cancel()
		if err := listener.Serve(ctx); err != nil {
			log.Printf("WS: bulk side-band for upload %s ended: %v", session.ID, err)
		}
	}()

	return port, token, nil
}

// handleUploadChunk processes a JSON-based chunk (metadata only, data in binary message).
func (ws *WSServer) handleUploadChunk(hub *HubConnection, msg *protocol.Message) {
	// This handler is for JSON chunk requests (small chunks embedded in JSON)
	var req protocol.UploadChunkRequest
	if err := msg.ParsePayload(&req); err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "invalid payload")
		return
	}

	ws.processChunk(hub, msg.ID, req.UploadID, req.FilePath, req.Offset, "", req.Data)
}

// handleBinaryChunk processes a binary chunk message.
func (ws *WSServer) handleBinaryChunk(hub *HubConnection, msgID, uploadID, filePath string, offset int64, checksum string, data []byte) {
	ws.processChunk(hub, msgID, uploadID, filePath, offset, checksum, data)
}

// processChunk writes a chunk to disk.
func (ws *WSServer) processChunk(hub *HubConnection, msgID, uploadID, filePath string, offset int64, checksum string, data []byte) {
	session, ok := ws.server.GetUpload(uploadID)
	if !ok {
		ws.sendError(hub, msgID, protocol.WSErrCodeNotFound, "upload not found")
		return
	}

	if !session.IsActive() {
		ws.sendError(hub, msgID, protocol.WSErrCodeConflict, "upload already completed or cancelled")
		return
	}

	// Create chunk
	chunk := &transfer.Chunk{
		Offset:   offset,
		Size:     len(data),
		Data:     data,
		FilePath: filePath,
		Checksum: checksum,
	}

	// Write chunk to disk. A write/checksum failure marks the session
	// inactive and returns without any reply at all — no ACK, no error —
	// so the Hub's own request timeout is what surfaces the failure,
	// rather than racing an error reply against further chunks for a
	// session that's already dead.
	gamePath := ws.server.GetUploadPath(session.Config.GameName, session.Config.InstallPath)
	writer := transfer.NewChunkWriter(gamePath, transfer.DefaultChunkSize)

	if err := writer.WriteChunk(chunk); err != nil {
		session.Fail(err.Error())
		log.Printf("WS: Chunk write failed for upload %s (%s): %v", uploadID, filePath, err)
		return
	}

	// Update session progress
	session.AddProgress(int64(len(data)), filePath, offset)
	progress := session.Progress()
	pct := progress.Percentage()

	// The ACK below is sent unconditionally; the upload_progress push
	// event is throttled so a chunk stream doesn't flood the Hub with
	// one event per chunk.
	if session.ShouldEmitProgress(pct, time.Now()) {
		ws.server.NotifyOperation("install", "progress", session.Config.GameName, pct, "")
		ws.SendEvent(protocol.MsgTypeUploadProgress, protocol.UploadProgressEvent{
			UploadID:         uploadID,
			TransferredBytes: progress.TransferredBytes,
			TotalBytes:       progress.TotalBytes,
			CurrentFile:      progress.CurrentFile,
			Percentage:       pct,
		})
	}

	if ws.server.cfg.Verbose {
		log.Printf("WS: Chunk received: %s/%s offset=%d size=%d (%.1f%%)",
			uploadID, filePath, offset, len(data), progress.Percentage())
	}

	// Send acknowledgment
	resp, _ := protocol.NewMessage(msgID, protocol.MsgTypeUploadChunkResponse, protocol.UploadChunkResponse{
		UploadID:     uploadID,
		BytesWritten: int64(len(data)),
		TotalWritten: progress.TransferredBytes,
	})
	ws.send(hub, resp)
}

// handleCompleteUpload finalizes an upload session.
func (ws *WSServer) handleCompleteUpload(hub *HubConnection, msg *protocol.Message) {
	var req protocol.CompleteUploadRequestFull
	if err := msg.ParsePayload(&req); err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "invalid payload")
		return
	}

	session, ok := ws.server.GetUpload(req.UploadID)
	if !ok {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeNotFound, "upload not found")
		return
	}

	session.Complete()
	ws.stopBulkListener(req.UploadID)
	gamePath := ws.server.GetUploadPath(session.Config.GameName, session.Config.InstallPath)

	log.Printf("WS: Upload completed: %s -> %s", req.UploadID, gamePath)

	// Notify UI about completion
	ws.server.NotifyOperation("install", "complete", session.Config.GameName, 100, "Instalación completada")
	ws.SendEvent(protocol.MsgTypeOperationEvent, protocol.OperationEvent{
		Type:     "install",
		Status:   "complete",
		GameName: session.Config.GameName,
		Progress: 100,
		Message:  "Instalación completada",
	})

	// Make executable on Linux
	if runtime.GOOS == "linux" && session.Config.Executable != "" {
		exePath := filepath.Join(gamePath, session.Config.Executable)
		if err := os.Chmod(exePath, 0755); err != nil {
			log.Printf("WS: Warning: failed to make executable: %v", err)
		} else {
			log.Printf("WS: Made executable: %s", exePath)
		}
	}

	// Clean up upload session from memory
	defer ws.server.DeleteUpload(req.UploadID)

	resp := protocol.CompleteUploadResponseFull{
		Success: true,
		Path:    gamePath,
	}

	// Create shortcut if requested
	if req.CreateShortcut && req.Shortcut != nil {
		// Ensure CEF debugger is available (needed for shortcut creation via CEF API)
		if err := agentSteam.EnsureCEFReady(); err != nil {
			log.Printf("WS: Warning: CEF not available, shortcut creation may fail: %v", err)
		}

		mgr, err := shortcuts.NewManager()
		if err != nil {
			log.Printf("WS: Warning: failed to create shortcut manager: %v", err)
		} else {
			users, err := steam.GetUsers()
			if err != nil || len(users) == 0 {
				log.Printf("WS: Warning: no Steam users found for shortcut creation")
			} else {
				// Build correct paths using gamePath
				exeName := filepath.Base(req.Shortcut.Exe)
				if exeName == "" || exeName == "." {
					exeName = session.Config.Executable
				}

				shortcutCfg := *req.Shortcut
				shortcutCfg.Exe = filepath.Join(gamePath, exeName)
				shortcutCfg.StartDir = gamePath

				log.Printf("WS: Creating shortcut: Exe=%s, StartDir=%s", shortcutCfg.Exe, shortcutCfg.StartDir)

				appID, artResult, err := mgr.CreateWithArtwork(users[0].ID, shortcutCfg)
				if err != nil {
					// CEF-backed creation failed (debugger unavailable or timed
					// out). Fall back to the same deterministic AppID Steam's
					// own shortcut VDF format derives from exe+name, so the
					// Hub still gets a stable, reusable identifier for this
					// install even though no VDF entry exists yet.
					appID = generateAppID(shortcutCfg.Exe, shortcutCfg.Name)
					log.Printf("WS: Warning: failed to create shortcut via CEF, using fallback AppID %d: %v", appID, err)
					resp.AppID = appID
				} else {
					resp.AppID = appID
					log.Printf("WS: Created shortcut '%s' with AppID %d", shortcutCfg.Name, appID)
					if artResult != nil && len(artResult.Applied) > 0 {
						log.Printf("WS: Applied artwork: %v", artResult.Applied)
					}
					ws.server.NotifyShortcutChange()

					// Apply pending local artwork now that we have the real AppID
					ws.mu.Lock()
					pending := ws.pendingArtwork
					ws.pendingArtwork = nil
					ws.mu.Unlock()

					for _, pa := range pending {
						if err := artwork.ApplyFromData(appID, pa.ArtworkType, pa.Data, pa.ContentType); err != nil {
							log.Printf("WS: Failed to apply pending artwork %s: %v", pa.ArtworkType, err)
						} else {
							log.Printf("WS: Applied pending artwork: appID=%d, type=%s", appID, pa.ArtworkType)
						}
					}
				}
			}
		}
	}

	respMsg, _ := msg.Reply(protocol.MsgTypeOperationResult, resp)
	ws.send(hub, respMsg)
}

// handleCancelUpload cancels an upload session.
func (ws *WSServer) handleCancelUpload(hub *HubConnection, msg *protocol.Message) {
	var req protocol.CancelUploadRequest
	if err := msg.ParsePayload(&req); err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "invalid payload")
		return
	}

	session, ok := ws.server.GetUpload(req.UploadID)
	if !ok {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeNotFound, "upload not found")
		return
	}

	gamePath := ws.server.GetUploadPath(session.Config.GameName, session.Config.InstallPath)
	session.Cancel()
	ws.stopBulkListener(req.UploadID)
	ws.server.DeleteUpload(req.UploadID)

	// Clean up pending artwork data to free memory
	ws.mu.Lock()
	ws.pendingArtwork = nil
	ws.mu.Unlock()

	// Clean up partial files left on disk
	if err := os.RemoveAll(gamePath); err != nil {
		log.Printf("WS: Warning: failed to clean up partial upload at %s: %v", gamePath, err)
	}

	log.Printf("WS: Upload cancelled: %s (cleaned %s)", req.UploadID, gamePath)

	resp, _ := msg.Reply(protocol.MsgTypeOperationResult, protocol.OperationResult{
		Success: true,
		Message: "cancelled",
	})
	ws.send(hub, resp)
}

// handleGetTelemetryStatus reports whether telemetry streaming is running
// and at what interval, in reply to a Hub query for current status.
func (ws *WSServer) handleGetTelemetryStatus(hub *HubConnection, msg *protocol.Message) {
	resp, _ := msg.Reply(protocol.MsgTypeTelemetryStatus, ws.server.TelemetryStatus())
	ws.send(hub, resp)
}

// handleSetConsoleLogFilter sets the single console log level streamed to
// the Hub; entries of every other level are dropped, and only one level can
// be selected at a time. An empty filter streams every level again.
func (ws *WSServer) handleSetConsoleLogFilter(hub *HubConnection, msg *protocol.Message) {
	var req protocol.SetConsoleLogFilterRequest
	if err := msg.ParsePayload(&req); err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "invalid payload")
		return
	}

	ws.server.SetConsoleLogFilter(req.Filter)
	log.Printf("WS: Console log filter set to %q", req.Filter)

	resp, _ := msg.Reply(protocol.MsgTypeConsoleLogStatus, protocol.ConsoleLogStatus{
		Enabled: ws.server.IsConsoleLogRunning(),
		Filter:  ws.server.ConsoleLogFilter(),
	})
	ws.send(hub, resp)
}

// handleSetConsoleLogEnabled starts or stops console log streaming from the
// CEF debugger.
func (ws *WSServer) handleSetConsoleLogEnabled(hub *HubConnection, msg *protocol.Message) {
	var req protocol.SetConsoleLogEnabledRequest
	if err := msg.ParsePayload(&req); err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "invalid payload")
		return
	}

	if req.Enabled {
		ws.server.StartConsoleLog()
	} else {
		ws.server.StopConsoleLog()
	}
	log.Printf("WS: Console log streaming enabled=%v", req.Enabled)

	resp, _ := msg.Reply(protocol.MsgTypeConsoleLogStatus, protocol.ConsoleLogStatus{
		Enabled: ws.server.IsConsoleLogRunning(),
		Filter:  ws.server.ConsoleLogFilter(),
	})
	ws.send(hub, resp)
}

// handleSetGameLogWrapper toggles whether non-CEF titles are launched
// through a log-capturing shim.
func (ws *WSServer) handleSetGameLogWrapper(hub *HubConnection, msg *protocol.Message) {
	var req protocol.SetGameLogWrapperRequest
	if err := msg.ParsePayload(&req); err != nil {
		ws.sendError(hub, msg.ID, protocol.WSErrCodeBadRequest, "invalid payload")
		return
	}

	ws.server.SetGameLogWrapper(req.Enabled)
	log.Printf("WS: Game log wrapper enabled=%v", req.Enabled)

	resp, _ := msg.Reply(protocol.MsgTypeOperationResult, protocol.OperationResult{
		Success: true,
		Message: "game log wrapper updated",
	})
	ws.send(hub, resp)
}

// generateAppID derives the same deterministic non-Steam shortcut AppID
// Steam itself computes from exe+name, so a CEF-less fallback still lands
// on the ID Steam would have assigned had shortcut creation succeeded.
func generateAppID(exe, name string) uint32 {
	key := exe + name
	crc := crc32.ChecksumIEEE([]byte(key))
	return (crc | 0x80000000) | 0x02000000
}
