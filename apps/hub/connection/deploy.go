package connection

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/capydeploy/capydeploy/apps/hub/bulktransfer"
	"github.com/capydeploy/capydeploy/pkg/protocol"
	"github.com/capydeploy/capydeploy/pkg/transfer"
)

// Deploy pushes the contents of localPath to a connected Agent: it walks the
// directory into an upload manifest, runs init_upload, streams the file
// bytes over the bulk side-band channel when the Agent advertised one
// (falling back to the WS chunk path on any bulk failure), then completes
// the session. UI progress semantics beyond upload_progress events are out
// of scope here; callers consuming Events() see the same progress/operation
// events whichever transport was used.
func (m *Manager) Deploy(ctx context.Context, agentID, localPath string, config protocol.UploadConfig, createShortcut bool, shortcut *protocol.ShortcutConfig) (*protocol.CompleteUploadResponseFull, error) {
	client, err := m.clientFor(agentID)
	if err != nil {
		return nil, err
	}

	files, totalSize, err := walkUploadFiles(localPath)
	if err != nil {
		return nil, fmt.Errorf("connection: walk %s: %w", localPath, err)
	}

	initResp, err := client.InitUpload(ctx, config, totalSize, files)
	if err != nil {
		return nil, fmt.Errorf("connection: init upload: %w", err)
	}

	sent := false
	if addr := client.BulkAddr(initResp); addr != "" {
		if err := deployBulk(ctx, localPath, files, addr, initResp.TCPToken); err != nil {
			log.Printf("connection: bulk side-band upload to %s failed, falling back to WS chunks: %v", agentID, err)
		} else {
			sent = true
		}
	}
	if !sent {
		if err := deployChunked(ctx, client, localPath, files, initResp.ChunkSize, initResp.UploadID); err != nil {
			return nil, fmt.Errorf("connection: chunk upload: %w", err)
		}
	}

	result, err := client.CompleteUpload(ctx, initResp.UploadID, createShortcut, shortcut)
	if err != nil {
		return nil, fmt.Errorf("connection: complete upload: %w", err)
	}
	return result, nil
}

// walkUploadFiles builds the init_upload file manifest from a local
// directory, using slash-separated paths relative to localPath regardless
// of host OS.
func walkUploadFiles(localPath string) ([]protocol.FileEntry, int64, error) {
	var files []protocol.FileEntry
	var total int64

	err := filepath.Walk(localPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}
		files = append(files, protocol.FileEntry{
			RelativePath: filepath.ToSlash(rel),
			Size:         info.Size(),
		})
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return files, total, nil
}

// deployBulk streams every file over the Agent's bulk side-band channel.
func deployBulk(ctx context.Context, localPath string, files []protocol.FileEntry, addr, token string) error {
	var bulkFiles []bulktransfer.File
	var opened []*os.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	for _, entry := range files {
		f, err := os.Open(filepath.Join(localPath, filepath.FromSlash(entry.RelativePath)))
		if err != nil {
			return fmt.Errorf("open %s: %w", entry.RelativePath, err)
		}
		opened = append(opened, f)
		bulkFiles = append(bulkFiles, bulktransfer.File{
			RelativePath: entry.RelativePath,
			Size:         entry.Size,
			Reader:       f,
		})
	}

	return bulktransfer.SendFiles(ctx, addr, token, bulkFiles)
}

// deployChunked streams every file over the WS binary-chunk path, one
// UploadChunk request/ACK round trip per chunk.
func deployChunked(ctx context.Context, client AgentClient, localPath string, files []protocol.FileEntry, chunkSize int, uploadID string) error {
	for _, entry := range files {
		if err := deployChunkedFile(ctx, client, localPath, entry, chunkSize, uploadID); err != nil {
			return err
		}
	}
	return nil
}

func deployChunkedFile(ctx context.Context, client AgentClient, localPath string, entry protocol.FileEntry, chunkSize int, uploadID string) error {
	reader, err := transfer.NewChunkReader(filepath.Join(localPath, filepath.FromSlash(entry.RelativePath)), chunkSize)
	if err != nil {
		return fmt.Errorf("open %s: %w", entry.RelativePath, err)
	}
	defer reader.Close()

	for {
		chunk, err := reader.NextChunk()
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.RelativePath, err)
		}
		if chunk == nil {
			return nil
		}
		if err := client.UploadChunk(ctx, uploadID, entry.RelativePath, chunk.Offset, chunk.Data, chunk.Checksum); err != nil {
			return fmt.Errorf("upload %s@%d: %w", entry.RelativePath, chunk.Offset, err)
		}
	}
}
