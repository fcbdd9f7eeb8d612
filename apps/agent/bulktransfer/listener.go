// Package bulktransfer implements the Agent-side bulk side-band channel: an
// ephemeral TCP listener, negotiated in-band via init_upload, that streams
// upload file bytes directly to disk without WS framing overhead. The Hub
// may ignore it entirely and stay on the WS binary-chunk path; this channel
// only ever carries data the Hub chooses to dial in for.
package bulktransfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/capydeploy/capydeploy/pkg/transfer"
)

// ProgressFunc reports a written piece (its starting offset and length)
// for a file as the bulk listener streams it to disk, mirroring the
// arguments the WS chunk path already feeds into UploadSession.AddProgress.
type ProgressFunc func(bytesWritten int64, filePath string, offset int64)

// Listener accepts exactly one bulk side-band connection for a single
// upload, authenticates it against a one-shot token, and streams the
// incoming files to gamePath via the same ChunkWriter the WS chunk path
// uses, so path safety and positional writes behave identically on both
// paths.
type Listener struct {
	ln         net.Listener
	token      string
	gamePath   string
	onProgress ProgressFunc

	mu      sync.Mutex
	stopped bool
}

// Listen opens an ephemeral TCP listener for a single upload's bulk
// side-band. Returns the assigned port and a fresh one-shot token; the
// caller relays both to the Hub in the init_upload reply.
func Listen(gamePath string, onProgress ProgressFunc) (*Listener, int, string, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, 0, "", fmt.Errorf("bulktransfer: listen: %w", err)
	}
	token, err := transfer.GenerateBulkToken()
	if err != nil {
		ln.Close()
		return nil, 0, "", fmt.Errorf("bulktransfer: token: %w", err)
	}

	l := &Listener{ln: ln, token: token, gamePath: gamePath, onProgress: onProgress}
	return l, l.Port(), token, nil
}

// Serve accepts a single connection, authenticates it, and streams files
// until the end marker or an error. It handles exactly one connection and
// closes the listener on return either way, since the token is single-use
// and a second dial must not be honored.
func (l *Listener) Serve(ctx context.Context) error {
	defer l.Close()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := l.ln.Accept()
		acceptCh <- acceptResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-acceptCh:
		if res.err != nil {
			return res.err
		}
		return l.handleConn(res.conn)
	}
}

// Close stops accepting further connections. Safe to call multiple times,
// and safe to call after Serve has already accepted its one connection.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil
	}
	l.stopped = true
	return l.ln.Close()
}

// Port returns the TCP port the listener is bound to.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

func (l *Listener) handleConn(conn net.Conn) error {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(transfer.TCPAuthTimeout)); err != nil {
		return err
	}
	got, err := transfer.ReadBulkToken(conn)
	if err != nil {
		return fmt.Errorf("bulktransfer: read token: %w", err)
	}
	if got != l.token {
		return transfer.ErrBulkAuthFailed
	}
	// Authenticated; lift the deadline for the (potentially long) transfer.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return err
	}

	writer := transfer.NewChunkWriter(l.gamePath, transfer.DefaultChunkSize)

	for {
		header, err := transfer.ReadBulkFileHeader(conn)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("bulktransfer: read file header: %w", err)
		}
		if header.IsEndMarker() {
			return nil
		}
		if err := l.streamFile(conn, writer, header); err != nil {
			return err
		}
	}
}

// streamFile reads exactly header.FileSize bytes from conn and writes them
// through writer in DefaultChunkSize pieces, so a bulk-transferred file is
// written with the same contiguous-offset, path-safe mechanics as one sent
// over the WS binary-chunk path.
func (l *Listener) streamFile(conn net.Conn, writer *transfer.ChunkWriter, header transfer.BulkFileHeader) error {
	var offset int64
	remaining := header.FileSize
	buf := make([]byte, transfer.DefaultChunkSize)

	for remaining > 0 {
		n := len(buf)
		if int64(n) > remaining {
			n = int(remaining)
		}
		if _, err := io.ReadFull(conn, buf[:n]); err != nil {
			return fmt.Errorf("bulktransfer: read file body: %w", err)
		}

		chunk := &transfer.Chunk{
			Offset:   offset,
			Size:     n,
			Data:     buf[:n],
			FilePath: header.RelativePath,
		}
		if err := writer.WriteChunk(chunk); err != nil {
			return fmt.Errorf("bulktransfer: write chunk: %w", err)
		}

		if l.onProgress != nil {
			l.onProgress(int64(n), header.RelativePath, offset)
		}
		offset += int64(n)
		remaining -= int64(n)
	}
	return nil
}
