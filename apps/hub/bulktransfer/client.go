// Package bulktransfer implements the Hub-side dialer for the Agent's
// optional bulk side-band upload channel: a plain TCP connection,
// authenticated with a one-shot token handed out in the init_upload reply,
// that streams file bytes directly without per-chunk WS request/response
// round trips.
package bulktransfer

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/capydeploy/capydeploy/pkg/transfer"
)

// File describes one file to stream over the bulk side-band connection.
type File struct {
	RelativePath string
	Size         int64
	Reader       io.Reader
}

// SendFiles dials the Agent's bulk side-band listener at addr (host:port),
// authenticates with token, and streams each file in order, finishing with
// the end-of-stream marker. It is the Hub-side counterpart of the Agent's
// bulktransfer.Listener; the Hub falls back to the WS binary-chunk path if
// this never succeeds, since the Agent only advertises addr/token as an
// optional acceleration.
func SendFiles(ctx context.Context, addr, token string, files []File) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("bulktransfer: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := transfer.WriteBulkToken(conn, token); err != nil {
		return fmt.Errorf("bulktransfer: send token: %w", err)
	}

	for _, f := range files {
		if err := transfer.WriteBulkFileHeader(conn, transfer.BulkFileHeader{
			RelativePath: f.RelativePath,
			FileSize:     f.Size,
		}); err != nil {
			return fmt.Errorf("bulktransfer: send header for %s: %w", f.RelativePath, err)
		}
		if _, err := io.CopyN(conn, f.Reader, f.Size); err != nil {
			return fmt.Errorf("bulktransfer: send body for %s: %w", f.RelativePath, err)
		}
	}

	// End-of-stream marker so the Agent can tell a clean finish from a
	// dropped connection.
	return transfer.WriteBulkFileHeader(conn, transfer.BulkFileHeader{})
}
