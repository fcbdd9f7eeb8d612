package bulktransfer

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/capydeploy/capydeploy/pkg/transfer"
)

func TestListen_AssignsPortAndToken(t *testing.T) {
	l, port, token, err := Listen(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer l.Close()

	if port == 0 {
		t.Error("Listen() port = 0, want a real ephemeral port")
	}
	if len(token) == 0 {
		t.Error("Listen() token is empty")
	}
	if l.Port() != port {
		t.Errorf("Port() = %d, want %d", l.Port(), port)
	}
}

func TestServe_StreamsFileToDisk(t *testing.T) {
	gamePath := t.TempDir()
	var mu sync.Mutex
	var progressCalls []int64

	l, port, token, err := Listen(gamePath, func(written int64, filePath string, offset int64) {
		mu.Lock()
		progressCalls = append(progressCalls, written)
		mu.Unlock()
		if filePath != "bin/game.bin" {
			t.Errorf("onProgress filePath = %q, want %q", filePath, "bin/game.bin")
		}
	})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- l.Serve(ctx) }()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("net.Dial() error = %v", err)
	}
	defer conn.Close()

	content := []byte("the quick brown fox jumps over the lazy dog")

	if err := transfer.WriteBulkToken(conn, token); err != nil {
		t.Fatalf("WriteBulkToken() error = %v", err)
	}
	if err := transfer.WriteBulkFileHeader(conn, transfer.BulkFileHeader{
		RelativePath: "bin/game.bin",
		FileSize:     int64(len(content)),
	}); err != nil {
		t.Fatalf("WriteBulkFileHeader() error = %v", err)
	}
	if _, err := conn.Write(content); err != nil {
		t.Fatalf("conn.Write() error = %v", err)
	}
	if err := transfer.WriteBulkFileHeader(conn, transfer.BulkFileHeader{}); err != nil {
		t.Fatalf("WriteBulkFileHeader(end marker) error = %v", err)
	}

	select {
	case err := <-serveErrCh:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return in time")
	}

	got, err := os.ReadFile(filepath.Join(gamePath, "bin", "game.bin"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("written file = %q, want %q", got, content)
	}

	mu.Lock()
	calls := len(progressCalls)
	mu.Unlock()
	if calls == 0 {
		t.Error("onProgress was never called")
	}
}

func TestServe_RejectsWrongToken(t *testing.T) {
	gamePath := t.TempDir()

	l, port, _, err := Listen(gamePath, nil)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- l.Serve(ctx) }()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("net.Dial() error = %v", err)
	}
	defer conn.Close()

	if err := transfer.WriteBulkToken(conn, "wrong-token"); err != nil {
		t.Fatalf("WriteBulkToken() error = %v", err)
	}

	select {
	case err := <-serveErrCh:
		if err != transfer.ErrBulkAuthFailed {
			t.Errorf("Serve() error = %v, want %v", err, transfer.ErrBulkAuthFailed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return in time")
	}

	if _, err := os.Stat(filepath.Join(gamePath, "bin")); !os.IsNotExist(err) {
		t.Error("a file/dir was created despite the auth failure")
	}
}

func TestServe_CancelledBeforeDial(t *testing.T) {
	gamePath := t.TempDir()

	l, _, _, err := Listen(gamePath, nil)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Serve(ctx); err != context.Canceled {
		t.Errorf("Serve() error = %v, want %v", err, context.Canceled)
	}
}
