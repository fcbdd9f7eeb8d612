package bulktransfer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/capydeploy/capydeploy/apps/agent/bulktransfer"
)

// TestSendFiles_RoundTripWithAgentListener pairs the Hub's dialer with the
// real Agent-side listener to prove wire compatibility end-to-end, rather
// than mocking either side.
func TestSendFiles_RoundTripWithAgentListener(t *testing.T) {
	gamePath := t.TempDir()

	l, port, token, err := bulktransfer.Listen(gamePath, nil)
	if err != nil {
		t.Fatalf("bulktransfer.Listen() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- l.Serve(ctx) }()

	contentA := []byte("package contents for file A")
	contentB := []byte("package contents for file B, a bit longer")

	files := []File{
		{RelativePath: "data/a.bin", Size: int64(len(contentA)), Reader: bytes.NewReader(contentA)},
		{RelativePath: "data/b.bin", Size: int64(len(contentB)), Reader: bytes.NewReader(contentB)},
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	if err := SendFiles(ctx, addr, token, files); err != nil {
		t.Fatalf("SendFiles() error = %v", err)
	}

	select {
	case err := <-serveErrCh:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return in time")
	}

	gotA, err := os.ReadFile(filepath.Join(gamePath, "data", "a.bin"))
	if err != nil {
		t.Fatalf("ReadFile(a.bin) error = %v", err)
	}
	if !bytes.Equal(gotA, contentA) {
		t.Errorf("a.bin = %q, want %q", gotA, contentA)
	}

	gotB, err := os.ReadFile(filepath.Join(gamePath, "data", "b.bin"))
	if err != nil {
		t.Fatalf("ReadFile(b.bin) error = %v", err)
	}
	if !bytes.Equal(gotB, contentB) {
		t.Errorf("b.bin = %q, want %q", gotB, contentB)
	}
}

func TestSendFiles_WrongTokenRejected(t *testing.T) {
	gamePath := t.TempDir()

	l, port, _, err := bulktransfer.Listen(gamePath, nil)
	if err != nil {
		t.Fatalf("bulktransfer.Listen() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- l.Serve(ctx) }()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	content := []byte("should never land on disk")
	files := []File{{RelativePath: "x.bin", Size: int64(len(content)), Reader: bytes.NewReader(content)}}

	// SendFiles itself only writes; the Agent closes the connection after
	// rejecting the token, so SendFiles may or may not see a write error
	// depending on timing. What matters is the Agent's own Serve() result
	// and that nothing was written to disk.
	_ = SendFiles(ctx, addr, "not-the-real-token", files)

	select {
	case err := <-serveErrCh:
		if err == nil {
			t.Error("Serve() error = nil, want an auth failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return in time")
	}

	if _, err := os.Stat(filepath.Join(gamePath, "x.bin")); !os.IsNotExist(err) {
		t.Error("a file was created despite the auth failure")
	}
}

func TestSendFiles_DialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := SendFiles(ctx, "127.0.0.1:1", "token", nil)
	if err == nil {
		t.Error("SendFiles() error = nil, want a dial failure on an unused port")
	}
}
