package connection

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/capydeploy/capydeploy/pkg/protocol"
)

func TestWalkUploadFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bin", "game"), []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	files, total, err := walkUploadFiles(dir)
	if err != nil {
		t.Fatalf("walkUploadFiles() error = %v", err)
	}
	if total != 12 {
		t.Errorf("total = %d, want 12", total)
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.RelativePath
	}
	sort.Strings(paths)
	want := []string{"bin/game", "readme.txt"}
	if len(paths) != len(want) || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

// chunkTrackingClient records every UploadChunk call so the chunked-upload
// path can be asserted without a real Agent.
type chunkTrackingClient struct {
	fakeClient
	chunks []string
}

func (c *chunkTrackingClient) UploadChunk(ctx context.Context, uploadID, filePath string, offset int64, data []byte, checksum string) error {
	c.chunks = append(c.chunks, filePath)
	return nil
}

func TestDeploy_ChunkedFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "game.bin"), []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	client := &chunkTrackingClient{}
	m := newTestManager(t, &client.fakeClient)
	m.mu.Lock()
	m.clients["agent-1"] = client
	m.mu.Unlock()

	result, err := m.Deploy(context.Background(), "agent-1", dir, protocol.UploadConfig{GameName: "demo"}, false, nil)
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if !result.Success {
		t.Error("Deploy() result.Success = false, want true")
	}
	if len(client.chunks) == 0 {
		t.Error("Deploy() sent no chunks over the WS path")
	}
}

func TestDeploy_UnknownAgent(t *testing.T) {
	m := newTestManager(t, &fakeClient{})
	_, err := m.Deploy(context.Background(), "does-not-exist", t.TempDir(), protocol.UploadConfig{GameName: "demo"}, false, nil)
	if err == nil {
		t.Fatal("Deploy() expected error for unknown agent")
	}
}
