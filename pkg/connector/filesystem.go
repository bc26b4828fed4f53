package connector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
)

// Filesystem is the sandboxed file connector. Every path is resolved
// under the sandbox root; anything escaping it is rejected before
// touching the disk.
type Filesystem struct {
	root string
}

// NewFilesystem prepares the sandbox directory.
func NewFilesystem(root string) (*Filesystem, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filesystem connector: create sandbox: %w", err)
	}
	return &Filesystem{root: root}, nil
}

// Tool implements Connector.
func (f *Filesystem) Tool() string { return contracts.ToolFile }

// Invoke implements Connector.
func (f *Filesystem) Invoke(_ context.Context, op string, params map[string]any) (*Result, error) {
	path := strParam(params, "path", "")
	switch op {
	case "read_file":
		return f.readFile(path)
	case "write_file":
		return f.writeFile(path, strParam(params, "content", ""))
	case "delete_file":
		return f.deleteFile(path)
	}
	return nil, fmt.Errorf("filesystem connector: unsupported op %q", op)
}

// resolve joins the path under the sandbox root and verifies the
// canonical result stays inside it.
func (f *Filesystem) resolve(path string) (string, error) {
	joined := filepath.Join(f.root, strings.TrimLeft(path, "/"))
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("filesystem connector: resolve path: %w", err)
	}
	absRoot, err := filepath.Abs(f.root)
	if err != nil {
		return "", fmt.Errorf("filesystem connector: resolve sandbox: %w", err)
	}
	if absJoined != absRoot && !strings.HasPrefix(absJoined, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("Path outside sandbox: %s", path)
	}
	return joined, nil
}

func (f *Filesystem) readFile(path string) (*Result, error) {
	target, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if os.IsNotExist(err) {
		return fail("File not found: %s", path), nil
	}
	if err != nil {
		// os errors embed the resolved sandbox path; only the
		// caller's name goes back out.
		return fail("Could not read file: %s", path), nil
	}
	return succeed(map[string]any{
		"path":    path,
		"content": string(data),
		"size":    len(data),
	}), nil
}

func (f *Filesystem) writeFile(path, content string) (*Result, error) {
	target, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fail("Could not write file: %s", path), nil
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return fail("Could not write file: %s", path), nil
	}
	return succeed(map[string]any{
		"path":    path,
		"size":    len(content),
		"message": fmt.Sprintf("File written to %s", path),
	}), nil
}

func (f *Filesystem) deleteFile(path string) (*Result, error) {
	target, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return fail("File not found: %s", path), nil
	}
	if err := os.Remove(target); err != nil {
		return fail("Could not delete file: %s", path), nil
	}
	return succeed(map[string]any{
		"path":    path,
		"message": fmt.Sprintf("File deleted: %s", path),
	}), nil
}
