// Package storage owns the on-disk layout of job files: where uploads and
// outputs live, when they are removed, and the download guard that deletes
// an output once it has been fully transmitted.
//
// All file operations are restricted to the configured base directory.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapesSandbox is returned for paths that resolve outside the base
// directory.
var ErrEscapesSandbox = errors.New("path escapes sandbox")

// Sandbox provides file operations confined to a base directory.
type Sandbox struct {
	baseDir string
}

// NewSandbox creates a Sandbox rooted at baseDir, creating it if needed.
func NewSandbox(baseDir string) (*Sandbox, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	return &Sandbox{baseDir: absPath}, nil
}

// BaseDir returns the absolute base directory.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// ResolvePath resolves a relative path within the sandbox. Absolute paths and
// paths that climb out of the base directory are rejected.
func (s *Sandbox) ResolvePath(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("%w: %s (absolute paths not allowed)", ErrEscapesSandbox, relativePath)
	}

	absPath := filepath.Join(s.baseDir, filepath.Clean(relativePath))
	if !strings.HasPrefix(absPath, s.baseDir+string(filepath.Separator)) && absPath != s.baseDir {
		return "", fmt.Errorf("%w: %s", ErrEscapesSandbox, relativePath)
	}
	return absPath, nil
}

// MkdirAll creates a directory and its parents within the sandbox.
func (s *Sandbox) MkdirAll(relativePath string) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return nil
}

// List returns the entries of a directory within the sandbox.
func (s *Sandbox) List(relativePath string) ([]os.DirEntry, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	return entries, nil
}

// AtomicWriteReader streams r into relativePath through a temporary file, so
// readers never observe a partial file. It returns the number of bytes
// written.
func (s *Sandbox) AtomicWriteReader(relativePath string, r io.Reader) (int64, error) {
	targetPath, err := s.ResolvePath(relativePath)
	if err != nil {
		return 0, err
	}
	return atomicCopy(r, targetPath)
}

// CopyFile copies src (relative) to dst (relative) atomically.
func (s *Sandbox) CopyFile(src, dst string) (int64, error) {
	srcPath, err := s.ResolvePath(src)
	if err != nil {
		return 0, err
	}
	dstPath, err := s.ResolvePath(dst)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("opening source file: %w", err)
	}
	defer f.Close()

	return atomicCopy(f, dstPath)
}

func atomicCopy(r io.Reader, targetPath string) (int64, error) {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("creating parent directory: %w", err)
	}

	tempPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(targetPath), randomHex(8)))
	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fmt.Errorf("creating temporary file: %w", err)
	}

	n, err := io.Copy(tempFile, r)
	closeErr := tempFile.Close()
	if err != nil {
		_ = os.Remove(tempPath)
		return n, fmt.Errorf("writing temporary file: %w", err)
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return n, fmt.Errorf("closing temporary file: %w", closeErr)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		_ = os.Remove(tempPath)
		return n, fmt.Errorf("renaming to target: %w", err)
	}
	return n, nil
}

// randomHex generates a random hex string of length n.
func randomHex(n int) string {
	b := make([]byte, n/2+1)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(b)[:n]
}
