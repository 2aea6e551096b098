package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Directory names under the base directory.
const (
	InputDir     = "input"
	OutputDir    = "output"
	PermanentDir = "permanent"
)

// Layout maps job identifiers to file paths:
//
//	input/{id}.{ext}   uploaded source
//	output/{id}.{ext}  encoded result
//	output/{id}        two-pass log prefix
//	permanent/{name}   outputs kept for operator download
type Layout struct {
	sandbox *Sandbox
}

// NewLayout creates the directory layout under baseDir.
func NewLayout(baseDir string) (*Layout, error) {
	sb, err := NewSandbox(baseDir)
	if err != nil {
		return nil, err
	}
	l := &Layout{sandbox: sb}
	for _, dir := range []string{InputDir, OutputDir, PermanentDir} {
		if err := sb.MkdirAll(dir); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// BaseDir returns the absolute base directory.
func (l *Layout) BaseDir() string {
	return l.sandbox.BaseDir()
}

// Dir returns the absolute path of one of the layout directories.
func (l *Layout) Dir(name string) string {
	return filepath.Join(l.sandbox.BaseDir(), name)
}

// InputPath returns the absolute path of a job's uploaded source.
func (l *Layout) InputPath(id, ext string) string {
	return filepath.Join(l.Dir(InputDir), id+"."+ext)
}

// OutputPath returns the absolute path of a job's encoded result.
func (l *Layout) OutputPath(id, ext string) string {
	return filepath.Join(l.Dir(OutputDir), id+"."+ext)
}

// PassLogPrefix returns the two-pass log prefix for a job.
func (l *Layout) PassLogPrefix(id string) string {
	return filepath.Join(l.Dir(OutputDir), id)
}

// PermanentPath resolves name inside the permanent directory. Names with
// path separators or parent references are rejected.
func (l *Layout) PermanentPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrEscapesSandbox, name)
	}
	return l.sandbox.ResolvePath(filepath.Join(PermanentDir, name))
}

// SaveInput streams an upload to input/{id}.{ext}.
func (l *Layout) SaveInput(id, ext string, r io.Reader) (int64, error) {
	return l.sandbox.AtomicWriteReader(filepath.Join(InputDir, id+"."+ext), r)
}

// Keep copies output/{id}.{ext} to permanent/{id}.{ext}.
func (l *Layout) Keep(id, ext string) (int64, error) {
	name := id + "." + ext
	return l.sandbox.CopyFile(filepath.Join(OutputDir, name), filepath.Join(PermanentDir, name))
}

// NonEmpty reports whether path exists and has a non-zero size.
func NonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// RemoveFile removes path, treating a missing file as success.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
