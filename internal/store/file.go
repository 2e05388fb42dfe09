package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileSource streams a file's contents to a sending session.
type FileSource struct {
	f *os.File
}

// OpenSource opens path for reading.
func OpenSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return &FileSource{f: f}, nil
}

func (s *FileSource) Read(p []byte) (int, error) { return s.f.Read(p) }

func (s *FileSource) Close() error { return s.f.Close() }

// FileSink collects a receiving session's blocks into a file. Blocks land
// in a private staging file in the target directory; Commit publishes it
// at the final path and Discard removes it. The final path is only ever
// touched by Commit, so a session that fails, or loses a race with a
// duplicate session for the same name, cannot take anyone else's output
// with it.
type FileSink struct {
	f         *os.File
	path      string
	exclusive bool
	done      bool
}

// CreateSink prepares a sink that will become path on Commit. With
// exclusive set, Commit refuses to replace an existing file; checking at
// publish time rather than request time means two concurrent writes for
// one name cannot both win.
func CreateSink(path string, exclusive bool) (*FileSink, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("create sink: %w", err)
	}
	return &FileSink{f: f, path: path, exclusive: exclusive}, nil
}

func (s *FileSink) Write(p []byte) (int, error) { return s.f.Write(p) }

// Commit flushes the staging file and publishes it at the final path. On
// failure the sink stays discardable and the final path is untouched.
func (s *FileSink) Commit() error {
	if s.done {
		return nil
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync sink: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	if s.exclusive {
		// Link fails if the name was taken since the request was
		// authorized, leaving the existing file alone.
		if err := os.Link(s.f.Name(), s.path); err != nil {
			return fmt.Errorf("publish sink: %w", err)
		}
		s.done = true
		os.Remove(s.f.Name())
		return nil
	}
	if err := os.Rename(s.f.Name(), s.path); err != nil {
		return fmt.Errorf("publish sink: %w", err)
	}
	s.done = true
	return nil
}

// Discard removes the staging file, never the final path. Safe to call
// after Commit, where it does nothing.
func (s *FileSink) Discard() error {
	if s.done {
		return nil
	}
	s.done = true
	s.f.Close()
	if err := os.Remove(s.f.Name()); err != nil {
		return fmt.Errorf("remove staging file: %w", err)
	}
	return nil
}
