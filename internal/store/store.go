// Package store supplies the engine's filesystem collaborators: the path
// policy that decides which files a request may touch, and file-backed
// byte sources and sinks. The engine itself never assumes a filesystem.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sheerbytes/tftp/pkg/wire"
)

// Direction says which way a requested transfer moves bytes.
type Direction int

const (
	// Read: the peer fetches the file from us (RRQ).
	Read Direction = iota
	// Write: the peer stores the file with us (WRQ).
	Write
)

func (d Direction) String() string {
	if d == Read {
		return "read"
	}
	return "write"
}

// DeniedError is an authorization refusal carrying the TFTP error code to
// report to the peer.
type DeniedError struct {
	Code wire.ErrorCode
	Msg  string
}

func (e *DeniedError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

// PathPolicy decides whether a requested filename may be served and where
// it resolves on disk. Implementations must be safe for concurrent use;
// one call is made per incoming request.
type PathPolicy interface {
	Authorize(filename string, dir Direction) (string, error)
}

// DirPolicy serves exactly the files directly inside Root. Requests that
// name a path (separators, "..", absolute) are refused outright rather
// than resolved: TFTP filenames are names, not paths. Whether a write may
// replace an existing file is the operator's call, not the protocol's.
type DirPolicy struct {
	Root           string
	AllowOverwrite bool
}

func (p *DirPolicy) Authorize(filename string, dir Direction) (string, error) {
	if filename == "" ||
		filename == ".." ||
		strings.ContainsAny(filename, `/\`) ||
		filepath.IsAbs(filename) {
		return "", &DeniedError{Code: wire.ErrAccessViolation, Msg: "invalid filename"}
	}

	path := filepath.Join(p.Root, filename)

	// Belt and braces: the join must stay inside the root even if the
	// checks above are ever loosened.
	root := filepath.Clean(p.Root)
	if filepath.Dir(path) != root {
		return "", &DeniedError{Code: wire.ErrAccessViolation, Msg: "access denied"}
	}

	if dir == Write && !p.AllowOverwrite {
		if _, err := os.Stat(path); err == nil {
			return "", &DeniedError{Code: wire.ErrFileAlreadyExists, Msg: "file already exists"}
		}
	}
	return path, nil
}
