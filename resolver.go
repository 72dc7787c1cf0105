// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package pincache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/SnellerInc/pincache/internal/fileio"
)

// PathResolver translates a caller-supplied name into a canonical
// absolute path and guarantees a FileSize-byte backing file exists
// there.
//
// The default, disk-backed implementation is used unless a Cache is
// constructed with WithResolver; tests and embedders that want to
// exercise the cache without touching a real filesystem supply their
// own.
type PathResolver interface {
	// Canonicalize resolves name to an absolute, symlink-free path. A
	// missing file is not an error at this stage; only a genuine
	// filesystem fault is.
	Canonicalize(name string) (string, error)

	// EnsureExists guarantees a FileSize-byte file exists at path,
	// creating and zero-filling it if necessary, and returns an open
	// read/write descriptor positioned at offset 0.
	EnsureExists(path string) (*os.File, error)
}

// fsResolver is the default, disk-backed PathResolver.
type fsResolver struct{}

func (fsResolver) Canonicalize(name string) (string, error) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w", name, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		// the file exists: every component, including a symlink in
		// the final one, is resolved.
		return resolved, nil
	}
	dir, base := filepath.Split(abs)
	if dir == "" {
		return abs, nil
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// The containing directory doesn't exist yet; the
			// absolute path is still well defined, and creating the
			// file is EnsureExists's job, not ours.
			return abs, nil
		}
		return "", fmt.Errorf("canonicalize %q: %w", name, err)
	}
	return filepath.Join(resolvedDir, base), nil
}

func (fsResolver) EnsureExists(path string) (*os.File, error) {
	if f, err := os.OpenFile(path, os.O_RDWR, 0o644); err == nil {
		return f, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating parent directory for %q: %w", path, err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			// lost the create race to a concurrent caller; the file
			// is already there (or being filled) for us to open.
			return os.OpenFile(path, os.O_RDWR, 0o644)
		}
		return nil, fmt.Errorf("creating %q: %w", path, err)
	}

	if err := fileio.Preallocate(f, FileSize); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("preallocating %q: %w", path, err)
	}
	fill := bytes.Repeat([]byte{zeroFill}, FileSize)
	if _, err := f.WriteAt(fill, 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("zero-filling %q: %w", path, err)
	}
	return f, nil
}
