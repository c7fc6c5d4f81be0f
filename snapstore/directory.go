// Copyright 2018 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package snapstore

import (
	"bufio"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const fileSuffix = ".snap"
const lockFileName = ".lock"

// DirectoryStorage stores one snapshot per file in a directory, named so
// that lexicographic order equals creation order. Grounded on
// directory_snapshot_storage.rs.
type DirectoryStorage struct {
	dir  string
	lock *flock.Flock
}

// OpenDirectoryStorage locks dir exclusively for the lifetime of the
// returned Storage.
func OpenDirectoryStorage(dir string) (*DirectoryStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("snapstore: create directory %s: %w", dir, err)
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("snapstore: lock %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("snapstore: directory %s is held by another process", dir)
	}
	return &DirectoryStorage{dir: dir, lock: lock}, nil
}

func (s *DirectoryStorage) Create(tag string) (Writer, error) {
	name := fmt.Sprintf("%s-%s%s", time.Now().UTC().Format("20060102T150405.000000000"), tag, fileSuffix)
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("snapstore: create %s: %w", path, err)
	}
	return &directoryWriter{file: bufio.NewWriter(f), raw: f, path: path}, nil
}

func (s *DirectoryStorage) OpenLast() (Reader, error) {
	entries, err := ioutil.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("snapstore: list %s: %w", s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fileSuffix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)
	path := filepath.Join(s.dir, names[len(names)-1])
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapstore: open %s: %w", path, err)
	}
	return f, nil
}

// Close releases the directory lock.
func (s *DirectoryStorage) Close() error {
	return s.lock.Unlock()
}

type directoryWriter struct {
	file *bufio.Writer
	raw  *os.File
	path string
}

func (w *directoryWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("snapstore: write %s: %w", w.path, err)
	}
	return n, nil
}

func (w *directoryWriter) Persist() error {
	if err := w.file.Flush(); err != nil {
		return fmt.Errorf("snapstore: flush %s: %w", w.path, err)
	}
	if err := w.raw.Sync(); err != nil {
		return fmt.Errorf("snapstore: fsync %s: %w", w.path, err)
	}
	return nil
}
