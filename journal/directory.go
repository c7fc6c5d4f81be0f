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

package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/raydb/rayd/log"
)

const fileSuffix = ".jnl"
const lockFileName = ".lock"

// directoryBase is the state shared by a directory's Reader and Writer
// across the reader-to-writer handoff: the file lock (held for the
// lifetime of the journal, reader or writer), and the bookkeeping needed
// to answer BlobCount/DisposeOldest once a Writer exists.
type directoryBase struct {
	dir               string
	fileSizeSoftLimit uint64
	lock              *flock.Flock
	previousFiles     []previousFile // oldest first, not including the current file
	totalBlobCount    int            // sum over previousFiles only
}

type previousFile struct {
	path      string
	blobCount int
}

func (b *directoryBase) pushFile(path string, blobCount int) {
	b.previousFiles = append(b.previousFiles, previousFile{path: path, blobCount: blobCount})
	b.totalBlobCount += blobCount
}

// disposeOldest deletes whole files, oldest first, so long as their blob
// counts fit entirely within n. It never partially truncates a file.
func (b *directoryBase) disposeOldest(n int) error {
	for len(b.previousFiles) > 0 && n >= b.previousFiles[0].blobCount {
		f := b.previousFiles[0]
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("journal: remove %s: %w", f.path, err)
		}
		log.Debug("disposed journal file", "path", f.path, "blobs", f.blobCount)
		n -= f.blobCount
		b.totalBlobCount -= f.blobCount
		b.previousFiles = b.previousFiles[1:]
	}
	return nil
}

func lockDirectory(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("journal: create directory %s: %w", dir, err)
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("journal: lock %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("journal: directory %s is held by another process", dir)
	}
	return lock, nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("journal: list %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fileSuffix) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func newFileName() string {
	return time.Now().UTC().Format("20060102T150405.000000000") + fileSuffix
}

func createFile(dir string) (*os.File, string, error) {
	path := filepath.Join(dir, newFileName())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, "", fmt.Errorf("journal: create %s: %w", path, err)
	}
	return f, path, nil
}

// DirectoryReader replays the JournalBlobs of every .jnl file in a
// directory in creation order, grounded on directory_journal.rs's
// read_blob / ReadResult state machine.
type DirectoryReader struct {
	base          *directoryBase
	remainingPath []string
	cur           *bufio.Reader
	curFile       *os.File
	curPath       string
	curBlobCount  int
}

// OpenDirectoryReader locks dir exclusively and prepares to replay its
// journal files from the start. An empty, never-before-used directory is
// legal and yields a reader that immediately reports end-of-stream.
func OpenDirectoryReader(dir string, fileSizeSoftLimit uint64) (*DirectoryReader, error) {
	lock, err := lockDirectory(dir)
	if err != nil {
		return nil, err
	}
	paths, err := listFiles(dir)
	if err != nil {
		return nil, err
	}
	r := &DirectoryReader{
		base: &directoryBase{dir: dir, fileSizeSoftLimit: fileSizeSoftLimit, lock: lock},
	}
	if len(paths) > 0 {
		if err := r.openFile(paths[0]); err != nil {
			return nil, err
		}
		r.remainingPath = paths[1:]
	}
	return r, nil
}

func (r *DirectoryReader) openFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", path, err)
	}
	r.curFile = f
	r.cur = bufio.NewReader(f)
	r.curPath = path
	r.curBlobCount = 0
	return nil
}

// ReadBlob returns the next blob, or a Writer once every file has been
// fully consumed. See Reader for the move-only usage contract.
func (r *DirectoryReader) ReadBlob() (ReadOutcome, error) {
	length, err := r.nextLength()
	if err != nil {
		return ReadOutcome{}, err
	}
	if length == nil {
		w, err := r.intoWriter()
		if err != nil {
			return ReadOutcome{}, err
		}
		return ReadOutcome{Writer: w}, nil
	}
	blob := make([]byte, *length)
	if _, err := io.ReadFull(r.cur, blob); err != nil {
		return ReadOutcome{}, fmt.Errorf("journal: file %s ends mid-record: %w", r.curPath, err)
	}
	r.curBlobCount++
	return ReadOutcome{Blob: blob, Next: r}, nil
}

// nextLength reads the next blob's u32 length prefix, transparently
// advancing across file boundaries. It returns nil, nil once every file
// is exhausted. The final file is deliberately left open (not archived
// into base.previousFiles) so intoWriter can reopen exactly that file to
// keep appending, rather than starting a fresh one on every restart.
func (r *DirectoryReader) nextLength() (*uint32, error) {
	for r.cur != nil {
		var lb [4]byte
		_, err := io.ReadFull(r.cur, lb[:])
		switch err {
		case nil:
			v := binary.LittleEndian.Uint32(lb[:])
			return &v, nil
		case io.EOF:
			if len(r.remainingPath) == 0 {
				return nil, nil
			}
			r.curFile.Close()
			r.base.pushFile(r.curPath, r.curBlobCount)
			next := r.remainingPath[0]
			r.remainingPath = r.remainingPath[1:]
			if err := r.openFile(next); err != nil {
				return nil, err
			}
		case io.ErrUnexpectedEOF:
			return nil, fmt.Errorf("journal: file %s ends mid-record: corrupt store", r.curPath)
		default:
			return nil, fmt.Errorf("journal: read %s: %w", r.curPath, err)
		}
	}
	return nil, nil
}

func (r *DirectoryReader) intoWriter() (*DirectoryWriter, error) {
	if r.curFile != nil {
		// Reopen for append-from-end: the reader consumed the final file
		// with a read-only handle, and blobs already written to it count
		// toward BlobCount/DisposeOldest going forward.
		info, err := os.Stat(r.curPath)
		if err != nil {
			return nil, fmt.Errorf("journal: stat %s: %w", r.curPath, err)
		}
		r.curFile.Close()
		f, err := os.OpenFile(r.curPath, os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("journal: reopen %s: %w", r.curPath, err)
		}
		return &DirectoryWriter{
			base:      r.base,
			file:      bufio.NewWriter(f),
			rawFile:   f,
			path:      r.curPath,
			fileSize:  uint64(info.Size()),
			fileBlobs: r.curBlobCount,
		}, nil
	}
	f, path, err := createFile(r.base.dir)
	if err != nil {
		return nil, err
	}
	return &DirectoryWriter{base: r.base, file: bufio.NewWriter(f), rawFile: f, path: path}, nil
}

// DirectoryWriter appends JournalBlobs to the current file, rotating to a
// fresh file whenever a Persist leaves the current file at or above the
// soft size limit. Grounded on directory_journal.rs's writer half and
// core/rawdb/freezer_table.go's rotate-after-sync idiom.
type DirectoryWriter struct {
	base      *directoryBase
	file      *bufio.Writer
	rawFile   *os.File
	path      string
	fileSize  uint64
	fileBlobs int
}

// Append writes a JournalBlob's u32 length prefix and payload. It is not
// durable until the next Persist.
func (w *DirectoryWriter) Append(blob []byte) error {
	if len(blob) > math.MaxUint32 {
		return fmt.Errorf("journal: blob too large: %d bytes", len(blob))
	}
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(blob)))
	if _, err := w.file.Write(lb[:]); err != nil {
		return fmt.Errorf("journal: write %s: %w", w.path, err)
	}
	if _, err := w.file.Write(blob); err != nil {
		return fmt.Errorf("journal: write %s: %w", w.path, err)
	}
	w.fileSize += uint64(len(lb)) + uint64(len(blob))
	w.fileBlobs++
	return nil
}

// Persist flushes and fsyncs the current file, then rotates to a new file
// if the soft size limit has been reached. Rotation is checked only here,
// never mid-batch, so a crash never leaves a file half-written past the
// limit check.
func (w *DirectoryWriter) Persist() error {
	if err := w.file.Flush(); err != nil {
		return fmt.Errorf("journal: flush %s: %w", w.path, err)
	}
	if err := w.rawFile.Sync(); err != nil {
		return fmt.Errorf("journal: fsync %s: %w", w.path, err)
	}
	if w.fileSize >= w.base.fileSizeSoftLimit {
		newFile, newPath, err := createFile(w.base.dir)
		if err != nil {
			return err
		}
		w.base.pushFile(w.path, w.fileBlobs)
		w.rawFile.Close()
		w.rawFile = newFile
		w.file = bufio.NewWriter(newFile)
		w.path = newPath
		w.fileSize = 0
		w.fileBlobs = 0
	}
	return nil
}

// BlobCount is the total number of blobs ever appended across every file
// still on disk, current file included.
func (w *DirectoryWriter) BlobCount() int {
	return w.base.totalBlobCount + w.fileBlobs
}

// DisposeOldest deletes whole files from the oldest end until n blobs
// have been accounted for. The current file is never removed.
func (w *DirectoryWriter) DisposeOldest(n int) error {
	return w.base.disposeOldest(n)
}

// Close closes the current file and releases the directory lock. Safe to
// call once, after the writer is no longer needed. DirectoryReader has no
// Close of its own: the lock it takes is released only through the Writer
// it hands off.
func (w *DirectoryWriter) Close() error {
	w.rawFile.Close()
	return w.base.lock.Unlock()
}
