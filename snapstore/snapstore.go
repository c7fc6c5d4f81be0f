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

// Package snapstore defines the snapshot storage interface and the
// on-disk snapshot wire format: an 8-byte little-endian epoch followed by
// the machine's own dump.
package snapstore

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Writer accumulates a snapshot's bytes; Persist is the durability point
// (flush + fsync), mirroring journal.Writer's contract.
type Writer interface {
	io.Writer
	Persist() error
}

// Reader reads back a previously-created snapshot's bytes.
type Reader interface {
	io.ReadCloser
}

// Storage creates new, never-overwritten snapshot files and opens the
// most recent one.
type Storage interface {
	// Create opens a brand-new snapshot file. tag distinguishes files
	// created in the same instant (typically the epoch).
	Create(tag string) (Writer, error)
	// OpenLast returns the most recently created snapshot, or a nil
	// Reader and nil error if no snapshot exists yet.
	OpenLast() (Reader, error)
}

// Snapshotter is satisfied by any Machine (psm.Machine structurally
// matches it without either package importing the other).
type Snapshotter interface {
	WriteSnapshot(w io.Writer) error
}

// Loader is satisfied by any Machine's Load method.
type Loader interface {
	Load(r io.Reader) error
}

// WriteSnapshot writes a complete Snapshot: the epoch prefix, then the
// machine's own dump.
func WriteSnapshot(w Writer, m Snapshotter, epoch uint64) error {
	var eb [8]byte
	binary.LittleEndian.PutUint64(eb[:], epoch)
	if _, err := w.Write(eb[:]); err != nil {
		return fmt.Errorf("snapstore: write epoch: %w", err)
	}
	if err := m.WriteSnapshot(w); err != nil {
		return fmt.Errorf("snapstore: write machine dump: %w", err)
	}
	return nil
}

// ReadEpoch reads and strips a Snapshot's epoch prefix, leaving r
// positioned at the start of the machine dump for Loader.Load.
func ReadEpoch(r io.Reader) (uint64, error) {
	var eb [8]byte
	if _, err := io.ReadFull(r, eb[:]); err != nil {
		return 0, fmt.Errorf("snapstore: read epoch: %w", err)
	}
	return binary.LittleEndian.Uint64(eb[:]), nil
}
