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

// Package journal defines the append-only, crash-recoverable mutation log
// storage interface used by the journal actor, and the on-disk JournalBlob
// wire format each entry is encoded as.
package journal

import (
	"encoding/binary"
	"fmt"
)

// ReadOutcome is the result of one Reader.ReadBlob call. Exactly one of
// Next or Writer is set: Next when another blob follows (possibly in a
// fresh file), Writer when the stream is exhausted and is now ready to be
// appended to.
type ReadOutcome struct {
	Blob   []byte
	Next   Reader
	Writer Writer
}

// Reader enumerates JournalBlobs across every file in a journal directory
// in lexicographic (creation) order. It is move-only by convention: once
// ReadBlob returns, the receiver must not be used again — continue with
// ReadOutcome.Next.
type Reader interface {
	ReadBlob() (ReadOutcome, error)
}

// Writer appends JournalBlobs durably. append is un-flushed; only Persist
// guarantees durability (a batched fsync).
type Writer interface {
	Append(blob []byte) error
	Persist() error
	BlobCount() int
	DisposeOldest(n int) error
}

// EncodeBlob lays out a JournalBlob's content (the bytes that follow the
// u32 length prefix): an 8-byte little-endian epoch, then the raw
// mutation payload.
func EncodeBlob(mutation []byte, epoch uint64) []byte {
	blob := make([]byte, 8+len(mutation))
	binary.LittleEndian.PutUint64(blob[:8], epoch)
	copy(blob[8:], mutation)
	return blob
}

// DecodeBlob is the inverse of EncodeBlob.
func DecodeBlob(blob []byte) (mutation []byte, epoch uint64, err error) {
	if len(blob) < 8 {
		return nil, 0, fmt.Errorf("journal blob too short: expected at least 8 bytes, got %d", len(blob))
	}
	epoch = binary.LittleEndian.Uint64(blob[:8])
	return blob[8:], epoch, nil
}
