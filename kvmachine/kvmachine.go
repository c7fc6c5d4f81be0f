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

// Package kvmachine is rayd's built-in PSM Machine: an in-memory key-value
// map mutated only by Set (an empty value is legal and distinct from a
// missing key — there is no delete), read through an optional fastcache
// accelerator. It satisfies psm.Machine structurally (Apply, Query,
// WriteSnapshot, Load) without importing package psm.
package kvmachine

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/raydb/rayd/log"
)

const (
	statusAbsent  byte = 0
	statusPresent byte = 1
)

// EncodeSet builds the mutation payload for a Set(key, value): a u32
// key length, the key, then the rest of the bytes as the value.
func EncodeSet(key, value []byte) []byte {
	buf := make([]byte, 4+len(key)+len(value))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(key)))
	copy(buf[4:4+len(key)], key)
	copy(buf[4+len(key):], value)
	return buf
}

// DecodeSet splits a Set mutation payload back into its key and value,
// the inverse of EncodeSet. Both Apply and the snapshot format decode
// through this one function.
func DecodeSet(mutation []byte) (key, value []byte, err error) {
	if len(mutation) < 4 {
		return nil, nil, fmt.Errorf("kvmachine: truncated mutation: len %d", len(mutation))
	}
	keyLen := binary.BigEndian.Uint32(mutation[0:4])
	if uint32(len(mutation)-4) < keyLen {
		return nil, nil, fmt.Errorf("kvmachine: truncated mutation key: keyLen %d", keyLen)
	}
	return mutation[4 : 4+keyLen], mutation[4+keyLen:], nil
}

// EncodeQuery builds the query payload for a Get(key): the key itself,
// unwrapped, since the journal/machine layer treats queries as opaque
// bytes already.
func EncodeQuery(key []byte) []byte { return key }

// DecodeStatus splits a Query response into (value, found).
func DecodeStatus(status []byte) (value []byte, found bool, err error) {
	if len(status) == 0 {
		return nil, false, fmt.Errorf("kvmachine: empty status")
	}
	switch status[0] {
	case statusAbsent:
		return nil, false, nil
	case statusPresent:
		return status[1:], true, nil
	default:
		return nil, false, fmt.Errorf("kvmachine: unknown status tag %d", status[0])
	}
}

// Machine is the authoritative map plus an optional, non-authoritative
// read accelerator. The accelerator is never consulted by WriteSnapshot:
// fastcache has no iteration API, so it could not serve as the source of
// truth even if we wanted it to.
type Machine struct {
	mu    sync.RWMutex
	data  map[string][]byte
	accel *fastcache.Cache
}

// New constructs an empty Machine. accelBytes sizes the fastcache
// accelerator; 0 disables it.
func New(accelBytes int) *Machine {
	m := &Machine{data: make(map[string][]byte)}
	if accelBytes > 0 {
		m.accel = fastcache.New(accelBytes)
	}
	return m
}

// Apply decodes and applies one Set mutation. A malformed mutation is a
// fatal error: mutations are only ever produced by the RPC facade or
// replayed from a journal this process already validated, so corruption
// here means the journal itself is untrustworthy.
func (m *Machine) Apply(mutation []byte) {
	key, value, err := DecodeSet(mutation)
	if err != nil {
		log.Crit("kvmachine: malformed mutation", "err", err)
	}
	valueCopy := append([]byte(nil), value...)
	m.mu.Lock()
	m.data[string(key)] = valueCopy
	m.mu.Unlock()
	if m.accel != nil {
		m.accel.Del(key)
	}
}

// Query answers a Get(key), consulting the accelerator first.
func (m *Machine) Query(query []byte) []byte {
	if m.accel != nil {
		if v, ok := m.accel.HasGet(nil, query); ok {
			out := make([]byte, 1+len(v))
			out[0] = statusPresent
			copy(out[1:], v)
			return out
		}
	}
	m.mu.RLock()
	v, ok := m.data[string(query)]
	m.mu.RUnlock()
	if !ok {
		return []byte{statusAbsent}
	}
	if m.accel != nil {
		m.accel.Set(query, v)
	}
	out := make([]byte, 1+len(v))
	out[0] = statusPresent
	copy(out[1:], v)
	return out
}

// WriteSnapshot dumps every key in sorted order as a sequence of
// length-prefixed Set mutation records — the mutation format repeated,
// one record per key — making the byte output deterministic for a given
// map contents and letting Load replay it through the same decoder Apply
// uses.
func (m *Machine) WriteSnapshot(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lb [4]byte
	for _, k := range keys {
		record := EncodeSet([]byte(k), m.data[k])
		binary.LittleEndian.PutUint32(lb[:], uint32(len(record)))
		if _, err := w.Write(lb[:]); err != nil {
			return err
		}
		if _, err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the machine's contents with a previously-written
// snapshot's dump, reading length-prefixed Set records until EOF and
// decoding each through DecodeSet. The accelerator is dropped rather
// than repopulated: it will refill itself lazily from subsequent Query
// calls.
func (m *Machine) Load(r io.Reader) error {
	data := make(map[string][]byte)
	var lb [4]byte
	for {
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("kvmachine: read record length: %w", err)
		}
		record := make([]byte, binary.LittleEndian.Uint32(lb[:]))
		if _, err := io.ReadFull(r, record); err != nil {
			return fmt.Errorf("kvmachine: read record: %w", err)
		}
		key, value, err := DecodeSet(record)
		if err != nil {
			return fmt.Errorf("kvmachine: decode snapshot record: %w", err)
		}
		data[string(key)] = append([]byte(nil), value...)
	}

	m.mu.Lock()
	m.data = data
	if m.accel != nil {
		m.accel.Reset()
	}
	m.mu.Unlock()
	return nil
}

// Each calls fn once per stored key/value pair, in sorted key order.
// Used by the dump subcommand; never called from the hot Apply/Query
// path.
func (m *Machine) Each(fn func(key, value []byte)) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn([]byte(k), m.data[k])
	}
}
