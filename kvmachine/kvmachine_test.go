// Copyright 2019 The go-ethereum Authors
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

package kvmachine

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetThenGet(t *testing.T) {
	m := New(0)
	m.Apply(EncodeSet([]byte("hello"), []byte("world")))

	status := m.Query(EncodeQuery([]byte("hello")))
	value, found, err := DecodeStatus(status)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "world", string(value))
}

func TestGetMissingKeyIsAbsent(t *testing.T) {
	m := New(0)
	status := m.Query(EncodeQuery([]byte("nope")))
	_, found, err := DecodeStatus(status)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEmptyValueIsLegalAndDistinctFromAbsent(t *testing.T) {
	m := New(0)
	m.Apply(EncodeSet([]byte("k"), []byte{}))

	status := m.Query(EncodeQuery([]byte("k")))
	value, found, err := DecodeStatus(status)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, value)
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := New(0)
	m.Apply(EncodeSet([]byte("a"), []byte("1")))
	m.Apply(EncodeSet([]byte("b"), []byte("2")))
	m.Apply(EncodeSet([]byte("a"), []byte("3"))) // overwritten

	var buf bytes.Buffer
	require.NoError(t, m.WriteSnapshot(&buf))

	loaded := New(0)
	require.NoError(t, loaded.Load(bytes.NewReader(buf.Bytes())))

	for _, tc := range []struct{ key, want string }{
		{"a", "3"},
		{"b", "2"},
	} {
		status := loaded.Query(EncodeQuery([]byte(tc.key)))
		value, found, err := DecodeStatus(status)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, tc.want, string(value))
	}
}

// TestSnapshotIsSetRecordFormat decodes the raw snapshot bytes itself,
// independently of Load, so it catches a format change that a mere
// WriteSnapshot/Load round trip would not: the on-disk shape must be a
// sequence of u32_le length-prefixed records whose payload is exactly
// what EncodeSet produces for the mutation with the same key/value.
func TestSnapshotIsSetRecordFormat(t *testing.T) {
	m := New(0)
	m.Apply(EncodeSet([]byte("a"), []byte("1")))
	m.Apply(EncodeSet([]byte("b"), []byte("22")))

	var buf bytes.Buffer
	require.NoError(t, m.WriteSnapshot(&buf))

	want := map[string]string{"a": "1", "b": "22"}
	got := map[string]string{}
	data := buf.Bytes()
	for len(data) > 0 {
		require.GreaterOrEqual(t, len(data), 4, "dump: %s", spew.Sdump(data))
		length := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		require.GreaterOrEqual(t, uint32(len(data)), length, "dump: %s", spew.Sdump(data))
		record := data[:length]
		data = data[length:]

		key, value, err := DecodeSet(record)
		require.NoError(t, err)
		got[string(key)] = string(value)
	}
	assert.Equal(t, want, got, "decoded snapshot: %s", spew.Sdump(got))
}

func TestSnapshotIsDeterministic(t *testing.T) {
	build := func() []byte {
		m := New(0)
		m.Apply(EncodeSet([]byte("z"), []byte("1")))
		m.Apply(EncodeSet([]byte("a"), []byte("2")))
		var buf bytes.Buffer
		require.NoError(t, m.WriteSnapshot(&buf))
		return buf.Bytes()
	}
	assert.Equal(t, build(), build())
}

func TestAccelDoesNotAffectSnapshotContent(t *testing.T) {
	withAccel := New(1 << 20)
	withoutAccel := New(0)
	for _, m := range []*Machine{withAccel, withoutAccel} {
		m.Apply(EncodeSet([]byte("k"), []byte("v")))
		m.Query(EncodeQuery([]byte("k"))) // populate the accelerator, if any
	}

	var bufA, bufB bytes.Buffer
	require.NoError(t, withAccel.WriteSnapshot(&bufA))
	require.NoError(t, withoutAccel.WriteSnapshot(&bufB))
	assert.Equal(t, bufB.Bytes(), bufA.Bytes())
}
