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

package snapstore

import (
	"io"
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "snapstore-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

type machineStub struct{ data []byte }

func (m *machineStub) WriteSnapshot(w io.Writer) error {
	_, err := w.Write(m.data)
	return err
}

func TestOpenLastOnEmptyDirectory(t *testing.T) {
	s, err := OpenDirectoryStorage(tempDir(t))
	require.NoError(t, err)

	r, err := s.OpenLast()
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestCreateNeverOverwrites(t *testing.T) {
	dir := tempDir(t)
	s, err := OpenDirectoryStorage(dir)
	require.NoError(t, err)

	w1, err := s.Create("100")
	require.NoError(t, err)
	_, err = w1.Write([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, w1.Persist())

	w2, err := s.Create("200")
	require.NoError(t, err)
	_, err = w2.Write([]byte("b"))
	require.NoError(t, err)
	require.NoError(t, w2.Persist())

	r, err := s.OpenLast()
	require.NoError(t, err)
	require.NotNil(t, r)
	defer r.Close()

	got, err := ioutil.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "b", string(got))
}

func TestWriteSnapshotAndReadEpoch(t *testing.T) {
	dir := tempDir(t)
	s, err := OpenDirectoryStorage(dir)
	require.NoError(t, err)

	w, err := s.Create("42")
	require.NoError(t, err)
	require.NoError(t, WriteSnapshot(w, &machineStub{data: []byte("dump")}, 42))
	require.NoError(t, w.Persist())

	r, err := s.OpenLast()
	require.NoError(t, err)
	defer r.Close()

	epoch, err := ReadEpoch(r)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), epoch)

	rest, err := ioutil.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "dump", string(rest))
}
