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

package psm

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raydb/rayd/journal"
	"github.com/raydb/rayd/kvmachine"
	"github.com/raydb/rayd/snapstore"
)

func tempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "psm-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func newMachine() Machine { return kvmachine.New(0) }

func TestLoadInitialMachinesWithNoSnapshot(t *testing.T) {
	storage, err := snapstore.OpenDirectoryStorage(tempDir(t))
	require.NoError(t, err)

	m1, m2, epoch, err := loadInitialMachines(storage, newMachine)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), epoch)
	assert.NotNil(t, m1)
	assert.NotNil(t, m2)
}

func TestLoadInitialMachinesFromSnapshot(t *testing.T) {
	storage, err := snapstore.OpenDirectoryStorage(tempDir(t))
	require.NoError(t, err)

	seed := kvmachine.New(0)
	seed.Apply(kvmachine.EncodeSet([]byte("k"), []byte("v")))

	w, err := storage.Create("7")
	require.NoError(t, err)
	require.NoError(t, snapstore.WriteSnapshot(w, seed, 7))
	require.NoError(t, w.Persist())

	m1, m2, epoch, err := loadInitialMachines(storage, newMachine)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), epoch)

	for _, m := range []Machine{m1, m2} {
		status := m.Query(kvmachine.EncodeQuery([]byte("k")))
		value, found, err := kvmachine.DecodeStatus(status)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v", string(value))
	}
}

func TestRunRecoveryReplaysPastSnapshotEpoch(t *testing.T) {
	dir := tempDir(t)
	reader, err := journal.OpenDirectoryReader(dir, 1<<20)
	require.NoError(t, err)

	outcome, err := reader.ReadBlob()
	require.NoError(t, err)
	w := outcome.Writer

	for _, seed := range []struct {
		epoch uint64
		key   string
	}{
		{1, "a"}, {2, "b"}, {3, "c"},
	} {
		mutation := kvmachine.EncodeSet([]byte(seed.key), []byte("v"))
		require.NoError(t, w.Append(journal.EncodeBlob(mutation, seed.epoch)))
	}
	require.NoError(t, w.Persist())
	require.NoError(t, w.(*journal.DirectoryWriter).Close())

	reader2, err := journal.OpenDirectoryReader(dir, 1<<20)
	require.NoError(t, err)

	machineCh := make(chan machineRequest, 10)
	sq := newProposalQueue(nil)

	// Snapshot baseline is epoch 1: only blobs 2 and 3 should replay.
	_, finalEpoch, err := runRecovery(reader2, 1, machineCh, sq)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), finalEpoch)

	var got []uint64
	for i := 0; i < 2; i++ {
		req := <-machineCh
		require.NotNil(t, req.proposal)
		got = append(got, req.proposal.Epoch)
	}
	if diff := pretty.Compare([]uint64{2, 3}, got); diff != "" {
		t.Fatalf("replayed epochs mismatch (-want +got):\n%s", diff)
	}
}

func TestRunRecoveryDetectsEpochGap(t *testing.T) {
	dir := tempDir(t)
	reader, err := journal.OpenDirectoryReader(dir, 1<<20)
	require.NoError(t, err)
	outcome, err := reader.ReadBlob()
	require.NoError(t, err)
	w := outcome.Writer

	require.NoError(t, w.Append(journal.EncodeBlob([]byte("x"), 1)))
	require.NoError(t, w.Append(journal.EncodeBlob([]byte("x"), 3))) // gap: missing epoch 2
	require.NoError(t, w.Persist())
	require.NoError(t, w.(*journal.DirectoryWriter).Close())

	reader2, err := journal.OpenDirectoryReader(dir, 1<<20)
	require.NoError(t, err)

	machineCh := make(chan machineRequest, 10)
	sq := newProposalQueue(nil)
	_, _, err = runRecovery(reader2, 0, machineCh, sq)
	assert.Error(t, err)
}

// TestRunRecoveryDetectsEpochGapBelowSnapshot covers a gap entirely among
// blobs at or before the snapshot epoch, none of which get replayed as
// Proposals — a corrupt run here must still be fatal, not silently
// skipped because it falls below the emission threshold.
func TestRunRecoveryDetectsEpochGapBelowSnapshot(t *testing.T) {
	dir := tempDir(t)
	reader, err := journal.OpenDirectoryReader(dir, 1<<20)
	require.NoError(t, err)
	outcome, err := reader.ReadBlob()
	require.NoError(t, err)
	w := outcome.Writer

	require.NoError(t, w.Append(journal.EncodeBlob([]byte("x"), 50)))
	require.NoError(t, w.Append(journal.EncodeBlob([]byte("x"), 53))) // gap: missing 51, 52
	require.NoError(t, w.Persist())
	require.NoError(t, w.(*journal.DirectoryWriter).Close())

	reader2, err := journal.OpenDirectoryReader(dir, 1<<20)
	require.NoError(t, err)

	machineCh := make(chan machineRequest, 10)
	sq := newProposalQueue(nil)
	// Snapshot baseline is epoch 100: both blobs are at or below it, so
	// neither is emitted, but the gap between them must still be fatal.
	_, _, err = runRecovery(reader2, 100, machineCh, sq)
	assert.Error(t, err)
}
