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
	"fmt"
	"io/ioutil"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raydb/rayd/kvmachine"
	"github.com/raydb/rayd/snapstore"
)

func testConfig() Config {
	return Config{
		JournalRequestQueueSize:  100,
		JournalBatchSize:         10,
		MachineRequestQueueSize:  100,
		SnapshotInterval:         1 << 30, // effectively disabled unless a test overrides it
		SnapshotBatchSize:        10,
		JournalFileSizeSoftLimit: 64 << 20,
	}
}

func newTestHandle(t *testing.T, cfg Config) *Handle {
	storage, err := snapstore.OpenDirectoryStorage(tempDir(t))
	require.NoError(t, err)
	h, err := Run(cfg, func() Machine { return kvmachine.New(0) }, tempDir(t), storage)
	require.NoError(t, err)
	return h
}

func getString(h *Handle, key string) (string, bool) {
	status := h.QueryState(kvmachine.EncodeQuery([]byte(key)))
	value, found, err := kvmachine.DecodeStatus(status)
	if err != nil {
		panic(err)
	}
	return string(value), found
}

// Scenario A — basic write/read.
func TestBasicWriteRead(t *testing.T) {
	h := newTestHandle(t, testConfig())

	h.ApplyMutation(kvmachine.EncodeSet([]byte("hello"), []byte("world")))

	value, found := getString(h, "hello")
	assert.True(t, found)
	assert.Equal(t, "world", value)
}

// Scenario B — read-your-writes across clients: two goroutines sharing
// one Handle, standing in for two RPC clients attached to one process.
func TestReadYourWritesAcrossClients(t *testing.T) {
	h := newTestHandle(t, testConfig())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.ApplyMutation(kvmachine.EncodeSet([]byte("k"), []byte("v1")))
	}()
	wg.Wait()

	value, found := getString(h, "k")
	assert.True(t, found)
	assert.Equal(t, "v1", value)
}

// Scenario D, snapshot half: with a small snapshot interval, enough Sets
// to cross it twice should produce two snapshot files. The resulting
// journal disposal is not checked here.
func TestSnapshotIntervalWritesSnapshots(t *testing.T) {
	cfg := testConfig()
	cfg.SnapshotInterval = 100
	cfg.SnapshotBatchSize = 100

	snapDir := tempDir(t)
	storage, err := snapstore.OpenDirectoryStorage(snapDir)
	require.NoError(t, err)
	h, err := Run(cfg, func() Machine { return kvmachine.New(0) }, tempDir(t), storage)
	require.NoError(t, err)

	for i := 0; i < 250; i++ {
		h.ApplyMutation(kvmachine.EncodeSet([]byte(fmt.Sprintf("key-%d", i)), []byte("v")))
	}

	// Snapshotting happens on the snapshot actor's own goroutine, slightly
	// behind the journal actor; give it a moment to catch up.
	deadline := time.Now().Add(2 * time.Second)
	var files []string
	for time.Now().Before(deadline) {
		entries, err := ioutil.ReadDir(snapDir)
		require.NoError(t, err)
		files = nil
		for _, e := range entries {
			if !e.IsDir() && e.Name() != ".lock" {
				files = append(files, e.Name())
			}
		}
		if len(files) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, len(files), 2)
}

// Scenario E — deferred query: a Get whose minEpoch is ahead of the
// machine actor's current epoch sits in the priority queue until a
// subsequent Set catches it up.
func TestDeferredQueryAnsweredBySubsequentSet(t *testing.T) {
	h := newTestHandle(t, testConfig())

	reply := make(chan []byte, 1)
	h.machineReq <- machineRequest{query: &queryPayload{
		query:    kvmachine.EncodeQuery([]byte("k")),
		minEpoch: 1,
		reply:    reply,
	}}

	select {
	case <-reply:
		t.Fatal("deferred query answered before its minEpoch was reached")
	case <-time.After(50 * time.Millisecond):
	}

	h.ApplyMutation(kvmachine.EncodeSet([]byte("k"), []byte("v")))

	select {
	case status := <-reply:
		value, found, err := kvmachine.DecodeStatus(status)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v", string(value))
	case <-time.After(time.Second):
		t.Fatal("deferred query was never answered")
	}
}
