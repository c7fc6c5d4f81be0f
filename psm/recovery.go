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

package psm

import (
	"bytes"
	"fmt"
	"io/ioutil"

	"github.com/pborman/uuid"

	"github.com/raydb/rayd/journal"
	"github.com/raydb/rayd/snapstore"
)

// loadInitialMachines loads the latest snapshot, if any, and returns two
// independently-loaded Machine instances built from it: one for the
// machine actor, one for the snapshot actor. They must start identical,
// and the Load/WriteSnapshot round-trip already required by a Machine is
// the simplest way to produce two independent copies without requiring
// Machine to support cloning directly.
func loadInitialMachines(storage snapstore.Storage, newMachine NewMachineFunc) (machineMachine, snapshotMachine Machine, epoch uint64, err error) {
	r, err := storage.OpenLast()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("psm: open latest snapshot: %w", err)
	}
	if r == nil {
		return newMachine(), newMachine(), 0, nil
	}
	defer r.Close()

	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("psm: read latest snapshot: %w", err)
	}
	epoch, err = snapstore.ReadEpoch(bytes.NewReader(data))
	if err != nil {
		return nil, nil, 0, err
	}
	dump := data[8:]

	machineMachine = newMachine()
	if err := machineMachine.Load(bytes.NewReader(dump)); err != nil {
		return nil, nil, 0, fmt.Errorf("psm: load snapshot into machine actor: %w", err)
	}
	snapshotMachine = newMachine()
	if err := snapshotMachine.Load(bytes.NewReader(dump)); err != nil {
		return nil, nil, 0, fmt.Errorf("psm: load snapshot into snapshot actor: %w", err)
	}
	return machineMachine, snapshotMachine, epoch, nil
}

// runRecovery drives a journal.Reader to completion, replaying every
// blob whose epoch is past the snapshot baseline into both the machine
// and snapshot actors as a Proposal. Epoch continuity is validated
// across every blob the journal holds, not just the ones that get
// replayed: a journal may retain blobs at or before the snapshot epoch
// that haven't been disposed yet, and a gap among those is just as much
// a sign of corruption as a gap among the replayed ones. Only the first
// blob seen gets a relaxed check (at most snapshotEpoch+1, since the
// journal's surviving prefix can start anywhere at or before that);
// every blob after it must be exactly one past the last blob seen. It
// returns the Writer the journal actor should append to next, and the
// epoch recovery finished at.
func runRecovery(reader journal.Reader, snapshotEpoch uint64, machineCh chan<- machineRequest, snapshotQueue *proposalQueue) (journal.Writer, uint64, error) {
	var r journal.Reader = reader
	epoch := snapshotEpoch
	var lastSeen uint64
	sawBlob := false
	for {
		outcome, err := r.ReadBlob()
		if err != nil {
			return nil, 0, fmt.Errorf("psm: recovery: %w", err)
		}
		if outcome.Writer != nil {
			return outcome.Writer, epoch, nil
		}

		mutation, blobEpoch, err := journal.DecodeBlob(outcome.Blob)
		if err != nil {
			return nil, 0, fmt.Errorf("psm: recovery: %w", err)
		}

		if !sawBlob {
			if blobEpoch > snapshotEpoch+1 {
				return nil, 0, fmt.Errorf("psm: recovery found an epoch gap: expected at most %d, got %d", snapshotEpoch+1, blobEpoch)
			}
			sawBlob = true
		} else if blobEpoch != lastSeen+1 {
			return nil, 0, fmt.Errorf("psm: recovery found an epoch gap: expected %d, got %d", lastSeen+1, blobEpoch)
		}
		lastSeen = blobEpoch

		if blobEpoch > snapshotEpoch {
			epoch = blobEpoch
			p := Proposal{Mutation: mutation, Epoch: epoch, TraceID: uuid.NewRandom()}
			snapshotQueue.Send(p)
			machineCh <- machineRequest{proposal: &p}
		}

		r = outcome.Next
	}
}
