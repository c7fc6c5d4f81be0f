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
	"fmt"
	"strconv"

	"github.com/raydb/rayd/log"
	"github.com/raydb/rayd/metrics"
	"github.com/raydb/rayd/snapstore"
)

// snapshotActor keeps its own copy of the machine, applying the same
// Proposals the machine actor sees but on its own schedule, and
// periodically durably snapshots it, then tells the journal actor how
// far back it still needs to keep blobs.
type snapshotActor struct {
	storage           snapstore.Storage
	machine           Machine
	epoch             uint64
	lastSnapshotEpoch uint64
	snapshotInterval  uint64
	batchSize         int
	proposalCh        <-chan Proposal
	minEpochQueue     *watermarkQueue
	epochGauge        metrics.Gauge
}

func (a *snapshotActor) serve() {
	for {
		a.applyBatch()
		a.epochGauge.Update(int64(a.epoch))
		if a.epoch-a.lastSnapshotEpoch >= a.snapshotInterval {
			a.makeSnapshot()
		}
	}
}

// applyBatch blocks for the first pending proposal, then drains up to
// batchSize-1 more without blocking, mirroring the journal actor's own
// batching so bursts of writes don't force a snapshot per mutation.
func (a *snapshotActor) applyBatch() {
	p, ok := <-a.proposalCh
	if !ok {
		log.Crit("snapshot actor: proposal channel closed")
	}
	a.apply(p)

	for i := 1; i < a.batchSize; i++ {
		select {
		case p, ok := <-a.proposalCh:
			if !ok {
				log.Crit("snapshot actor: proposal channel closed")
			}
			a.apply(p)
		default:
			return
		}
	}
}

func (a *snapshotActor) apply(p Proposal) {
	if p.Epoch != a.epoch+1 {
		panic(fmt.Errorf("snapshot actor: epoch gap: expected %d, got %d, trace_id %s", a.epoch+1, p.Epoch, p.TraceID.String()))
	}
	a.machine.Apply(p.Mutation)
	a.epoch = p.Epoch
}

func (a *snapshotActor) makeSnapshot() {
	w, err := a.storage.Create(strconv.FormatUint(a.epoch, 10))
	if err != nil {
		log.Crit("snapshot actor: create snapshot failed", "epoch", a.epoch, "err", err)
	}
	if err := snapstore.WriteSnapshot(w, a.machine, a.epoch); err != nil {
		log.Crit("snapshot actor: write snapshot failed", "epoch", a.epoch, "err", err)
	}
	if err := w.Persist(); err != nil {
		log.Crit("snapshot actor: persist snapshot failed", "epoch", a.epoch, "err", err)
	}
	a.lastSnapshotEpoch = a.epoch
	// Journal blobs at or before this epoch are now redundant: the next
	// recovery will start from this snapshot, not genesis.
	a.minEpochQueue.Send(a.epoch + 1)
	log.Info("wrote snapshot", "epoch", a.epoch)
}
