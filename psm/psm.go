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

// Package psm implements the Persistent State Machine: the journal,
// machine, and snapshot actors plus the recovery procedure that together
// turn a stream of mutation requests into a linearizable, crash-durable
// key-value service.
package psm

import (
	"io"

	"github.com/pborman/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/raydb/rayd/journal"
	"github.com/raydb/rayd/log"
	"github.com/raydb/rayd/metrics"
	"github.com/raydb/rayd/snapstore"
)

// Machine is the pluggable state machine capability. Apply and Query
// never fail: a mutation that cannot be applied, or a query that cannot
// be answered, indicates a corrupt journal or a programming error, and
// the actor hosting the Machine is expected to treat that as fatal
// rather than return it here.
type Machine interface {
	Apply(mutation []byte)
	Query(query []byte) []byte
	WriteSnapshot(w io.Writer) error
	Load(r io.Reader) error
}

// NewMachineFunc constructs a fresh, empty Machine. Recovery needs one to
// build the snapshot actor's independent copy of machine state.
type NewMachineFunc func() Machine

// Proposal is a mutation that has been assigned a durable epoch by the
// journal actor, forwarded to the machine and snapshot actors.
type Proposal struct {
	Mutation []byte
	Epoch    uint64
	TraceID  uuid.UUID
}

// Config holds the tunables a Run caller supplies for each actor.
type Config struct {
	JournalRequestQueueSize  int
	JournalBatchSize         int
	MachineRequestQueueSize  int
	SnapshotInterval         uint64
	SnapshotBatchSize        int
	JournalFileSizeSoftLimit uint64
}

// Handle is the PSM's client-facing API: the two operations an RPC
// facade drives, Set and Get.
type Handle struct {
	journalReq chan<- persistRequest
	machineReq chan<- machineRequest
	persisted  *persistedEpoch
}

// ApplyMutation durably persists mutation before returning. The machine
// actor may apply it only after ApplyMutation returns, but any QueryState
// issued afterwards waits for it. The epoch it was assigned is not
// exposed.
func (h *Handle) ApplyMutation(mutation []byte) {
	notify := make(chan struct{})
	h.journalReq <- persistRequest{mutation: mutation, traceID: uuid.NewRandom(), notify: notify}
	<-notify
}

// QueryState answers query against a machine view at least as recent as
// the last mutation this Handle has itself applied (read-your-writes).
func (h *Handle) QueryState(query []byte) []byte {
	reply := make(chan []byte, 1)
	h.machineReq <- machineRequest{query: &queryPayload{
		query:    query,
		minEpoch: h.persisted.Load(),
		reply:    reply,
	}}
	return <-reply
}

// Run wires up and starts the journal, machine, and snapshot actors,
// running recovery first, and returns a Handle once the PSM is ready to
// serve requests. The three actors are supervised by a shared
// errgroup.Group: runActor turns a panic or a clean return of any actor
// into a fatal log line, and a background goroutine waits on the group
// without making Run itself block.
func Run(cfg Config, newMachine NewMachineFunc, journalDir string, snapStorage snapstore.Storage) (*Handle, error) {
	machineMachine, snapshotMachine, epoch, err := loadInitialMachines(snapStorage, newMachine)
	if err != nil {
		return nil, err
	}

	journalReader, err := journal.OpenDirectoryReader(journalDir, cfg.JournalFileSizeSoftLimit)
	if err != nil {
		return nil, err
	}

	persisted := &persistedEpoch{}

	machineReqCh := make(chan machineRequest, cfg.MachineRequestQueueSize)
	journalReqCh := make(chan persistRequest, cfg.JournalRequestQueueSize)
	proposalQueue := newProposalQueue(metrics.DefaultRegistry.GetOrRegisterGauge("psm/snapshot/queue"))
	watermarkQueue := newWatermarkQueue()

	mAct := &machineActor{
		machine:   machineMachine,
		epoch:     epoch,
		requestCh: machineReqCh,
		queueGauge: metrics.DefaultRegistry.GetOrRegisterGauge("psm/machine/queue"),
		epochGauge: metrics.DefaultRegistry.GetOrRegisterGauge("psm/machine/epoch"),
	}
	sAct := &snapshotActor{
		storage:           snapStorage,
		machine:           snapshotMachine,
		epoch:             epoch,
		lastSnapshotEpoch: epoch,
		snapshotInterval:  cfg.SnapshotInterval,
		batchSize:         cfg.SnapshotBatchSize,
		proposalCh:        proposalQueue.Out(),
		minEpochQueue:     watermarkQueue,
		epochGauge:        metrics.DefaultRegistry.GetOrRegisterGauge("psm/snapshot/epoch"),
	}

	var g errgroup.Group
	g.Go(runActor("machine", mAct.serve))
	g.Go(runActor("snapshot", sAct.serve))

	writer, recoveredEpoch, err := runRecovery(journalReader, epoch, machineReqCh, proposalQueue)
	if err != nil {
		return nil, err
	}
	// Only now, after every pre-crash mutation has reached both the
	// machine and snapshot actors, is it safe to publish persisted_epoch:
	// publishing earlier would let a concurrent reader observe the
	// watermark before the in-memory state it promises is actually there.
	persisted.Store(recoveredEpoch)

	jAct := &journalActor{
		writer:         writer,
		persisted:      persisted,
		requestCh:      journalReqCh,
		minEpochCh:     watermarkQueue.Out(),
		machineCh:      machineReqCh,
		snapshotQueue:  proposalQueue,
		batchSize:      cfg.JournalBatchSize,
		queueGauge:     metrics.DefaultRegistry.GetOrRegisterGauge("psm/journal/queue"),
	}
	g.Go(runActor("journal", jAct.serve))

	go func() {
		if err := g.Wait(); err != nil {
			log.Crit("psm: actor exited", "err", err)
		}
	}()

	log.Info("psm recovered and serving", "epoch", recoveredEpoch)

	return &Handle{journalReq: journalReqCh, machineReq: machineReqCh, persisted: persisted}, nil
}
