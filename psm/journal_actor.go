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
	"github.com/raydb/rayd/journal"
	"github.com/raydb/rayd/log"
	"github.com/raydb/rayd/metrics"
)

// journalActor owns the on-disk journal. It batches pending
// persistRequests, assigns each a monotonically increasing epoch,
// appends and fsyncs them as a batch, then forwards each as a Proposal
// to the machine and snapshot actors.
type journalActor struct {
	writer        journal.Writer
	persisted     *persistedEpoch
	requestCh     <-chan persistRequest
	minEpochCh    <-chan uint64
	machineCh     chan<- machineRequest
	snapshotQueue *proposalQueue
	batchSize     int
	queueGauge    metrics.Gauge
}

// batch is the outcome of one serveBatch call: either a new min-epoch
// watermark, or a (possibly empty) batch of pending mutations.
type batch struct {
	minEpoch  *uint64
	mutations []persistRequest
}

func (a *journalActor) serve() {
	for {
		a.queueGauge.Update(int64(len(a.requestCh)))
		b := a.serveBatch()
		if b.minEpoch != nil {
			a.handleMinEpoch(*b.minEpoch)
			continue
		}
		if len(b.mutations) == 0 {
			continue
		}
		a.persistBatch(b.mutations)
	}
}

// serveBatch waits for either the next watermark or the first pending
// mutation, then (in the mutation case) drains up to batchSize-1 more
// mutations without blocking, so a burst of concurrent Sets is persisted
// together under one fsync.
func (a *journalActor) serveBatch() batch {
	select {
	case e, ok := <-a.minEpochCh:
		if !ok {
			log.Crit("journal actor: min-epoch channel closed")
		}
		return batch{minEpoch: &e}
	case req, ok := <-a.requestCh:
		if !ok {
			log.Crit("journal actor: request channel closed")
		}
		reqs := []persistRequest{req}
		for len(reqs) < a.batchSize {
			select {
			case more, ok := <-a.requestCh:
				if !ok {
					log.Crit("journal actor: request channel closed")
				}
				reqs = append(reqs, more)
			default:
				return batch{mutations: reqs}
			}
		}
		return batch{mutations: reqs}
	}
}

func (a *journalActor) persistBatch(reqs []persistRequest) {
	epoch := a.persisted.Load()
	proposals := make([]Proposal, len(reqs))
	for i, req := range reqs {
		epoch++
		proposals[i] = Proposal{Mutation: req.mutation, Epoch: epoch, TraceID: req.traceID}
		if err := a.writer.Append(journal.EncodeBlob(req.mutation, epoch)); err != nil {
			log.Crit("journal actor: append failed", "epoch", epoch, "err", err)
		}
	}
	if err := a.writer.Persist(); err != nil {
		log.Crit("journal actor: persist failed", "err", err)
	}
	a.persisted.Store(epoch)

	for _, req := range reqs {
		close(req.notify)
	}
	for _, p := range proposals {
		a.snapshotQueue.Send(p)
		p := p // avoid aliasing the loop variable across sends
		a.machineCh <- machineRequest{proposal: &p}
	}
}

// handleMinEpoch disposes of journal files that are no longer needed to
// recover any epoch at or after minEpoch.
func (a *journalActor) handleMinEpoch(minEpoch uint64) {
	persisted := a.persisted.Load()
	if minEpoch > persisted+1 {
		log.Crit("journal actor: watermark ahead of persisted epoch", "min_epoch", minEpoch, "persisted_epoch", persisted)
	}
	keep := persisted + 1 - minEpoch
	total := uint64(a.writer.BlobCount())
	if total <= keep {
		return
	}
	if err := a.writer.DisposeOldest(int(total - keep)); err != nil {
		log.Crit("journal actor: dispose oldest failed", "err", err)
	}
}
