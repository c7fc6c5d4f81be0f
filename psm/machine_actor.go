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
	"container/heap"
	"fmt"

	"github.com/raydb/rayd/log"
	"github.com/raydb/rayd/metrics"
)

// deferredQuery is a query whose minEpoch has not yet been reached,
// parked in a min-heap keyed by minEpoch until the machine catches up.
type deferredQuery struct {
	query    []byte
	minEpoch uint64
	reply    chan []byte
}

type queryHeap []*deferredQuery

func (h queryHeap) Len() int            { return len(h) }
func (h queryHeap) Less(i, j int) bool  { return h[i].minEpoch < h[j].minEpoch }
func (h queryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *queryHeap) Push(x interface{}) { *h = append(*h, x.(*deferredQuery)) }
func (h *queryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// machineActor owns the single in-memory, linearizable Machine instance.
// It applies Proposals in strict epoch order and answers queries once
// its epoch has reached their minEpoch.
type machineActor struct {
	machine    Machine
	epoch      uint64
	requestCh  <-chan machineRequest
	pending    queryHeap
	queueGauge metrics.Gauge
	epochGauge metrics.Gauge
}

func (a *machineActor) serve() {
	for {
		a.queueGauge.Update(int64(len(a.requestCh)))
		req, ok := <-a.requestCh
		if !ok {
			log.Crit("machine actor: request channel closed")
		}
		if req.proposal != nil {
			a.applyProposal(*req.proposal)
		} else {
			a.handleQuery(req.query)
		}
	}
}

func (a *machineActor) applyProposal(p Proposal) {
	if p.Epoch != a.epoch+1 {
		panic(fmt.Errorf("machine actor: epoch gap: expected %d, got %d, trace_id %s", a.epoch+1, p.Epoch, p.TraceID.String()))
	}
	a.machine.Apply(p.Mutation)
	a.epoch = p.Epoch
	a.epochGauge.Update(int64(a.epoch))

	for a.pending.Len() > 0 && a.pending[0].minEpoch <= a.epoch {
		dq := heap.Pop(&a.pending).(*deferredQuery)
		a.answer(dq.query, dq.reply)
	}
}

func (a *machineActor) handleQuery(q *queryPayload) {
	if a.epoch >= q.minEpoch {
		a.answer(q.query, q.reply)
		return
	}
	heap.Push(&a.pending, &deferredQuery{query: q.query, minEpoch: q.minEpoch, reply: q.reply})
}

func (a *machineActor) answer(query []byte, reply chan []byte) {
	// reply is always buffered with capacity 1, so this never blocks even
	// if the caller gave up waiting.
	reply <- a.machine.Query(query)
}
