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

import "github.com/raydb/rayd/metrics"

// proposalQueue is an unbounded FIFO of Proposals, exposed as a channel
// so actor loops can select on it alongside bounded request channels.
// It has to be unbounded because the snapshot actor must never apply
// backpressure onto mutation persistence.
type proposalQueue struct {
	in   chan Proposal
	out  chan Proposal
	size metrics.Gauge
}

func newProposalQueue(size metrics.Gauge) *proposalQueue {
	q := &proposalQueue{in: make(chan Proposal), out: make(chan Proposal), size: size}
	go q.pump()
	return q
}

func (q *proposalQueue) pump() {
	var buf []Proposal
	for {
		if len(buf) == 0 {
			v, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			buf = append(buf, v)
		}
		if q.size != nil {
			q.size.Update(int64(len(buf)))
		}
		select {
		case v, ok := <-q.in:
			if !ok {
				for _, item := range buf {
					q.out <- item
				}
				close(q.out)
				return
			}
			buf = append(buf, v)
		case q.out <- buf[0]:
			buf = buf[1:]
		}
	}
}

func (q *proposalQueue) Send(p Proposal)      { q.in <- p }
func (q *proposalQueue) Out() <-chan Proposal { return q.out }

// watermarkQueue is the snapshot-to-journal counterpart: an unbounded
// FIFO of min-epoch watermarks.
type watermarkQueue struct {
	in  chan uint64
	out chan uint64
}

func newWatermarkQueue() *watermarkQueue {
	q := &watermarkQueue{in: make(chan uint64), out: make(chan uint64)}
	go q.pump()
	return q
}

func (q *watermarkQueue) pump() {
	var buf []uint64
	for {
		if len(buf) == 0 {
			v, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			buf = append(buf, v)
		}
		select {
		case v, ok := <-q.in:
			if !ok {
				for _, item := range buf {
					q.out <- item
				}
				close(q.out)
				return
			}
			buf = append(buf, v)
		case q.out <- buf[0]:
			buf = buf[1:]
		}
	}
}

func (q *watermarkQueue) Send(e uint64)      { q.in <- e }
func (q *watermarkQueue) Out() <-chan uint64 { return q.out }
