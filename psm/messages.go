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
	"sync/atomic"

	"github.com/pborman/uuid"
)

// persistedEpoch is the watermark RPC handlers read without going
// through the journal actor's request channel. Go's atomic load/store
// give the sequential consistency this single-writer, many-reader
// variable needs.
type persistedEpoch struct{ v uint64 }

func (p *persistedEpoch) Store(e uint64) { atomic.StoreUint64(&p.v, e) }
func (p *persistedEpoch) Load() uint64   { return atomic.LoadUint64(&p.v) }

// persistRequest is the journal actor's sole request kind: persist
// mutation durably and notify once it has been.
type persistRequest struct {
	mutation []byte
	traceID  uuid.UUID
	notify   chan struct{}
}

// queryPayload is a query awaiting an epoch new enough to answer it.
type queryPayload struct {
	query    []byte
	minEpoch uint64
	reply    chan []byte
}

// machineRequest is the machine actor's request kind: exactly one of
// proposal (a durable mutation to apply) or query (a read to answer,
// possibly once the machine catches up) is set.
type machineRequest struct {
	proposal *Proposal
	query    *queryPayload
}
