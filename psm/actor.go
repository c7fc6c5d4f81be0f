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
	"runtime/debug"

	"github.com/raydb/rayd/log"
)

// runActor wraps an actor's serve loop for use with an errgroup.Group: it
// recovers any panic escaping fn, turning it into a fatal log line (with
// the stack trace attached) instead of an uncaught runtime panic. serve
// loops never return in steady state; a clean return is likewise logged
// here as fatal, since it means the actor gave up without being told to.
func runActor(name string, fn func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Crit("actor panicked", "actor", name, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn()
		log.Crit("actor returned", "actor", name)
		return fmt.Errorf("psm: actor %s returned", name)
	}
}
