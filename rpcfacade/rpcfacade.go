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

// Package rpcfacade is the thin HTTP boundary in front of a psm.Handle:
// Set and Get, plus a plain-text metrics dump.
package rpcfacade

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/raydb/rayd/kvmachine"
	"github.com/raydb/rayd/log"
	"github.com/raydb/rayd/metrics"
	"github.com/raydb/rayd/psm"
)

// Facade hosts a psm.Handle behind HTTP.
type Facade struct {
	handle  *psm.Handle
	limiter *rate.Limiter
	log     log.Logger
}

// New builds a Facade. requestsPerSecond and burst configure the
// token-bucket limiter guarding both Set and Get; 0 disables limiting.
func New(handle *psm.Handle, requestsPerSecond float64, burst int) *Facade {
	f := &Facade{handle: handle, log: log.Root().New("component", "rpcfacade")}
	if requestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return f
}

// Router builds the mux.Router serving /set, /get, and /debug/vars.
func (f *Facade) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/set/{key}", f.handleSet).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/get/{key}", f.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/debug/vars", f.handleVars).Methods(http.MethodGet)
	return r
}

func (f *Facade) allow(w http.ResponseWriter) bool {
	if f.limiter == nil {
		return true
	}
	if f.limiter.Allow() {
		return true
	}
	w.WriteHeader(http.StatusTooManyRequests)
	return false
}

func (f *Facade) handleSet(w http.ResponseWriter, r *http.Request) {
	if !f.allow(w) {
		return
	}
	key := mux.Vars(r)["key"]
	value, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start := time.Now()
	f.handle.ApplyMutation(kvmachine.EncodeSet([]byte(key), value))
	f.log.Debug("set", "key", key, "elapsed", time.Since(start))
	w.WriteHeader(http.StatusNoContent)
}

func (f *Facade) handleGet(w http.ResponseWriter, r *http.Request) {
	if !f.allow(w) {
		return
	}
	key := mux.Vars(r)["key"]
	status := f.handle.QueryState(kvmachine.EncodeQuery([]byte(key)))
	value, found, err := kvmachine.DecodeStatus(status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	w.Write(value)
}

func (f *Facade) handleVars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, name := range metrics.DefaultRegistry.Names() {
		fmt.Fprintf(w, "%s %d\n", name, metrics.DefaultRegistry.Dump()[name])
	}
}
