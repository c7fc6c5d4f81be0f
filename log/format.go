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

package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var lvlColor = map[Lvl]*color.Color{
	LvlCrit:  color.New(color.FgMagenta, color.Bold),
	LvlError: color.New(color.FgRed),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgWhite),
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Format renders a Record as a line of text.
type Format func(r *Record) []byte

// TerminalFormat returns a Format that colorizes the level tag when color
// useColor is true (color.NoColor is also consulted so NO_COLOR/non-tty keeps
// working transparently).
func TerminalFormat(useColor bool) Format {
	return func(r *Record) []byte {
		var b strings.Builder
		ts := r.Time.Format("2006-01-02T15:04:05.000")
		lvl := r.Lvl.String()
		if useColor && !color.NoColor {
			if c, ok := lvlColor[r.Lvl]; ok {
				lvl = c.Sprint(lvl)
			}
		}
		fmt.Fprintf(&b, "%s [%-5s] %s", ts, lvl, r.Msg)
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			fmt.Fprintf(&b, " %v=%v", r.Ctx[i], r.Ctx[i+1])
		}
		if r.Call.Frame().Function != "" {
			fmt.Fprintf(&b, " caller=%s", r.Call)
		}
		b.WriteByte('\n')
		return []byte(b.String())
	}
}

// StreamHandler writes formatted records to w, serializing concurrent
// writers with a mutex (mirrors go-ethereum/log's StreamHandler).
func StreamHandler(w io.Writer, fmtr Format) Handler {
	if f, ok := w.(*os.File); ok {
		w = colorable.NewColorable(f)
	}
	h := &streamHandler{w: w, fmtr: fmtr}
	return h
}

type streamHandler struct {
	mu   sync.Mutex
	w    io.Writer
	fmtr Format
}

func (h *streamHandler) Log(r *Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(h.fmtr(r))
	return err
}

// LvlFilterHandler drops records more verbose than maxLvl before passing
// the rest through to next.
func LvlFilterHandler(maxLvl Lvl, next Handler) Handler {
	return &lvlFilterHandler{maxLvl: maxLvl, next: next}
}

type lvlFilterHandler struct {
	maxLvl Lvl
	next   Handler
}

func (h *lvlFilterHandler) Log(r *Record) error {
	if r.Lvl > h.maxLvl {
		return nil
	}
	return h.next.Log(r)
}
