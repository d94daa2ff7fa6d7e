// Copyright 2015 Google Inc. All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backtrace

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
)

// CoreFrame is one frame of a core-dump stacktrace. Core traces have
// no textual input form; they are built from a debugger trace plus a
// build-id mapping, or deserialized from a document.
type CoreFrame struct {
	// Address is meaningful only when AddressKnown. A known address
	// of 0 is a literal null jump, not an unknown address.
	Address      uint64
	AddressKnown bool

	BuildID string
	// BuildIDOffset is meaningful only when HasBuildIDOffset, which
	// in turn requires BuildID to be present.
	BuildIDOffset    uint64
	HasBuildIDOffset bool

	FunctionName string
	FileName     string

	// Fingerprint may hold a raw or hashed frame fingerprint;
	// FingerprintHashed tells which. No parser produces it:
	// fingerprint generation is disabled.
	Fingerprint       string
	FingerprintHashed bool
}

func (f *CoreFrame) Type() ReportType { return ReportCore }

func (f *CoreFrame) Duplicate() Frame { return deepcopy.Copy(f).(*CoreFrame) }

func (f *CoreFrame) functionName() (string, bool) {
	if f.FunctionName == "" || f.FunctionName == "??" {
		return f.FunctionName, false
	}
	return f.FunctionName, true
}

func (f *CoreFrame) libraryName() string { return f.FileName }

func (f *CoreFrame) address() (uint64, bool) { return f.Address, f.AddressKnown }

func (f *CoreFrame) qualityOK() bool {
	_, known := f.functionName()
	return known
}

func (f *CoreFrame) hiddenInShortText() bool { return false }

func (f *CoreFrame) AppendToText(buf *bytes.Buffer) {
	if f.AddressKnown {
		fmt.Fprintf(buf, "0x%x", f.Address)
	} else {
		buf.WriteString("??")
	}
	if f.FunctionName != "" {
		fmt.Fprintf(buf, " %s", f.FunctionName)
	}
	if f.BuildID != "" {
		fmt.Fprintf(buf, " %s", f.BuildID)
		if f.HasBuildIDOffset {
			fmt.Fprintf(buf, "+0x%x", f.BuildIDOffset)
		}
	}
	if f.FileName != "" {
		fmt.Fprintf(buf, " %s", f.FileName)
	}
	buf.WriteByte('\n')
}

// Compare is a full lexicographic order: build id and offset, then
// symbol identity, then fingerprint, then the raw address.
func (f *CoreFrame) Compare(other Frame) int {
	if c := compareTypes(ReportCore, other.Type()); c != 0 {
		return c
	}
	o := other.(*CoreFrame)
	if c := cmpString(f.BuildID, o.BuildID); c != 0 {
		return c
	}
	if c := cmpOptUint64(f.BuildIDOffset, f.HasBuildIDOffset, o.BuildIDOffset, o.HasBuildIDOffset); c != 0 {
		return c
	}
	if c := cmpString(f.FunctionName, o.FunctionName); c != 0 {
		return c
	}
	if c := cmpString(f.FileName, o.FileName); c != 0 {
		return c
	}
	if c := cmpString(f.Fingerprint, o.Fingerprint); c != 0 {
		return c
	}
	if c := cmpBool(f.FingerprintHashed, o.FingerprintHashed); c != 0 {
		return c
	}
	return cmpOptUint64(f.Address, f.AddressKnown, o.Address, o.AddressKnown)
}

// CompareDistance matches frames by build id and offset when both
// carry them, falling back to symbol identity. Addresses never
// participate; frames without any identity never compare equal.
func (f *CoreFrame) CompareDistance(other Frame) int {
	if c := compareTypes(ReportCore, other.Type()); c != 0 {
		return c
	}
	o := other.(*CoreFrame)
	if f.BuildID != "" && f.HasBuildIDOffset && o.BuildID != "" && o.HasBuildIDOffset {
		if c := cmpString(f.BuildID, o.BuildID); c != 0 {
			return c
		}
		return cmpUint64(f.BuildIDOffset, o.BuildIDOffset)
	}
	fn, fKnown := f.functionName()
	on, oKnown := o.functionName()
	if !fKnown || !oKnown {
		return 1
	}
	if c := cmpString(fn, on); c != 0 {
		return c
	}
	return cmpString(f.FileName, o.FileName)
}

// CoreThread is one thread of a core-dump stacktrace.
type CoreThread struct {
	ID int64

	frames []Frame
}

func (t *CoreThread) Type() ReportType { return ReportCore }

func (t *CoreThread) Frames() []Frame { return t.frames }

func (t *CoreThread) SetFrames(frames []Frame) {
	checkFrameTypes(ReportCore, frames)
	t.frames = frames
}

func (t *CoreThread) FrameCount() int { return len(t.frames) }

func (t *CoreThread) RemoveFrame(i int) bool {
	var ok bool
	t.frames, ok = removeFrameAt(t.frames, i)
	return ok
}

func (t *CoreThread) RemoveFramesAbove(i int) bool {
	var ok bool
	t.frames, ok = removeAbove(t.frames, i)
	return ok
}

func (t *CoreThread) Duplicate() Thread {
	return &CoreThread{ID: t.ID, frames: duplicateFrames(t.frames)}
}

func (t *CoreThread) Compare(other Thread) int {
	if c := compareTypes(ReportCore, other.Type()); c != 0 {
		return c
	}
	o := other.(*CoreThread)
	if c := cmpUint64(uint64(t.ID), uint64(o.ID)); c != 0 {
		return c
	}
	return compareFrameLists(t.frames, o.frames, false)
}

func (t *CoreThread) AppendToText(buf *bytes.Buffer) {
	fmt.Fprintf(buf, "Thread %d:\n", t.ID)
	for _, f := range t.frames {
		f.AppendToText(buf)
	}
}

func (t *CoreThread) threadID() int64 { return t.ID }

// CoreStacktrace is a core-dump report.
type CoreStacktrace struct {
	Signal     uint16
	Executable string

	// OnlyCrashThread marks incomplete reports that carry nothing
	// but the faulting thread.
	OnlyCrashThread bool

	// CrashThreadIndex points into the thread list; -1 when the
	// faulting thread is unknown.
	CrashThreadIndex int

	threads []*CoreThread
}

func (st *CoreStacktrace) Type() ReportType { return ReportCore }

func (st *CoreStacktrace) Threads() []Thread {
	threads := make([]Thread, len(st.threads))
	for i, t := range st.threads {
		threads[i] = t
	}
	return threads
}

// CoreThreads returns the typed thread list.
func (st *CoreStacktrace) CoreThreads() []*CoreThread { return st.threads }

// AppendThread adds a thread to the report.
func (st *CoreStacktrace) AppendThread(t *CoreThread) { st.threads = append(st.threads, t) }

func (st *CoreStacktrace) crashThread() (Thread, bool) {
	if st.CrashThreadIndex >= 0 && st.CrashThreadIndex < len(st.threads) {
		return st.threads[st.CrashThreadIndex], true
	}
	if len(st.threads) == 1 {
		return st.threads[0], true
	}
	return nil, false
}

func (st *CoreStacktrace) Duplicate() Stacktrace {
	dup := &CoreStacktrace{
		Signal:           st.Signal,
		Executable:       st.Executable,
		OnlyCrashThread:  st.OnlyCrashThread,
		CrashThreadIndex: st.CrashThreadIndex,
	}
	for _, t := range st.threads {
		dup.threads = append(dup.threads, t.Duplicate().(*CoreThread))
	}
	return dup
}

func (st *CoreStacktrace) Compare(other Stacktrace) int {
	if c := compareTypes(ReportCore, other.Type()); c != 0 {
		return c
	}
	o := other.(*CoreStacktrace)
	if c := cmpUint64(uint64(st.Signal), uint64(o.Signal)); c != 0 {
		return c
	}
	if c := cmpString(st.Executable, o.Executable); c != 0 {
		return c
	}
	aCrash, aok := st.crashThread()
	bCrash, bok := o.crashThread()
	if c := cmpBool(aok, bok); c != 0 {
		return c
	}
	if aok {
		if c := aCrash.Compare(bCrash); c != 0 {
			return c
		}
	}
	return compareThreadLists(sortedByID(st.Threads()), sortedByID(o.Threads()))
}

func (st *CoreStacktrace) AppendToText(buf *bytes.Buffer) {
	if st.Executable != "" {
		fmt.Fprintf(buf, "Executable: %s\n", st.Executable)
	}
	if st.Signal != 0 {
		fmt.Fprintf(buf, "Signal: %d\n", st.Signal)
	}
	for _, t := range st.threads {
		t.AppendToText(buf)
	}
}

// unstripEntry is one mapped region from eu-unstrip output.
type unstripEntry struct {
	start   uint64
	length  uint64
	buildID string
	file    string
}

// NewCoreStacktrace builds a core-dump stacktrace from the textual
// debugger trace of the dump and the address map produced by
// eu-unstrip ("0xSTART+0xLEN BUILDID[@ADDR] FILE DEBUGFILE NAME" per
// line).
func NewCoreStacktrace(gdbText, unstripText, executable string) (*CoreStacktrace, error) {
	gdb, err := ParseGdbStacktrace(gdbText)
	if err != nil {
		return nil, errors.Wrap(err, "parsing debugger trace")
	}
	entries, err := parseUnstrip(unstripText)
	if err != nil {
		return nil, errors.Wrap(err, "parsing unstrip map")
	}
	st := &CoreStacktrace{Executable: executable, CrashThreadIndex: -1}
	if crash, ok := gdb.crashThread(); ok {
		for i, t := range gdb.GdbThreads() {
			if Thread(t) == crash {
				st.CrashThreadIndex = i
			}
		}
	}
	for _, gt := range gdb.GdbThreads() {
		thread := &CoreThread{ID: int64(gt.TID)}
		if thread.ID == 0 {
			thread.ID = int64(gt.Number)
		}
		for _, f := range gt.Frames() {
			gf := f.(*GdbFrame)
			frame := &CoreFrame{
				Address:      gf.Address,
				AddressKnown: gf.AddressKnown,
			}
			if fn, known := gf.functionName(); known {
				frame.FunctionName = fn
			}
			if gf.AddressKnown {
				if e := lookupUnstrip(entries, gf.Address); e != nil {
					frame.BuildID = e.buildID
					frame.BuildIDOffset = gf.Address - e.start
					frame.HasBuildIDOffset = true
					frame.FileName = e.file
				}
			}
			thread.frames = append(thread.frames, frame)
		}
		st.threads = append(st.threads, thread)
	}
	glog.V(1).Infof("core: built %d threads from debugger trace", len(st.threads))
	return st, nil
}

func parseUnstrip(text string) ([]*unstripEntry, error) {
	var entries []*unstripEntry
	for lineno, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, errors.Errorf("unstrip line %d: expected at least 3 fields", lineno+1)
		}
		rng := strings.SplitN(fields[0], "+", 2)
		if len(rng) != 2 {
			return nil, errors.Errorf("unstrip line %d: expected START+LENGTH", lineno+1)
		}
		start, ok := parseHexString(rng[0])
		if !ok {
			return nil, errors.Errorf("unstrip line %d: bad start address %q", lineno+1, rng[0])
		}
		length, ok := parseHexString(rng[1])
		if !ok {
			return nil, errors.Errorf("unstrip line %d: bad length %q", lineno+1, rng[1])
		}
		buildID := fields[1]
		if i := strings.IndexByte(buildID, '@'); i >= 0 {
			buildID = buildID[:i]
		}
		entry := &unstripEntry{start: start, length: length, buildID: buildID}
		if fields[2] != "-" {
			entry.file = fields[2]
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].start < entries[j].start })
	return entries, nil
}

func parseHexString(text string) (uint64, bool) {
	s := newScanner(text)
	v, ok := s.parseHex()
	if !ok {
		v, ok = s.parseBareHex()
	}
	return v, ok && s.eof()
}

func lookupUnstrip(entries []*unstripEntry, addr uint64) *unstripEntry {
	for _, e := range entries {
		if e.start <= addr && addr < e.start+e.length {
			return e
		}
	}
	return nil
}
