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
	"strings"

	"github.com/golang/glog"
	"github.com/mohae/deepcopy"
)

// JavaFrame is one entry of a managed-runtime thread. A frame is
// either a method frame or an exception header; headers interleave
// with method frames to express chained causes.
type JavaFrame struct {
	// Name is the fully qualified method name, or the fully
	// qualified exception type for a header.
	Name string

	// FileName and FileLine locate a method frame's source. Both
	// stay empty on headers and native methods.
	FileName string
	FileLine int

	// ClassPath is the jar or class file the method was loaded
	// from, when printed.
	ClassPath string

	IsNative    bool
	IsException bool

	// Message is the human text after the exception type on a
	// header.
	Message string

	// FoldCount is the N of a "... N more" marker: how many frames
	// of this header's chain were folded into the enclosing chain.
	FoldCount int
}

func (f *JavaFrame) Type() ReportType { return ReportJava }

func (f *JavaFrame) Duplicate() Frame { return deepcopy.Copy(f).(*JavaFrame) }

func (f *JavaFrame) functionName() (string, bool) {
	return f.Name, f.Name != ""
}

func (f *JavaFrame) libraryName() string { return f.ClassPath }

func (f *JavaFrame) address() (uint64, bool) { return 0, false }

// qualityOK follows the managed predicate: a native method is usable
// even without a file name.
func (f *JavaFrame) qualityOK() bool {
	return f.IsNative || f.FileName != ""
}

func (f *JavaFrame) hiddenInShortText() bool { return false }

func (f *JavaFrame) AppendToText(buf *bytes.Buffer) {
	if f.IsException {
		buf.WriteString(f.Name)
		if f.Message != "" {
			fmt.Fprintf(buf, ": %s", f.Message)
		}
		buf.WriteByte('\n')
		if f.FoldCount > 0 {
			fmt.Fprintf(buf, "\t... %d more\n", f.FoldCount)
		}
		return
	}
	fmt.Fprintf(buf, "\tat %s(", f.Name)
	switch {
	case f.IsNative:
		buf.WriteString("Native Method")
	case f.FileName == "":
		buf.WriteString("Unknown Source")
	case f.FileLine > 0:
		fmt.Fprintf(buf, "%s:%d", f.FileName, f.FileLine)
	default:
		buf.WriteString(f.FileName)
	}
	buf.WriteString(")")
	if f.ClassPath != "" {
		fmt.Fprintf(buf, " [file:%s]", f.ClassPath)
	}
	buf.WriteByte('\n')
}

// Compare orders managed frames by name, source location, class
// path, the frame kind flags and the message.
func (f *JavaFrame) Compare(other Frame) int {
	if c := compareTypes(ReportJava, other.Type()); c != 0 {
		return c
	}
	o := other.(*JavaFrame)
	if c := cmpString(f.Name, o.Name); c != 0 {
		return c
	}
	if c := cmpString(f.FileName, o.FileName); c != 0 {
		return c
	}
	if c := cmpInt(f.FileLine, o.FileLine); c != 0 {
		return c
	}
	if c := cmpString(f.ClassPath, o.ClassPath); c != 0 {
		return c
	}
	if c := cmpBool(f.IsNative, o.IsNative); c != 0 {
		return c
	}
	if c := cmpBool(f.IsException, o.IsException); c != 0 {
		return c
	}
	if c := cmpString(f.Message, o.Message); c != 0 {
		return c
	}
	return cmpInt(f.FoldCount, o.FoldCount)
}

// CompareDistance ignores source locations and messages; line
// numbers shift with every recompile and messages embed run-specific
// values.
func (f *JavaFrame) CompareDistance(other Frame) int {
	if c := compareTypes(ReportJava, other.Type()); c != 0 {
		return c
	}
	o := other.(*JavaFrame)
	if c := cmpString(f.Name, o.Name); c != 0 {
		return c
	}
	if c := cmpString(f.ClassPath, o.ClassPath); c != 0 {
		return c
	}
	return cmpBool(f.IsException, o.IsException)
}

// JavaException is one link of a reconstructed exception chain.
type JavaException struct {
	Name    string
	Message string
	Frames  []*JavaFrame
	// FoldCount is how many of this chain's frames were folded into
	// the enclosing chain by "... N more".
	FoldCount int
}

// JavaThread is one thread of a managed-runtime report: a flat frame
// list interleaving exception headers with method frames, innermost
// cause first.
type JavaThread struct {
	// Name is the thread name from the "Exception in thread" prefix,
	// empty when the report had none.
	Name string

	frames []Frame
}

func (t *JavaThread) Type() ReportType { return ReportJava }

func (t *JavaThread) Frames() []Frame { return t.frames }

func (t *JavaThread) SetFrames(frames []Frame) {
	checkFrameTypes(ReportJava, frames)
	t.frames = frames
}

func (t *JavaThread) FrameCount() int { return len(t.frames) }

func (t *JavaThread) RemoveFrame(i int) bool {
	var ok bool
	t.frames, ok = removeFrameAt(t.frames, i)
	return ok
}

func (t *JavaThread) RemoveFramesAbove(i int) bool {
	var ok bool
	t.frames, ok = removeAbove(t.frames, i)
	return ok
}

func (t *JavaThread) Duplicate() Thread {
	return &JavaThread{Name: t.Name, frames: duplicateFrames(t.frames)}
}

func (t *JavaThread) Compare(other Thread) int {
	if c := compareTypes(ReportJava, other.Type()); c != 0 {
		return c
	}
	o := other.(*JavaThread)
	if c := cmpString(t.Name, o.Name); c != 0 {
		return c
	}
	return compareFrameLists(t.frames, o.frames, false)
}

func (t *JavaThread) AppendToText(buf *bytes.Buffer) {
	if t.Name != "" {
		fmt.Fprintf(buf, "Exception in thread \"%s\" ", t.Name)
	}
	for _, f := range t.frames {
		f.AppendToText(buf)
	}
}

func (t *JavaThread) threadID() int64 { return 0 }

// Exceptions reconstructs the exception chain from the flat frame
// list, innermost cause first.
func (t *JavaThread) Exceptions() []*JavaException {
	var chain []*JavaException
	var current *JavaException
	for _, f := range t.frames {
		frame := f.(*JavaFrame)
		if frame.IsException {
			current = &JavaException{
				Name:      frame.Name,
				Message:   frame.Message,
				FoldCount: frame.FoldCount,
			}
			chain = append(chain, current)
			continue
		}
		if current != nil {
			current.Frames = append(current.Frames, frame)
		}
	}
	return chain
}

// JavaStacktrace is a managed-runtime report: usually a single
// thread carrying an exception chain.
type JavaStacktrace struct {
	threads []*JavaThread
}

func (st *JavaStacktrace) Type() ReportType { return ReportJava }

func (st *JavaStacktrace) Threads() []Thread {
	threads := make([]Thread, len(st.threads))
	for i, t := range st.threads {
		threads[i] = t
	}
	return threads
}

// JavaThreads returns the typed thread list.
func (st *JavaStacktrace) JavaThreads() []*JavaThread { return st.threads }

// AppendThread adds a thread to the report.
func (st *JavaStacktrace) AppendThread(t *JavaThread) { st.threads = append(st.threads, t) }

func (st *JavaStacktrace) crashThread() (Thread, bool) {
	if len(st.threads) == 0 {
		return nil, false
	}
	return st.threads[0], true
}

func (st *JavaStacktrace) Duplicate() Stacktrace {
	dup := &JavaStacktrace{}
	for _, t := range st.threads {
		dup.threads = append(dup.threads, t.Duplicate().(*JavaThread))
	}
	return dup
}

func (st *JavaStacktrace) Compare(other Stacktrace) int {
	if c := compareTypes(ReportJava, other.Type()); c != 0 {
		return c
	}
	o := other.(*JavaStacktrace)
	return compareThreadLists(st.Threads(), o.Threads())
}

func (st *JavaStacktrace) AppendToText(buf *bytes.Buffer) {
	for _, t := range st.threads {
		t.AppendToText(buf)
	}
}

// ParseJavaStacktrace parses a managed-runtime exception report:
// one or more threads, each an exception chain.
func ParseJavaStacktrace(input string) (*JavaStacktrace, error) {
	s := newScanner(input)
	st := &JavaStacktrace{}
	for !s.eof() {
		save := s.save()
		s.skipWhitespace()
		if s.eatNewline() {
			continue
		}
		s.restore(save)
		thread, err := parseJavaThread(s)
		if err != nil {
			if len(st.threads) > 0 {
				// Trailing text after a complete thread is not an
				// error; the report often ends with log noise.
				break
			}
			return nil, err
		}
		st.threads = append(st.threads, thread)
	}
	if len(st.threads) == 0 {
		return nil, &ParseError{Line: 1, Column: 1, Message: "expected exception chain"}
	}
	return st, nil
}

// javaChain is one textual exception chain before flattening.
type javaChain struct {
	header *JavaFrame
	frames []Frame
}

// parseJavaThread parses an optional `Exception in thread "name" `
// prefix and the chain after it, flattening the chain innermost
// cause first.
func parseJavaThread(s *scanner) (*JavaThread, error) {
	thread := &JavaThread{}
	if s.matchLiteral("Exception in thread \"") {
		thread.Name = s.takeCspan("\"\n")
		if !s.matchLiteral("\"") {
			return nil, expected("closing quote of thread name", s)
		}
		s.skipWhitespace()
	}
	var chains []javaChain
	for {
		chain, err := parseJavaChain(s)
		if err != nil {
			return nil, err
		}
		chains = append(chains, chain)
		save := s.save()
		s.skipWhitespace()
		if s.matchLiteral("Caused by: ") {
			continue
		}
		s.restore(save)
		break
	}
	// The textual form lists the outermost exception first; the
	// model wants the innermost cause at index 0.
	for i := len(chains) - 1; i >= 0; i-- {
		thread.frames = append(thread.frames, chains[i].header)
		thread.frames = append(thread.frames, chains[i].frames...)
	}
	glog.V(2).Infof("java: thread %q with %d chains", thread.Name, len(chains))
	return thread, nil
}

// parseJavaChain parses one header line, its "\tat ..." frames and
// an optional "... N more" marker.
func parseJavaChain(s *scanner) (javaChain, error) {
	var chain javaChain
	header, err := parseJavaExceptionHeader(s)
	if err != nil {
		return chain, err
	}
	chain.header = header
	for {
		save := s.save()
		s.skipWhitespace()
		if s.matchLiteral("... ") {
			n, ok := s.parseUint()
			if !ok || !s.matchLiteral(" more") {
				return chain, expected("\"N more\" after \"...\"", s)
			}
			header.FoldCount = int(n)
			s.skipWhitespace()
			s.eatNewline()
			break
		}
		if !s.matchLiteral("at ") {
			s.restore(save)
			break
		}
		frame, err := parseJavaMethodFrame(s)
		if err != nil {
			return chain, err
		}
		chain.frames = append(chain.frames, frame)
	}
	if len(chain.frames) == 0 {
		return chain, expected("at least one method frame", s)
	}
	return chain, nil
}

// parseJavaExceptionHeader parses `qualified.Name[: message]`.
func parseJavaExceptionHeader(s *scanner) (*JavaFrame, error) {
	s.skipWhitespace()
	name := strings.TrimRight(s.takeCspan(":\n"), " \t")
	if name == "" {
		return nil, expected("exception name", s)
	}
	frame := &JavaFrame{Name: name, IsException: true}
	if s.matchLiteral(":") {
		s.skipWhitespace()
		frame.Message = strings.TrimRight(s.takeCspan("\n"), " \t")
	}
	s.eatNewline()
	return frame, nil
}

// parseJavaMethodFrame parses the remainder of a "\tat
// name(location)" line; the "at " literal is already consumed.
func parseJavaMethodFrame(s *scanner) (*JavaFrame, error) {
	s.skipWhitespace()
	name := s.takeCspan("(\n")
	if name == "" || s.peek() != '(' {
		return nil, expected("qualified method name", s)
	}
	frame := &JavaFrame{Name: strings.TrimRight(name, " \t")}
	s.advance(1)
	location := s.takeCspan(")\n")
	if !s.matchLiteral(")") {
		return nil, expected("closing ')' of source location", s)
	}
	switch location {
	case "Native Method":
		frame.IsNative = true
	case "Unknown Source", "":
	default:
		if i := strings.LastIndexByte(location, ':'); i >= 0 {
			if line, ok := atoui(location[i+1:]); ok {
				frame.FileName = location[:i]
				frame.FileLine = line
				break
			}
		}
		frame.FileName = location
	}
	// Optional " [file:/path/to.jar]" class-path suffix.
	save := s.save()
	s.skipWhitespace()
	if s.matchLiteral("[") {
		cp := s.takeCspan("]\n")
		if s.matchLiteral("]") {
			frame.ClassPath = strings.TrimPrefix(cp, "file:")
		} else {
			s.restore(save)
		}
	} else {
		s.restore(save)
	}
	s.skipWhitespace()
	s.eatNewline()
	return frame, nil
}
