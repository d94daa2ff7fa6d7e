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
	"path"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/mohae/deepcopy"
)

// GdbFrame is one frame of a debugger (gdb) backtrace.
type GdbFrame struct {
	// FunctionName may be "??" when the debugger could not resolve
	// the symbol; both "" and "??" count as unknown.
	FunctionName string

	// FunctionType is the return-type prefix printed before the
	// function name, when gdb emits one.
	FunctionType string

	// Number is the frame's position as printed after '#'.
	Number uint32

	// Arguments is the raw text between the argument parentheses.
	// It is kept opaque; the grammar inside is gdb's business.
	Arguments string

	SourceFile string
	// SourceLine is 0 when gdb printed no line.
	SourceLine int

	// SignalHandlerCalled marks the "<signal handler called>"
	// pseudo frame.
	SignalHandlerCalled bool

	// Address is meaningful only when AddressKnown; an inlined frame
	// has no address. AddressKnown with Address 0 is a literal null
	// jump, not an unknown address.
	Address      uint64
	AddressKnown bool

	// LibraryName is the shared object the address falls into,
	// resolved from the stacktrace's library table or from a
	// "from <path>" clause.
	LibraryName string
}

func (f *GdbFrame) Type() ReportType { return ReportGdb }

func (f *GdbFrame) Duplicate() Frame { return deepcopy.Copy(f).(*GdbFrame) }

func (f *GdbFrame) functionName() (string, bool) {
	if f.FunctionName == "" || f.FunctionName == "??" {
		return f.FunctionName, false
	}
	return f.FunctionName, true
}

func (f *GdbFrame) libraryName() string { return f.LibraryName }

func (f *GdbFrame) address() (uint64, bool) { return f.Address, f.AddressKnown }

func (f *GdbFrame) qualityOK() bool {
	_, known := f.functionName()
	return known
}

func (f *GdbFrame) hiddenInShortText() bool { return f.SignalHandlerCalled }

func (f *GdbFrame) AppendToText(buf *bytes.Buffer) {
	fmt.Fprintf(buf, "#%d ", f.Number)
	if f.SignalHandlerCalled {
		buf.WriteString("<signal handler called>\n")
		return
	}
	if f.AddressKnown {
		fmt.Fprintf(buf, "0x%016x in ", f.Address)
	}
	if f.FunctionType != "" {
		fmt.Fprintf(buf, "%s ", f.FunctionType)
	}
	name := f.FunctionName
	if name == "" {
		name = "??"
	}
	fmt.Fprintf(buf, "%s (%s)", name, f.Arguments)
	if f.SourceFile != "" {
		if f.SourceLine > 0 {
			fmt.Fprintf(buf, " at %s:%d", f.SourceFile, f.SourceLine)
		} else {
			fmt.Fprintf(buf, " at %s", f.SourceFile)
		}
	} else if f.LibraryName != "" {
		fmt.Fprintf(buf, " from %s", f.LibraryName)
	}
	buf.WriteByte('\n')
}

// Compare orders gdb frames by function name, function type, source
// file and line, library, the signal-handler marker, address and
// finally the frame number.
func (f *GdbFrame) Compare(other Frame) int {
	if c := compareTypes(ReportGdb, other.Type()); c != 0 {
		return c
	}
	o := other.(*GdbFrame)
	if c := cmpString(f.FunctionName, o.FunctionName); c != 0 {
		return c
	}
	if c := cmpString(f.FunctionType, o.FunctionType); c != 0 {
		return c
	}
	if c := cmpString(f.SourceFile, o.SourceFile); c != 0 {
		return c
	}
	if c := cmpInt(f.SourceLine, o.SourceLine); c != 0 {
		return c
	}
	if c := cmpString(f.LibraryName, o.LibraryName); c != 0 {
		return c
	}
	if c := cmpBool(f.SignalHandlerCalled, o.SignalHandlerCalled); c != 0 {
		return c
	}
	if c := cmpOptUint64(f.Address, f.AddressKnown, o.Address, o.AddressKnown); c != 0 {
		return c
	}
	return cmpUint64(uint64(f.Number), uint64(o.Number))
}

// CompareDistance ignores the fields that vary across otherwise
// identical runs: addresses, frame numbers, source lines and library
// version suffixes. Two frames with unknown functions never compare
// equal, so unrelated unresolved frames do not merge.
func (f *GdbFrame) CompareDistance(other Frame) int {
	if c := compareTypes(ReportGdb, other.Type()); c != 0 {
		return c
	}
	o := other.(*GdbFrame)
	fn, fKnown := f.functionName()
	on, oKnown := o.functionName()
	if !fKnown || !oKnown {
		return 1
	}
	if c := cmpString(fn, on); c != 0 {
		return c
	}
	if c := cmpString(f.SourceFile, o.SourceFile); c != 0 {
		return c
	}
	return cmpString(libraryBase(f.LibraryName), libraryBase(o.LibraryName))
}

// libraryBase reduces a shared-object path to its name without the
// version suffix, so /lib64/libc.so.6 and /lib/libc.so.6.1 match.
func libraryBase(lib string) string {
	if lib == "" {
		return ""
	}
	base := path.Base(lib)
	if i := strings.Index(base, ".so"); i >= 0 {
		base = base[:i+len(".so")]
	}
	return base
}

// GdbSharedlib is one row of the debugger's shared-library table.
type GdbSharedlib struct {
	From          uint64
	To            uint64
	SymbolsLoaded bool
	Filename      string
}

// GdbThread is one thread of a debugger backtrace.
type GdbThread struct {
	Number uint32
	// TID is the system thread id (LWP), 0 when not printed.
	TID uint32

	frames []Frame
}

func (t *GdbThread) Type() ReportType { return ReportGdb }

func (t *GdbThread) Frames() []Frame { return t.frames }

func (t *GdbThread) SetFrames(frames []Frame) {
	checkFrameTypes(ReportGdb, frames)
	t.frames = frames
}

func (t *GdbThread) FrameCount() int { return len(t.frames) }

func (t *GdbThread) RemoveFrame(i int) bool {
	var ok bool
	t.frames, ok = removeFrameAt(t.frames, i)
	return ok
}

func (t *GdbThread) RemoveFramesAbove(i int) bool {
	var ok bool
	t.frames, ok = removeAbove(t.frames, i)
	return ok
}

func (t *GdbThread) Duplicate() Thread {
	return &GdbThread{Number: t.Number, TID: t.TID, frames: duplicateFrames(t.frames)}
}

func (t *GdbThread) Compare(other Thread) int {
	if c := compareTypes(ReportGdb, other.Type()); c != 0 {
		return c
	}
	o := other.(*GdbThread)
	if c := cmpUint64(uint64(t.Number), uint64(o.Number)); c != 0 {
		return c
	}
	return compareFrameLists(t.frames, o.frames, false)
}

func (t *GdbThread) AppendToText(buf *bytes.Buffer) {
	if t.TID != 0 {
		fmt.Fprintf(buf, "Thread %d (LWP %d):\n", t.Number, t.TID)
	} else {
		fmt.Fprintf(buf, "Thread %d:\n", t.Number)
	}
	for _, f := range t.frames {
		f.AppendToText(buf)
	}
}

func (t *GdbThread) threadID() int64 { return int64(t.Number) }

// GdbStacktrace is a full debugger backtrace: threads, an optional
// detached crash frame and the shared-library table.
type GdbStacktrace struct {
	// CrashFrame is the lone frame some reports print after the last
	// thread. It may or may not correspond to a frame inside one of
	// the threads.
	CrashFrame *GdbFrame

	Libraries []*GdbSharedlib

	threads []*GdbThread
}

func (st *GdbStacktrace) Type() ReportType { return ReportGdb }

func (st *GdbStacktrace) Threads() []Thread {
	threads := make([]Thread, len(st.threads))
	for i, t := range st.threads {
		threads[i] = t
	}
	return threads
}

// GdbThreads returns the typed thread list.
func (st *GdbStacktrace) GdbThreads() []*GdbThread { return st.threads }

// AppendThread adds a thread at the outer end of the trace.
func (st *GdbStacktrace) AppendThread(t *GdbThread) { st.threads = append(st.threads, t) }

func (st *GdbStacktrace) Duplicate() Stacktrace {
	dup := &GdbStacktrace{}
	if st.CrashFrame != nil {
		dup.CrashFrame = st.CrashFrame.Duplicate().(*GdbFrame)
	}
	for _, lib := range st.Libraries {
		dup.Libraries = append(dup.Libraries, deepcopy.Copy(lib).(*GdbSharedlib))
	}
	for _, t := range st.threads {
		dup.threads = append(dup.threads, t.Duplicate().(*GdbThread))
	}
	return dup
}

func (st *GdbStacktrace) Compare(other Stacktrace) int {
	if c := compareTypes(ReportGdb, other.Type()); c != 0 {
		return c
	}
	o := other.(*GdbStacktrace)
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

func sortedByID(threads []Thread) []Thread {
	sorted := append([]Thread(nil), threads...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].threadID() < sorted[j].threadID()
	})
	return sorted
}

func (st *GdbStacktrace) AppendToText(buf *bytes.Buffer) {
	for _, t := range st.threads {
		t.AppendToText(buf)
	}
	if st.CrashFrame != nil {
		buf.WriteByte('\n')
		st.CrashFrame.AppendToText(buf)
	}
}

// crashThread finds the thread whose innermost frame matches the
// detached crash frame under the distance comparator. Ties go to the
// lowest thread number. A single-threaded trace is its own crash
// thread.
func (st *GdbStacktrace) crashThread() (Thread, bool) {
	if len(st.threads) == 1 {
		return st.threads[0], true
	}
	if st.CrashFrame == nil {
		return nil, false
	}
	var found *GdbThread
	for _, t := range st.threads {
		if len(t.frames) == 0 {
			continue
		}
		if t.frames[0].CompareDistance(st.CrashFrame) != 0 {
			continue
		}
		if found == nil || t.Number < found.Number {
			found = t
		}
	}
	if found == nil {
		return nil, false
	}
	return found, true
}

// RemoveThreadsExceptOne drops every thread but the one given,
// typically the crash thread. Reports whether the thread belongs to
// the stacktrace; the trace is unchanged when it does not.
func (st *GdbStacktrace) RemoveThreadsExceptOne(keep Thread) bool {
	for _, t := range st.threads {
		if Thread(t) == keep {
			st.threads = []*GdbThread{t}
			return true
		}
	}
	return false
}

// ResolveLibraryNames fills each frame's LibraryName from the
// shared-library table by address-range lookup. The table itself is
// never modified.
func (st *GdbStacktrace) ResolveLibraryNames() {
	for _, t := range st.threads {
		for _, f := range t.frames {
			frame := f.(*GdbFrame)
			if !frame.AddressKnown || frame.LibraryName != "" {
				continue
			}
			for _, lib := range st.Libraries {
				if lib.From <= frame.Address && frame.Address <= lib.To {
					frame.LibraryName = lib.Filename
					break
				}
			}
		}
	}
}

// ParseGdbStacktrace parses the textual output of a debugger
// backtrace: an optional preamble, one or more threads of frames, an
// optional detached crash frame and an optional shared-library table.
func ParseGdbStacktrace(input string) (*GdbStacktrace, error) {
	s := newScanner(input)
	st := &GdbStacktrace{}
	for !s.eof() {
		s.skipWhitespace()
		if s.eatNewline() {
			continue
		}
		switch {
		case s.peek() == '#':
			if len(st.threads) == 0 {
				// A trace printed without thread headers is a
				// single-thread trace.
				thread, err := parseGdbFrames(s)
				if err != nil {
					return nil, err
				}
				thread.Number = 1
				st.threads = append(st.threads, thread)
				continue
			}
			frame, err := parseGdbFrame(s)
			if err != nil {
				return nil, err
			}
			st.CrashFrame = frame
		case strings.HasPrefix(s.rest(), "Thread "):
			thread, err := parseGdbThread(s)
			if err != nil {
				return nil, err
			}
			st.threads = append(st.threads, thread)
		case strings.HasPrefix(s.rest(), "From "):
			parseGdbSharedlibs(s, st)
		case s.peek() == '0' && s.peekAt(1) == 'x' && len(st.threads) > 0:
			parseGdbSharedlibs(s, st)
		default:
			// Preamble and chatter between sections: "[New Thread
			// ...]", "Core was generated by ...", "Program
			// terminated with signal N, ...", warnings. None of it
			// contributes to the model.
			glog.V(3).Infof("gdb: skipping line %d", s.line)
			if !s.skipLine() {
				s.pos = len(s.input)
			}
		}
	}
	if len(st.threads) == 0 {
		return nil, &ParseError{Line: 1, Column: 1, Message: "expected at least one thread"}
	}
	st.ResolveLibraryNames()
	return st, nil
}

// parseGdbThread parses "Thread N (description):" and the frames
// under it.
func parseGdbThread(s *scanner) (*GdbThread, error) {
	if !s.matchLiteral("Thread") {
		return nil, expected("thread header", s)
	}
	if s.skipWhitespace() == 0 {
		return nil, expected("space after \"Thread\"", s)
	}
	number, ok := s.parseUint()
	if !ok {
		return nil, expected("thread number", s)
	}
	thread := &GdbThread{Number: uint32(number)}
	// The description up to the colon may carry "(LWP <tid>)".
	desc := s.takeCspan(":\n")
	if i := strings.Index(desc, "LWP "); i >= 0 {
		ds := newScanner(desc[i+len("LWP "):])
		if tid, ok := ds.parseUint(); ok {
			thread.TID = uint32(tid)
		}
	}
	if !s.matchLiteral(":") {
		return nil, expected("colon after thread header", s)
	}
	s.skipWhitespace()
	if !s.eatNewline() && !s.eof() {
		return nil, expected("newline after thread header", s)
	}
	frames, err := parseGdbFrames(s)
	if err != nil {
		return nil, err
	}
	thread.frames = frames.frames
	if len(thread.frames) == 0 {
		return nil, expected("at least one frame", s)
	}
	glog.V(2).Infof("gdb: thread %d with %d frames", thread.Number, len(thread.frames))
	return thread, nil
}

// parseGdbFrames parses a run of frames into an anonymous thread.
func parseGdbFrames(s *scanner) (*GdbThread, error) {
	thread := &GdbThread{}
	for {
		st := s.save()
		s.skipWhitespace()
		if s.peek() != '#' {
			s.restore(st)
			break
		}
		frame, err := parseGdbFrame(s)
		if err != nil {
			return nil, err
		}
		thread.frames = append(thread.frames, frame)
	}
	return thread, nil
}

// parseGdbFrame parses one "#N ..." frame, including its
// continuation lines.
func parseGdbFrame(s *scanner) (*GdbFrame, error) {
	frame := &GdbFrame{}
	number, err := parseGdbFrameStart(s)
	if err != nil {
		return nil, err
	}
	frame.Number = number

	if s.matchLiteral("<signal handler called>") {
		frame.SignalHandlerCalled = true
		finishGdbFrameLine(s)
		return frame, nil
	}

	if addr, ok := s.parseHex(); ok {
		frame.Address = addr
		frame.AddressKnown = true
		s.skipWhitespace()
		if s.matchLiteral("in ") {
			s.skipWhitespace()
			if err := parseGdbFunctionCall(s, frame); err != nil {
				return nil, err
			}
		}
	} else {
		// No address: the frame was inlined.
		if err := parseGdbFunctionCall(s, frame); err != nil {
			return nil, err
		}
	}

	for i := 0; i < 2; i++ {
		s.skipWhitespace()
		if s.matchLiteral("at ") {
			file, line := parseGdbFileLocation(s)
			frame.SourceFile = file
			frame.SourceLine = line
		} else if s.matchLiteral("from ") {
			lib, _ := parseGdbFileLocation(s)
			frame.LibraryName = lib
		}
	}
	finishGdbFrameLine(s)
	return frame, nil
}

// parseGdbFrameStart matches '#', up to ten digits and at least one
// space.
func parseGdbFrameStart(s *scanner) (uint32, error) {
	if !s.matchLiteral("#") {
		return 0, expected("'#'", s)
	}
	digits := s.takeDigits()
	if digits == "" || len(digits) > 10 {
		return 0, expected("frame number", s)
	}
	if s.skipWhitespace() == 0 {
		return 0, expected("space after frame number", s)
	}
	ds := newScanner(digits)
	n, _ := ds.parseUint()
	return uint32(n), nil
}

// parseGdbFunctionCall parses [type] name(args), where name covers
// qualified identifiers, operators, anonymous-namespace braces,
// templates and trailing "[with ...]" clauses.
func parseGdbFunctionCall(s *scanner, frame *GdbFrame) error {
	name, err := parseGdbFunctionName(s)
	if err != nil {
		return err
	}
	s.skipWhitespace()
	if s.peek() != '(' && s.peek() != '\n' && !s.eof() {
		// Another name directly before the argument list means the
		// first one was the return-type prefix. Anything else (an
		// "at"/"from" clause, end of frame) keeps the first name.
		st := s.save()
		second, err2 := parseGdbFunctionName(s)
		if err2 == nil {
			s.skipWhitespace()
		}
		if err2 == nil && s.peek() == '(' {
			frame.FunctionType = name
			name = second
		} else {
			s.restore(st)
		}
	}
	frame.FunctionName = name
	if s.peek() == '(' {
		start := s.pos
		if !s.skipBalanced('(', ')') {
			return expected("balanced argument list", s)
		}
		frame.Arguments = s.input[start+1 : s.pos-1]
	}
	return nil
}

var gdbOperators = []string{
	// Longest spellings first so "new[]" wins over "new" and "<<"
	// over "<".
	"new[]", "delete[]", "new", "delete",
	"()", "[]", "->*", "->",
	"<<=", ">>=", "<<", ">>",
	"<=", ">=", "==", "!=",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=",
	"&&", "||", "++", "--",
	"+", "-", "*", "/", "%", "&", "|", "^", "~", "!", "=", "<", ">", ",",
}

func isGdbNameByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '_' || b == '.' || b == '@' || b == '?' || b == '*' || b == '&' || b == '~':
		return true
	}
	return false
}

// parseGdbFunctionName parses "::"-separated chunks: identifiers,
// "operator" spellings, "(anonymous namespace)" braces and balanced
// "<...>" templates, with an optional trailing " [with K = V; ...]"
// clause.
func parseGdbFunctionName(s *scanner) (string, error) {
	start := s.pos
	for {
		if err := parseGdbNameChunk(s); err != nil {
			return "", err
		}
		if !s.matchLiteral("::") {
			break
		}
	}
	if s.pos == start {
		return "", expected("function name", s)
	}
	// " [with K = V; ...]" template-argument clause.
	clause := s.save()
	if s.skipWhitespace() > 0 && strings.HasPrefix(s.rest(), "[with ") {
		if !skipWithClause(s) {
			return "", expected("closing ']' of [with ...] clause", s)
		}
	} else {
		s.restore(clause)
	}
	return s.input[start:s.pos], nil
}

func parseGdbNameChunk(s *scanner) error {
	if s.peek() == '(' {
		// Braced chunk such as "(anonymous namespace)".
		if !s.skipBalanced('(', ')') {
			return expected("closing ')'", s)
		}
		return nil
	}
	if strings.HasPrefix(s.rest(), "operator") {
		st := s.save()
		s.advance(len("operator"))
		s.skipWhitespace()
		for _, op := range gdbOperators {
			if s.matchLiteral(op) {
				return nil
			}
		}
		// Not an operator spelling after all; "operator" was part of
		// an ordinary identifier.
		s.restore(st)
	}
	ident := s.takeWhile(isGdbNameByte)
	if ident == "" {
		return expected("identifier", s)
	}
	if s.peek() == '<' && !strings.HasPrefix(s.rest(), "<signal") {
		if !s.skipBalanced('<', '>') {
			return expected("closing '>'", s)
		}
	}
	return nil
}

// skipWithClause consumes "[with ...]" permitting exactly one level
// of nested brackets inside, which is what actual debugger output
// exercises; the nested text is treated as opaque.
func skipWithClause(s *scanner) bool {
	st := s.save()
	if !s.matchLiteral("[") {
		return false
	}
	depth := 1
	for !s.eof() {
		switch s.peek() {
		case '[':
			depth++
			if depth > 2 {
				s.restore(st)
				return false
			}
			s.advance(1)
		case ']':
			depth--
			s.advance(1)
			if depth == 0 {
				return true
			}
		case '\n':
			s.restore(st)
			return false
		default:
			s.advance(1)
		}
	}
	s.restore(st)
	return false
}

// parseGdbFileLocation parses "<path>[:<line>]" after "at" or
// "from".
func parseGdbFileLocation(s *scanner) (string, int) {
	file := s.takeCspan(":\n")
	line := 0
	if s.peek() == ':' {
		st := s.save()
		s.advance(1)
		if n, ok := s.parseUint(); ok {
			line = int(n)
		} else {
			s.restore(st)
		}
	}
	return strings.TrimRight(file, " \t"), line
}

// finishGdbFrameLine consumes the rest of the current frame,
// including wrapped continuation lines, up to the next frame, thread
// header, library table or blank line.
func finishGdbFrameLine(s *scanner) {
	for {
		s.skipCspan("\n")
		if !s.eatNewline() {
			return
		}
		rest := s.rest()
		if rest == "" {
			return
		}
		trimmed := strings.TrimLeft(rest, " \t")
		switch {
		case trimmed == "" || trimmed[0] == '\n' || trimmed[0] == '#':
			return
		case strings.HasPrefix(trimmed, "Thread "),
			strings.HasPrefix(trimmed, "From "),
			strings.HasPrefix(trimmed, "[New "),
			strings.HasPrefix(trimmed, "0x"):
			return
		}
		glog.V(3).Infof("gdb: frame continuation at line %d", s.line)
	}
}

// parseGdbSharedlibs parses the shared-library table: an optional
// "From To ..." header and rows of from-address, to-address, an
// optional Yes/No symbols column and the object path.
func parseGdbSharedlibs(s *scanner, st *GdbStacktrace) {
	if strings.HasPrefix(s.rest(), "From ") {
		s.skipLine()
	}
	for {
		lineStart := s.save()
		s.skipWhitespace()
		from, ok := s.parseHex()
		if !ok {
			s.restore(lineStart)
			return
		}
		if s.skipWhitespace() == 0 {
			s.restore(lineStart)
			return
		}
		to, ok := s.parseHex()
		if !ok {
			s.restore(lineStart)
			return
		}
		s.skipWhitespace()
		lib := &GdbSharedlib{From: from, To: to}
		if s.matchLiteral("Yes") {
			lib.SymbolsLoaded = true
			s.skipWhitespace()
		} else if s.matchLiteral("No") {
			s.skipWhitespace()
		}
		lib.Filename = strings.TrimRight(s.takeCspan("\n"), " \t")
		st.Libraries = append(st.Libraries, lib)
		glog.V(3).Infof("gdb: shared library %q", lib.Filename)
		if !s.eatNewline() {
			return
		}
	}
}
