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

// KoopsFrame is one call-trace entry of a kernel oops.
type KoopsFrame struct {
	Address uint64

	// Reliable is false when the kernel marked the entry with '?',
	// meaning the address was found on the stack but may not be a
	// real return address.
	Reliable bool

	FunctionName   string
	FunctionOffset uint64
	FunctionLength uint64
	ModuleName     string

	// From* fields describe the caller when the oops line carries a
	// second address/function after "from".
	FromAddress        uint64
	FromFunctionName   string
	FromFunctionOffset uint64
	FromFunctionLength uint64
	FromModuleName     string

	// SpecialStack tags frames executing on an auxiliary stack,
	// e.g. "IRQ" or "NMI".
	SpecialStack string
}

func (f *KoopsFrame) Type() ReportType { return ReportKerneloops }

func (f *KoopsFrame) Duplicate() Frame { return deepcopy.Copy(f).(*KoopsFrame) }

func (f *KoopsFrame) functionName() (string, bool) {
	return f.FunctionName, f.FunctionName != ""
}

func (f *KoopsFrame) libraryName() string { return f.ModuleName }

func (f *KoopsFrame) address() (uint64, bool) { return f.Address, f.Address != 0 }

func (f *KoopsFrame) qualityOK() bool {
	_, known := f.functionName()
	return known
}

func (f *KoopsFrame) hiddenInShortText() bool { return false }

func (f *KoopsFrame) AppendToText(buf *bytes.Buffer) {
	if f.SpecialStack != "" {
		fmt.Fprintf(buf, "<%s> ", f.SpecialStack)
	}
	if f.Address != 0 {
		fmt.Fprintf(buf, "[<%016x>] ", f.Address)
	}
	if !f.Reliable {
		buf.WriteString("? ")
	}
	fmt.Fprintf(buf, "%s+0x%x/0x%x", f.FunctionName, f.FunctionOffset, f.FunctionLength)
	if f.ModuleName != "" {
		fmt.Fprintf(buf, " [%s]", f.ModuleName)
	}
	buf.WriteByte('\n')
}

// Compare orders oops frames by function name, offset and module.
// Reliability never decides equality on its own; it only breaks ties,
// with the raw addresses last.
func (f *KoopsFrame) Compare(other Frame) int {
	if c := compareTypes(ReportKerneloops, other.Type()); c != 0 {
		return c
	}
	o := other.(*KoopsFrame)
	if c := cmpString(f.FunctionName, o.FunctionName); c != 0 {
		return c
	}
	if c := cmpUint64(f.FunctionOffset, o.FunctionOffset); c != 0 {
		return c
	}
	if c := cmpString(f.ModuleName, o.ModuleName); c != 0 {
		return c
	}
	if c := cmpBool(f.Reliable, o.Reliable); c != 0 {
		return c
	}
	return cmpUint64(f.Address, o.Address)
}

// CompareDistance ignores addresses, reliability, lengths, the
// caller fields and the special-stack tag. Frames without a function
// name never compare equal.
func (f *KoopsFrame) CompareDistance(other Frame) int {
	if c := compareTypes(ReportKerneloops, other.Type()); c != 0 {
		return c
	}
	o := other.(*KoopsFrame)
	if f.FunctionName == "" || o.FunctionName == "" {
		return 1
	}
	if c := cmpString(f.FunctionName, o.FunctionName); c != 0 {
		return c
	}
	if c := cmpUint64(f.FunctionOffset, o.FunctionOffset); c != 0 {
		return c
	}
	return cmpString(f.ModuleName, o.ModuleName)
}

// KoopsStacktrace is a parsed kernel oops: the kernel version, taint
// state, loaded modules and the call trace. An oops is always
// single-threaded; the trace doubles as its one implicit thread.
type KoopsStacktrace struct {
	Version string

	TaintModuleProprietary  bool
	TaintModuleOutOfTree    bool
	TaintForcedModule       bool
	TaintForcedRemoval      bool
	TaintSmpUnsafe          bool
	TaintMce                bool
	TaintPageRelease        bool
	TaintUserspace          bool
	TaintDiedRecently       bool
	TaintAcpiOverridden     bool
	TaintWarning            bool
	TaintStagingDriver      bool
	TaintFirmwareWorkaround bool

	Modules []string

	frames []Frame
}

func (st *KoopsStacktrace) Type() ReportType { return ReportKerneloops }

// KoopsFrames returns the typed frame list.
func (st *KoopsStacktrace) KoopsFrames() []*KoopsFrame {
	frames := make([]*KoopsFrame, len(st.frames))
	for i, f := range st.frames {
		frames[i] = f.(*KoopsFrame)
	}
	return frames
}

// koopsThread is the oops viewed as its single implicit thread.
type koopsThread KoopsStacktrace

func (st *KoopsStacktrace) Threads() []Thread { return []Thread{(*koopsThread)(st)} }

func (st *KoopsStacktrace) crashThread() (Thread, bool) { return (*koopsThread)(st), true }

func (st *KoopsStacktrace) Duplicate() Stacktrace {
	dup := deepcopy.Copy(st).(*KoopsStacktrace)
	dup.frames = duplicateFrames(st.frames)
	return dup
}

func (st *KoopsStacktrace) taintFlags() []bool {
	return []bool{
		st.TaintModuleProprietary, st.TaintModuleOutOfTree,
		st.TaintForcedModule, st.TaintForcedRemoval,
		st.TaintSmpUnsafe, st.TaintMce, st.TaintPageRelease,
		st.TaintUserspace, st.TaintDiedRecently,
		st.TaintAcpiOverridden, st.TaintWarning,
		st.TaintStagingDriver, st.TaintFirmwareWorkaround,
	}
}

func (st *KoopsStacktrace) Compare(other Stacktrace) int {
	if c := compareTypes(ReportKerneloops, other.Type()); c != 0 {
		return c
	}
	o := other.(*KoopsStacktrace)
	if c := cmpString(st.Version, o.Version); c != 0 {
		return c
	}
	af, bf := st.taintFlags(), o.taintFlags()
	for i := range af {
		if c := cmpBool(af[i], bf[i]); c != 0 {
			return c
		}
	}
	if c := cmpInt(len(st.Modules), len(o.Modules)); c != 0 {
		return c
	}
	for i := range st.Modules {
		if c := cmpString(st.Modules[i], o.Modules[i]); c != 0 {
			return c
		}
	}
	return compareFrameLists(st.frames, o.frames, false)
}

func (st *KoopsStacktrace) AppendToText(buf *bytes.Buffer) {
	if st.Version != "" {
		fmt.Fprintf(buf, "Linux version %s\n", st.Version)
	}
	if len(st.Modules) > 0 {
		fmt.Fprintf(buf, "Modules linked in: %s\n", strings.Join(st.Modules, " "))
	}
	buf.WriteString("Call Trace:\n")
	for _, f := range st.frames {
		f.AppendToText(buf)
	}
}

func (t *koopsThread) Type() ReportType { return ReportKerneloops }
func (t *koopsThread) Frames() []Frame  { return t.frames }

func (t *koopsThread) SetFrames(frames []Frame) {
	checkFrameTypes(ReportKerneloops, frames)
	t.frames = frames
}

func (t *koopsThread) FrameCount() int { return len(t.frames) }

func (t *koopsThread) RemoveFrame(i int) bool {
	var ok bool
	t.frames, ok = removeFrameAt(t.frames, i)
	return ok
}

func (t *koopsThread) RemoveFramesAbove(i int) bool {
	var ok bool
	t.frames, ok = removeAbove(t.frames, i)
	return ok
}

func (t *koopsThread) Duplicate() Thread {
	return (*koopsThread)(((*KoopsStacktrace)(t)).Duplicate().(*KoopsStacktrace))
}

func (t *koopsThread) Compare(other Thread) int {
	return compareThreads(t, other, false)
}

func (t *koopsThread) AppendToText(buf *bytes.Buffer) {
	for _, f := range t.frames {
		f.AppendToText(buf)
	}
}

func (t *koopsThread) threadID() int64 { return 0 }

// kernel taint letters as documented in oops-tracing.txt.
var koopsTaintLetters = map[byte]func(*KoopsStacktrace){
	'P': func(st *KoopsStacktrace) { st.TaintModuleProprietary = true },
	'O': func(st *KoopsStacktrace) { st.TaintModuleOutOfTree = true },
	'F': func(st *KoopsStacktrace) { st.TaintForcedModule = true },
	'R': func(st *KoopsStacktrace) { st.TaintForcedRemoval = true },
	'S': func(st *KoopsStacktrace) { st.TaintSmpUnsafe = true },
	'M': func(st *KoopsStacktrace) { st.TaintMce = true },
	'B': func(st *KoopsStacktrace) { st.TaintPageRelease = true },
	'U': func(st *KoopsStacktrace) { st.TaintUserspace = true },
	'D': func(st *KoopsStacktrace) { st.TaintDiedRecently = true },
	'A': func(st *KoopsStacktrace) { st.TaintAcpiOverridden = true },
	'W': func(st *KoopsStacktrace) { st.TaintWarning = true },
	'C': func(st *KoopsStacktrace) { st.TaintStagingDriver = true },
	'I': func(st *KoopsStacktrace) { st.TaintFirmwareWorkaround = true },
}

// ParseKoopsStacktrace parses a kernel oops buffer. The parser is
// best-effort: unrecognized lines are skipped. It fails only when no
// call-trace line at all is found.
func ParseKoopsStacktrace(input string) (*KoopsStacktrace, error) {
	s := newScanner(input)
	st := &KoopsStacktrace{}
	specialStack := ""
	for !s.eof() {
		skipKoopsTimestamp(s)
		s.skipWhitespace()
		if s.eatNewline() {
			continue
		}
		line := s.rest()
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		switch {
		case s.matchLiteral("Linux version "):
			st.Version = s.takeCspan(" \n")
		case strings.Contains(line, "Tainted: "):
			parseKoopsTaint(st, line)
		case s.matchLiteral("Modules linked in:"):
			s.skipWhitespace()
			st.Modules = append(st.Modules, strings.Fields(s.takeCspan("\n"))...)
		case isKoopsStackSwitch(line):
			specialStack = koopsStackTag(line)
			glog.V(2).Infof("koops: special stack %q at line %d", specialStack, s.line)
		default:
			if frame := parseKoopsFrame(s); frame != nil {
				frame.SpecialStack = specialStack
				st.frames = append(st.frames, frame)
			} else {
				glog.V(3).Infof("koops: skipping line %d", s.line)
			}
		}
		if !s.skipLine() {
			break
		}
	}
	if len(st.frames) == 0 {
		return nil, &ParseError{Line: 1, Column: 1, Message: "expected at least one call trace entry"}
	}
	return st, nil
}

// skipKoopsTimestamp skips a "[   65.470000] " prefix.
func skipKoopsTimestamp(s *scanner) bool {
	st := s.save()
	if !s.matchLiteral("[") {
		return false
	}
	s.skipWhitespace()
	if _, ok := s.parseUint(); !ok {
		s.restore(st)
		return false
	}
	if !s.matchLiteral(".") {
		s.restore(st)
		return false
	}
	if _, ok := s.parseUint(); !ok {
		s.restore(st)
		return false
	}
	if !s.matchLiteral("]") {
		s.restore(st)
		return false
	}
	s.skipWhitespace()
	return true
}

// parseKoopsTaint reads the flag letters after "Tainted: ". They may
// be spaced out; the first non-letter (usually the kernel version)
// ends them.
func parseKoopsTaint(st *KoopsStacktrace, line string) {
	i := strings.Index(line, "Tainted: ")
	flags := line[i+len("Tainted: "):]
	for j := 0; j < len(flags); j++ {
		b := flags[j]
		if b == ' ' || b == '\t' {
			continue
		}
		if b < 'A' || b > 'Z' {
			break
		}
		if set, ok := koopsTaintLetters[b]; ok {
			set(st)
		}
	}
}

// isKoopsStackSwitch recognizes "<IRQ>", "<NMI>", "</IRQ>", "<EOI>"
// and friends.
func isKoopsStackSwitch(line string) bool {
	line = strings.TrimSpace(line)
	if len(line) < 3 || line[0] != '<' || line[len(line)-1] != '>' {
		return false
	}
	inner := line[1 : len(line)-1]
	if strings.HasPrefix(inner, "/") {
		inner = inner[1:]
	}
	for i := 0; i < len(inner); i++ {
		if inner[i] < 'A' || inner[i] > 'Z' {
			return false
		}
	}
	return len(inner) > 0
}

// koopsStackTag returns the tag the following frames should carry;
// "" for the markers that return to the main stack.
func koopsStackTag(line string) string {
	inner := strings.TrimSpace(line)
	inner = inner[1 : len(inner)-1]
	if strings.HasPrefix(inner, "/") || inner == "EOI" || inner == "EOE" {
		return ""
	}
	return inner
}

// parseKoopsFrame parses "[<address>] ? function+0xoff/0xlen
// [module]" with an optional "from <caller>" second half. Returns
// nil, without consuming input, when the line is not a call-trace
// entry.
func parseKoopsFrame(s *scanner) *KoopsFrame {
	st := s.save()
	frame := &KoopsFrame{Reliable: true}
	s.skipWhitespace()
	if addr, ok := parseKoopsAddress(s); ok {
		frame.Address = addr
		s.skipWhitespace()
	}
	if s.matchLiteral("? ") {
		frame.Reliable = false
		s.skipWhitespace()
	}
	name, off, length, module, ok := parseKoopsFunction(s)
	if !ok {
		s.restore(st)
		return nil
	}
	frame.FunctionName = name
	frame.FunctionOffset = off
	frame.FunctionLength = length
	frame.ModuleName = module

	save := s.save()
	s.skipWhitespace()
	if s.matchLiteral("from ") {
		s.skipWhitespace()
		if addr, ok := parseKoopsAddress(s); ok {
			frame.FromAddress = addr
			s.skipWhitespace()
		}
		if name, off, length, module, ok := parseKoopsFunction(s); ok {
			frame.FromFunctionName = name
			frame.FromFunctionOffset = off
			frame.FromFunctionLength = length
			frame.FromModuleName = module
		} else {
			s.restore(save)
		}
	} else {
		s.restore(save)
	}
	return frame
}

// parseKoopsAddress parses "[<ffffffff81234567>]".
func parseKoopsAddress(s *scanner) (uint64, bool) {
	st := s.save()
	if !s.matchLiteral("[<") {
		return 0, false
	}
	addr, ok := s.parseBareHex()
	if !ok || !s.matchLiteral(">]") {
		s.restore(st)
		return 0, false
	}
	return addr, true
}

// parseKoopsFunction parses "function+0xoff/0xlen [module]". The
// offsets accept both "0x"-prefixed and bare hex.
func parseKoopsFunction(s *scanner) (name string, off, length uint64, module string, ok bool) {
	st := s.save()
	name = s.takeCspan("+ \t\n[]<>")
	if name == "" {
		s.restore(st)
		return "", 0, 0, "", false
	}
	if !s.matchLiteral("+") {
		s.restore(st)
		return "", 0, 0, "", false
	}
	off, hok := parseKoopsHex(s)
	if !hok {
		s.restore(st)
		return "", 0, 0, "", false
	}
	if !s.matchLiteral("/") {
		s.restore(st)
		return "", 0, 0, "", false
	}
	length, hok = parseKoopsHex(s)
	if !hok {
		s.restore(st)
		return "", 0, 0, "", false
	}
	msave := s.save()
	s.skipWhitespace()
	if s.matchLiteral("[") {
		module = s.takeCspan("]\n")
		if !s.matchLiteral("]") {
			module = ""
			s.restore(msave)
		}
	} else {
		s.restore(msave)
	}
	return name, off, length, module, true
}

func parseKoopsHex(s *scanner) (uint64, bool) {
	if v, ok := s.parseHex(); ok {
		return v, ok
	}
	return s.parseBareHex()
}
