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

// PythonFrame is one frame of an interpreter traceback.
type PythonFrame struct {
	// FileName is stored without the surrounding angle brackets when
	// the traceback printed a pseudo-file such as "<stdin>";
	// SpecialFile records that the brackets were there.
	FileName    string
	SpecialFile bool

	FileLine int

	// FunctionName is stored without brackets for pseudo-functions
	// such as "<module>"; SpecialFunction records them.
	FunctionName    string
	SpecialFunction bool

	// LineContents is the source line echoed under the frame, when
	// present.
	LineContents string
}

func (f *PythonFrame) Type() ReportType { return ReportPython }

func (f *PythonFrame) Duplicate() Frame { return deepcopy.Copy(f).(*PythonFrame) }

func (f *PythonFrame) functionName() (string, bool) {
	return f.FunctionName, f.FunctionName != ""
}

func (f *PythonFrame) libraryName() string { return "" }

func (f *PythonFrame) address() (uint64, bool) { return 0, false }

func (f *PythonFrame) qualityOK() bool {
	_, known := f.functionName()
	return known
}

func (f *PythonFrame) hiddenInShortText() bool { return false }

func (f *PythonFrame) AppendToText(buf *bytes.Buffer) {
	file := f.FileName
	if f.SpecialFile {
		file = "<" + file + ">"
	}
	fn := f.FunctionName
	if f.SpecialFunction {
		fn = "<" + fn + ">"
	}
	fmt.Fprintf(buf, "  File \"%s\", line %d, in %s\n", file, f.FileLine, fn)
	if f.LineContents != "" {
		fmt.Fprintf(buf, "    %s\n", f.LineContents)
	}
}

// Compare orders script frames by file, function and line.
func (f *PythonFrame) Compare(other Frame) int {
	if c := compareTypes(ReportPython, other.Type()); c != 0 {
		return c
	}
	o := other.(*PythonFrame)
	if c := cmpString(f.FileName, o.FileName); c != 0 {
		return c
	}
	if c := cmpBool(f.SpecialFile, o.SpecialFile); c != 0 {
		return c
	}
	if c := cmpString(f.FunctionName, o.FunctionName); c != 0 {
		return c
	}
	if c := cmpBool(f.SpecialFunction, o.SpecialFunction); c != 0 {
		return c
	}
	if c := cmpInt(f.FileLine, o.FileLine); c != 0 {
		return c
	}
	return cmpString(f.LineContents, o.LineContents)
}

// CompareDistance ignores the line number and the echoed source
// line; they move on every edit of the script.
func (f *PythonFrame) CompareDistance(other Frame) int {
	if c := compareTypes(ReportPython, other.Type()); c != 0 {
		return c
	}
	o := other.(*PythonFrame)
	if f.FunctionName == "" || o.FunctionName == "" {
		return 1
	}
	if c := cmpString(f.FileName, o.FileName); c != 0 {
		return c
	}
	return cmpString(f.FunctionName, o.FunctionName)
}

// PythonStacktrace is a parsed interpreter traceback. It is always
// single-threaded; the trace doubles as its one implicit thread.
type PythonStacktrace struct {
	// ExceptionName is the class of the raised exception, from the
	// final line of the traceback.
	ExceptionName string

	frames []Frame
}

func (st *PythonStacktrace) Type() ReportType { return ReportPython }

// PythonFrames returns the typed frame list.
func (st *PythonStacktrace) PythonFrames() []*PythonFrame {
	frames := make([]*PythonFrame, len(st.frames))
	for i, f := range st.frames {
		frames[i] = f.(*PythonFrame)
	}
	return frames
}

type pythonThread PythonStacktrace

func (st *PythonStacktrace) Threads() []Thread { return []Thread{(*pythonThread)(st)} }

func (st *PythonStacktrace) crashThread() (Thread, bool) { return (*pythonThread)(st), true }

func (st *PythonStacktrace) Duplicate() Stacktrace {
	return &PythonStacktrace{
		ExceptionName: st.ExceptionName,
		frames:        duplicateFrames(st.frames),
	}
}

func (st *PythonStacktrace) Compare(other Stacktrace) int {
	if c := compareTypes(ReportPython, other.Type()); c != 0 {
		return c
	}
	o := other.(*PythonStacktrace)
	if c := cmpString(st.ExceptionName, o.ExceptionName); c != 0 {
		return c
	}
	return compareFrameLists(st.frames, o.frames, false)
}

func (st *PythonStacktrace) AppendToText(buf *bytes.Buffer) {
	buf.WriteString("Traceback (most recent call last):\n")
	// The textual form lists the outermost frame first.
	for i := len(st.frames) - 1; i >= 0; i-- {
		st.frames[i].AppendToText(buf)
	}
	if st.ExceptionName != "" {
		fmt.Fprintf(buf, "%s\n", st.ExceptionName)
	}
}

func (t *pythonThread) Type() ReportType { return ReportPython }
func (t *pythonThread) Frames() []Frame  { return t.frames }

func (t *pythonThread) SetFrames(frames []Frame) {
	checkFrameTypes(ReportPython, frames)
	t.frames = frames
}

func (t *pythonThread) FrameCount() int { return len(t.frames) }

func (t *pythonThread) RemoveFrame(i int) bool {
	var ok bool
	t.frames, ok = removeFrameAt(t.frames, i)
	return ok
}

func (t *pythonThread) RemoveFramesAbove(i int) bool {
	var ok bool
	t.frames, ok = removeAbove(t.frames, i)
	return ok
}

func (t *pythonThread) Duplicate() Thread {
	return (*pythonThread)(((*PythonStacktrace)(t)).Duplicate().(*PythonStacktrace))
}

func (t *pythonThread) Compare(other Thread) int { return compareThreads(t, other, false) }

func (t *pythonThread) AppendToText(buf *bytes.Buffer) {
	for _, f := range t.frames {
		f.AppendToText(buf)
	}
}

func (t *pythonThread) threadID() int64 { return 0 }

// ParsePythonStacktrace parses an indented interpreter traceback:
// an optional "Traceback (most recent call last):" preamble, "File"
// frame pairs and a final exception line. The textual form is
// outermost-first; the model stores frames innermost-first.
func ParsePythonStacktrace(input string) (*PythonStacktrace, error) {
	s := newScanner(input)
	st := &PythonStacktrace{}
	if s.matchLiteral("Traceback (most recent call last):") {
		s.skipWhitespace()
		s.eatNewline()
	}
	for {
		frame, err := parsePythonFrame(s)
		if err != nil {
			return nil, err
		}
		if frame == nil {
			break
		}
		st.frames = append(st.frames, frame)
	}
	if len(st.frames) == 0 {
		return nil, expected("traceback frame", s)
	}
	// Reverse into call order.
	for i, j := 0, len(st.frames)-1; i < j; i, j = i+1, j-1 {
		st.frames[i], st.frames[j] = st.frames[j], st.frames[i]
	}
	// Final non-indented "Qualified.Name: message" line.
	if !s.eof() && !wsbytes[s.peek()] {
		name := strings.TrimSpace(s.takeCspan(":\n"))
		if name != "" {
			st.ExceptionName = name
		}
		s.skipLine()
	}
	glog.V(2).Infof("python: %d frames, exception %q", len(st.frames), st.ExceptionName)
	return st, nil
}

// parsePythonFrame parses one indented `File "<f>", line <n>, in
// <fn>` pair with its optional echoed source line. Returns nil when
// the cursor is not at a frame.
func parsePythonFrame(s *scanner) (*PythonFrame, error) {
	st := s.save()
	if s.skipWhitespace() == 0 {
		return nil, nil
	}
	if !s.matchLiteral("File \"") {
		s.restore(st)
		return nil, nil
	}
	frame := &PythonFrame{}
	file := s.takeCspan("\"\n")
	if !s.matchLiteral("\"") {
		return nil, expected("closing quote of file name", s)
	}
	frame.FileName, frame.SpecialFile = stripSpecialBrackets(file)
	if !s.matchLiteral(", line ") {
		return nil, expected("\", line \"", s)
	}
	line, ok := s.parseUint()
	if !ok {
		return nil, expected("line number", s)
	}
	frame.FileLine = int(line)
	if !s.matchLiteral(", in ") {
		return nil, expected("\", in \"", s)
	}
	fn := strings.TrimRight(s.takeCspan("\n"), " \t")
	if fn == "" {
		return nil, expected("function name", s)
	}
	frame.FunctionName, frame.SpecialFunction = stripSpecialBrackets(fn)
	s.eatNewline()

	// An optional, deeper-indented echo of the source line.
	echo := s.save()
	if s.skipWhitespace() > 0 && !strings.HasPrefix(s.rest(), "File \"") {
		frame.LineContents = strings.TrimRight(s.takeCspan("\n"), " \t")
		s.eatNewline()
		if frame.LineContents == "" {
			s.restore(echo)
		}
	} else {
		s.restore(echo)
	}
	return frame, nil
}

// stripSpecialBrackets turns "<stdin>" into ("stdin", true).
func stripSpecialBrackets(name string) (string, bool) {
	if len(name) >= 2 && name[0] == '<' && name[len(name)-1] == '>' {
		return name[1 : len(name)-1], true
	}
	return name, false
}
