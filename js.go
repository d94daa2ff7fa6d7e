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

// JsFrame is one frame of an engine-native "at ..." stack trace.
type JsFrame struct {
	// FileName is empty for frames the engine printed without a
	// script location.
	FileName string

	FileLine   int
	LineColumn int

	// FunctionName is empty for anonymous frames.
	FunctionName string
}

func (f *JsFrame) Type() ReportType { return ReportJavaScript }

func (f *JsFrame) Duplicate() Frame { return deepcopy.Copy(f).(*JsFrame) }

func (f *JsFrame) functionName() (string, bool) {
	return f.FunctionName, f.FunctionName != ""
}

func (f *JsFrame) libraryName() string { return "" }

func (f *JsFrame) address() (uint64, bool) { return 0, false }

func (f *JsFrame) qualityOK() bool {
	_, known := f.functionName()
	return known
}

func (f *JsFrame) hiddenInShortText() bool { return false }

func (f *JsFrame) AppendToText(buf *bytes.Buffer) {
	if f.FunctionName != "" {
		fmt.Fprintf(buf, "    at %s (%s:%d:%d)\n", f.FunctionName, f.FileName, f.FileLine, f.LineColumn)
	} else {
		fmt.Fprintf(buf, "    at %s:%d:%d\n", f.FileName, f.FileLine, f.LineColumn)
	}
}

// Compare orders frames by function, file, line and column.
func (f *JsFrame) Compare(other Frame) int {
	if c := compareTypes(ReportJavaScript, other.Type()); c != 0 {
		return c
	}
	o := other.(*JsFrame)
	if c := cmpString(f.FunctionName, o.FunctionName); c != 0 {
		return c
	}
	if c := cmpString(f.FileName, o.FileName); c != 0 {
		return c
	}
	if c := cmpInt(f.FileLine, o.FileLine); c != 0 {
		return c
	}
	return cmpInt(f.LineColumn, o.LineColumn)
}

// CompareDistance ignores line and column. Anonymous frames never
// compare equal.
func (f *JsFrame) CompareDistance(other Frame) int {
	if c := compareTypes(ReportJavaScript, other.Type()); c != 0 {
		return c
	}
	o := other.(*JsFrame)
	if f.FunctionName == "" || o.FunctionName == "" {
		return 1
	}
	if c := cmpString(f.FunctionName, o.FunctionName); c != 0 {
		return c
	}
	return cmpString(f.FileName, o.FileName)
}

// JsStacktrace is a parsed engine stack trace. It is always
// single-threaded; the trace doubles as its one implicit thread.
type JsStacktrace struct {
	// ExceptionName comes from the optional "Name: message"
	// preamble.
	ExceptionName string

	frames []Frame
}

func (st *JsStacktrace) Type() ReportType { return ReportJavaScript }

// JsFrames returns the typed frame list.
func (st *JsStacktrace) JsFrames() []*JsFrame {
	frames := make([]*JsFrame, len(st.frames))
	for i, f := range st.frames {
		frames[i] = f.(*JsFrame)
	}
	return frames
}

type jsThread JsStacktrace

func (st *JsStacktrace) Threads() []Thread { return []Thread{(*jsThread)(st)} }

func (st *JsStacktrace) crashThread() (Thread, bool) { return (*jsThread)(st), true }

func (st *JsStacktrace) Duplicate() Stacktrace {
	return &JsStacktrace{
		ExceptionName: st.ExceptionName,
		frames:        duplicateFrames(st.frames),
	}
}

func (st *JsStacktrace) Compare(other Stacktrace) int {
	if c := compareTypes(ReportJavaScript, other.Type()); c != 0 {
		return c
	}
	o := other.(*JsStacktrace)
	if c := cmpString(st.ExceptionName, o.ExceptionName); c != 0 {
		return c
	}
	return compareFrameLists(st.frames, o.frames, false)
}

func (st *JsStacktrace) AppendToText(buf *bytes.Buffer) {
	if st.ExceptionName != "" {
		fmt.Fprintf(buf, "%s\n", st.ExceptionName)
	}
	for _, f := range st.frames {
		f.AppendToText(buf)
	}
}

func (t *jsThread) Type() ReportType { return ReportJavaScript }
func (t *jsThread) Frames() []Frame  { return t.frames }

func (t *jsThread) SetFrames(frames []Frame) {
	checkFrameTypes(ReportJavaScript, frames)
	t.frames = frames
}

func (t *jsThread) FrameCount() int { return len(t.frames) }

func (t *jsThread) RemoveFrame(i int) bool {
	var ok bool
	t.frames, ok = removeFrameAt(t.frames, i)
	return ok
}

func (t *jsThread) RemoveFramesAbove(i int) bool {
	var ok bool
	t.frames, ok = removeAbove(t.frames, i)
	return ok
}

func (t *jsThread) Duplicate() Thread {
	return (*jsThread)(((*JsStacktrace)(t)).Duplicate().(*JsStacktrace))
}

func (t *jsThread) Compare(other Thread) int { return compareThreads(t, other, false) }

func (t *jsThread) AppendToText(buf *bytes.Buffer) {
	for _, f := range t.frames {
		f.AppendToText(buf)
	}
}

func (t *jsThread) threadID() int64 { return 0 }

// ParseJsStacktrace parses an engine-native stack trace: an optional
// "ExceptionName: message" preamble followed by "    at ..." frames.
func ParseJsStacktrace(input string) (*JsStacktrace, error) {
	s := newScanner(input)
	st := &JsStacktrace{}

	head := s.save()
	s.skipWhitespace()
	if !strings.HasPrefix(s.rest(), "at ") {
		s.restore(head)
		name := strings.TrimSpace(s.takeCspan(":\n"))
		if name == "" {
			return nil, expected("exception name", s)
		}
		st.ExceptionName = name
		s.skipLine()
	} else {
		s.restore(head)
	}

	for {
		frame, err := parseJsFrame(s)
		if err != nil {
			return nil, err
		}
		if frame == nil {
			break
		}
		st.frames = append(st.frames, frame)
	}
	if len(st.frames) == 0 {
		return nil, expected("stack frame", s)
	}
	glog.V(2).Infof("js: %d frames, exception %q", len(st.frames), st.ExceptionName)
	return st, nil
}

// parseJsFrame parses "    at fn (file:line:col)" or "    at
// file:line:col". Returns nil when the cursor is not at a frame.
func parseJsFrame(s *scanner) (*JsFrame, error) {
	st := s.save()
	s.skipWhitespace()
	if !s.matchLiteral("at ") {
		s.restore(st)
		return nil, nil
	}
	s.skipWhitespace()
	frame := &JsFrame{}
	rest := strings.TrimRight(s.takeCspan("\n"), " \t")
	s.eatNewline()
	if i := strings.IndexByte(rest, '('); i >= 0 && strings.HasSuffix(rest, ")") {
		frame.FunctionName = strings.TrimSpace(rest[:i])
		rest = rest[i+1 : len(rest)-1]
	}
	file, line, col, err := splitJsLocation(rest, s)
	if err != nil {
		return nil, err
	}
	frame.FileName = file
	frame.FileLine = line
	frame.LineColumn = col
	return frame, nil
}

// splitJsLocation splits "file:line:col" from the right, so file
// names containing colons survive.
func splitJsLocation(loc string, s *scanner) (string, int, int, error) {
	last := strings.LastIndexByte(loc, ':')
	if last < 0 {
		return "", 0, 0, expected("file:line:column location", s)
	}
	prev := strings.LastIndexByte(loc[:last], ':')
	if prev < 0 {
		return "", 0, 0, expected("file:line:column location", s)
	}
	line, lok := atoui(loc[prev+1 : last])
	col, cok := atoui(loc[last+1:])
	if !lok || !cok {
		return "", 0, 0, expected("numeric line and column", s)
	}
	return loc[:prev], line, col, nil
}

func atoui(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if !digitbytes[s[i]] {
			return 0, false
		}
		n = n*10 + int(s[i]-'0')
	}
	return n, true
}
