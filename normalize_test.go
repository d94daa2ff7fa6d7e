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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, tag ReportType, in string) Stacktrace {
	t.Helper()
	st, err := Parse(tag, in)
	require.NoError(t, err)
	return st
}

func TestQualityCounts(t *testing.T) {
	st := mustParse(t, ReportGdb,
		"#0  0x01 in known () at a.c:1\n"+
			"#1  0x02 in ?? ()\n"+
			"#2  0x03 in other () at a.c:3\n")
	ok, all := QualityCounts(st.Threads()[0])
	assert.Equal(t, 2, ok)
	assert.Equal(t, 3, all)
	assert.InDelta(t, 2.0/3.0, float64(QualitySimple(st)), 1e-6)
}

func TestQualitySingleFrame(t *testing.T) {
	known := &GdbThread{}
	known.SetFrames([]Frame{&GdbFrame{FunctionName: "f"}})
	ok, all := QualityCounts(known)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, all)

	unknown := &GdbThread{}
	unknown.SetFrames([]Frame{&GdbFrame{FunctionName: "??"}})
	ok, all = QualityCounts(unknown)
	assert.Equal(t, 0, ok)
	assert.Equal(t, 1, all)

	empty := &GdbThread{}
	assert.Equal(t, float32(1), ThreadQuality(empty))
}

func TestQualityComplexWeighting(t *testing.T) {
	// Crash thread: five unknown innermost frames, one known
	// outermost. Weighted: ok=1, all=11.
	crashFrames := make([]Frame, 0, 6)
	for i := 0; i < 5; i++ {
		crashFrames = append(crashFrames, &GdbFrame{FunctionName: "??", Number: uint32(i)})
	}
	crashFrames = append(crashFrames, &GdbFrame{FunctionName: "main", Number: 5})

	st := &GdbStacktrace{CrashFrame: &GdbFrame{FunctionName: "??"}}
	crash := &GdbThread{Number: 1}
	crash.SetFrames(crashFrames)
	st.AppendThread(crash)

	other := &GdbThread{Number: 2}
	other.SetFrames([]Frame{&GdbFrame{FunctionName: "poll"}})
	st.AppendThread(other)

	// Two threads and no matching crash frame: the lone "other"
	// thread is fully known, the crash thread is not discoverable,
	// so the score falls back to the simple ratio 2/7.
	assert.InDelta(t, 2.0/7.0, float64(QualityComplex(st)), 1e-6)

	// Point the crash frame at the crash thread and the weighted
	// formula kicks in. Seven frames, the innermost five weighted
	// double: 12 weight total, 3 of it on known frames.
	st.CrashFrame = &GdbFrame{FunctionName: "unreliable"}
	crash.SetFrames(append([]Frame{&GdbFrame{FunctionName: "unreliable"}}, crashFrames...))
	assert.InDelta(t, 0.6*(3.0/12.0)+0.4*1.0, float64(QualityComplex(st)), 1e-6)
}

func TestLimitFrameDepthIdempotent(t *testing.T) {
	in := "#0  0x01 in a () at x.c:1\n" +
		"#1  0x02 in b () at x.c:2\n" +
		"#2  0x03 in c () at x.c:3\n" +
		"#3  0x04 in d () at x.c:4\n"
	st := mustParse(t, ReportGdb, in)
	LimitFrameDepth(st, 2)
	require.Equal(t, 2, st.Threads()[0].FrameCount())
	assert.Equal(t, "a", st.Threads()[0].Frames()[0].(*GdbFrame).FunctionName)

	ref := mustParse(t, ReportGdb, in)
	LimitFrameDepth(ref, 2)
	LimitFrameDepth(ref, 2)
	LimitFrameDepth(ref, 5)
	assert.Equal(t, 0, st.Compare(ref))
}

func TestLimitFrameDepthImplicitThread(t *testing.T) {
	st := mustParse(t, ReportKerneloops,
		" [<ffffffff810001>] a+0x1/0x2\n"+
			" [<ffffffff810002>] b+0x1/0x2\n"+
			" [<ffffffff810003>] c+0x1/0x2\n")
	LimitFrameDepth(st, 1)
	assert.Equal(t, 1, st.(*KoopsStacktrace).Threads()[0].FrameCount())
	assert.Equal(t, "a", st.(*KoopsStacktrace).KoopsFrames()[0].FunctionName)
}

func TestShortText(t *testing.T) {
	st := mustParse(t, ReportGdb,
		"Thread 1 (LWP 99):\n"+
			"#0  0x01 in raise () from /lib64/libc.so.6\n"+
			"#1  <signal handler called>\n"+
			"#2  0x03 in ?? ()\n"+
			"#3  0x04 in main (argc=1) at main.c:10\n")
	text := ShortText(st, 8)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	assert.Equal(t, "Stack trace of thread 99:", lines[0])
	assert.Equal(t, "#0 raise", lines[1])
	assert.Equal(t, "#1 0x3", lines[2])
	assert.Equal(t, "#2 main", lines[3])
	require.Len(t, lines, 4)

	// The limit bounds the output at maxFrames+1 lines.
	for _, max := range []int{0, 1, 2, 8} {
		text := ShortText(st, max)
		if got := strings.Count(text, "\n"); got > max+1 {
			t.Errorf("ShortText(_, %d) has %d lines; want <= %d", max, got, max+1)
		}
	}
}

func TestDuplicationHashInputs(t *testing.T) {
	st := mustParse(t, ReportGdb,
		"Thread 1 (LWP 99):\n"+
			"#0  0x01 in raise () from /lib64/libc.so.6\n"+
			"#1  0x02 in ?? ()\n"+
			"#2  0x03 in main (argc=1) at main.c:10\n")
	want := "raise|/lib64/libc.so.6\nmain|\n"
	assert.Equal(t, want, DuplicationHashInputs(st))

	// Canonicalization duplicates; the trace itself keeps its
	// unknown frame.
	assert.Equal(t, 3, st.Threads()[0].FrameCount())
}

func TestRemoveUnknownFrames(t *testing.T) {
	st := mustParse(t, ReportKerneloops,
		" [<ffffffff810001>] known+0x1/0x2\n")
	thread := st.Threads()[0]
	thread.SetFrames(append(thread.Frames(), &KoopsFrame{Address: 0x99}))
	RemoveUnknownFrames(thread)
	require.Equal(t, 1, thread.FrameCount())
	assert.Equal(t, "known", thread.Frames()[0].(*KoopsFrame).FunctionName)
}

func TestCompareTotality(t *testing.T) {
	traces := []Stacktrace{
		mustParse(t, ReportGdb, "#0  0x01 in alpha () at a.c:1\n"),
		mustParse(t, ReportGdb, "#0  0x01 in beta () at b.c:1\n"),
		mustParse(t, ReportKerneloops, " [<ffffffff810001>] f+0x1/0x2\n"),
		mustParse(t, ReportPython, pythonDivisionTraceback),
		mustParse(t, ReportJava, javaChainedTrace),
		mustParse(t, ReportJavaScript, "E: x\n    at f (a.js:1:2)\n"),
	}
	for i, a := range traces {
		if got := a.Compare(a.Duplicate()); got != 0 {
			t.Errorf("trace %d: Compare(a, dup(a))=%d; want 0", i, got)
		}
		for j, b := range traces {
			ab, ba := a.Compare(b), b.Compare(a)
			if sign(ab) != -sign(ba) {
				t.Errorf("traces %d, %d: Compare(a, b)=%d but Compare(b, a)=%d", i, j, ab, ba)
			}
			if i != j && ab == 0 {
				t.Errorf("traces %d, %d: distinct traces compare equal", i, j)
			}
		}
	}
	// Transitivity over equal values.
	x := traces[0]
	y := x.Duplicate()
	z := y.Duplicate()
	if x.Compare(y) == 0 && y.Compare(z) == 0 && x.Compare(z) != 0 {
		t.Error("equality is not transitive")
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
