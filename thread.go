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
)

// Thread is an ordered sequence of frames from innermost (index 0,
// where the crash manifested) to outermost. Single-threaded dialects
// expose their trace as one implicit thread.
type Thread interface {
	Type() ReportType

	// Frames returns the thread's frames in call order. The returned
	// slice is the thread's own; callers that mutate it must go
	// through SetFrames.
	Frames() []Frame

	// SetFrames replaces the thread's frames. Every frame must carry
	// the thread's type; a mismatch is a programming error and
	// panics.
	SetFrames(frames []Frame)

	FrameCount() int

	// RemoveFrame drops the frame at index i. Reports whether the
	// index was valid.
	RemoveFrame(i int) bool

	// RemoveFramesAbove drops all frames closer to the crash than
	// index i, making i the new innermost frame.
	RemoveFramesAbove(i int) bool

	// Duplicate deep-copies the thread and its frames.
	Duplicate() Thread

	// Compare defines a total order: type, then thread identity,
	// then frames element-wise.
	Compare(other Thread) int

	AppendToText(buf *bytes.Buffer)

	// threadID is the numeric identity used for sorting and
	// crash-thread tie-breaks; dialects without one return 0.
	threadID() int64
}

// checkFrameTypes panics when a frame does not carry the thread's
// type. Mixing dialects inside one thread is a programming error.
func checkFrameTypes(t ReportType, frames []Frame) {
	for _, f := range frames {
		if f.Type() != t {
			panic(fmt.Sprintf("backtrace: %v frame in %v thread", f.Type(), t))
		}
	}
}

func removeFrameAt(frames []Frame, i int) ([]Frame, bool) {
	if i < 0 || i >= len(frames) {
		return frames, false
	}
	return append(frames[:i], frames[i+1:]...), true
}

func removeAbove(frames []Frame, i int) ([]Frame, bool) {
	if i < 0 || i >= len(frames) {
		return frames, false
	}
	return frames[i:], true
}

func truncated(frames []Frame, n int) []Frame {
	if n < 0 || n >= len(frames) {
		return frames
	}
	return frames[:n]
}

func duplicateFrames(frames []Frame) []Frame {
	dup := make([]Frame, len(frames))
	for i, f := range frames {
		dup[i] = f.Duplicate()
	}
	return dup
}

// compareThreads is the comparator shared by the implicit
// single-thread views: type, then frames element-wise.
func compareThreads(a, b Thread, distance bool) int {
	if c := compareTypes(a.Type(), b.Type()); c != 0 {
		return c
	}
	return compareFrameLists(a.Frames(), b.Frames(), distance)
}

// threadShortText renders the thread's leading frames in the compact
// form used for reporting: a header line followed by one line per
// frame, skipping signal handlers and frames without a usable
// identity. maxFrames < 0 means no limit. A debugger thread is named
// by its system thread id (LWP) when gdb printed one.
func threadShortText(t Thread, buf *bytes.Buffer, maxFrames int) {
	id := t.threadID()
	if gt, ok := t.(*GdbThread); ok && gt.TID != 0 {
		id = int64(gt.TID)
	}
	fmt.Fprintf(buf, "Stack trace of thread %d:\n", id)
	n := 0
	for _, f := range t.Frames() {
		if maxFrames >= 0 && n >= maxFrames {
			break
		}
		if f.hiddenInShortText() {
			continue
		}
		if fn, known := f.functionName(); known {
			fmt.Fprintf(buf, "#%d %s\n", n, fn)
		} else if addr, ok := f.address(); ok {
			fmt.Fprintf(buf, "#%d 0x%x\n", n, addr)
		} else {
			continue
		}
		n++
	}
}
