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
)

// Frame is one entry of a call stack. The concrete type is one of
// GdbFrame, CoreFrame, KoopsFrame, PythonFrame, JavaFrame or JsFrame;
// operations dispatch on ReportType and treat mixed types as ordered
// by type so that comparisons stay total.
type Frame interface {
	Type() ReportType

	// AppendToText renders the frame in its dialect's textual form,
	// terminated by a newline.
	AppendToText(buf *bytes.Buffer)

	// Compare defines a total, strict order over frames.
	Compare(other Frame) int

	// CompareDistance is the weaker order used by deduplication. It
	// ignores fields that vary benignly across runs of the same
	// program (addresses, frame numbers, most line numbers).
	CompareDistance(other Frame) int

	// Duplicate deep-copies the frame.
	Duplicate() Frame

	// functionName is the frame's function identity and whether it
	// is known. Empty names are unknown; gdb and core frames also
	// treat "??" as unknown.
	functionName() (string, bool)

	// libraryName is the binary or module the frame executes in, or
	// "" when unknown.
	libraryName() string

	// address is the frame's instruction address when known.
	address() (uint64, bool)

	// qualityOK tells whether the frame counts as usable for quality
	// scoring. The predicate is dialect-specific.
	qualityOK() bool

	// hiddenInShortText marks frames elided from short-text output.
	hiddenInShortText() bool
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func cmpUint64(a, b uint64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func cmpString(a, b string) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

// cmpOptUint64 orders two optional numbers. Unknown is a distinct
// equivalence class sorting before every known value; zero is a
// literal value, not unknown.
func cmpOptUint64(av uint64, aok bool, bv uint64, bok bool) int {
	if c := cmpBool(aok, bok); c != 0 {
		return c
	}
	if !aok {
		return 0
	}
	return cmpUint64(av, bv)
}

// compareFrameLists orders two frame sequences element-wise; a strict
// prefix is less than the longer list.
func compareFrameLists(a, b []Frame, distance bool) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var c int
		if distance {
			c = a[i].CompareDistance(b[i])
		} else {
			c = a[i].Compare(b[i])
		}
		if c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}
