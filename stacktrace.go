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

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Stacktrace is the root of a parsed crash report: an ordered
// collection of threads, possibly with a distinguished crash thread.
type Stacktrace interface {
	Type() ReportType

	// Threads returns the stacktrace's threads. Dialects that are
	// inherently single-threaded return their one implicit thread.
	Threads() []Thread

	// Duplicate deep-copies the whole tree.
	Duplicate() Stacktrace

	// Compare defines a total order over stacktraces of any types.
	Compare(other Stacktrace) int

	AppendToText(buf *bytes.Buffer)

	// crashThread returns the dialect's notion of the faulting
	// thread, when one can be determined.
	crashThread() (Thread, bool)
}

// Parse parses input as the given dialect. On failure the returned
// error is a *ParseError carrying the line and column where parsing
// stopped (line 1, column 1 when the parser recognized nothing at
// all), or a plain error for an unusable report type.
func Parse(t ReportType, input string) (Stacktrace, error) {
	glog.V(1).Infof("parse type=%v len=%d", t, len(input))
	switch t {
	case ReportGdb:
		return orNil(ParseGdbStacktrace(input))
	case ReportKerneloops:
		return orNil(ParseKoopsStacktrace(input))
	case ReportPython, ReportRuby:
		// Ruby interpreter backtraces arrive pre-converted to the
		// indented script form, so both tags share one grammar.
		return orNil(ParsePythonStacktrace(input))
	case ReportJava:
		return orNil(ParseJavaStacktrace(input))
	case ReportJavaScript:
		return orNil(ParseJsStacktrace(input))
	case ReportCore:
		return nil, errors.New("core stacktraces have no textual form; use FromDocument or NewCoreStacktrace")
	default:
		return nil, errors.Errorf("unknown report type %q", t.String())
	}
}

// orNil keeps a typed nil pointer out of the Stacktrace interface on
// the error path.
func orNil[T Stacktrace](s T, err error) (Stacktrace, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CrashThread returns the thread the report faulted in, when the
// dialect can tell.
func CrashThread(s Stacktrace) (Thread, bool) {
	return s.crashThread()
}

// TextOf renders the whole stacktrace in its dialect's textual form.
func TextOf(s Stacktrace) string {
	var buf bytes.Buffer
	s.AppendToText(&buf)
	return buf.String()
}

// compareThreadLists orders two thread sequences element-wise; a
// strict prefix is less than the longer list.
func compareThreadLists(a, b []Thread) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := a[i].Compare(b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}
