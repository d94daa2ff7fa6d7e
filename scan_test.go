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

import "testing"

func TestScannerSkipSpans(t *testing.T) {
	for _, tc := range []struct {
		in    string
		cspan string
		want  int
		rest  string
	}{
		{in: "abc:def", cspan: ":", want: 3, rest: ":def"},
		{in: ":def", cspan: ":", want: 0, rest: ":def"},
		{in: "abc", cspan: ":", want: 3, rest: ""},
		{in: "", cspan: ":", want: 0, rest: ""},
	} {
		s := newScanner(tc.in)
		if got := s.skipCspan(tc.cspan); got != tc.want {
			t.Errorf("skipCspan(%q, %q)=%d; want %d", tc.in, tc.cspan, got, tc.want)
		}
		if got := s.rest(); got != tc.rest {
			t.Errorf("skipCspan(%q, %q) rest=%q; want %q", tc.in, tc.cspan, got, tc.rest)
		}
	}
}

func TestScannerSkipSpan(t *testing.T) {
	s := newScanner("0017x")
	if got := s.skipSpan("0123456789"); got != 4 {
		t.Errorf("skipSpan()=%d; want 4", got)
	}
	if got := s.rest(); got != "x" {
		t.Errorf("rest()=%q; want \"x\"", got)
	}
}

func TestScannerLineColumn(t *testing.T) {
	s := newScanner("ab\ncd")
	s.advance(2)
	if s.line != 1 || s.col != 3 {
		t.Errorf("after advance: line=%d col=%d; want 1, 3", s.line, s.col)
	}
	if !s.eatNewline() {
		t.Fatal("eatNewline()=false; want true")
	}
	if s.line != 2 || s.col != 1 {
		t.Errorf("after newline: line=%d col=%d; want 2, 1", s.line, s.col)
	}
	st := s.save()
	s.advance(2)
	s.restore(st)
	if s.line != 2 || s.col != 1 || s.rest() != "cd" {
		t.Errorf("after restore: line=%d col=%d rest=%q; want 2, 1, \"cd\"", s.line, s.col, s.rest())
	}
}

func TestScannerWhitespaceStopsAtNewline(t *testing.T) {
	s := newScanner("  \t \n x")
	if got := s.skipWhitespace(); got != 4 {
		t.Errorf("skipWhitespace()=%d; want 4", got)
	}
	if s.peek() != '\n' {
		t.Errorf("peek()=%q; want newline", s.peek())
	}
}

func TestScannerMatchLiteral(t *testing.T) {
	s := newScanner("Thread 1")
	if s.matchLiteral("Threads") {
		t.Error(`matchLiteral("Threads")=true; want false`)
	}
	if s.pos != 0 {
		t.Errorf("failed match moved cursor to %d", s.pos)
	}
	if !s.matchLiteral("Thread ") {
		t.Error(`matchLiteral("Thread ")=false; want true`)
	}
	if s.rest() != "1" {
		t.Errorf("rest()=%q; want \"1\"", s.rest())
	}
}

func TestScannerParseHex(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want uint64
		ok   bool
	}{
		{in: "0x322a2362b9", want: 0x322a2362b9, ok: true},
		{in: "0xffffffffffffffff", want: ^uint64(0), ok: true},
		{in: "0x", ok: false},
		{in: "12", ok: false},
	} {
		s := newScanner(tc.in)
		got, ok := s.parseHex()
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseHex(%q)=%#x, %v; want %#x, %v", tc.in, got, ok, tc.want, tc.ok)
		}
		if !tc.ok && s.pos != 0 {
			t.Errorf("parseHex(%q) moved cursor on failure", tc.in)
		}
	}
}

func TestScannerSkipBalanced(t *testing.T) {
	for _, tc := range []struct {
		in   string
		ok   bool
		rest string
	}{
		{in: "(a, (b), c)x", ok: true, rest: "x"},
		{in: `(a ")" b)x`, ok: true, rest: "x"},
		{in: `(a "\")" b)x`, ok: true, rest: "x"},
		{in: "(never closed", ok: false, rest: "(never closed"},
		{in: "(spans\nlines)x", ok: true, rest: "x"},
	} {
		s := newScanner(tc.in)
		if got := s.skipBalanced('(', ')'); got != tc.ok {
			t.Errorf("skipBalanced(%q)=%v; want %v", tc.in, got, tc.ok)
		}
		if got := s.rest(); got != tc.rest {
			t.Errorf("skipBalanced(%q) rest=%q; want %q", tc.in, got, tc.rest)
		}
	}
}
