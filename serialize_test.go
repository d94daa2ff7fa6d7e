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
	"reflect"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/require"
)

// Every stacktrace a parser produces must survive the document round
// trip unchanged.
func TestDocumentRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		tag  ReportType
		in   string
	}{
		{
			name: "gdb",
			tag:  ReportGdb,
			in: "Thread 2 (LWP 1249):\n" +
				"#0  0x00000000004004a2 in wait_loop (arg=0x0) at crash.c:8\n" +
				"#1  <signal handler called>\n" +
				"Thread 1 (LWP 1234):\n" +
				"#0  0x00000000004004f1 in crash (data=0x0) at crash.c:22\n" +
				"\n" +
				"#0  0x00000000004004f1 in crash (data=0x0) at crash.c:22\n" +
				"From        To          Syms Read   Shared Object Library\n" +
				"0x0000003e0d600000  0x0000003e0d700000  Yes  /lib64/libc.so.6\n",
		},
		{
			name: "koops",
			tag:  ReportKerneloops,
			in: "Linux version 3.11.3-201.fc19.x86_64\n" +
				"Tainted: P W O\n" +
				"Modules linked in: ext4 jbd2\n" +
				"<IRQ>\n" +
				" [<ffffffff81234567>] ? vfs_read+0x42/0x80 [ext4]\n" +
				"<EOI>\n" +
				" [<ffffffff81234568>] sys_read+0x10/0x30\n",
		},
		{
			name: "python",
			tag:  ReportPython,
			in:   pythonDivisionTraceback,
		},
		{
			name: "java",
			tag:  ReportJava,
			in:   javaChainedTrace,
		},
		{
			name: "javascript",
			tag:  ReportJavaScript,
			in: "TypeError: x is not a function\n" +
				"    at handle (/srv/app.js:12:5)\n" +
				"    at /srv/app.js:7:1\n",
		},
	} {
		orig, err := Parse(tc.tag, tc.in)
		require.NoError(t, err, tc.name)
		text := ToJSON(orig)
		back, err := FromJSON(tc.tag, text)
		require.NoError(t, err, tc.name)
		if !reflect.DeepEqual(orig, back) {
			dmp := diffmatchpatch.New()
			diffs := dmp.DiffMain(text, ToJSON(back), false)
			t.Errorf("%s: round trip changed the stacktrace:\n%s", tc.name, dmp.DiffPrettyText(diffs))
		}
		if got := back.Compare(orig); got != 0 {
			t.Errorf("%s: Compare(back, orig)=%d; want 0", tc.name, got)
		}
	}
}

func TestCoreDocumentRoundTrip(t *testing.T) {
	gdbText := "Thread 1 (LWP 1234):\n" +
		"#0  0x0000000000400512 in crash (data=0x0) at crash.c:22\n" +
		"#1  0x00007f33bd600123 in start () from /lib64/libc.so.6\n"
	unstrip := "0x400000+0x208000 aabbccddee@0x400284 /usr/bin/crash - crash\n" +
		"0x7f33bd600000+0x100000 ffeeddccbb@0x7f33bd600284 /lib64/libc.so.6 - libc.so.6\n"
	orig, err := NewCoreStacktrace(gdbText, unstrip, "/usr/bin/crash")
	require.NoError(t, err)
	orig.Signal = 11
	orig.OnlyCrashThread = true

	back, err := FromJSON(ReportCore, ToJSON(orig))
	require.NoError(t, err)
	if !reflect.DeepEqual(Stacktrace(orig), back) {
		dmp := diffmatchpatch.New()
		diffs := dmp.DiffMain(ToJSON(orig), ToJSON(back), false)
		t.Errorf("round trip changed the stacktrace:\n%s", dmp.DiffPrettyText(diffs))
	}
}

func TestFromDocumentRejectsBadShapes(t *testing.T) {
	for _, tc := range []struct {
		name string
		tag  ReportType
		doc  Document
	}{
		{
			name: "missing type tag",
			tag:  ReportGdb,
			doc:  Document{"threads": []interface{}{}},
		},
		{
			name: "unknown type tag",
			tag:  ReportGdb,
			doc:  Document{"type": "elf"},
		},
		{
			name: "tag mismatch",
			tag:  ReportGdb,
			doc:  Document{"type": "koops", "frames": []interface{}{}},
		},
		{
			name: "threads not an array",
			tag:  ReportGdb,
			doc:  Document{"type": "gdb", "threads": "nope"},
		},
		{
			name: "frame not an object",
			tag:  ReportKerneloops,
			doc:  Document{"type": "koops", "frames": []interface{}{"nope"}},
		},
		{
			name: "build id offset without build id",
			tag:  ReportCore,
			doc: Document{"type": "core", "stacktrace": []interface{}{
				map[string]interface{}{"id": uint64(1), "frames": []interface{}{
					map[string]interface{}{"build_id_offset": uint64(4)},
				}},
			}},
		},
		{
			name: "java message on method frame",
			tag:  ReportJava,
			doc: Document{"type": "java", "threads": []interface{}{
				map[string]interface{}{"frames": []interface{}{
					map[string]interface{}{"name": "A.run", "message": "boom"},
				}},
			}},
		},
		{
			name: "java adjacent exception headers",
			tag:  ReportJava,
			doc: Document{"type": "java", "threads": []interface{}{
				map[string]interface{}{"frames": []interface{}{
					map[string]interface{}{"name": "java.lang.RuntimeException", "is_exception": true},
					map[string]interface{}{"name": "java.lang.NullPointerException", "is_exception": true},
					map[string]interface{}{"name": "A.run", "file_name": "A.java", "file_line": uint64(5)},
				}},
			}},
		},
	} {
		if _, err := FromDocument(tc.tag, tc.doc); err == nil {
			t.Errorf("%s: FromDocument succeeded; want error", tc.name)
		}
	}
}

func TestFromDocumentIgnoresUnknownKeys(t *testing.T) {
	doc := Document{
		"type":           "javascript",
		"exception_name": "TypeError",
		"comment":        "not part of the schema",
		"frames": []interface{}{
			map[string]interface{}{
				"file_name":   "app.js",
				"file_line":   uint64(3),
				"line_column": uint64(9),
				"extra":       true,
			},
		},
	}
	st, err := FromDocument(ReportJavaScript, doc)
	require.NoError(t, err)
	require.Len(t, st.(*JsStacktrace).JsFrames(), 1)
}

// The ruby tag reads python-shaped documents.
func TestFromDocumentRubyTag(t *testing.T) {
	orig, err := Parse(ReportPython, pythonDivisionTraceback)
	require.NoError(t, err)
	if _, err := FromDocument(ReportRuby, ToDocument(orig)); err != nil {
		t.Errorf("FromDocument(ruby, python document)=%v; want nil", err)
	}
}
