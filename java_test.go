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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const javaChainedTrace = "Exception in thread \"main\" " +
	"java.lang.RuntimeException: java.lang.NullPointerException: null\n" +
	"\tat SimpleTest.throwNullPointerException(SimpleTest.java:36)\n" +
	"\tat SimpleTest.throwAndDontCatchException(SimpleTest.java:70)\n" +
	"\tat SimpleTest.main(SimpleTest.java:82)\n" +
	"Caused by: java.lang.NullPointerException: java.lang.InvalidRangeException: undefined index\n" +
	"\tat SimpleTest.execute(Test.java:7)\n" +
	"\tat SimpleTest.intercept(Test.java:2)\n" +
	"\t... 3 more\n" +
	"Caused by: java.lang.InvalidRangeException: undefined index\n" +
	"\tat MyVector.at(Containers.java:77)\n" +
	"\t... 5 more\n"

func TestParseJavaChainedExceptions(t *testing.T) {
	st, err := ParseJavaStacktrace(javaChainedTrace)
	require.NoError(t, err)
	require.Len(t, st.JavaThreads(), 1)
	thread := st.JavaThreads()[0]
	assert.Equal(t, "main", thread.Name)

	var headers, methods []*JavaFrame
	for _, f := range thread.Frames() {
		jf := f.(*JavaFrame)
		if jf.IsException {
			headers = append(headers, jf)
		} else {
			methods = append(methods, jf)
		}
	}
	require.Len(t, headers, 3)
	require.Len(t, methods, 6)

	// The innermost cause leads the thread.
	assert.Equal(t, "java.lang.InvalidRangeException", headers[0].Name)
	assert.Equal(t, 5, headers[0].FoldCount)
	assert.Equal(t, "java.lang.NullPointerException", headers[1].Name)
	assert.Equal(t, 3, headers[1].FoldCount)
	assert.Equal(t, "java.lang.RuntimeException", headers[2].Name)
	assert.Equal(t, 0, headers[2].FoldCount)
	assert.Equal(t, "java.lang.NullPointerException: null", headers[2].Message)

	assert.Equal(t, "MyVector.at", methods[0].Name)
	assert.Equal(t, "Containers.java", methods[0].FileName)
	assert.Equal(t, 77, methods[0].FileLine)

	// Headers never directly follow each other in the flat list.
	frames := thread.Frames()
	for i := 1; i < len(frames); i++ {
		prev, cur := frames[i-1].(*JavaFrame), frames[i].(*JavaFrame)
		if prev.IsException && cur.IsException {
			t.Fatalf("frames %d and %d are both exception headers", i-1, i)
		}
	}
}

func TestJavaExceptionsView(t *testing.T) {
	st, err := ParseJavaStacktrace(javaChainedTrace)
	require.NoError(t, err)
	chain := st.JavaThreads()[0].Exceptions()
	require.Len(t, chain, 3)
	assert.Equal(t, "java.lang.InvalidRangeException", chain[0].Name)
	assert.Equal(t, "undefined index", chain[0].Message)
	require.Len(t, chain[0].Frames, 1)
	assert.Equal(t, 5, chain[0].FoldCount)
	assert.Len(t, chain[1].Frames, 2)
	assert.Len(t, chain[2].Frames, 3)
}

func TestParseJavaLocations(t *testing.T) {
	in := "java.lang.UnsatisfiedLinkError: no snappy\n" +
		"\tat java.lang.Runtime.loadLibrary0(Native Method)\n" +
		"\tat org.Loader.load(Unknown Source)\n" +
		"\tat org.Snappy.init(Snappy.java:48) [file:/usr/share/java/snappy.jar]\n"
	st, err := ParseJavaStacktrace(in)
	require.NoError(t, err)
	thread := st.JavaThreads()[0]
	frames := thread.Frames()
	require.Len(t, frames, 4)

	native := frames[1].(*JavaFrame)
	assert.True(t, native.IsNative)
	assert.Equal(t, "", native.FileName)

	unknown := frames[2].(*JavaFrame)
	assert.False(t, unknown.IsNative)
	assert.Equal(t, "", unknown.FileName)

	jar := frames[3].(*JavaFrame)
	assert.Equal(t, "/usr/share/java/snappy.jar", jar.ClassPath)
	assert.Equal(t, "Snappy.java", jar.FileName)
	assert.Equal(t, 48, jar.FileLine)

	// Native methods count as usable; methods without any source do
	// not.
	assert.True(t, native.qualityOK())
	assert.False(t, unknown.qualityOK())
	assert.True(t, jar.qualityOK())
}

func TestParseJavaWithoutThreadHeader(t *testing.T) {
	in := "java.lang.NullPointerException\n" +
		"\tat Broken.run(Broken.java:5)\n"
	st, err := ParseJavaStacktrace(in)
	require.NoError(t, err)
	thread := st.JavaThreads()[0]
	assert.Equal(t, "", thread.Name)
	header := thread.Frames()[0].(*JavaFrame)
	assert.True(t, header.IsException)
	assert.Equal(t, "", header.Message)
}

func TestParseJavaErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
	}{
		{name: "empty", in: ""},
		{name: "header without frames", in: "java.lang.NullPointerException\n"},
		{name: "unclosed location", in: "E\n\tat Broken.run(Broken.java:5\n"},
	} {
		if _, err := ParseJavaStacktrace(tc.in); err == nil {
			t.Errorf("%s: ParseJavaStacktrace(%q)=_, nil; want error", tc.name, tc.in)
		}
	}
}

func TestJavaFrameCompare(t *testing.T) {
	a := &JavaFrame{Name: "A.run", FileName: "A.java", FileLine: 10}
	b := &JavaFrame{Name: "A.run", FileName: "A.java", FileLine: 20}
	assert.NotEqual(t, 0, a.Compare(b))
	assert.Equal(t, 0, a.CompareDistance(b))

	hdr := &JavaFrame{Name: "A.run", IsException: true}
	assert.NotEqual(t, 0, a.CompareDistance(hdr),
		"a header and a method frame of the same name stay distinct")
}
