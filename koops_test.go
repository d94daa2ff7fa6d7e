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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKoopsBasic(t *testing.T) {
	in := "[ 4.321] BUG: unable to handle kernel NULL pointer dereference at 0000000000000000\n" +
		"[ 4.321] Modules linked in: ext4 jbd2\n" +
		"[ 4.321]  [<ffffffff81234567>] ? vfs_read+0x42/0x80\n"
	st, err := ParseKoopsStacktrace(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"ext4", "jbd2"}, st.Modules)
	require.Len(t, st.KoopsFrames(), 1)
	f := st.KoopsFrames()[0]
	assert.Equal(t, "vfs_read", f.FunctionName)
	assert.Equal(t, uint64(0x42), f.FunctionOffset)
	assert.Equal(t, uint64(0x80), f.FunctionLength)
	assert.False(t, f.Reliable)
	assert.Equal(t, uint64(0xffffffff81234567), f.Address)
}

func TestParseKoopsVersionAndTaint(t *testing.T) {
	in := "Linux version 3.11.3-201.fc19.x86_64 (builder@) (gcc version 4.8.1)\n" +
		"Pid: 1110, comm: xxx Tainted: P W  O 3.11.3-201.fc19.x86_64\n" +
		"Call Trace:\n" +
		" [<ffffffff812607ec>] dump_stack+0x19/0x1b [wl]\n"
	st, err := ParseKoopsStacktrace(in)
	require.NoError(t, err)
	assert.Equal(t, "3.11.3-201.fc19.x86_64", st.Version)
	assert.True(t, st.TaintModuleProprietary)
	assert.True(t, st.TaintWarning)
	require.Len(t, st.KoopsFrames(), 1)
	f := st.KoopsFrames()[0]
	assert.True(t, f.Reliable)
	assert.Equal(t, "dump_stack", f.FunctionName)
	assert.Equal(t, "wl", f.ModuleName)
}

func TestParseKoopsTaintFlagsOnly(t *testing.T) {
	in := "Tainted: GFRSMBUDACIWO\n [<ffffffff810001>] f+0x1/0x2\n"
	st, err := ParseKoopsStacktrace(in)
	require.NoError(t, err)
	flags := st.taintFlags()
	// Every flag except module_proprietary (P) is set; G is the
	// not-tainted placeholder and sets nothing.
	for i, set := range flags {
		want := koopsTaintKeys[i] != "module_proprietary"
		if set != want {
			t.Errorf("taint %s=%v; want %v", koopsTaintKeys[i], set, want)
		}
	}
}

func TestParseKoopsSpecialStack(t *testing.T) {
	in := "<IRQ>\n" +
		" [<ffffffff810001>] irq_handler+0x1/0x10\n" +
		"<EOI>\n" +
		" [<ffffffff810002>] worker+0x2/0x20\n"
	st, err := ParseKoopsStacktrace(in)
	require.NoError(t, err)
	require.Len(t, st.KoopsFrames(), 2)
	assert.Equal(t, "IRQ", st.KoopsFrames()[0].SpecialStack)
	assert.Equal(t, "", st.KoopsFrames()[1].SpecialStack)
}

func TestParseKoopsCallerFields(t *testing.T) {
	in := " [<c06969d4>] tty_ldisc_deref+0x10/0x50 from [<c0696a2c>] tty_ldisc_release+0x2c/0x9c\n"
	st, err := ParseKoopsStacktrace(in)
	require.NoError(t, err)
	f := st.KoopsFrames()[0]
	assert.Equal(t, "tty_ldisc_deref", f.FunctionName)
	assert.Equal(t, uint64(0xc0696a2c), f.FromAddress)
	assert.Equal(t, "tty_ldisc_release", f.FromFunctionName)
	assert.Equal(t, uint64(0x2c), f.FromFunctionOffset)
}

func TestParseKoopsNoFrames(t *testing.T) {
	_, err := ParseKoopsStacktrace("Linux version 3.11.3\nModules linked in: ext4\n")
	perr, ok := err.(*ParseError)
	require.True(t, ok, "want *ParseError, got %T", err)
	assert.Equal(t, 1, perr.Column)
}

func TestKoopsFrameCompare(t *testing.T) {
	a := &KoopsFrame{FunctionName: "vfs_read", FunctionOffset: 0x42, Address: 0x100, Reliable: true}
	b := &KoopsFrame{FunctionName: "vfs_read", FunctionOffset: 0x42, Address: 0x200, Reliable: false}
	assert.NotEqual(t, 0, a.Compare(b))
	assert.Equal(t, 0, a.CompareDistance(b))
	assert.Equal(t, 0, a.Compare(a.Duplicate()))

	u1 := &KoopsFrame{Address: 0x1}
	u2 := &KoopsFrame{Address: 0x1}
	assert.NotEqual(t, 0, u1.CompareDistance(u2))
}

func TestKoopsDuplicateIsDeep(t *testing.T) {
	st, err := ParseKoopsStacktrace(" [<ffffffff810001>] f+0x1/0x2 [mod]\nModules linked in: mod\n")
	require.NoError(t, err)
	dup := st.Duplicate().(*KoopsStacktrace)
	require.Equal(t, 0, Stacktrace(st).Compare(dup))
	dup.KoopsFrames()[0].FunctionName = "changed"
	dup.Modules[0] = "changed"
	assert.Equal(t, "f", st.KoopsFrames()[0].FunctionName)
	assert.Equal(t, "mod", st.Modules[0])
	if reflect.DeepEqual(st, dup) {
		t.Error("duplicate still equal after mutation")
	}
}
