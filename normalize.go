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
)

// QualityCounts counts the thread's usable frames: frames whose
// identity is known under the dialect's predicate. Managed exception
// headers describe the error, not a call, and stay out of the count.
func QualityCounts(t Thread) (ok, all int) {
	for _, f := range t.Frames() {
		if jf, isJava := f.(*JavaFrame); isJava && jf.IsException {
			continue
		}
		all++
		if f.qualityOK() {
			ok++
		}
	}
	return ok, all
}

// ThreadQuality is the fraction of usable frames in the thread; an
// empty thread is perfect.
func ThreadQuality(t Thread) float32 {
	ok, all := QualityCounts(t)
	if all == 0 {
		return 1
	}
	return float32(ok) / float32(all)
}

// QualitySimple is the fraction of usable frames across the whole
// stacktrace.
func QualitySimple(s Stacktrace) float32 {
	okTotal, allTotal := 0, 0
	for _, t := range s.Threads() {
		ok, all := QualityCounts(t)
		okTotal += ok
		allTotal += all
	}
	if allTotal == 0 {
		return 1
	}
	return float32(okTotal) / float32(allTotal)
}

// QualityComplex weights the crash thread at 60% and the remaining
// threads at 40%; inside the crash thread the five innermost frames
// count double. Without a discernible crash thread it degrades to
// QualitySimple.
func QualityComplex(s Stacktrace) float32 {
	crash, ok := s.crashThread()
	if !ok {
		return QualitySimple(s)
	}
	crashQ := weightedThreadQuality(crash)

	okOther, allOther := 0, 0
	for _, t := range s.Threads() {
		if t == crash {
			continue
		}
		ok, all := QualityCounts(t)
		okOther += ok
		allOther += all
	}
	if allOther == 0 {
		return crashQ
	}
	otherQ := float32(okOther) / float32(allOther)
	return 0.6*crashQ + 0.4*otherQ
}

// weightedThreadQuality doubles the weight of the five innermost
// frames.
func weightedThreadQuality(t Thread) float32 {
	okW, allW := 0, 0
	i := 0
	for _, f := range t.Frames() {
		if jf, isJava := f.(*JavaFrame); isJava && jf.IsException {
			continue
		}
		weight := 1
		if i < 5 {
			weight = 2
		}
		allW += weight
		if f.qualityOK() {
			okW += weight
		}
		i++
	}
	if allW == 0 {
		return 1
	}
	return float32(okW) / float32(allW)
}

// LimitFrameDepth keeps the innermost n frames of every thread and
// drops the rest. It is idempotent for any larger limit.
func LimitFrameDepth(s Stacktrace, n int) {
	for _, t := range s.Threads() {
		t.SetFrames(truncated(t.Frames(), n))
	}
}

// RemoveUnknownFrames drops the thread's frames without a known
// function identity, and signal-handler pseudo frames.
func RemoveUnknownFrames(t Thread) {
	var kept []Frame
	for _, f := range t.Frames() {
		if f.hiddenInShortText() {
			continue
		}
		if _, known := f.functionName(); !known {
			continue
		}
		kept = append(kept, f)
	}
	if len(kept) != t.FrameCount() {
		glog.V(2).Infof("normalize: dropped %d unknown frames", t.FrameCount()-len(kept))
	}
	t.SetFrames(kept)
}

// ShortText renders the innermost maxFrames frames of the crash
// thread (or the first thread) in the compact reporting form. The
// result has at most maxFrames+1 lines.
func ShortText(s Stacktrace, maxFrames int) string {
	t, ok := s.crashThread()
	if !ok {
		threads := s.Threads()
		if len(threads) == 0 {
			return ""
		}
		t = threads[0]
	}
	var buf bytes.Buffer
	threadShortText(t, &buf, maxFrames)
	return buf.String()
}

// DuplicationHashInputs canonicalizes the crash thread for
// deduplication: the thread is duplicated, stripped of unknown
// frames, and each remaining frame is rendered as
// "<function>|<library>", one per line. The caller feeds the result
// to whatever hash the report store uses.
func DuplicationHashInputs(s Stacktrace) string {
	t, ok := s.crashThread()
	if !ok {
		threads := s.Threads()
		if len(threads) == 0 {
			return ""
		}
		t = threads[0]
	}
	canon := t.Duplicate()
	RemoveUnknownFrames(canon)
	var buf bytes.Buffer
	for _, f := range canon.Frames() {
		fn, _ := f.functionName()
		buf.WriteString(fn)
		buf.WriteByte('|')
		buf.WriteString(f.libraryName())
		buf.WriteByte('\n')
	}
	return buf.String()
}
