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
	"github.com/pkg/errors"
)

// ReportType identifies the dialect a frame, thread or stacktrace
// belongs to. Every model value carries its type; mixing types in a
// binary operation is a programming error.
type ReportType int

const (
	ReportInvalid ReportType = iota
	ReportCore
	ReportPython
	ReportKerneloops
	ReportJava
	ReportGdb
	ReportRuby
	ReportJavaScript
)

var reportTypeNames = map[ReportType]string{
	ReportCore:       "core",
	ReportPython:     "python",
	ReportKerneloops: "koops",
	ReportJava:       "java",
	ReportGdb:        "gdb",
	ReportRuby:       "ruby",
	ReportJavaScript: "javascript",
}

func (t ReportType) String() string {
	if s, ok := reportTypeNames[t]; ok {
		return s
	}
	return "invalid"
}

// ParseReportType maps a wire tag to a ReportType.
func ParseReportType(s string) (ReportType, error) {
	for t, name := range reportTypeNames {
		if name == s {
			return t, nil
		}
	}
	return ReportInvalid, errors.Errorf("unknown report type %q", s)
}

// compareTypes orders two report types. It is the first key of every
// comparator so that mixed-type comparisons are total and non-zero.
func compareTypes(a, b ReportType) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
