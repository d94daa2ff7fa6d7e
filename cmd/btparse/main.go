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

// btparse parses a textual crash report and prints it back as a
// document, full text or short text.
package main

import (
	goflag "flag"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/golang/glog"
	flag "github.com/spf13/pflag"

	"github.com/google/backtrace"
)

var (
	typeFlag      = flag.String("type", "gdb", "report dialect: gdb, core, koops, python, ruby, java, javascript")
	outputFlag    = flag.String("output", "json", "output form: json, text, short, quality")
	maxFramesFlag = flag.Int("max-frames", 8, "frame limit for --output=short")
)

func run() error {
	reportType, err := backtrace.ParseReportType(*typeFlag)
	if err != nil {
		return err
	}

	var input []byte
	switch flag.NArg() {
	case 0:
		input, err = ioutil.ReadAll(os.Stdin)
	case 1:
		input, err = ioutil.ReadFile(flag.Arg(0))
	default:
		return fmt.Errorf("expected at most one input file, got %d", flag.NArg())
	}
	if err != nil {
		return err
	}

	var trace backtrace.Stacktrace
	if reportType == backtrace.ReportCore {
		trace, err = backtrace.FromJSON(reportType, string(input))
	} else {
		trace, err = backtrace.Parse(reportType, string(input))
	}
	if err != nil {
		return err
	}

	switch *outputFlag {
	case "json":
		fmt.Println(backtrace.ToJSON(trace))
	case "text":
		fmt.Print(backtrace.TextOf(trace))
	case "short":
		fmt.Print(backtrace.ShortText(trace, *maxFramesFlag))
	case "quality":
		fmt.Printf("simple: %.3f\ncomplex: %.3f\n",
			backtrace.QualitySimple(trace), backtrace.QualityComplex(trace))
	default:
		return fmt.Errorf("unknown output form %q", *outputFlag)
	}
	return nil
}

func main() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()
	defer glog.Flush()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "btparse: %v\n", err)
		os.Exit(1)
	}
}
