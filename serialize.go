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
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Document is the structured form every stacktrace maps to: a tree
// of scalars, arrays and objects. Key names are part of the wire
// contract. Optional fields are omitted, never emitted as null.
type Document map[string]interface{}

// ToDocument maps a stacktrace to its document form. It cannot fail:
// every model value has a document rendition.
func ToDocument(s Stacktrace) Document {
	switch st := s.(type) {
	case *GdbStacktrace:
		return gdbToDocument(st)
	case *CoreStacktrace:
		return coreToDocument(st)
	case *KoopsStacktrace:
		return koopsToDocument(st)
	case *PythonStacktrace:
		return pythonToDocument(st)
	case *JavaStacktrace:
		return javaToDocument(st)
	case *JsStacktrace:
		return jsToDocument(st)
	}
	panic("backtrace: unknown stacktrace type")
}

// FromDocument rebuilds a stacktrace from its document form. The
// reader is strict about the type tag and field shapes, lenient
// about unknown keys, and rejects documents violating the model
// invariants.
func FromDocument(t ReportType, doc Document) (Stacktrace, error) {
	tag, ok, err := docString(doc, "", "type")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("document has no \"type\" tag")
	}
	docType, err := ParseReportType(tag)
	if err != nil {
		return nil, err
	}
	if docType != t && !(t == ReportRuby && docType == ReportPython) {
		return nil, errors.Errorf("document type %q does not match requested %q", tag, t.String())
	}
	switch docType {
	case ReportGdb:
		return gdbFromDocument(doc)
	case ReportCore:
		return coreFromDocument(doc)
	case ReportKerneloops:
		return koopsFromDocument(doc)
	case ReportPython, ReportRuby:
		return pythonFromDocument(doc)
	case ReportJava:
		return javaFromDocument(doc)
	case ReportJavaScript:
		return jsFromDocument(doc)
	}
	return nil, errors.Errorf("unknown report type %q", tag)
}

// ToJSON renders the stacktrace's document as JSON text.
func ToJSON(s Stacktrace) string {
	text, err := json.MarshalIndent(ToDocument(s), "", "    ")
	if err != nil {
		// A Document holds only scalars, arrays and maps; the
		// encoder cannot reject it.
		panic(err)
	}
	return string(text)
}

// FromJSON parses JSON text and rebuilds the stacktrace.
func FromJSON(t ReportType, text string) (Stacktrace, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decoding document")
	}
	return FromDocument(t, doc)
}

// field write helpers: empty optionals stay out of the document.

func putString(doc Document, key, val string) {
	if val != "" {
		doc[key] = val
	}
}

func putUint(doc Document, key string, val uint64) {
	if val != 0 {
		doc[key] = val
	}
}

// field read helpers: absent keys are fine, mistyped ones are not.

func docPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func docString(doc Document, path, key string) (string, bool, error) {
	v, ok := doc[key]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, errors.Errorf("%s: expected a string", docPath(path, key))
	}
	return s, true, nil
}

func docUint(doc Document, path, key string) (uint64, bool, error) {
	v, ok := doc[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case json.Number:
		u, err := parseDocNumber(string(n))
		if err != nil {
			return 0, false, errors.Wrapf(err, "%s", docPath(path, key))
		}
		return u, true, nil
	case float64:
		if n < 0 {
			return 0, false, errors.Errorf("%s: expected a non-negative number", docPath(path, key))
		}
		return uint64(n), true, nil
	case int:
		return uint64(n), true, nil
	case int64:
		return uint64(n), true, nil
	case uint64:
		return n, true, nil
	}
	return 0, false, errors.Errorf("%s: expected a number", docPath(path, key))
}

func parseDocNumber(s string) (uint64, error) {
	sc := newScanner(s)
	v, ok := sc.parseUint()
	if !ok || !sc.eof() {
		return 0, errors.Errorf("bad number %q", s)
	}
	return v, nil
}

func docBool(doc Document, path, key string) (bool, bool, error) {
	v, ok := doc[key]
	if !ok {
		return false, false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, false, errors.Errorf("%s: expected a boolean", docPath(path, key))
	}
	return b, true, nil
}

func docArray(doc Document, path, key string) ([]interface{}, bool, error) {
	v, ok := doc[key]
	if !ok {
		return nil, false, nil
	}
	a, ok := v.([]interface{})
	if !ok {
		return nil, false, errors.Errorf("%s: expected an array", docPath(path, key))
	}
	return a, true, nil
}

func docObject(doc Document, path, key string) (Document, bool, error) {
	v, ok := doc[key]
	if !ok {
		return nil, false, nil
	}
	switch m := v.(type) {
	case Document:
		return m, true, nil
	case map[string]interface{}:
		return Document(m), true, nil
	}
	return nil, false, errors.Errorf("%s: expected an object", docPath(path, key))
}

func elemObject(v interface{}, path string) (Document, error) {
	switch m := v.(type) {
	case Document:
		return m, nil
	case map[string]interface{}:
		return Document(m), nil
	}
	return nil, errors.Errorf("%s: expected an object", path)
}

// gdb

func gdbToDocument(st *GdbStacktrace) Document {
	doc := Document{"type": "gdb"}
	if st.CrashFrame != nil {
		doc["crash_frame"] = gdbFrameToDocument(st.CrashFrame)
	}
	threads := make([]interface{}, 0, len(st.threads))
	for _, t := range st.threads {
		frames := make([]interface{}, 0, len(t.frames))
		for _, f := range t.frames {
			frames = append(frames, gdbFrameToDocument(f.(*GdbFrame)))
		}
		threads = append(threads, Document{
			"number": uint64(t.Number),
			"tid":    uint64(t.TID),
			"frames": frames,
		})
	}
	doc["threads"] = threads
	if len(st.Libraries) > 0 {
		libs := make([]interface{}, 0, len(st.Libraries))
		for _, lib := range st.Libraries {
			libs = append(libs, Document{
				"from":           lib.From,
				"to":             lib.To,
				"filename":       lib.Filename,
				"symbols_loaded": lib.SymbolsLoaded,
			})
		}
		doc["libraries"] = libs
	}
	return doc
}

func gdbFrameToDocument(f *GdbFrame) Document {
	doc := Document{
		"number":                uint64(f.Number),
		"signal_handler_called": f.SignalHandlerCalled,
	}
	putString(doc, "function_name", f.FunctionName)
	putString(doc, "function_type", f.FunctionType)
	putString(doc, "arguments", f.Arguments)
	putString(doc, "source_file", f.SourceFile)
	putUint(doc, "source_line", uint64(f.SourceLine))
	if f.AddressKnown {
		doc["address"] = f.Address
	}
	putString(doc, "library_name", f.LibraryName)
	return doc
}

func gdbFromDocument(doc Document) (*GdbStacktrace, error) {
	st := &GdbStacktrace{}
	if crash, ok, err := docObject(doc, "", "crash_frame"); err != nil {
		return nil, err
	} else if ok {
		frame, err := gdbFrameFromDocument(crash, "crash_frame")
		if err != nil {
			return nil, err
		}
		st.CrashFrame = frame
	}
	threads, ok, err := docArray(doc, "", "threads")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("threads: missing")
	}
	for i, tv := range threads {
		path := docPath("threads", strconv.Itoa(i))
		td, err := elemObject(tv, path)
		if err != nil {
			return nil, err
		}
		thread := &GdbThread{}
		number, _, err := docUint(td, path, "number")
		if err != nil {
			return nil, err
		}
		thread.Number = uint32(number)
		tid, _, err := docUint(td, path, "tid")
		if err != nil {
			return nil, err
		}
		thread.TID = uint32(tid)
		frames, _, err := docArray(td, path, "frames")
		if err != nil {
			return nil, err
		}
		for j, fv := range frames {
			fpath := docPath(path, docPath("frames", strconv.Itoa(j)))
			fd, err := elemObject(fv, fpath)
			if err != nil {
				return nil, err
			}
			frame, err := gdbFrameFromDocument(fd, fpath)
			if err != nil {
				return nil, err
			}
			thread.frames = append(thread.frames, frame)
		}
		st.threads = append(st.threads, thread)
	}
	libs, _, err := docArray(doc, "", "libraries")
	if err != nil {
		return nil, err
	}
	for i, lv := range libs {
		path := docPath("libraries", strconv.Itoa(i))
		ld, err := elemObject(lv, path)
		if err != nil {
			return nil, err
		}
		lib := &GdbSharedlib{}
		if lib.From, _, err = docUint(ld, path, "from"); err != nil {
			return nil, err
		}
		if lib.To, _, err = docUint(ld, path, "to"); err != nil {
			return nil, err
		}
		if lib.Filename, _, err = docString(ld, path, "filename"); err != nil {
			return nil, err
		}
		if lib.SymbolsLoaded, _, err = docBool(ld, path, "symbols_loaded"); err != nil {
			return nil, err
		}
		st.Libraries = append(st.Libraries, lib)
	}
	return st, nil
}

func gdbFrameFromDocument(doc Document, path string) (*GdbFrame, error) {
	f := &GdbFrame{}
	var err error
	if f.FunctionName, _, err = docString(doc, path, "function_name"); err != nil {
		return nil, err
	}
	if f.FunctionType, _, err = docString(doc, path, "function_type"); err != nil {
		return nil, err
	}
	number, _, err := docUint(doc, path, "number")
	if err != nil {
		return nil, err
	}
	f.Number = uint32(number)
	if f.Arguments, _, err = docString(doc, path, "arguments"); err != nil {
		return nil, err
	}
	if f.SourceFile, _, err = docString(doc, path, "source_file"); err != nil {
		return nil, err
	}
	line, _, err := docUint(doc, path, "source_line")
	if err != nil {
		return nil, err
	}
	f.SourceLine = int(line)
	if f.SignalHandlerCalled, _, err = docBool(doc, path, "signal_handler_called"); err != nil {
		return nil, err
	}
	if f.Address, f.AddressKnown, err = docUint(doc, path, "address"); err != nil {
		return nil, err
	}
	if f.LibraryName, _, err = docString(doc, path, "library_name"); err != nil {
		return nil, err
	}
	return f, nil
}

// core

func coreToDocument(st *CoreStacktrace) Document {
	doc := Document{"type": "core"}
	putUint(doc, "signal", uint64(st.Signal))
	putString(doc, "executable", st.Executable)
	if st.OnlyCrashThread {
		doc["only_crash_thread"] = true
	}
	threads := make([]interface{}, 0, len(st.threads))
	for i, t := range st.threads {
		frames := make([]interface{}, 0, len(t.frames))
		for _, f := range t.frames {
			frames = append(frames, coreFrameToDocument(f.(*CoreFrame)))
		}
		td := Document{"id": uint64(t.ID), "frames": frames}
		if i == st.CrashThreadIndex {
			td["crash_thread"] = true
		}
		threads = append(threads, td)
	}
	doc["stacktrace"] = threads
	return doc
}

func coreFrameToDocument(f *CoreFrame) Document {
	doc := Document{}
	if f.AddressKnown {
		doc["address"] = f.Address
	}
	putString(doc, "build_id", f.BuildID)
	if f.HasBuildIDOffset {
		doc["build_id_offset"] = f.BuildIDOffset
	}
	putString(doc, "function_name", f.FunctionName)
	putString(doc, "file_name", f.FileName)
	if f.Fingerprint != "" {
		doc["fingerprint"] = f.Fingerprint
		doc["fingerprint_hashed"] = f.FingerprintHashed
	}
	return doc
}

func coreFromDocument(doc Document) (*CoreStacktrace, error) {
	st := &CoreStacktrace{CrashThreadIndex: -1}
	signal, _, err := docUint(doc, "", "signal")
	if err != nil {
		return nil, err
	}
	st.Signal = uint16(signal)
	if st.Executable, _, err = docString(doc, "", "executable"); err != nil {
		return nil, err
	}
	if st.OnlyCrashThread, _, err = docBool(doc, "", "only_crash_thread"); err != nil {
		return nil, err
	}
	threads, ok, err := docArray(doc, "", "stacktrace")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("stacktrace: missing")
	}
	for i, tv := range threads {
		path := docPath("stacktrace", strconv.Itoa(i))
		td, err := elemObject(tv, path)
		if err != nil {
			return nil, err
		}
		thread := &CoreThread{}
		id, _, err := docUint(td, path, "id")
		if err != nil {
			return nil, err
		}
		thread.ID = int64(id)
		crash, _, err := docBool(td, path, "crash_thread")
		if err != nil {
			return nil, err
		}
		if crash {
			st.CrashThreadIndex = i
		}
		frames, _, err := docArray(td, path, "frames")
		if err != nil {
			return nil, err
		}
		for j, fv := range frames {
			fpath := docPath(path, docPath("frames", strconv.Itoa(j)))
			fd, err := elemObject(fv, fpath)
			if err != nil {
				return nil, err
			}
			frame, err := coreFrameFromDocument(fd, fpath)
			if err != nil {
				return nil, err
			}
			thread.frames = append(thread.frames, frame)
		}
		st.threads = append(st.threads, thread)
	}
	return st, nil
}

func coreFrameFromDocument(doc Document, path string) (*CoreFrame, error) {
	f := &CoreFrame{}
	var err error
	if f.Address, f.AddressKnown, err = docUint(doc, path, "address"); err != nil {
		return nil, err
	}
	if f.BuildID, _, err = docString(doc, path, "build_id"); err != nil {
		return nil, err
	}
	if f.BuildIDOffset, f.HasBuildIDOffset, err = docUint(doc, path, "build_id_offset"); err != nil {
		return nil, err
	}
	if f.HasBuildIDOffset && f.BuildID == "" {
		return nil, errors.Errorf("%s: build_id_offset without build_id", path)
	}
	if f.FunctionName, _, err = docString(doc, path, "function_name"); err != nil {
		return nil, err
	}
	if f.FileName, _, err = docString(doc, path, "file_name"); err != nil {
		return nil, err
	}
	if f.Fingerprint, _, err = docString(doc, path, "fingerprint"); err != nil {
		return nil, err
	}
	if f.FingerprintHashed, _, err = docBool(doc, path, "fingerprint_hashed"); err != nil {
		return nil, err
	}
	return f, nil
}

// koops

var koopsTaintKeys = []string{
	"module_proprietary", "module_out_of_tree", "forced_module",
	"forced_removal", "smp_unsafe", "mce", "page_release",
	"userspace", "died_recently", "acpi_overridden", "warning",
	"staging_driver", "firmware_workaround",
}

func koopsToDocument(st *KoopsStacktrace) Document {
	doc := Document{"type": "koops"}
	putString(doc, "version", st.Version)
	taint := Document{}
	for i, set := range st.taintFlags() {
		if set {
			taint[koopsTaintKeys[i]] = true
		}
	}
	doc["taint_flags"] = taint
	modules := make([]interface{}, 0, len(st.Modules))
	for _, m := range st.Modules {
		modules = append(modules, m)
	}
	doc["modules"] = modules
	frames := make([]interface{}, 0, len(st.frames))
	for _, f := range st.frames {
		frames = append(frames, koopsFrameToDocument(f.(*KoopsFrame)))
	}
	doc["frames"] = frames
	return doc
}

func koopsFrameToDocument(f *KoopsFrame) Document {
	doc := Document{
		"reliable":        f.Reliable,
		"function_offset": f.FunctionOffset,
		"function_length": f.FunctionLength,
	}
	putUint(doc, "address", f.Address)
	putString(doc, "function_name", f.FunctionName)
	putString(doc, "module_name", f.ModuleName)
	putUint(doc, "from_address", f.FromAddress)
	if f.FromFunctionName != "" {
		doc["from_function_name"] = f.FromFunctionName
		doc["from_function_offset"] = f.FromFunctionOffset
		doc["from_function_length"] = f.FromFunctionLength
	}
	putString(doc, "from_module_name", f.FromModuleName)
	putString(doc, "special_stack", f.SpecialStack)
	return doc
}

func koopsFromDocument(doc Document) (*KoopsStacktrace, error) {
	st := &KoopsStacktrace{}
	var err error
	if st.Version, _, err = docString(doc, "", "version"); err != nil {
		return nil, err
	}
	taint, ok, err := docObject(doc, "", "taint_flags")
	if err != nil {
		return nil, err
	}
	if ok {
		flags := []*bool{
			&st.TaintModuleProprietary, &st.TaintModuleOutOfTree,
			&st.TaintForcedModule, &st.TaintForcedRemoval,
			&st.TaintSmpUnsafe, &st.TaintMce, &st.TaintPageRelease,
			&st.TaintUserspace, &st.TaintDiedRecently,
			&st.TaintAcpiOverridden, &st.TaintWarning,
			&st.TaintStagingDriver, &st.TaintFirmwareWorkaround,
		}
		for i, key := range koopsTaintKeys {
			if *flags[i], _, err = docBool(taint, "taint_flags", key); err != nil {
				return nil, err
			}
		}
	}
	modules, _, err := docArray(doc, "", "modules")
	if err != nil {
		return nil, err
	}
	for i, mv := range modules {
		m, ok := mv.(string)
		if !ok {
			return nil, errors.Errorf("modules.%d: expected a string", i)
		}
		st.Modules = append(st.Modules, m)
	}
	frames, ok, err := docArray(doc, "", "frames")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("frames: missing")
	}
	for i, fv := range frames {
		path := docPath("frames", strconv.Itoa(i))
		fd, err := elemObject(fv, path)
		if err != nil {
			return nil, err
		}
		frame, err := koopsFrameFromDocument(fd, path)
		if err != nil {
			return nil, err
		}
		st.frames = append(st.frames, frame)
	}
	return st, nil
}

func koopsFrameFromDocument(doc Document, path string) (*KoopsFrame, error) {
	f := &KoopsFrame{}
	var err error
	if f.Address, _, err = docUint(doc, path, "address"); err != nil {
		return nil, err
	}
	if f.Reliable, _, err = docBool(doc, path, "reliable"); err != nil {
		return nil, err
	}
	if f.FunctionName, _, err = docString(doc, path, "function_name"); err != nil {
		return nil, err
	}
	if f.FunctionOffset, _, err = docUint(doc, path, "function_offset"); err != nil {
		return nil, err
	}
	if f.FunctionLength, _, err = docUint(doc, path, "function_length"); err != nil {
		return nil, err
	}
	if f.ModuleName, _, err = docString(doc, path, "module_name"); err != nil {
		return nil, err
	}
	if f.FromAddress, _, err = docUint(doc, path, "from_address"); err != nil {
		return nil, err
	}
	if f.FromFunctionName, _, err = docString(doc, path, "from_function_name"); err != nil {
		return nil, err
	}
	if f.FromFunctionOffset, _, err = docUint(doc, path, "from_function_offset"); err != nil {
		return nil, err
	}
	if f.FromFunctionLength, _, err = docUint(doc, path, "from_function_length"); err != nil {
		return nil, err
	}
	if f.FromModuleName, _, err = docString(doc, path, "from_module_name"); err != nil {
		return nil, err
	}
	if f.SpecialStack, _, err = docString(doc, path, "special_stack"); err != nil {
		return nil, err
	}
	return f, nil
}

// python

func pythonToDocument(st *PythonStacktrace) Document {
	doc := Document{"type": "python"}
	putString(doc, "exception_name", st.ExceptionName)
	frames := make([]interface{}, 0, len(st.frames))
	for _, f := range st.frames {
		frames = append(frames, pythonFrameToDocument(f.(*PythonFrame)))
	}
	doc["frames"] = frames
	return doc
}

func pythonFrameToDocument(f *PythonFrame) Document {
	doc := Document{
		"file_name":        f.FileName,
		"file_line":        uint64(f.FileLine),
		"function_name":    f.FunctionName,
		"special_file":     f.SpecialFile,
		"special_function": f.SpecialFunction,
	}
	putString(doc, "line_contents", f.LineContents)
	return doc
}

func pythonFromDocument(doc Document) (*PythonStacktrace, error) {
	st := &PythonStacktrace{}
	var err error
	if st.ExceptionName, _, err = docString(doc, "", "exception_name"); err != nil {
		return nil, err
	}
	frames, ok, err := docArray(doc, "", "frames")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("frames: missing")
	}
	for i, fv := range frames {
		path := docPath("frames", strconv.Itoa(i))
		fd, err := elemObject(fv, path)
		if err != nil {
			return nil, err
		}
		f := &PythonFrame{}
		if f.FileName, _, err = docString(fd, path, "file_name"); err != nil {
			return nil, err
		}
		line, _, err := docUint(fd, path, "file_line")
		if err != nil {
			return nil, err
		}
		f.FileLine = int(line)
		if f.FunctionName, _, err = docString(fd, path, "function_name"); err != nil {
			return nil, err
		}
		if f.SpecialFile, _, err = docBool(fd, path, "special_file"); err != nil {
			return nil, err
		}
		if f.SpecialFunction, _, err = docBool(fd, path, "special_function"); err != nil {
			return nil, err
		}
		if f.LineContents, _, err = docString(fd, path, "line_contents"); err != nil {
			return nil, err
		}
		st.frames = append(st.frames, f)
	}
	return st, nil
}

// java

func javaToDocument(st *JavaStacktrace) Document {
	threads := make([]interface{}, 0, len(st.threads))
	for _, t := range st.threads {
		frames := make([]interface{}, 0, len(t.frames))
		for _, f := range t.frames {
			frames = append(frames, javaFrameToDocument(f.(*JavaFrame)))
		}
		td := Document{"frames": frames}
		putString(td, "name", t.Name)
		threads = append(threads, td)
	}
	return Document{"type": "java", "threads": threads}
}

func javaFrameToDocument(f *JavaFrame) Document {
	doc := Document{
		"name":         f.Name,
		"is_native":    f.IsNative,
		"is_exception": f.IsException,
	}
	putString(doc, "file_name", f.FileName)
	putUint(doc, "file_line", uint64(f.FileLine))
	putString(doc, "class_path", f.ClassPath)
	putString(doc, "message", f.Message)
	putUint(doc, "fold_count", uint64(f.FoldCount))
	return doc
}

func javaFromDocument(doc Document) (*JavaStacktrace, error) {
	st := &JavaStacktrace{}
	threads, ok, err := docArray(doc, "", "threads")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("threads: missing")
	}
	for i, tv := range threads {
		path := docPath("threads", strconv.Itoa(i))
		td, err := elemObject(tv, path)
		if err != nil {
			return nil, err
		}
		thread := &JavaThread{}
		if thread.Name, _, err = docString(td, path, "name"); err != nil {
			return nil, err
		}
		frames, _, err := docArray(td, path, "frames")
		if err != nil {
			return nil, err
		}
		prevException := false
		for j, fv := range frames {
			fpath := docPath(path, docPath("frames", strconv.Itoa(j)))
			fd, err := elemObject(fv, fpath)
			if err != nil {
				return nil, err
			}
			f := &JavaFrame{}
			name, ok, err := docString(fd, fpath, "name")
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, errors.Errorf("%s: name: missing", fpath)
			}
			f.Name = name
			if f.FileName, _, err = docString(fd, fpath, "file_name"); err != nil {
				return nil, err
			}
			line, _, err := docUint(fd, fpath, "file_line")
			if err != nil {
				return nil, err
			}
			f.FileLine = int(line)
			if f.ClassPath, _, err = docString(fd, fpath, "class_path"); err != nil {
				return nil, err
			}
			if f.IsNative, _, err = docBool(fd, fpath, "is_native"); err != nil {
				return nil, err
			}
			if f.IsException, _, err = docBool(fd, fpath, "is_exception"); err != nil {
				return nil, err
			}
			if f.Message, _, err = docString(fd, fpath, "message"); err != nil {
				return nil, err
			}
			fold, _, err := docUint(fd, fpath, "fold_count")
			if err != nil {
				return nil, err
			}
			f.FoldCount = int(fold)
			if !f.IsException && (f.Message != "" || f.FoldCount != 0) {
				return nil, errors.Errorf("%s: message and fold_count require an exception frame", fpath)
			}
			// Exception headers interleave with method frames; two in
			// a row would describe a chain link with no frames at
			// all, which no grammar produces.
			if f.IsException && prevException {
				return nil, errors.Errorf("%s: exception frame directly follows another exception frame", fpath)
			}
			prevException = f.IsException
			thread.frames = append(thread.frames, f)
		}
		st.threads = append(st.threads, thread)
	}
	return st, nil
}

// javascript

func jsToDocument(st *JsStacktrace) Document {
	doc := Document{"type": "javascript"}
	putString(doc, "exception_name", st.ExceptionName)
	frames := make([]interface{}, 0, len(st.frames))
	for _, f := range st.frames {
		frames = append(frames, jsFrameToDocument(f.(*JsFrame)))
	}
	doc["frames"] = frames
	return doc
}

func jsFrameToDocument(f *JsFrame) Document {
	doc := Document{
		"file_line":   uint64(f.FileLine),
		"line_column": uint64(f.LineColumn),
	}
	putString(doc, "file_name", f.FileName)
	putString(doc, "function_name", f.FunctionName)
	return doc
}

func jsFromDocument(doc Document) (*JsStacktrace, error) {
	st := &JsStacktrace{}
	var err error
	if st.ExceptionName, _, err = docString(doc, "", "exception_name"); err != nil {
		return nil, err
	}
	frames, ok, err := docArray(doc, "", "frames")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("frames: missing")
	}
	for i, fv := range frames {
		path := docPath("frames", strconv.Itoa(i))
		fd, err := elemObject(fv, path)
		if err != nil {
			return nil, err
		}
		f := &JsFrame{}
		if f.FileName, _, err = docString(fd, path, "file_name"); err != nil {
			return nil, err
		}
		line, _, err := docUint(fd, path, "file_line")
		if err != nil {
			return nil, err
		}
		f.FileLine = int(line)
		col, _, err := docUint(fd, path, "line_column")
		if err != nil {
			return nil, err
		}
		f.LineColumn = int(col)
		if f.FunctionName, _, err = docString(fd, path, "function_name"); err != nil {
			return nil, err
		}
		st.frames = append(st.frames, f)
	}
	return st, nil
}

