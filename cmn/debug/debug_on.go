//go:build debug

// Package debug provides assertion helpers that are compiled in only
// under the "debug" build tag and are no-ops otherwise.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/golang/glog"
)

func _panic(a ...interface{}) {
	msg := "DEBUG PANIC: "
	if len(a) > 0 {
		msg += fmt.Sprint(a...)
	}
	buffer := bytes.NewBuffer(make([]byte, 0, 1024))
	fmt.Fprint(buffer, msg)
	for i := 2; i < 9; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if !strings.Contains(file, "graphdb") {
			break
		}
		f := filepath.Base(file)
		if buffer.Len() > len(msg) {
			buffer.WriteString(" <- ")
		}
		fmt.Fprintf(buffer, "%s:%d", f, line)
	}
	glog.Errorf("%s", buffer.Bytes())
	glog.Flush()
	panic(msg)
}

// Assert panics (in debug builds only) when cond is false.
func Assert(cond bool, a ...interface{}) {
	if !cond {
		_panic(a...)
	}
}

// Assertf is Assert with a format string.
func Assertf(cond bool, f string, a ...interface{}) {
	if !cond {
		_panic(fmt.Sprintf(f, a...))
	}
}

// AssertNoErr panics (in debug builds only) when err is non-nil.
func AssertNoErr(err error) {
	if err != nil {
		_panic(err)
	}
}

// Func runs f only in debug builds; used to wrap expensive invariant
// checks that must not execute in production.
func Func(f func()) { f() }
