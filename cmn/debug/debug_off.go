//go:build !debug

// Package debug provides assertion helpers that are compiled in only
// under the "debug" build tag and are no-ops otherwise.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

func Assert(_ bool, _ ...interface{})          {}
func Assertf(_ bool, _ string, _ ...interface{}) {}
func AssertNoErr(_ error)                       {}
func Func(_ func())                             {}
