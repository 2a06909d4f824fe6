//go:build !debug

// Package debug provides assertions that compile out entirely in release
// builds (the default) and panic-on-failure when built with -tags debug.
// Use only for internal invariants - route depth, metadata completeness,
// lock discipline - never for validating wire input, which must return a
// typed error instead.
package debug

import "sync"

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
func AssertFunc(_ func() bool, _ ...any) {}

func AssertMutexLocked(_ *sync.Mutex)     {}
func AssertRWMutexLocked(_ *sync.RWMutex) {}
