// +build !debug

// Package debug provides assertions and verbosity knobs used only in
// debug builds of the cluster controller. This file supplies the
// zero-cost stubs compiled into production builds.
package debug

import "sync"

func NewExpvar(string)              {}
func SetExpvar(string, string, int64) {}

func Errorln(...interface{}) {}
func Errorf(string, ...interface{}) {}
func Infof(string, ...interface{}) {}

func Func(f func()) {}

func Assert(bool, ...interface{})        {}
func AssertFunc(func() bool, ...interface{}) {}
func AssertMsg(bool, string)             {}
func AssertNoErr(error)                  {}
func Assertf(bool, string, ...interface{}) {}

func AssertMutexLocked(*sync.Mutex)     {}
func AssertRWMutexLocked(*sync.RWMutex) {}
func AssertRWMutexRLocked(*sync.RWMutex) {}
