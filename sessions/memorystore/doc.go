// Package memorystore provides an in-process sessions.Store.
//
// Sessions live in a map guarded by one mutex and disappear when the process
// exits. Expired sessions are swept opportunistically each time a session is
// created (see WithTTL); callers wanting a prompt reaper can also invoke
// SweepExpired on a timer.
//
// The memory store is the default for the retail demo and the reference
// implementation the conformance suite in sessionstoretest is written
// against.
package memorystore
