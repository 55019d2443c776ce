// Copyright 2016 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import "sync/atomic"

// ServerID uniquely identifies a supervised server process within a test
// session. IDs are assigned in increasing order and are never reused.
type ServerID uint64

// HostID is the identifier a scylla server assigns itself, discovered
// through its admin API once the process has initialized far enough to
// answer. The zero value means "not yet discovered".
type HostID string

// Known reports whether the host id has been discovered yet.
func (h HostID) Known() bool {
	return h != ""
}

// idAllocator hands out monotonically increasing ServerIDs. It is shared
// process-wide across every Cluster created during a test session, mirroring
// the single shared counter the teacher keeps on its top-level Server
// (server/server.go's idAllocator), generalized here from an etcd-backed
// range to a plain in-process counter since this harness has no distributed
// peers to coordinate with.
type idAllocator struct {
	next uint64
}

// Alloc returns the next ServerID.
func (a *idAllocator) Alloc() ServerID {
	return ServerID(atomic.AddUint64(&a.next, 1))
}

// defaultAllocator is shared by every Cluster created in a test session, so
// that ServerIDs stay unique across clusters the way spec.md's data model
// requires ("process-wide monotonically increasing integer").
var defaultAllocator = &idAllocator{}

// NextServerID allocates the next process-wide ServerID.
func NextServerID() ServerID {
	return defaultAllocator.Alloc()
}
