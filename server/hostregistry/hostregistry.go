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

// Package hostregistry leases unique loopback IP addresses from a bounded
// pool for the lifetime of a test session (spec.md §4.1). It is grounded on
// the teacher's idAllocator (server/server.go): a small mutex-guarded piece
// of shared, process-wide state, generalized here from an ever-growing
// counter to a bounded free-list of addresses that can be released and
// reused.
package hostregistry

import (
	"net"
	"sync"

	"github.com/juju/errors"
)

// Registry leases loopback IPs from a CIDR range. It is safe for concurrent
// use.
type Registry struct {
	mu     sync.Mutex
	all    []net.IP
	leased map[string]bool
}

// New builds a Registry over every host address in cidr, skipping the
// network and broadcast addresses.
func New(cidr string) (*Registry, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, errors.Annotatef(err, "invalid host pool CIDR %q", cidr)
	}

	var all []net.IP
	for addr := ip.Mask(ipnet.Mask); ipnet.Contains(addr); addr = nextIP(addr) {
		all = append(all, dup(addr))
	}
	// Drop network and broadcast addresses when the pool is large enough to
	// spare them; a /31 or /32 pool keeps everything it has.
	if len(all) > 2 {
		all = all[1 : len(all)-1]
	}
	if len(all) == 0 {
		return nil, errors.Errorf("host pool CIDR %q contains no usable addresses", cidr)
	}

	return &Registry{
		all:    all,
		leased: make(map[string]bool, len(all)),
	}, nil
}

// Lease returns an address not currently leased. It fails once the pool is
// exhausted.
func (r *Registry) Lease() (net.IP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ip := range r.all {
		if !r.leased[ip.String()] {
			r.leased[ip.String()] = true
			return dup(ip), nil
		}
	}
	return nil, errors.Errorf("host registry exhausted: no free loopback address in pool of size %d", len(r.all))
}

// Release returns ip to the free set. Releasing an address that was not
// leased, or an unknown address, is a no-op.
func (r *Registry) Release(ip net.IP) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.leased, ip.String())
}

// Size returns the total pool size, for diagnostics and tests.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all)
}

// LeasedCount returns the number of currently leased addresses.
func (r *Registry) LeasedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.leased)
}

func dup(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func nextIP(ip net.IP) net.IP {
	out := dup(ip)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}
