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

// Package clusterpool implements spec.md §4.4: a bounded pool of warm
// Clusters, handed out to Managers and asynchronously refilled when one
// comes back dirty.
//
// Grounded on the teacher's server/schedule operator queue: a buffered
// channel of pending work drained off the request path by a background
// goroutine, generalized here from balance operators to whole-Cluster
// provisioning.
package clusterpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/ngaut/log"

	"github.com/scylladb-test/scyllaharness/server/cluster"
)

// Factory builds one freshly provisioned, ready Cluster. Supplied by the
// caller so the pool stays ignorant of how a Cluster's Servers are actually
// configured and started.
type Factory func(name string) (*cluster.Cluster, error)

// Pool keeps up to size warm Clusters ready for immediate checkout.
type Pool struct {
	factory Factory
	size    int

	mu      sync.Mutex
	free    []*cluster.Cluster
	nextIdx int

	replaceQueue chan *cluster.Cluster
	stopOnce     sync.Once
	stopCh       chan struct{}
}

// New builds and fills a Pool of size warm Clusters. Fails fast if even one
// fails to provision, since a pool that cannot fill itself cannot serve
// anyone.
func New(size int, factory Factory) (*Pool, error) {
	if size <= 0 {
		return nil, errors.Errorf("clusterpool: size must be positive, got %d", size)
	}

	p := &Pool{
		factory:      factory,
		size:         size,
		replaceQueue: make(chan *cluster.Cluster, size),
		stopCh:       make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		c, err := p.provision()
		if err != nil {
			return nil, errors.Annotatef(err, "clusterpool: filling initial pool (slot %d/%d)", i+1, size)
		}
		p.free = append(p.free, c)
	}

	go p.replaceLoop()
	return p, nil
}

func (p *Pool) provision() (*cluster.Cluster, error) {
	p.mu.Lock()
	idx := p.nextIdx
	p.nextIdx++
	p.mu.Unlock()

	name := fmt.Sprintf("pool-cluster-%d", idx)
	c, err := p.factory(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return c, nil
}

// Get removes and returns one warm Cluster. Blocks (briefly, in practice)
// if the pool is momentarily empty because a replacement is still being
// provisioned asynchronously.
func (p *Pool) Get() (*cluster.Cluster, error) {
	for {
		p.mu.Lock()
		if len(p.free) > 0 {
			c := p.free[len(p.free)-1]
			p.free = p.free[:len(p.free)-1]
			p.mu.Unlock()
			return c, nil
		}
		p.mu.Unlock()

		select {
		case <-p.stopCh:
			return nil, errors.Errorf("clusterpool: pool is closed")
		case c, ok := <-p.replaceQueue:
			if !ok {
				return nil, errors.Errorf("clusterpool: pool is closed")
			}
			return c, nil
		case <-time.After(10 * time.Millisecond):
			// replaceLoop may have moved a replacement into the free list.
		}
	}
}

// Put returns a Cluster to the pool. A clean Cluster re-enters the free
// rotation directly; a dirty one never re-enters rotation and instead
// triggers an asynchronous replacement (spec.md §4.4).
func (p *Pool) Put(c *cluster.Cluster, isDirty bool) {
	if !isDirty {
		p.mu.Lock()
		p.free = append(p.free, c)
		p.mu.Unlock()
		return
	}
	p.ReplaceDirty(c)
}

// ReplaceDirty asynchronously uninstalls old and provisions a fresh
// replacement to take its place in rotation. Returns immediately; the
// caller does not wait on the replacement.
func (p *Pool) ReplaceDirty(old *cluster.Cluster) {
	go func() {
		if err := old.Uninstall(); err != nil {
			log.Errorf("clusterpool: uninstalling dirty cluster: %s", err)
		}

		fresh, err := p.provision()
		if err != nil {
			log.Errorf("clusterpool: provisioning replacement cluster: %s", err)
			return
		}

		select {
		case p.replaceQueue <- fresh:
		case <-p.stopCh:
			fresh.Uninstall()
		}
	}()
}

// replaceLoop drains replacements queued by ReplaceDirty into the free list.
// A Get waiting at the same time may receive a replacement directly instead;
// otherwise it finds it in the free list on its next poll.
func (p *Pool) replaceLoop() {
	for {
		select {
		case <-p.stopCh:
			return
		case c, ok := <-p.replaceQueue:
			if !ok {
				return
			}
			p.mu.Lock()
			p.free = append(p.free, c)
			p.mu.Unlock()
		}
	}
}

// Close uninstalls every Cluster currently idle in the pool and stops
// accepting replacements. Clusters already checked out by a Manager are the
// caller's responsibility to Put back before calling Close.
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})

	p.mu.Lock()
	free := p.free
	p.free = nil
	p.mu.Unlock()

	for _, c := range free {
		if err := c.Uninstall(); err != nil {
			log.Errorf("clusterpool: uninstalling cluster on close: %s", err)
		}
	}
}

// Size returns the pool's configured target size.
func (p *Pool) Size() int {
	return p.size
}
