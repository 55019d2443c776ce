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

// Package manager implements spec.md §4.5: one Manager per test, leasing a
// Cluster from the pool, binding a per-test Unix-socket control plane to it
// and tearing both down again on stop.
//
// Grounded on the teacher's server/server.go Run() loop: a long-lived
// net.Listener served by http.Serve in its own goroutine, generalized here
// from a TCP listener to a Unix domain socket per spec.md §4.5.
package manager

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/ngaut/log"

	"github.com/scylladb-test/scyllaharness/server/cluster"
	"github.com/scylladb-test/scyllaharness/server/clusterpool"
)

// httpShutdownTimeout bounds how long Stop waits for in-flight requests to
// drain before forcing the listener closed.
const httpShutdownTimeout = 5 * time.Second

// Manager is the per-test control-plane façade described in spec.md §4.5.
type Manager struct {
	pool      *clusterpool.Pool
	socketDir string

	// Router builds the HTTP handler serving this Manager's routes. Supplied
	// by the caller (server/api) so this package stays ignorant of gorilla/mux
	// and unrolled/render, avoiding an import cycle between manager and api.
	Router func(*Manager) http.Handler

	mu        sync.Mutex
	cluster   *cluster.Cluster
	tmpDir    string
	socketPath string
	listener  net.Listener
	server    *http.Server

	// gate is the single-flight request gate described in SPEC_FULL.md §5:
	// a buffered channel of size 1, acquired at the top of every route except
	// /up and released when the handler returns. A full channel means a request is
	// already in flight; TryAcquire reports that as a failure so the route
	// can answer 503 instead of queuing silently.
	gate chan struct{}
}

// New builds a Manager drawing Clusters from pool and creating per-test
// socket directories under socketDir.
func New(pool *clusterpool.Pool, socketDir string) *Manager {
	return &Manager{
		pool:      pool,
		socketDir: socketDir,
		gate:      make(chan struct{}, 1),
	}
}

// TryAcquire attempts to take the single-flight gate. Returns false if a
// request is already in flight.
func (m *Manager) TryAcquire() bool {
	select {
	case m.gate <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the single-flight gate.
func (m *Manager) Release() {
	select {
	case <-m.gate:
	default:
	}
}

// Cluster returns the Cluster currently leased by this Manager, or nil if
// Start has not been called.
func (m *Manager) Cluster() *cluster.Cluster {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cluster
}

// Start leases a Cluster from the pool, creates a short per-test temporary
// directory (chosen short to stay under Unix socket path-length limits per
// spec.md §4.5) and binds the control-plane HTTP server to a socket inside
// it.
func (m *Manager) Start() (socketPath string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cluster != nil {
		return "", errors.Errorf("manager: already started")
	}

	c, err := m.pool.Get()
	if err != nil {
		return "", errors.Trace(err)
	}

	tmpDir, err := os.MkdirTemp(m.socketDir, "sh")
	if err != nil {
		m.pool.Put(c, c.IsDirty())
		return "", errors.Annotatef(err, "manager: creating socket directory")
	}

	path := filepath.Join(tmpDir, "m.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		os.RemoveAll(tmpDir)
		m.pool.Put(c, c.IsDirty())
		return "", errors.Annotatef(err, "manager: binding socket %s", path)
	}

	if m.Router == nil {
		ln.Close()
		os.RemoveAll(tmpDir)
		m.pool.Put(c, c.IsDirty())
		return "", errors.Errorf("manager: no Router configured")
	}

	m.cluster = c
	m.tmpDir = tmpDir
	m.socketPath = path
	m.listener = ln
	m.server = &http.Server{Handler: m.Router(m)}

	go func() {
		if err := m.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("manager: http.Serve exited: %s", err)
		}
	}()

	log.Infof("manager: started, socket=%s", path)
	return path, nil
}

// Stop tears down the socket, returns the cluster to the pool tagged by its
// current dirtiness, and removes the temp directory.
func (m *Manager) Stop() error {
	m.mu.Lock()
	c := m.cluster
	server := m.server
	tmpDir := m.tmpDir
	listener := m.listener
	m.cluster = nil
	m.server = nil
	m.tmpDir = ""
	m.socketPath = ""
	m.listener = nil
	m.mu.Unlock()

	if c == nil {
		return nil
	}

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Errorf("manager: http.Shutdown: %s", err)
			if listener != nil {
				listener.Close()
			}
		}
	}

	m.pool.Put(c, c.IsDirty())

	if tmpDir != "" {
		if err := os.RemoveAll(tmpDir); err != nil {
			return errors.Annotatef(err, "manager: removing socket dir %s", tmpDir)
		}
	}

	log.Infof("manager: stopped")
	return nil
}

// SocketPath returns the currently bound socket path, or "" if not started.
func (m *Manager) SocketPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socketPath
}
