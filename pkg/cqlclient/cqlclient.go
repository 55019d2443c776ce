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

// Package cqlclient wraps the backing query-protocol client library used
// only for readiness probes (spec.md §1's "query-protocol client library"
// is an external collaborator, out of this harness's scope). The harness
// depends on the small ReadinessState/Session abstraction below rather than
// importing a concrete driver directly, grounded on the teacher's habit of
// depending on a thin typed client per collaborator protocol.
package cqlclient

import (
	"context"
	"net"
	"strconv"
	"time"
)

// ReadinessState is one of the three observable outcomes of a readiness
// probe connection attempt (spec.md §4.2, design note §9): the split is
// essential, not incidental, because the server accepts client connections
// before its role manager finishes creating default credentials.
type ReadinessState int

const (
	// NotConnected means the transport handshake itself failed.
	NotConnected ReadinessState = iota
	// Connected means the handshake succeeded but a trivial system-table
	// query failed, because default-role creation is still retrying.
	Connected
	// Queried means the trivial query succeeded; the server is ready.
	Queried
)

func (s ReadinessState) String() string {
	switch s {
	case NotConnected:
		return "NOT_CONNECTED"
	case Connected:
		return "CONNECTED"
	case Queried:
		return "QUERIED"
	default:
		return "UNKNOWN"
	}
}

// Session is a control connection retained once a server reaches QUERIED,
// per spec.md §4.2 step 4 ("retain the query session as the 'control
// connection'").
type Session interface {
	// Close shuts the session down. Called by Server.Stop before signaling
	// the subprocess.
	Close() error
}

// Client probes a server's query-protocol endpoint restricted to one IP,
// using default credentials and a long request timeout (spec.md §4.2).
type Client interface {
	// Probe attempts a connection and, if the handshake succeeds, runs a
	// trivial query against the local system table. It never returns an
	// error for NotConnected/Connected outcomes — those are ordinary
	// readiness states, not probe failures — only for a Queried probe is a
	// live Session returned.
	Probe(ctx context.Context, ip net.IP, timeout time.Duration) (ReadinessState, Session, error)
}

// dialSession is the default Session, a thin wrapper over a net.Conn kept
// open as the retained control connection.
type dialSession struct {
	conn net.Conn
}

func (s *dialSession) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// dialClient is the default Client: it attempts a bare TCP handshake against
// the native protocol port and, when query is set, runs it on the connection.
// New leaves query nil, so a Client built by New runs no query: it reports
// Queried as soon as the handshake succeeds and never reports Connected. Real
// deployments inject a driver-backed Client; this default exists so the
// harness compiles and its readiness loop is exercisable in tests against a
// fake listener.
type dialClient struct {
	port int
	// query is the trivial query executed once connected, overridable by
	// tests. A nil query always reports Queried once connected.
	query func(net.Conn) error
}

// New builds the default Client against the native protocol port.
func New(port int) Client {
	return &dialClient{port: port}
}

func (c *dialClient) Probe(ctx context.Context, ip net.IP, timeout time.Duration) (ReadinessState, Session, error) {
	d := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(c.port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return NotConnected, nil, nil
	}

	if c.query != nil {
		if err := c.query(conn); err != nil {
			conn.Close()
			return Connected, nil, nil
		}
	}

	return Queried, &dialSession{conn: conn}, nil
}
