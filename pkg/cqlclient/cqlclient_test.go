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

package cqlclient

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	. "github.com/pingcap/check"
)

func TestCQLClient(t *testing.T) {
	TestingT(t)
}

type testCQLClientSuite struct{}

var _ = Suite(&testCQLClientSuite{})

func (s *testCQLClientSuite) TestNotConnectedWhenNothingListening(c *C) {
	cl := New(1) // port 1 is reserved and nothing listens there in test sandboxes
	state, sess, err := cl.Probe(context.Background(), net.ParseIP("127.0.0.1"), 50*time.Millisecond)
	c.Assert(err, IsNil)
	c.Assert(state, Equals, NotConnected)
	c.Assert(sess, IsNil)
}

func (s *testCQLClientSuite) TestQueriedWhenListening(c *C) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, IsNil)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	c.Assert(err, IsNil)
	port, err := strconv.Atoi(portStr)
	c.Assert(err, IsNil)

	cl := New(port)
	state, sess, err := cl.Probe(context.Background(), net.ParseIP("127.0.0.1"), time.Second)
	c.Assert(err, IsNil)
	c.Assert(state, Equals, Queried)
	c.Assert(sess, NotNil)
	c.Assert(sess.Close(), IsNil)
}
