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

package hostregistry

import (
	"testing"

	. "github.com/pingcap/check"
)

func TestHostRegistry(t *testing.T) {
	TestingT(t)
}

type testHostRegistrySuite struct{}

var _ = Suite(&testHostRegistrySuite{})

func (s *testHostRegistrySuite) TestLeaseReleaseRoundTrip(c *C) {
	r, err := New("127.0.1.0/30")
	c.Assert(err, IsNil)

	ip, err := r.Lease()
	c.Assert(err, IsNil)
	c.Assert(r.LeasedCount(), Equals, 1)

	r.Release(ip)
	c.Assert(r.LeasedCount(), Equals, 0)

	ip2, err := r.Lease()
	c.Assert(err, IsNil)
	c.Assert(ip2.String(), Equals, ip.String())
}

func (s *testHostRegistrySuite) TestExhaustion(c *C) {
	r, err := New("127.0.1.0/30")
	c.Assert(err, IsNil)
	c.Assert(r.Size(), Equals, 2)

	_, err = r.Lease()
	c.Assert(err, IsNil)
	_, err = r.Lease()
	c.Assert(err, IsNil)

	_, err = r.Lease()
	c.Assert(err, ErrorMatches, ".*host registry exhausted.*")
}

func (s *testHostRegistrySuite) TestUniqueLeases(c *C) {
	r, err := New("127.0.1.0/28")
	c.Assert(err, IsNil)

	seen := map[string]bool{}
	for i := 0; i < r.Size(); i++ {
		ip, err := r.Lease()
		c.Assert(err, IsNil)
		c.Assert(seen[ip.String()], Equals, false)
		seen[ip.String()] = true
	}
}
