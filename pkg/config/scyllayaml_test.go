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

package config

import (
	"testing"

	. "github.com/pingcap/check"
)

func TestConfig(t *testing.T) {
	TestingT(t)
}

type testConfigSuite struct{}

var _ = Suite(&testConfigSuite{})

func (s *testConfigSuite) TestBaselineHasRequiredKeys(c *C) {
	m := Baseline("test-cluster", "127.0.1.2", []string{"127.0.1.2"})
	for _, k := range []string{
		"cluster_name", "listen_address", "rpc_address", "api_address",
		"prometheus_address", "seed_provider", "developer_mode",
		"experimental_features", "consistent_cluster_management",
		"num_tokens", "force_schema_commit_log",
	} {
		_, ok := m[k]
		c.Assert(ok, Equals, true, Commentf("missing key %q", k))
	}
	c.Assert(m["num_tokens"], Equals, 16)
}

func (s *testConfigSuite) TestMergeOverlayWins(c *C) {
	base := Baseline("test-cluster", "127.0.1.2", []string{"127.0.1.2"})
	merged := Merge(base, Map{"num_tokens": 32})
	c.Assert(merged["num_tokens"], Equals, 32)
	c.Assert(merged["cluster_name"], Equals, "test-cluster")
}

func (s *testConfigSuite) TestWithIPRewritesAddresses(c *C) {
	base := Baseline("test-cluster", "127.0.1.2", []string{"127.0.1.2"})
	updated := WithIP(base, "127.0.1.9")
	for _, k := range AddressKeys {
		c.Assert(updated[k], Equals, "127.0.1.9")
	}
}
