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

package cmdline

import (
	"testing"

	. "github.com/pingcap/check"
)

func TestCmdline(t *testing.T) {
	TestingT(t)
}

type testCmdlineSuite struct{}

var _ = Suite(&testCmdlineSuite{})

// TestMergeSpecimens exercises the eight merge specimens from spec.md §8
// verbatim.
func (s *testCmdlineSuite) TestMergeSpecimens(c *C) {
	cases := []struct {
		base, override, want []string
	}{
		{[]string{"--smp", "1"}, []string{"--smp", "2"}, []string{"--smp", "2"}},
		{[]string{"--smp", "1"}, []string{"--smp"}, []string{"--smp"}},
		{[]string{"--smp", "1"}, []string{"--smp", Missing}, []string{"--smp"}},
		{[]string{"--smp", "1"}, []string{"--smp", Remove}, []string{}},
		{[]string{"--smp=1"}, []string{"--smp=2"}, []string{"--smp", "2"}},
		{[]string{"--smp=1"}, []string{"--smp=" + Remove}, []string{}},
		{
			[]string{"--overprovisioned", "--smp=1", "--abort-on-ebadf"},
			[]string{"--smp=2"},
			[]string{"--overprovisioned", "--smp", "2", "--abort-on-ebadf"},
		},
		{
			nil,
			[]string{"--experimental-features", "raft", "--experimental-features", "broadcast-tables"},
			[]string{"--experimental-features", "raft", "--experimental-features", "broadcast-tables"},
		},
	}

	for i, tc := range cases {
		got := Merge(tc.base, tc.override)
		c.Assert(got, DeepEquals, tc.want, Commentf("case %d", i))
	}
}

func (s *testCmdlineSuite) TestUnrelatedFlagsKeepPosition(c *C) {
	base := []string{"--a", "1", "--b", "2", "--c", "3"}
	got := Merge(base, []string{"--b=9"})
	c.Assert(got, DeepEquals, []string{"--a", "1", "--b", "9", "--c", "3"})
}

func (s *testCmdlineSuite) TestNewNameAppended(c *C) {
	base := []string{"--a", "1"}
	got := Merge(base, []string{"--z", "9"})
	c.Assert(got, DeepEquals, []string{"--a", "1", "--z", "9"})
}

// TestSingleDashFlagKeepsDashCount guards against a single-dash flag like
// the baseline's "-m" being re-emitted with the wrong number of dashes.
func (s *testCmdlineSuite) TestSingleDashFlagKeepsDashCount(c *C) {
	base := []string{"-m", "1G", "--overprovisioned"}
	got := Merge(base, nil)
	c.Assert(got, DeepEquals, []string{"-m", "1G", "--overprovisioned"})

	got = Merge(base, []string{"-m", "2G"})
	c.Assert(got, DeepEquals, []string{"-m", "2G", "--overprovisioned"})
}
