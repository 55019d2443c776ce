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

package procserver

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/pingcap/check"

	hserver "github.com/scylladb-test/scyllaharness/server"
	"github.com/scylladb-test/scyllaharness/pkg/adminclient"
	"github.com/scylladb-test/scyllaharness/pkg/config"
	"github.com/scylladb-test/scyllaharness/pkg/cqlclient"
)

func TestProcServer(t *testing.T) {
	TestingT(t)
}

type testServerSuite struct{}

var _ = Suite(&testServerSuite{})

// fakeAdminClient answers HostID once ready is flipped, simulating the
// admin REST probe without a real server binary.
type fakeAdminClient struct {
	ready   *bool
	hostID  string
	buildID string
}

func (f *fakeAdminClient) HostID(ctx context.Context) (string, error) {
	if !*f.ready {
		return "", &adminclient.StatusError{StatusCode: 404}
	}
	return f.hostID, nil
}

func (f *fakeAdminClient) BuildID(ctx context.Context) (string, error) {
	return f.buildID, nil
}

func (f *fakeAdminClient) Decommission(ctx context.Context) error { return nil }

func (f *fakeAdminClient) RemoveNode(ctx context.Context, hostID string, ignore []string) error {
	return nil
}

func (f *fakeAdminClient) KeyspaceCount(ctx context.Context) (int, error) { return 0, nil }

type fakeCQLClient struct {
	state cqlclient.ReadinessState
}

type fakeSession struct{ closed bool }

func (s *fakeSession) Close() error { s.closed = true; return nil }

func (f *fakeCQLClient) Probe(ctx context.Context, ip net.IP, timeout time.Duration) (cqlclient.ReadinessState, cqlclient.Session, error) {
	if f.state == cqlclient.Queried {
		return cqlclient.Queried, &fakeSession{}, nil
	}
	return f.state, nil, nil
}

func newTestServer(c *C, ready *bool, cqlState cqlclient.ReadinessState) (*Server, func()) {
	dir := c.MkDir()
	workDir := filepath.Join(dir, "work")
	logPath := filepath.Join(dir, "scylla.log")

	opts := Options{
		NewAdminClient: func(ip net.IP) adminclient.Client {
			return &fakeAdminClient{ready: ready, hostID: "host-1", buildID: "6.0.0"}
		},
		CQLClient:           &fakeCQLClient{state: cqlState},
		TopologyTimeout:     2 * time.Second,
		GracefulStopTimeout: time.Second,
	}

	srv := New(hserver.NextServerID(), "/bin/sleep", workDir, logPath, "test-cluster", net.ParseIP("127.0.0.1"), nil, opts)
	err := srv.Install(config.Map{}, nil)
	c.Assert(err, IsNil)

	return srv, func() { srv.Uninstall() }
}

func (s *testServerSuite) TestInstallWritesConfigAndLog(c *C) {
	ready := true
	srv, cleanup := newTestServer(c, &ready, cqlclient.Queried)
	defer cleanup()

	_, err := os.Stat(filepath.Join(srv.WorkDir, "conf", "scylla.yaml"))
	c.Assert(err, IsNil)
	_, err = os.Stat(srv.LogPath)
	c.Assert(err, IsNil)
}

func (s *testServerSuite) TestStartReachesReady(c *C) {
	ready := true
	srv, cleanup := newTestServer(c, &ready, cqlclient.Queried)
	defer cleanup()

	// A long-lived but harmless placeholder process stands in for the real
	// server binary; readiness itself comes entirely from the fake
	// admin/cql clients above.
	srv.cmdlineOpt = []string{"30"}
	err := srv.Start(context.Background(), "")
	c.Assert(err, IsNil)
	c.Assert(srv.IsRunning(), Equals, true)
	c.Assert(srv.HostID(), Equals, hserver.HostID("host-1"))

	c.Assert(srv.StopGracefully(), IsNil)
	c.Assert(srv.IsRunning(), Equals, false)
}

func (s *testServerSuite) TestStopTwiceIsNoop(c *C) {
	ready := true
	srv, cleanup := newTestServer(c, &ready, cqlclient.Queried)
	defer cleanup()

	c.Assert(srv.Stop(), IsNil)
	c.Assert(srv.Stop(), IsNil)
}

func (s *testServerSuite) TestUpdateConfigThenGetConfig(c *C) {
	ready := true
	srv, cleanup := newTestServer(c, &ready, cqlclient.Queried)
	defer cleanup()

	c.Assert(srv.UpdateConfig("num_tokens", 32), IsNil)
	c.Assert(srv.Config()["num_tokens"], Equals, 32)
}

func (s *testServerSuite) TestChangeIPFailsWhileRunning(c *C) {
	ready := true
	srv, cleanup := newTestServer(c, &ready, cqlclient.Queried)
	defer cleanup()

	srv.cmdlineOpt = []string{"30"}
	c.Assert(srv.Start(context.Background(), ""), IsNil)
	defer srv.Stop()

	err := srv.ChangeIP(net.ParseIP("127.0.0.2"))
	c.Assert(err, ErrorMatches, ".*change_ip while running is not allowed.*")
}
