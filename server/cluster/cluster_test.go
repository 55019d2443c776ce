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

package cluster

import (
	"context"
	"net"
	"testing"
	"time"

	. "github.com/pingcap/check"

	hserver "github.com/scylladb-test/scyllaharness/server"
	"github.com/scylladb-test/scyllaharness/pkg/adminclient"
	"github.com/scylladb-test/scyllaharness/pkg/config"
	"github.com/scylladb-test/scyllaharness/pkg/cqlclient"
	"github.com/scylladb-test/scyllaharness/server/hostregistry"
	"github.com/scylladb-test/scyllaharness/server/procserver"
)

func TestCluster(t *testing.T) {
	TestingT(t)
}

type testClusterSuite struct{}

var _ = Suite(&testClusterSuite{})

type fakeAdmin struct {
	hostID        string
	keyspaceCount int
}

func (f *fakeAdmin) HostID(ctx context.Context) (string, error)      { return f.hostID, nil }
func (f *fakeAdmin) BuildID(ctx context.Context) (string, error)     { return "6.0.0", nil }
func (f *fakeAdmin) Decommission(ctx context.Context) error          { return nil }
func (f *fakeAdmin) KeyspaceCount(ctx context.Context) (int, error) { return f.keyspaceCount, nil }
func (f *fakeAdmin) RemoveNode(ctx context.Context, hostID string, ignore []string) error {
	return nil
}

type fakeSession struct{}

func (*fakeSession) Close() error { return nil }

type fakeCQL struct{}

func (f *fakeCQL) Probe(ctx context.Context, ip net.IP, timeout time.Duration) (cqlclient.ReadinessState, cqlclient.Session, error) {
	return cqlclient.Queried, &fakeSession{}, nil
}

func newTestCluster(c *C) (*Cluster, func()) {
	dir := c.MkDir()
	registry, err := hostregistry.New("127.1.0.0/28")
	c.Assert(err, IsNil)

	hostIDs := map[string]string{}
	next := 1
	opts := procserver.Options{
		NewAdminClient: func(ip net.IP) adminclient.Client {
			id, ok := hostIDs[ip.String()]
			if !ok {
				id = ip.String()
				hostIDs[ip.String()] = id
			}
			_ = next
			return &fakeAdmin{hostID: id}
		},
		CQLClient:           &fakeCQL{},
		TopologyTimeout:     2 * time.Second,
		GracefulStopTimeout: time.Second,
	}

	cl := New("test-cluster", 3, Deps{
		Exe:      "/bin/sleep",
		VarDir:   dir,
		Registry: registry,
		Opts:     opts,
	})
	return cl, func() { cl.Uninstall() }
}

func (s *testClusterSuite) TestAddServerStartedIsRunning(c *C) {
	cl, cleanup := newTestCluster(c)
	defer cleanup()

	id, res := cl.AddServer(nil, []string{"--smp", "1"}, true, nil)
	c.Assert(res.Success, Equals, true)
	c.Assert(cl.IsUp(), Equals, true)
	c.Assert(cl.IsDirty(), Equals, true)

	ip, ok := cl.HostIP(id)
	c.Assert(ok, Equals, true)
	c.Assert(ip, Not(Equals), "")

	running := cl.RunningServers()
	c.Assert(running, HasLen, 1)
	c.Assert(running[0].ID, Equals, id)
}

func (s *testClusterSuite) TestAddServerNotStartedIsStopped(c *C) {
	cl, cleanup := newTestCluster(c)
	defer cleanup()

	id, res := cl.AddServer(nil, nil, false, nil)
	c.Assert(res.Success, Equals, true)
	c.Assert(cl.IsUp(), Equals, false)

	_, ok := cl.HostIP(id)
	c.Assert(ok, Equals, true)
}

func (s *testClusterSuite) TestStopThenStopIsNoop(c *C) {
	cl, cleanup := newTestCluster(c)
	defer cleanup()

	id, _ := cl.AddServer(nil, nil, true, nil)
	c.Assert(cl.ServerStop(id).Success, Equals, true)
	c.Assert(cl.ServerStop(id).Success, Equals, true)
}

func (s *testClusterSuite) TestChangeIPFailsWhileRunning(c *C) {
	cl, cleanup := newTestCluster(c)
	defer cleanup()

	id, _ := cl.AddServer(nil, nil, true, nil)
	res := cl.ChangeIP(id)
	c.Assert(res.Success, Equals, false)
}

func (s *testClusterSuite) TestChangeIPSucceedsWhileStopped(c *C) {
	cl, cleanup := newTestCluster(c)
	defer cleanup()

	id, _ := cl.AddServer(nil, nil, false, nil)
	oldIP, _ := cl.HostIP(id)

	res := cl.ChangeIP(id)
	c.Assert(res.Success, Equals, true)

	newIP, _ := cl.HostIP(id)
	c.Assert(newIP, Not(Equals), oldIP)
}

func (s *testClusterSuite) TestAddServerReplaceOnRunningTargetFails(c *C) {
	cl, cleanup := newTestCluster(c)
	defer cleanup()

	running, _ := cl.AddServer(nil, nil, true, nil)
	_, res := cl.AddServer(nil, nil, true, &ReplaceConfig{TargetID: running, ReuseIP: true})
	c.Assert(res.Success, Equals, false)
}

func (s *testClusterSuite) TestAddServerReplaceOnRemovedTargetFails(c *C) {
	cl, cleanup := newTestCluster(c)
	defer cleanup()

	stopped, _ := cl.AddServer(nil, nil, false, nil)
	c.Assert(cl.MarkRemoved(stopped).Success, Equals, true)

	_, res := cl.AddServer(nil, nil, false, &ReplaceConfig{TargetID: stopped, ReuseIP: true})
	c.Assert(res.Success, Equals, false)
}

func (s *testClusterSuite) TestAddServerReplaceReusesIP(c *C) {
	cl, cleanup := newTestCluster(c)
	defer cleanup()

	stopped, _ := cl.AddServer(nil, nil, false, nil)
	oldIP, _ := cl.HostIP(stopped)

	newID, res := cl.AddServer(nil, nil, false, &ReplaceConfig{TargetID: stopped, ReuseIP: true})
	c.Assert(res.Success, Equals, true)

	newIP, _ := cl.HostIP(newID)
	c.Assert(newIP, Equals, oldIP)
}

func (s *testClusterSuite) TestRemoveNodeFailsWhenInitiatorStopped(c *C) {
	cl, cleanup := newTestCluster(c)
	defer cleanup()

	initiator, _ := cl.AddServer(nil, nil, false, nil)
	target, _ := cl.AddServer(nil, nil, true, nil)

	res := cl.RemoveNode(initiator, target, nil)
	c.Assert(res.Success, Equals, false)
}

func (s *testClusterSuite) TestRemoveNodeSucceedsAndMarksRemoved(c *C) {
	cl, cleanup := newTestCluster(c)
	defer cleanup()

	initiator, _ := cl.AddServer(nil, nil, true, nil)
	target, _ := cl.AddServer(nil, nil, true, nil)

	res := cl.RemoveNode(initiator, target, []string{"127.0.0.9"})
	c.Assert(res.Success, Equals, true)
	c.Assert(cl.removed[target], Equals, true)
}

// neverReadyAdmin always reports the server as not-yet-initialized, driving
// the readiness loop to its topology-timeout deadline.
type neverReadyAdmin struct{}

func (*neverReadyAdmin) HostID(ctx context.Context) (string, error) {
	return "", &adminclient.StatusError{StatusCode: 404}
}
func (*neverReadyAdmin) BuildID(ctx context.Context) (string, error)      { return "", nil }
func (*neverReadyAdmin) Decommission(ctx context.Context) error          { return nil }
func (*neverReadyAdmin) KeyspaceCount(ctx context.Context) (int, error) { return 0, nil }
func (*neverReadyAdmin) RemoveNode(ctx context.Context, hostID string, ignore []string) error {
	return nil
}

func (s *testClusterSuite) TestBeforeTestSurfacesStartException(c *C) {
	dir := c.MkDir()
	registry, err := hostregistry.New("127.1.0.0/28")
	c.Assert(err, IsNil)

	cl := New("broken-cluster", 1, Deps{
		Exe:      "/bin/sleep",
		VarDir:   dir,
		Registry: registry,
		Opts: procserver.Options{
			NewAdminClient:      func(ip net.IP) adminclient.Client { return &neverReadyAdmin{} },
			CQLClient:           &fakeCQL{},
			TopologyTimeout:     200 * time.Millisecond,
			GracefulStopTimeout: time.Second,
		},
	})
	defer cl.Uninstall()

	_, res := cl.AddServer(nil, nil, true, nil)
	c.Assert(res.Success, Equals, false)

	err = cl.BeforeTest("next_test")
	c.Assert(err, ErrorMatches, ".*inherited a broken start.*")
	c.Assert(cl.IsDirty(), Equals, true)
}

func (s *testClusterSuite) TestAfterTestSuccessCleanKeepsClean(c *C) {
	cl, cleanup := newTestCluster(c)
	defer cleanup()

	c.Assert(cl.InstallAndStart(), IsNil)
	c.Assert(cl.CaptureKeyspaceBaseline(), IsNil)
	c.Assert(cl.IsDirty(), Equals, false)

	err := cl.AfterTest("t1", true)
	c.Assert(err, IsNil)
	c.Assert(cl.IsDirty(), Equals, false)
}

func (s *testClusterSuite) TestAfterTestFailureMarksDirty(c *C) {
	cl, cleanup := newTestCluster(c)
	defer cleanup()

	cl.AddServer(nil, nil, true, nil)
	err := cl.AfterTest("t1", false)
	c.Assert(err, IsNil)
	c.Assert(cl.IsDirty(), Equals, true)
}

func (s *testClusterSuite) TestBuildIDAndWriteExtraFile(c *C) {
	cl, cleanup := newTestCluster(c)
	defer cleanup()

	id, _ := cl.AddServer(nil, nil, true, nil)
	bid, ok := cl.BuildID(id)
	c.Assert(ok, Equals, true)
	c.Assert(bid, Equals, "6.0.0")

	res := cl.WriteExtraFile(id, "cassandra-rackdc.properties", []byte("dc=dc1\n"))
	c.Assert(res.Success, Equals, true)

	_, unknown := cl.BuildID(hserver.ServerID(999999))
	c.Assert(unknown, Equals, false)
}

func (s *testClusterSuite) TestConfigOverlayAppliesToServer(c *C) {
	cl, cleanup := newTestCluster(c)
	defer cleanup()

	id, _ := cl.AddServer(config.Map{"num_tokens": 4}, nil, false, nil)
	cfg, ok := cl.GetConfig(id)
	c.Assert(ok, Equals, true)
	c.Assert(cfg["num_tokens"], Equals, 4)

	c.Assert(cl.UpdateConfig(id, "num_tokens", 8).Success, Equals, true)
	cfg, _ = cl.GetConfig(id)
	c.Assert(cfg["num_tokens"], Equals, 8)
}
