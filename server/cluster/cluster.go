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

// Package cluster implements spec.md §4.3: a Cluster aggregates Servers,
// maintaining disjoint running/stopped sub-populations, a removal ledger, a
// leased-IP set, dirtiness, and the per-test before/after hooks.
//
// Grounded on the teacher's (pingcap-pd) RaftCluster (server/cluster.go,
// server/cluster_worker.go): disjoint id-keyed maps of member entities that
// are only transferred between sets once the underlying action has
// succeeded, generalized here from remote TiKV stores to locally supervised
// Server subprocesses.
package cluster

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/ngaut/log"

	hserver "github.com/scylladb-test/scyllaharness/server"
	"github.com/scylladb-test/scyllaharness/pkg/config"
	"github.com/scylladb-test/scyllaharness/server/hostregistry"
	"github.com/scylladb-test/scyllaharness/server/procserver"
)

// ReplaceConfig describes a node replacement: the departing node, whether to
// reuse its IP, whether to replace by host id (vs address), and a list of
// addresses to ignore as dead during the replacement (spec.md §3).
type ReplaceConfig struct {
	TargetID        hserver.ServerID
	ReuseIP         bool
	ReplaceByHostID bool
	IgnoreDeadNodes []string
}

// ServerInfo is a minimal public view of a Server, used by /cluster/running-servers
// and similar read endpoints.
type ServerInfo struct {
	ID hserver.ServerID
	IP string
}

// Deps bundles everything a Cluster needs to build and supervise Servers.
type Deps struct {
	Exe      string
	VarDir   string
	Registry *hostregistry.Registry
	Opts     procserver.Options
}

// Cluster is the aggregate described in spec.md §4.3.
type Cluster struct {
	Name     string
	Replicas int

	deps Deps

	mu             sync.Mutex
	running        map[hserver.ServerID]*procserver.Server
	stopped        map[hserver.ServerID]*procserver.Server
	removed        map[hserver.ServerID]bool
	leasedIPs      map[string]net.IP
	isRunning      bool
	isDirty        bool
	startException error

	keyspaceBaseline int
	baselineSet      bool
}

// New creates an empty Cluster (spec.md §4.3 lifecycle: "created empty").
func New(name string, replicas int, deps Deps) *Cluster {
	return &Cluster{
		Name:      name,
		Replicas:  replicas,
		deps:      deps,
		running:   make(map[hserver.ServerID]*procserver.Server),
		stopped:   make(map[hserver.ServerID]*procserver.Server),
		removed:   make(map[hserver.ServerID]bool),
		leasedIPs: make(map[string]net.IP),
	}
}

func (c *Cluster) markDirtyLocked() {
	c.isDirty = true
}

// MarkDirty forces the cluster dirty, e.g. from /cluster/mark-dirty.
func (c *Cluster) MarkDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markDirtyLocked()
}

// IsDirty reports the dirtiness flag.
func (c *Cluster) IsDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isDirty
}

// IsUp reports whether at least one server is running.
func (c *Cluster) IsUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running) > 0
}

// RunningServers returns [server_id, ip] pairs for every running server.
func (c *Cluster) RunningServers() []ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ServerInfo, 0, len(c.running))
	for id, s := range c.running {
		out = append(out, ServerInfo{ID: id, IP: s.IP.String()})
	}
	return out
}

// seedsLocked recomputes the seed list from currently running servers, or
// falls back to a server's own IP if the cluster is empty. Recomputed at
// every AddServer and ServerStart so restarted nodes learn about peers
// added after their original start (spec.md §9 "seed list freshness").
func (c *Cluster) seedsLocked(ownIPIfEmpty string) []string {
	if len(c.running) == 0 {
		if ownIPIfEmpty != "" {
			return []string{ownIPIfEmpty}
		}
		return nil
	}
	seeds := make([]string, 0, len(c.running))
	for _, s := range c.running {
		seeds = append(seeds, s.IP.String())
	}
	return seeds
}

func (c *Cluster) workDirFor(id hserver.ServerID) (string, string) {
	workDir := filepath.Join(c.deps.VarDir, fmt.Sprintf("scylla-%d", id))
	logPath := filepath.Join(c.deps.VarDir, fmt.Sprintf("scylla-%d.log", id))
	return workDir, logPath
}

func (c *Cluster) findLocked(id hserver.ServerID) (*procserver.Server, bool, bool) {
	if s, ok := c.running[id]; ok {
		return s, true, false
	}
	if s, ok := c.stopped[id]; ok {
		return s, false, true
	}
	return nil, false, false
}

// AddServer provisions a new Server, honoring an optional ReplaceConfig
// (spec.md §4.3). Marks the cluster dirty.
func (c *Cluster) AddServer(overlay config.Map, cmdlineOverlay []string, start bool, replaceCfg *ReplaceConfig) (hserver.ServerID, hserver.ActionResult) {
	c.mu.Lock()
	c.markDirtyLocked()

	if overlay == nil {
		overlay = config.Map{}
	}

	var replacedIP net.IP
	if replaceCfg != nil {
		target, running, stopped := c.findLocked(replaceCfg.TargetID)
		if !stopped || running {
			c.mu.Unlock()
			return 0, hserver.Fail(fmt.Sprintf("add_server: replace target %d must be stopped", replaceCfg.TargetID))
		}
		if c.removed[replaceCfg.TargetID] {
			c.mu.Unlock()
			return 0, hserver.Fail(fmt.Sprintf("add_server: replace target %d has already been removed", replaceCfg.TargetID))
		}
		if replaceCfg.ReplaceByHostID {
			overlay["replace_node_first_boot"] = string(target.HostID())
		} else {
			overlay["replace_address_first_boot"] = target.IP.String()
		}
		if replaceCfg.ReuseIP {
			replacedIP = target.IP
		}
		if len(replaceCfg.IgnoreDeadNodes) > 0 {
			overlay["ignore_dead_nodes_for_replace"] = strings.Join(replaceCfg.IgnoreDeadNodes, ",")
		}
	}

	var ip net.IP
	leasedFresh := false
	if replacedIP != nil {
		ip = replacedIP
	} else {
		var err error
		ip, err = c.deps.Registry.Lease()
		if err != nil {
			c.mu.Unlock()
			return 0, hserver.Fail(err.Error())
		}
		leasedFresh = true
	}

	id := hserver.NextServerID()
	seeds := c.seedsLocked(ip.String())
	workDir, logPath := c.workDirFor(id)
	srv := procserver.New(id, c.deps.Exe, workDir, logPath, c.Name, ip, seeds, c.deps.Opts)
	c.leasedIPs[ip.String()] = ip
	c.mu.Unlock()

	if err := srv.Install(overlay, cmdlineOverlay); err != nil {
		c.releaseIfFresh(ip, leasedFresh)
		return 0, hserver.Fail(err.Error())
	}

	if !start {
		c.mu.Lock()
		c.stopped[id] = srv
		c.mu.Unlock()
		return id, hserver.Ok(map[string]interface{}{"server_id": id, "ip": ip.String()})
	}

	if err := srv.Start(context.Background(), ""); err != nil {
		c.recordStartException(err)
		_ = srv.Stop()
		c.releaseIfFresh(ip, leasedFresh)
		return 0, hserver.Fail(err.Error())
	}

	c.mu.Lock()
	c.running[id] = srv
	c.isRunning = true
	c.mu.Unlock()
	log.Infof("cluster %s: server %d added and running at %s", c.Name, id, ip)
	return id, hserver.Ok(map[string]interface{}{"server_id": id, "ip": ip.String()})
}

// InstallAndStart provisions Replicas servers and starts each of them,
// grounded on the ground truth's install_and_start loop
// (original_source/test/pylib/scylla_cluster.py: "for _ in
// range(self.replicas): await self.add_server()"). A replica that fails to
// start stops the loop rather than piling more failures onto an
// already-broken cluster; the failure is kept as a deferred start exception
// (c.startException), which BeforeTest surfaces to the first test that leases
// this cluster (spec.md §7). Once every replica is running, the
// keyspace-count baseline is captured and the cluster is marked clean.
func (c *Cluster) InstallAndStart() error {
	for i := 0; i < c.Replicas; i++ {
		if _, res := c.AddServer(nil, nil, true, nil); !res.Success {
			c.mu.Lock()
			if c.startException == nil {
				c.startException = errors.New(res.Message)
			}
			c.mu.Unlock()
			return nil
		}
	}
	if err := c.CaptureKeyspaceBaseline(); err != nil {
		c.recordStartException(err)
		return nil
	}
	c.mu.Lock()
	c.isDirty = false
	c.mu.Unlock()
	return nil
}

func (c *Cluster) releaseIfFresh(ip net.IP, fresh bool) {
	if !fresh {
		return
	}
	c.mu.Lock()
	delete(c.leasedIPs, ip.String())
	c.mu.Unlock()
	c.deps.Registry.Release(ip)
}

func (c *Cluster) recordStartException(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markDirtyLocked()
	c.startException = err
}

// ServerStart starts a stopped server, optionally expecting it to fail with
// expectedError (spec.md §4.2/§4.3). ignoreDeadNodes carries the same
// ignore-list shape RemoveNode uses, applied at boot when the seed set
// contains known-dead peers (SPEC_FULL.md §6 supplement, recovered from
// original_source/test/pylib/scylla_cluster.py). On success with
// expectedError set, the server is placed back in stopped (the expected
// failure happened).
func (c *Cluster) ServerStart(id hserver.ServerID, expectedError string, ignoreDeadNodes []string) hserver.ActionResult {
	c.mu.Lock()
	srv, running, stopped := c.findLocked(id)
	if running {
		c.mu.Unlock()
		return hserver.Ok(nil) // start on a running server is a no-op (spec.md §8)
	}
	if !stopped {
		c.mu.Unlock()
		return hserver.Fail(fmt.Sprintf("server_start: unknown server %d", id))
	}
	c.markDirtyLocked()
	seeds := c.seedsLocked(srv.IP.String())
	c.mu.Unlock()

	srv.Seeds = seeds
	if err := srv.UpdateConfig("seed_provider", config.Baseline(c.Name, srv.IP.String(), seeds)["seed_provider"]); err != nil {
		return hserver.Fail(err.Error())
	}

	if len(ignoreDeadNodes) > 0 {
		if err := srv.UpdateConfig("ignore_dead_nodes_for_replace", strings.Join(ignoreDeadNodes, ",")); err != nil {
			return hserver.Fail(err.Error())
		}
	}

	if err := srv.Start(context.Background(), expectedError); err != nil {
		_ = srv.Stop()
		return hserver.Fail(err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if expectedError != "" {
		// The expected failure happened and Start reported success by
		// design (spec.md §4.2 step 1); the server stays stopped.
		c.stopped[id] = srv
		return hserver.Ok(nil)
	}
	delete(c.stopped, id)
	c.running[id] = srv
	c.isRunning = true
	return hserver.Ok(nil)
}

// ServerStop stops a running server by kill signal. Disjoint-set transfer
// happens only after the underlying stop succeeds.
func (c *Cluster) ServerStop(id hserver.ServerID) hserver.ActionResult {
	return c.stop(id, false)
}

// ServerStopGracefully stops a running server, escalating to kill after the
// configured graceful timeout.
func (c *Cluster) ServerStopGracefully(id hserver.ServerID) hserver.ActionResult {
	return c.stop(id, true)
}

func (c *Cluster) stop(id hserver.ServerID, graceful bool) hserver.ActionResult {
	c.mu.Lock()
	srv, running, stopped := c.findLocked(id)
	if !running && !stopped {
		c.mu.Unlock()
		return hserver.Fail(fmt.Sprintf("unknown server %d", id))
	}
	c.markDirtyLocked()
	c.mu.Unlock()

	if stopped {
		return hserver.Ok(nil) // stop then stop is a no-op (spec.md §8)
	}

	var err error
	if graceful {
		err = srv.StopGracefully()
	} else {
		err = srv.Stop()
	}
	if err != nil {
		return hserver.Fail(err.Error())
	}

	c.mu.Lock()
	delete(c.running, id)
	c.stopped[id] = srv
	c.mu.Unlock()
	return hserver.Ok(nil)
}

// ServerRestart is stop-gracefully then start, recomputing the seed list
// first so a restarted node learns about peers added since it last booted.
func (c *Cluster) ServerRestart(id hserver.ServerID, ignoreDeadNodes []string) hserver.ActionResult {
	if r := c.ServerStopGracefully(id); !r.Success {
		return r
	}
	c.mu.Lock()
	srv, _, _ := c.findLocked(id)
	if srv != nil {
		srv.Seeds = c.seedsLocked("")
	}
	c.mu.Unlock()
	return c.ServerStart(id, "", ignoreDeadNodes)
}

// ServerPause/ServerUnpause send stop/continue signals to simulate a frozen
// node.
func (c *Cluster) ServerPause(id hserver.ServerID) hserver.ActionResult {
	return c.withServer(id, func(s *procserver.Server) error { return s.Pause() })
}

func (c *Cluster) ServerUnpause(id hserver.ServerID) hserver.ActionResult {
	return c.withServer(id, func(s *procserver.Server) error { return s.Unpause() })
}

func (c *Cluster) withServer(id hserver.ServerID, fn func(*procserver.Server) error) hserver.ActionResult {
	c.mu.Lock()
	srv, running, stopped := c.findLocked(id)
	c.mu.Unlock()
	if !running && !stopped {
		return hserver.Fail(fmt.Sprintf("unknown server %d", id))
	}
	if err := fn(srv); err != nil {
		return hserver.Fail(err.Error())
	}
	return hserver.Ok(nil)
}

// MarkRemoved adds id to the removal ledger without stopping it (removal
// may be initiated from another node while this one is still alive).
func (c *Cluster) MarkRemoved(id hserver.ServerID) hserver.ActionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, running, stopped := c.findLocked(id)
	if !running && !stopped {
		return hserver.Fail(fmt.Sprintf("unknown server %d", id))
	}
	c.markDirtyLocked()
	c.removed[id] = true
	return hserver.Ok(nil)
}

// Decommission invokes the admin REST decommission on the target, then
// stops it gracefully.
func (c *Cluster) Decommission(id hserver.ServerID) hserver.ActionResult {
	c.mu.Lock()
	srv, running, _ := c.findLocked(id)
	c.mu.Unlock()
	if srv == nil {
		return hserver.Fail(fmt.Sprintf("unknown server %d", id))
	}
	if !running {
		return hserver.Fail(fmt.Sprintf("decommission: server %d is not running", id))
	}
	c.MarkDirty()

	if err := srv.Admin().Decommission(context.Background()); err != nil {
		return hserver.Fail(err.Error())
	}
	return c.ServerStopGracefully(id)
}

// RemoveNode invokes the admin REST remove-node on initiatorID, passing
// targetID's host id and the ignore-dead list. Fails if the initiator is
// not running.
func (c *Cluster) RemoveNode(initiatorID, targetID hserver.ServerID, ignoreDeadNodes []string) hserver.ActionResult {
	c.mu.Lock()
	initiator, initiatorRunning, _ := c.findLocked(initiatorID)
	target, _, _ := c.findLocked(targetID)
	c.mu.Unlock()

	if initiator == nil {
		return hserver.Fail(fmt.Sprintf("remove_node: unknown initiator %d", initiatorID))
	}
	if !initiatorRunning {
		return hserver.Fail(fmt.Sprintf("remove_node: initiator %d is not running", initiatorID))
	}
	if target == nil {
		return hserver.Fail(fmt.Sprintf("remove_node: unknown target %d", targetID))
	}
	c.MarkDirty()

	if err := initiator.Admin().RemoveNode(context.Background(), string(target.HostID()), ignoreDeadNodes); err != nil {
		return hserver.Fail(err.Error())
	}
	c.mu.Lock()
	c.removed[targetID] = true
	c.mu.Unlock()
	return hserver.Ok(nil)
}

// ChangeIP leases a new IP for a stopped server and rewrites its config.
// The old IP is retained in leasedIPs until cluster uninstall (spec.md §9).
func (c *Cluster) ChangeIP(id hserver.ServerID) hserver.ActionResult {
	c.mu.Lock()
	srv, running, stopped := c.findLocked(id)
	if !stopped || running {
		c.mu.Unlock()
		return hserver.Fail(fmt.Sprintf("change_ip: server %d must be stopped", id))
	}
	c.markDirtyLocked()
	c.mu.Unlock()

	newIP, err := c.deps.Registry.Lease()
	if err != nil {
		return hserver.Fail(err.Error())
	}
	if err := srv.ChangeIP(newIP); err != nil {
		c.deps.Registry.Release(newIP)
		return hserver.Fail(err.Error())
	}

	c.mu.Lock()
	c.leasedIPs[newIP.String()] = newIP
	c.mu.Unlock()
	return hserver.Ok(map[string]interface{}{"ip": newIP.String()})
}

// Exists reports whether id names a server this cluster still tracks
// (running or stopped), used by the API layer to distinguish "no such
// server" (404) from "the operation itself failed" (500) per spec.md §4.5.
func (c *Cluster) Exists(id hserver.ServerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, running, stopped := c.findLocked(id)
	return running || stopped
}

// HostIP/HostID look up a server's current IP and host id.
func (c *Cluster) HostIP(id hserver.ServerID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	srv, running, stopped := c.findLocked(id)
	if !running && !stopped {
		return "", false
	}
	return srv.IP.String(), true
}

func (c *Cluster) HostID(id hserver.ServerID) (string, bool) {
	c.mu.Lock()
	srv, running, stopped := c.findLocked(id)
	c.mu.Unlock()
	if !running && !stopped {
		return "", false
	}
	return string(srv.HostID()), true
}

// BuildID returns the discovered build id for a server, a supplement
// recovered from original_source/test/pylib/scylla_cluster.py
// (SPEC_FULL.md §6). The second return is false if the server is unknown.
func (c *Cluster) BuildID(id hserver.ServerID) (string, bool) {
	c.mu.Lock()
	srv, running, stopped := c.findLocked(id)
	c.mu.Unlock()
	if !running && !stopped {
		return "", false
	}
	bid, _ := srv.BuildID()
	return bid, true
}

// WriteExtraFile drops an auxiliary config file beside a server's
// scylla.yaml, a supplement recovered from
// original_source/test/pylib/scylla_cluster.py (SPEC_FULL.md §6).
func (c *Cluster) WriteExtraFile(id hserver.ServerID, relPath string, contents []byte) hserver.ActionResult {
	c.mu.Lock()
	srv, running, stopped := c.findLocked(id)
	c.mu.Unlock()
	if !running && !stopped {
		return hserver.Fail(fmt.Sprintf("unknown server %d", id))
	}
	if err := srv.WriteExtraFile(relPath, contents); err != nil {
		return hserver.Fail(err.Error())
	}
	return hserver.Ok(nil)
}

// GetConfig/UpdateConfig expose a server's config mapping.
func (c *Cluster) GetConfig(id hserver.ServerID) (config.Map, bool) {
	c.mu.Lock()
	srv, running, stopped := c.findLocked(id)
	c.mu.Unlock()
	if !running && !stopped {
		return nil, false
	}
	return srv.Config(), true
}

func (c *Cluster) UpdateConfig(id hserver.ServerID, key string, value interface{}) hserver.ActionResult {
	c.mu.Lock()
	srv, running, stopped := c.findLocked(id)
	if !running && !stopped {
		c.mu.Unlock()
		return hserver.Fail(fmt.Sprintf("unknown server %d", id))
	}
	c.markDirtyLocked()
	c.mu.Unlock()

	if err := srv.UpdateConfig(key, value); err != nil {
		return hserver.Fail(err.Error())
	}
	return hserver.Ok(nil)
}

// ReadServerLog returns the requested server's captured log excerpt. The
// caller always names the server explicitly (spec.md §9's open question:
// no implicit "first running server" guess is implemented anywhere).
func (c *Cluster) ReadServerLog(id hserver.ServerID) (string, error) {
	c.mu.Lock()
	srv, running, stopped := c.findLocked(id)
	c.mu.Unlock()
	if !running && !stopped {
		return "", errors.Errorf("unknown server %d", id)
	}
	return srv.ReadLog(), nil
}

// Description is the structured summary /cluster/before-test/{name} returns,
// per spec.md §4.5 ("execute before-test hook; return cluster description").
type Description struct {
	Name     string       `json:"name"`
	Replicas int          `json:"replicas"`
	IsDirty  bool         `json:"is_dirty"`
	Running  []ServerInfo `json:"running_servers"`
}

// Describe returns a point-in-time summary of the cluster.
func (c *Cluster) Describe() Description {
	return Description{
		Name:     c.Name,
		Replicas: c.Replicas,
		IsDirty:  c.IsDirty(),
		Running:  c.RunningServers(),
	}
}

// BeforeTest surfaces any saved startup exception (dirtying the cluster and
// returning it) and writes a log marker to every running server.
func (c *Cluster) BeforeTest(name string) error {
	c.mu.Lock()
	exc := c.startException
	c.startException = nil
	if exc != nil {
		c.markDirtyLocked()
	}
	running := make([]*procserver.Server, 0, len(c.running))
	for _, s := range c.running {
		running = append(running, s)
	}
	c.mu.Unlock()

	for _, s := range running {
		_ = s.WriteLogMarker(fmt.Sprintf("------ before_test %s ------", name))
	}

	if exc != nil {
		return errors.Annotatef(exc, "cluster %s inherited a broken start from a previous test", c.Name)
	}
	return nil
}

// AfterTest marks dirty on failure; if still clean, compares the current
// keyspace count against the baseline captured at cluster birth.
func (c *Cluster) AfterTest(name string, success bool) error {
	if !success {
		c.MarkDirty()
		return nil
	}
	if c.IsDirty() {
		return nil
	}

	c.mu.Lock()
	var any *procserver.Server
	for _, s := range c.running {
		any = s
		break
	}
	baseline := c.keyspaceBaseline
	baselineSet := c.baselineSet
	c.mu.Unlock()

	if any == nil || !baselineSet {
		return nil
	}

	count, err := any.Admin().KeyspaceCount(context.Background())
	if err != nil {
		return errors.Annotatef(err, "after_test %s: keyspace count check failed", name)
	}
	if count != baseline {
		c.MarkDirty()
		return errors.Errorf("after_test %s: keyspace count %d does not match baseline %d (test left state behind)", name, count, baseline)
	}
	return nil
}

// CaptureKeyspaceBaseline records the keyspace-count baseline at cluster
// birth, queried from any running server.
func (c *Cluster) CaptureKeyspaceBaseline() error {
	c.mu.Lock()
	var any *procserver.Server
	for _, s := range c.running {
		any = s
		break
	}
	c.mu.Unlock()
	if any == nil {
		return nil
	}
	count, err := any.Admin().KeyspaceCount(context.Background())
	if err != nil {
		return errors.Trace(err)
	}
	c.mu.Lock()
	c.keyspaceBaseline = count
	c.baselineSet = true
	c.mu.Unlock()
	return nil
}

// Uninstall stops and uninstalls every server and releases every leased IP.
func (c *Cluster) Uninstall() error {
	c.mu.Lock()
	all := make([]*procserver.Server, 0, len(c.running)+len(c.stopped))
	for _, s := range c.running {
		all = append(all, s)
	}
	for _, s := range c.stopped {
		all = append(all, s)
	}
	ips := make([]net.IP, 0, len(c.leasedIPs))
	for _, ip := range c.leasedIPs {
		ips = append(ips, ip)
	}
	c.mu.Unlock()

	var firstErr error
	for _, s := range all {
		if s.IsRunning() {
			if err := s.Stop(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := s.Uninstall(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, ip := range ips {
		c.deps.Registry.Release(ip)
	}

	c.mu.Lock()
	c.running = make(map[hserver.ServerID]*procserver.Server)
	c.stopped = make(map[hserver.ServerID]*procserver.Server)
	c.leasedIPs = make(map[string]net.IP)
	c.isRunning = false
	c.mu.Unlock()

	return firstErr
}
