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

package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/unrolled/render"

	hserver "github.com/scylladb-test/scyllaharness/server"
	"github.com/scylladb-test/scyllaharness/pkg/config"
	"github.com/scylladb-test/scyllaharness/server/cluster"
	"github.com/scylladb-test/scyllaharness/server/manager"
)

// livenessHandler answers /up, the teacher's healthHandler counterpart
// (server/api/health.go) scaled down from a cluster-membership liveness
// check to a single process's liveness.
type livenessHandler struct {
	rd *render.Render
}

func (h *livenessHandler) Up(w http.ResponseWriter, r *http.Request) {
	h.rd.Text(w, http.StatusOK, "OK")
}

// clusterHandler serves every /cluster/* route that is not scoped to one
// server, mirroring the teacher's adminHandler shape.
type clusterHandler struct {
	mgr *manager.Manager
	rd  *render.Render
}

func (h *clusterHandler) cluster(w http.ResponseWriter) *cluster.Cluster {
	c := h.mgr.Cluster()
	if c == nil {
		http.Error(w, errNotStarted.Error(), http.StatusInternalServerError)
	}
	return c
}

func (h *clusterHandler) Up(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	h.rd.Text(w, http.StatusOK, strconv.FormatBool(c.IsUp()))
}

func (h *clusterHandler) IsDirty(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	h.rd.Text(w, http.StatusOK, strconv.FormatBool(c.IsDirty()))
}

func (h *clusterHandler) Replicas(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	h.rd.Text(w, http.StatusOK, strconv.Itoa(c.Replicas))
}

func (h *clusterHandler) RunningServers(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	h.rd.JSON(w, http.StatusOK, c.RunningServers())
}

func (h *clusterHandler) HostIP(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	id, ok := parseServerID(w, r)
	if !ok {
		return
	}
	ip, ok := c.HostIP(id)
	if !ok {
		http.Error(w, "unknown server", http.StatusNotFound)
		return
	}
	h.rd.Text(w, http.StatusOK, ip)
}

func (h *clusterHandler) HostID(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	id, ok := parseServerID(w, r)
	if !ok {
		return
	}
	hostID, ok := c.HostID(id)
	if !ok {
		http.Error(w, "unknown server", http.StatusNotFound)
		return
	}
	h.rd.Text(w, http.StatusOK, hostID)
}

func (h *clusterHandler) BeforeTest(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	name := mux.Vars(r)["name"]
	if err := c.BeforeTest(name); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.rd.JSON(w, http.StatusOK, c.Describe())
}

func (h *clusterHandler) AfterTest(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	successStr := mux.Vars(r)["success"]
	var success bool
	switch successStr {
	case "True":
		success = true
	case "False":
		success = false
	default:
		http.Error(w, "success must be the literal True or False", http.StatusBadRequest)
		return
	}
	if err := c.AfterTest(mux.Vars(r)["name"], success); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.rd.Text(w, http.StatusOK, "OK")
}

func (h *clusterHandler) MarkDirty(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	c.MarkDirty()
	h.rd.Text(w, http.StatusOK, "OK")
}

type addServerRequest struct {
	ReplaceCfg *struct {
		TargetID        hserver.ServerID `json:"target_id"`
		ReuseIP         bool             `json:"reuse_ip"`
		ReplaceByHostID bool             `json:"replace_by_host_id"`
		IgnoreDeadNodes []string         `json:"ignore_dead_nodes"`
	} `json:"replace_cfg"`
	Cmdline []string    `json:"cmdline"`
	Config  config.Map  `json:"config"`
	Start   *bool       `json:"start"`
}

func (h *clusterHandler) AddServer(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	var req addServerRequest
	if err := fromBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	start := true
	if req.Start != nil {
		start = *req.Start
	}

	var replaceCfg *cluster.ReplaceConfig
	if req.ReplaceCfg != nil {
		replaceCfg = &cluster.ReplaceConfig{
			TargetID:        req.ReplaceCfg.TargetID,
			ReuseIP:         req.ReplaceCfg.ReuseIP,
			ReplaceByHostID: req.ReplaceCfg.ReplaceByHostID,
			IgnoreDeadNodes: req.ReplaceCfg.IgnoreDeadNodes,
		}
	}

	id, res := c.AddServer(req.Config, req.Cmdline, start, replaceCfg)
	if !res.Success {
		http.Error(w, res.Message, http.StatusInternalServerError)
		return
	}
	data := res.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	data["server_id"] = id
	h.rd.JSON(w, http.StatusOK, data)
}

type removeNodeRequest struct {
	ServerID   hserver.ServerID `json:"server_id"`
	IgnoreDead []string         `json:"ignore_dead"`
}

func (h *clusterHandler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	initiatorID, ok := parseServerIDFrom(w, mux.Vars(r)["initiator"])
	if !ok {
		return
	}
	var req removeNodeRequest
	if err := fromBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	res := c.RemoveNode(initiatorID, req.ServerID, req.IgnoreDead)
	writeActionResult(h.rd, w, res)
}

func (h *clusterHandler) Decommission(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	id, ok := parseServerID(w, r)
	if !ok {
		return
	}
	res := c.Decommission(id)
	writeActionResult(h.rd, w, res)
}

// serverHandler serves /cluster/server/{id}/* routes, mirroring the
// teacher's storeHandler shape (server/api/store.go).
type serverHandler struct {
	mgr *manager.Manager
	rd  *render.Render
}

func (h *serverHandler) cluster(w http.ResponseWriter) *cluster.Cluster {
	c := h.mgr.Cluster()
	if c == nil {
		http.Error(w, errNotStarted.Error(), http.StatusInternalServerError)
	}
	return c
}

func (h *serverHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(c *cluster.Cluster, id hserver.ServerID) hserver.ActionResult {
		return c.ServerStop(id)
	})
}

func (h *serverHandler) StopGracefully(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(c *cluster.Cluster, id hserver.ServerID) hserver.ActionResult {
		return c.ServerStopGracefully(id)
	})
}

func (h *serverHandler) Start(w http.ResponseWriter, r *http.Request) {
	expectedError := r.URL.Query().Get("expected_error")
	h.control(w, r, func(c *cluster.Cluster, id hserver.ServerID) hserver.ActionResult {
		return c.ServerStart(id, expectedError, nil)
	})
}

func (h *serverHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(c *cluster.Cluster, id hserver.ServerID) hserver.ActionResult {
		return c.ServerRestart(id, nil)
	})
}

func (h *serverHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(c *cluster.Cluster, id hserver.ServerID) hserver.ActionResult {
		return c.ServerPause(id)
	})
}

func (h *serverHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(c *cluster.Cluster, id hserver.ServerID) hserver.ActionResult {
		return c.ServerUnpause(id)
	})
}

// control runs a server-scoped mutator, translating an unknown server id to
// 500 (spec.md §4.5: control routes, unlike config routes, answer 500 for
// unknown ids too — a control route's failure is always reported the same
// way whether the cause was "unknown id" or "the action itself failed").
func (h *serverHandler) control(w http.ResponseWriter, r *http.Request, fn func(*cluster.Cluster, hserver.ServerID) hserver.ActionResult) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	id, ok := parseServerID(w, r)
	if !ok {
		return
	}
	writeActionResult(h.rd, w, fn(c, id))
}

func (h *serverHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	id, ok := parseServerID(w, r)
	if !ok {
		return
	}
	cfg, exists := c.GetConfig(id)
	if !exists {
		http.Error(w, "unknown server", http.StatusNotFound)
		return
	}
	h.rd.JSON(w, http.StatusOK, cfg)
}

type updateConfigRequest struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

func (h *serverHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	id, ok := parseServerID(w, r)
	if !ok {
		return
	}
	if !c.Exists(id) {
		http.Error(w, "unknown server", http.StatusNotFound)
		return
	}
	var req updateConfigRequest
	if err := fromBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeActionResult(h.rd, w, c.UpdateConfig(id, req.Key, req.Value))
}

func (h *serverHandler) ChangeIP(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	id, ok := parseServerID(w, r)
	if !ok {
		return
	}
	if !c.Exists(id) {
		http.Error(w, "unknown server", http.StatusNotFound)
		return
	}
	writeActionResult(h.rd, w, c.ChangeIP(id))
}

type writeExtraFileRequest struct {
	Path     string `json:"path"`
	Contents []byte `json:"contents"`
}

func (h *serverHandler) WriteExtraFile(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	id, ok := parseServerID(w, r)
	if !ok {
		return
	}
	if !c.Exists(id) {
		http.Error(w, "unknown server", http.StatusNotFound)
		return
	}
	var req writeExtraFileRequest
	if err := fromBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeActionResult(h.rd, w, c.WriteExtraFile(id, req.Path, req.Contents))
}

func (h *serverHandler) BuildID(w http.ResponseWriter, r *http.Request) {
	c := h.cluster(w)
	if c == nil {
		return
	}
	id, ok := parseServerID(w, r)
	if !ok {
		return
	}
	bid, exists := c.BuildID(id)
	if !exists {
		http.Error(w, "unknown server", http.StatusNotFound)
		return
	}
	h.rd.Text(w, http.StatusOK, bid)
}

func writeActionResult(rd *render.Render, w http.ResponseWriter, res hserver.ActionResult) {
	if !res.Success {
		http.Error(w, res.Message, http.StatusInternalServerError)
		return
	}
	if res.Data != nil {
		rd.JSON(w, http.StatusOK, res.Data)
		return
	}
	rd.Text(w, http.StatusOK, "OK")
}

func parseServerID(w http.ResponseWriter, r *http.Request) (hserver.ServerID, bool) {
	return parseServerIDFrom(w, mux.Vars(r)["id"])
}

func parseServerIDFrom(w http.ResponseWriter, raw string) (hserver.ServerID, bool) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, "invalid server id", http.StatusBadRequest)
		return 0, false
	}
	return hserver.ServerID(n), true
}
