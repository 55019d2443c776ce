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

// Package api wires spec.md §4.5's route table onto a gorilla/mux.Router,
// rendering responses with unrolled/render and wrapped by a negroni-style
// panic-recovery and single-flight gate, grounded on the teacher's
// server/api/*.go handler-per-resource pattern (storeHandler, recoveryHandler,
// mux.Vars, rd.JSON).
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/unrolled/render"
	"github.com/urfave/negroni"

	"github.com/scylladb-test/scyllaharness/server/manager"
)

// NewRouter builds the complete HTTP handler for one Manager's control
// plane: mux routes wrapped by a single-flight gate and panic recovery.
func NewRouter(mgr *manager.Manager) http.Handler {
	rd := render.New(render.Options{IndentJSON: false})
	liveness := &livenessHandler{rd: rd}
	ch := &clusterHandler{mgr: mgr, rd: rd}
	sh := &serverHandler{mgr: mgr, rd: rd}

	r := mux.NewRouter()

	r.HandleFunc("/up", liveness.Up).Methods(http.MethodGet)

	r.HandleFunc("/cluster/up", ch.Up).Methods(http.MethodGet)
	r.HandleFunc("/cluster/is-dirty", ch.IsDirty).Methods(http.MethodGet)
	r.HandleFunc("/cluster/replicas", ch.Replicas).Methods(http.MethodGet)
	r.HandleFunc("/cluster/running-servers", ch.RunningServers).Methods(http.MethodGet)
	r.HandleFunc("/cluster/host-ip/{id}", ch.HostIP).Methods(http.MethodGet)
	r.HandleFunc("/cluster/host-id/{id}", ch.HostID).Methods(http.MethodGet)
	r.HandleFunc("/cluster/before-test/{name}", ch.BeforeTest).Methods(http.MethodGet)
	r.HandleFunc("/cluster/after-test/{success}", ch.AfterTest).Methods(http.MethodGet)
	r.HandleFunc("/cluster/mark-dirty", ch.MarkDirty).Methods(http.MethodGet)
	r.HandleFunc("/cluster/addserver", ch.AddServer).Methods(http.MethodPut)
	r.HandleFunc("/cluster/remove-node/{initiator}", ch.RemoveNode).Methods(http.MethodPut)
	r.HandleFunc("/cluster/decommission-node/{id}", ch.Decommission).Methods(http.MethodGet)

	r.HandleFunc("/cluster/server/{id}/stop", sh.Stop).Methods(http.MethodGet)
	r.HandleFunc("/cluster/server/{id}/stop_gracefully", sh.StopGracefully).Methods(http.MethodGet)
	r.HandleFunc("/cluster/server/{id}/start", sh.Start).Methods(http.MethodGet)
	r.HandleFunc("/cluster/server/{id}/restart", sh.Restart).Methods(http.MethodGet)
	r.HandleFunc("/cluster/server/{id}/pause", sh.Pause).Methods(http.MethodGet)
	r.HandleFunc("/cluster/server/{id}/unpause", sh.Unpause).Methods(http.MethodGet)
	r.HandleFunc("/cluster/server/{id}/get_config", sh.GetConfig).Methods(http.MethodGet)
	r.HandleFunc("/cluster/server/{id}/update_config", sh.UpdateConfig).Methods(http.MethodPut)
	r.HandleFunc("/cluster/server/{id}/change_ip", sh.ChangeIP).Methods(http.MethodPut)
	r.HandleFunc("/cluster/server/{id}/write_extra_file", sh.WriteExtraFile).Methods(http.MethodPut)
	r.HandleFunc("/cluster/server/{id}/build-id", sh.BuildID).Methods(http.MethodGet)

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.Use(newSingleFlightMiddleware(mgr))
	n.UseHandler(r)
	return n
}
