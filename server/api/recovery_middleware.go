// Copyright 2019 PingCAP, Inc.
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

	"github.com/urfave/negroni"

	"github.com/scylladb-test/scyllaharness/server/manager"
)

// singleFlightMiddleware enforces SPEC_FULL.md §5's single-flight contract:
// exactly one request in flight against a Manager at a time. Contending
// requests get a 503 rather than being queued, generalized from the
// teacher's recoveryHandler (server/api/recovery.go) which is itself a
// narrow, single-purpose "reset state around one handler" wrapper; this is
// the same idea broadened to every route.
type singleFlightMiddleware struct {
	mgr *manager.Manager
}

func newSingleFlightMiddleware(mgr *manager.Manager) negroni.Handler {
	return &singleFlightMiddleware{mgr: mgr}
}

func (m *singleFlightMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	if r.URL.Path == "/up" {
		next(w, r)
		return
	}
	if !m.mgr.TryAcquire() {
		http.Error(w, "a request is already in flight against this manager", http.StatusServiceUnavailable)
		return
	}
	defer m.mgr.Release()
	next(w, r)
}
