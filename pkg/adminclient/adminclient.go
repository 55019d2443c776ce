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

// Package adminclient is the thin wrapper around the server's admin REST
// API, an external collaborator per spec.md §1 ("any REST client used to
// talk to the server's admin API" is out of this harness's scope). It is
// grounded on the pack's habit of depending on a small typed client package
// per collaborator protocol (tests/pdctl, pd-client in the teacher) rather
// than scattering raw net/http calls through the core.
package adminclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
)

// StatusError is returned when the admin API answers with a non-2xx status.
// Callers distinguish 5xx ("fatal, re-raised") from everything else
// ("benign, retried") per spec.md §4.2 step 2 and §7.6.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("admin API returned status %d: %s", e.StatusCode, e.Body)
}

// IsServerError reports whether this is a 5xx response.
func (e *StatusError) IsServerError() bool {
	return e.StatusCode >= 500
}

// Client talks to one server's admin REST API, restricted to that server's
// IP.
type Client interface {
	// HostID fetches the server-assigned host identifier. Returns a
	// *StatusError on non-2xx responses.
	HostID(ctx context.Context) (string, error)

	// BuildID fetches the server's reported build identifier, a supplement
	// recovered from original_source/test/pylib/scylla_cluster.py's
	// version-checking behavior (SPEC_FULL.md §6).
	BuildID(ctx context.Context) (string, error)

	// Decommission invokes the cooperative decommission endpoint.
	Decommission(ctx context.Context) error

	// RemoveNode invokes the coercive remove-node endpoint on the
	// initiator, identifying the node to remove by host id and listing
	// addresses to ignore as already dead.
	RemoveNode(ctx context.Context, hostID string, ignoreDeadNodes []string) error

	// KeyspaceCount returns the number of user keyspaces currently present,
	// used by Cluster.AfterTest's postcondition check (spec.md §4.3).
	KeyspaceCount(ctx context.Context) (int, error)
}

// httpClient is the default Client implementation, a plain REST client
// restricted to a single server's IP and a request-level timeout, the way
// spec.md §4.2 describes the admin probe.
type httpClient struct {
	baseURL string
	hc      *http.Client
}

// New builds a Client against the admin API listening on ip:port.
func New(ip net.IP, port int, timeout time.Duration) Client {
	return &httpClient{
		baseURL: fmt.Sprintf("http://%s", net.JoinHostPort(ip.String(), fmt.Sprint(port))),
		hc:      &http.Client{Timeout: timeout},
	}
}

func (c *httpClient) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return errors.Trace(err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Trace(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := make([]byte, 512)
		n, _ := resp.Body.Read(body)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body[:n])}
	}
	if out == nil {
		return nil
	}
	return errors.Trace(json.NewDecoder(resp.Body).Decode(out))
}

func (c *httpClient) HostID(ctx context.Context) (string, error) {
	var out struct {
		HostID string `json:"host_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/storage_service/hostid/local", &out); err != nil {
		return "", err
	}
	return out.HostID, nil
}

func (c *httpClient) BuildID(ctx context.Context) (string, error) {
	var out struct {
		BuildID string `json:"build_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/system/scylla_release_version", &out); err != nil {
		return "", err
	}
	return out.BuildID, nil
}

func (c *httpClient) Decommission(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/storage_service/decommission", nil)
}

func (c *httpClient) RemoveNode(ctx context.Context, hostID string, ignoreDeadNodes []string) error {
	path := fmt.Sprintf("/storage_service/remove_node?host_id=%s", hostID)
	for _, ip := range ignoreDeadNodes {
		path += "&ignore_nodes=" + ip
	}
	return c.do(ctx, http.MethodPost, path, nil)
}

func (c *httpClient) KeyspaceCount(ctx context.Context) (int, error) {
	var out []string
	if err := c.do(ctx, http.MethodGet, "/storage_service/keyspaces", &out); err != nil {
		return 0, err
	}
	return len(out), nil
}
