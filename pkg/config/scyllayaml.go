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

// Package config assembles the scylla.yaml configuration the harness writes
// for each supervised server (spec.md §6) and serializes it with
// gopkg.in/yaml.v2, the way the rest of the retrieval pack's deployment
// tooling serializes declarative manifests for the workload it supervises.
package config

import (
	"strings"

	"gopkg.in/yaml.v2"
)

// Map is a semantic option->value mapping, key-ordering immaterial per
// spec.md §6.
type Map map[string]interface{}

// Baseline returns the baseline configuration mapping for a server listening
// on ip, belonging to cluster, with the given seed address list. Every key
// spec.md §6 enumerates is present except workdir, which Server.Install adds.
func Baseline(clusterName string, ip string, seeds []string) Map {
	return Map{
		"cluster_name": clusterName,
		"listen_address": ip,
		"rpc_address":     ip,
		"api_address":     ip,
		"prometheus_address": ip,
		"alternator_address": ip,
		"seed_provider": []Map{
			{
				"class_name": "org.apache.cassandra.locator.SimpleSeedProvider",
				"parameters": []Map{
					{"seeds": strings.Join(seeds, ",")},
				},
			},
		},
		"developer_mode": true,
		"experimental_features": []string{
			"user-defined-functions",
			"consistent-topology-changes",
		},
		"consistent_cluster_management":                       true,
		"skip_wait_for_gossip_to_settle":                       0,
		"ring_delay_ms":                                        0,
		"num_tokens":                                           16,
		"flush_schema_tables_after_modification":                false,
		"auto_snapshot":                                        false,
		"read_request_timeout_in_ms":                           300000,
		"write_request_timeout_in_ms":                          300000,
		"range_request_timeout_in_ms":                          300000,
		"truncate_request_timeout_in_ms":                       300000,
		"request_timeout_in_ms":                                300000,
		"counter_write_request_timeout_in_ms":                  300000,
		"cas_contention_timeout_in_ms":                         300000,
		"strict_allow_filtering":                                true,
		"strict_is_not_null_in_views":                           true,
		"permissions_update_interval_in_ms":                     100,
		"permissions_validity_in_ms":                            100,
		"reader_concurrency_semaphore_serialize_limit_multiplier": 0,
		"reader_concurrency_semaphore_kill_limit_multiplier":      0,
		"force_schema_commit_log":                              true,
	}
}

// Merge overlays overlay onto base, returning a new Map. Unlike the
// command-line merge rule (pkg/cmdline), this is a plain map union since
// spec.md §6 describes the config file as "a semantic mapping... merged
// with the per-test overlay" without remove/unset sentinels.
func Merge(base, overlay Map) Map {
	out := make(Map, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// AddressKeys lists the config keys that ChangeIP must rewrite (spec.md
// §4.2).
var AddressKeys = []string{
	"listen_address",
	"rpc_address",
	"api_address",
	"prometheus_address",
	"alternator_address",
}

// WithIP returns a copy of m with every address key in AddressKeys that m
// already has rewritten to ip. It does not touch seed_provider, even where
// the server's old IP is its own sole seed.
func WithIP(m Map, ip string) Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range AddressKeys {
		if _, ok := out[k]; ok {
			out[k] = ip
		}
	}
	return out
}

// Marshal serializes m as YAML, the format the scylla server binary expects
// for its config file.
func Marshal(m Map) ([]byte, error) {
	return yaml.Marshal(map[string]interface{}(m))
}
