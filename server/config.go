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

package server

import (
	"flag"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/juju/errors"
)

// Config is the harness's own configuration, distinct from the scylla.yaml
// the harness writes for each supervised server (see pkg/config). It is
// loaded the same way the teacher's server/config.go loads pd.toml:
// flag.FlagSet registration, an optional -config file parsed with
// BurntSushi/toml, then flags re-parsed so the command line wins.
type Config struct {
	*flag.FlagSet `toml:"-" json:"-"`

	// ScyllaExe is the path to the server binary each Server supervises
	// (spec.md §1 treats the tested database binary itself as an external
	// collaborator; this is merely where the harness finds it).
	ScyllaExe string `toml:"scylla-exe" json:"scylla-exe"`

	// VarDir is the root directory under which every cluster's per-server
	// work directories and log files are created (spec.md §6).
	VarDir string `toml:"var-dir" json:"var-dir"`

	// SocketDir is the root directory under which each Manager creates its
	// own per-test temporary directory holding the control-plane socket.
	SocketDir string `toml:"socket-dir" json:"socket-dir"`

	// HostPoolCIDR is the loopback range the HostRegistry leases addresses
	// from, e.g. "127.0.1.0/24".
	HostPoolCIDR string `toml:"host-pool-cidr" json:"host-pool-cidr"`

	// PoolSize is the number of warm Clusters the ClusterPool keeps ready.
	PoolSize int `toml:"pool-size" json:"pool-size"`

	// ReplicasPerCluster is the default replica count for freshly
	// provisioned clusters.
	ReplicasPerCluster int `toml:"replicas-per-cluster" json:"replicas-per-cluster"`

	// TopologyTimeout bounds the readiness loop (spec.md §6, ~1000s).
	TopologyTimeout time.Duration `toml:"-" json:"-"`
	TopologyTimeoutSeconds int64  `toml:"topology-timeout-seconds" json:"topology-timeout-seconds"`

	// GracefulStopTimeout bounds stop_gracefully before escalating to kill
	// (spec.md §4.2, 60s).
	GracefulStopTimeout time.Duration `toml:"-" json:"-"`
	GracefulStopTimeoutSeconds int64 `toml:"graceful-stop-timeout-seconds" json:"graceful-stop-timeout-seconds"`

	// LogLevel mirrors the teacher's "-L"/"-log-level" flag.
	LogLevel string `toml:"log-level" json:"log-level"`

	configFile string
}

const (
	defaultScyllaExe                 = "/usr/bin/scylla"
	defaultVarDir                    = "/tmp/scyllaharness"
	defaultSocketDir                 = "/tmp"
	defaultHostPoolCIDR              = "127.0.1.0/24"
	defaultPoolSize                  = 2
	defaultReplicasPerCluster        = 3
	defaultTopologyTimeoutSeconds    = 1000
	defaultGracefulStopTimeoutSecond = 60
	defaultLogLevel                  = "info"
)

// NewConfig creates a new harness Config with its flag set registered, the
// same shape as the teacher's server.NewConfig.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.FlagSet = flag.NewFlagSet("scyllaharness", flag.ContinueOnError)
	fs := cfg.FlagSet

	fs.StringVar(&cfg.configFile, "config", "", "harness config file (toml)")
	fs.StringVar(&cfg.ScyllaExe, "scylla-exe", defaultScyllaExe, "path to the server binary each Server supervises")
	fs.StringVar(&cfg.VarDir, "var-dir", defaultVarDir, "root directory for per-cluster work directories and logs")
	fs.StringVar(&cfg.SocketDir, "socket-dir", defaultSocketDir, "root directory for per-test control-plane sockets")
	fs.StringVar(&cfg.HostPoolCIDR, "host-pool-cidr", defaultHostPoolCIDR, "loopback CIDR the host registry leases addresses from")
	fs.IntVar(&cfg.PoolSize, "pool-size", defaultPoolSize, "number of warm clusters kept ready")
	fs.IntVar(&cfg.ReplicasPerCluster, "replicas-per-cluster", defaultReplicasPerCluster, "default replica count for freshly provisioned clusters")
	fs.Int64Var(&cfg.TopologyTimeoutSeconds, "topology-timeout-seconds", defaultTopologyTimeoutSeconds, "readiness deadline in seconds")
	fs.Int64Var(&cfg.GracefulStopTimeoutSeconds, "graceful-stop-timeout-seconds", defaultGracefulStopTimeoutSecond, "graceful stop deadline in seconds before escalating to kill")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level: debug, info, warn, error, fatal")

	return cfg
}

// Parse parses flag definitions from the argument list, loading the config
// file (if any) in between the two flag passes so the command line always
// wins over the file, matching the teacher's Config.Parse.
func (c *Config) Parse(arguments []string) error {
	if err := c.FlagSet.Parse(arguments); err != nil {
		return errors.Trace(err)
	}

	if c.configFile != "" {
		if err := c.configFromFile(c.configFile); err != nil {
			return errors.Trace(err)
		}
	}

	if err := c.FlagSet.Parse(arguments); err != nil {
		return errors.Trace(err)
	}

	if len(c.FlagSet.Args()) != 0 {
		return errors.Errorf("'%s' is an invalid flag", c.FlagSet.Arg(0))
	}

	c.adjust()
	return nil
}

func (c *Config) configFromFile(path string) error {
	_, err := toml.DecodeFile(path, c)
	return errors.Trace(err)
}

func (c *Config) adjust() {
	if c.ScyllaExe == "" {
		c.ScyllaExe = defaultScyllaExe
	}
	if c.VarDir == "" {
		c.VarDir = defaultVarDir
	}
	if c.SocketDir == "" {
		c.SocketDir = defaultSocketDir
	}
	if c.HostPoolCIDR == "" {
		c.HostPoolCIDR = defaultHostPoolCIDR
	}
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	if c.ReplicasPerCluster <= 0 {
		c.ReplicasPerCluster = defaultReplicasPerCluster
	}
	if c.TopologyTimeoutSeconds <= 0 {
		c.TopologyTimeoutSeconds = defaultTopologyTimeoutSeconds
	}
	if c.GracefulStopTimeoutSeconds <= 0 {
		c.GracefulStopTimeoutSeconds = defaultGracefulStopTimeoutSecond
	}
	c.TopologyTimeout = time.Duration(c.TopologyTimeoutSeconds) * time.Second
	c.GracefulStopTimeout = time.Duration(c.GracefulStopTimeoutSeconds) * time.Second
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
}

func (c *Config) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Config(%+v)", *c)
}
