// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cluster builds the distributed training cluster configuration from the command-line flags
// (run mode, hosts, job name and task index), in the TF_CONFIG JSON format.
//
// Only the configuration is produced, logged and exported to the environment. There is no distributed runtime:
// training itself runs in a single process.
package cluster

import (
	"encoding/json"
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// RunMode selects the cluster layout.
type RunMode int

const (
	// Local runs without any cluster configuration.
	Local RunMode = iota

	// SingleDistributed is the single-machine layout: the worker hosts are all chiefs, plus the parameter servers.
	SingleDistributed

	// MultiDistributed is the cluster layout: the first worker host is the chief, the second one the evaluator,
	// and the remaining ones workers, plus the parameter servers.
	MultiDistributed
)

// Job names.
const (
	JobChief     = "chief"
	JobWorker    = "worker"
	JobEvaluator = "evaluator"
	JobPS        = "ps"
)

// EnvVar is the environment variable exported with the configuration.
const EnvVar = "TF_CONFIG"

// Flags as given in the command line.
type Flags struct {
	RunMode     RunMode
	PSHosts     string // Comma-separated.
	WorkerHosts string // Comma-separated.
	JobName     string
	TaskIndex   int
}

// Task of the current process.
type Task struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// Config is the cluster specification (job name to hosts) and the current task.
type Config struct {
	Cluster map[string][]string `json:"cluster"`
	Task    Task                `json:"task"`
}

func splitHosts(hosts string) []string {
	var result []string
	for _, host := range strings.Split(hosts, ",") {
		host = strings.TrimSpace(host)
		if host != "" {
			result = append(result, host)
		}
	}
	return result
}

// New returns the configuration for the flags, or nil for the Local run mode.
func New(flags Flags) (*Config, error) {
	if flags.RunMode == Local {
		return nil, nil
	}
	if flags.RunMode != SingleDistributed && flags.RunMode != MultiDistributed {
		return nil, errors.Errorf("invalid run_mode %d, valid values are 0 (local), 1 (single machine distributed) "+
			"and 2 (cluster distributed)", flags.RunMode)
	}
	psHosts, workerHosts := splitHosts(flags.PSHosts), splitHosts(flags.WorkerHosts)
	if len(psHosts) == 0 || len(workerHosts) == 0 {
		return nil, errors.Errorf("run_mode %d requires ps_hosts and worker_hosts, got %q and %q",
			flags.RunMode, flags.PSHosts, flags.WorkerHosts)
	}
	if flags.TaskIndex < 0 {
		return nil, errors.Errorf("invalid task_index %d", flags.TaskIndex)
	}
	task := Task{Type: flags.JobName, Index: flags.TaskIndex}

	if flags.RunMode == SingleDistributed {
		if !slices.Contains([]string{JobChief, JobPS}, task.Type) {
			return nil, errors.Errorf("run_mode 1 requires job_name %q or %q, got %q", JobChief, JobPS, task.Type)
		}
		return &Config{
			Cluster: map[string][]string{JobChief: workerHosts, JobPS: psHosts},
			Task:    task,
		}, nil
	}

	if !slices.Contains([]string{JobWorker, JobPS}, task.Type) {
		return nil, errors.Errorf("run_mode 2 requires job_name %q or %q, got %q", JobWorker, JobPS, task.Type)
	}
	if task.Type == JobWorker {
		if task.Index >= len(workerHosts) {
			return nil, errors.Errorf("task_index %d out of range for %d worker hosts", task.Index, len(workerHosts))
		}
		switch task.Index {
		case 0:
			task.Type = JobChief
		case 1:
			task.Type = JobEvaluator
			task.Index = 0
		default:
			task.Index -= 2
		}
	}
	return &Config{
		Cluster: map[string][]string{
			JobChief:  workerHosts[:1],
			JobWorker: workerHosts[1:],
			JobPS:     psHosts,
		},
		Task: task,
	}, nil
}

// JSON encoding of the configuration.
func (c *Config) JSON() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "encoding cluster configuration")
	}
	return string(data), nil
}

// Export logs the configuration and sets it in the EnvVar environment variable.
func (c *Config) Export() error {
	encoded, err := c.JSON()
	if err != nil {
		return err
	}
	klog.Infof("cluster configuration: %s", encoded)
	return errors.Wrapf(os.Setenv(EnvVar, encoded), "setting %s", EnvVar)
}
