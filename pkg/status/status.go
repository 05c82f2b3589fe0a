// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package status collects host and runtime information for the verbose
// health endpoint and the aggregation status report.
package status

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/niura/neurostream/pkg/version"
)

var startTime = time.Now()

// Info is the status blob attached to verbose health responses
type Info struct {
	Version       string  `json:"version"`
	Commit        string  `json:"commit,omitempty"`
	Hostname      string  `json:"hostname"`
	Pid           int     `json:"pid"`
	GoVersion     string  `json:"go_version"`
	CPUCores      int     `json:"cpu_cores"`
	Load1         float64 `json:"load1"`
	MemoryUsedPct float64 `json:"memory_used_pct"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// Get returns the current host and runtime information. Collection
// failures leave the corresponding field at its zero value; a status
// report must never fail the health endpoint.
func Get() Info {
	info := Info{
		Version:       version.Version,
		Commit:        version.Commit,
		Pid:           os.Getpid(),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if cores, err := cpu.Counts(true); err == nil {
		info.CPUCores = cores
	}
	if avg, err := load.Avg(); err == nil {
		info.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryUsedPct = vm.UsedPercent
	}

	return info
}
