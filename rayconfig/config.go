// Copyright 2018 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package rayconfig defines rayd's on-disk configuration shape and
// defaults, and decodes a TOML file at a given path into it. Finding the
// file and watching it for changes are not done here.
package rayconfig

import (
	"io/ioutil"

	"github.com/naoina/toml"
)

// Config is the top-level rayd configuration.
type Config struct {
	RPC      RPCConfig      `toml:"rpc"`
	Journal  JournalConfig  `toml:"journal"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	PSM      PSMConfig      `toml:"psm"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Log      LogConfig      `toml:"log"`
}

type RPCConfig struct {
	Threads uint16 `toml:"threads"` // decoded but not read by rayd serve
	Address string `toml:"address"`
	Port    uint16 `toml:"port"`
}

type JournalConfig struct {
	Path              string `toml:"path"`
	FileSizeSoftLimit uint64 `toml:"file_size_soft_limit"`
}

type SnapshotConfig struct {
	Path string `toml:"path"`
}

type PSMConfig struct {
	JournalService  JournalServiceConfig  `toml:"journal_service"`
	MachineService  MachineServiceConfig  `toml:"machine_service"`
	SnapshotService SnapshotServiceConfig `toml:"snapshot_service"`
}

type JournalServiceConfig struct {
	RequestQueueSize int `toml:"request_queue_size"`
	BatchSize        int `toml:"batch_size"`
}

type MachineServiceConfig struct {
	RequestQueueSize int `toml:"request_queue_size"`
}

type SnapshotServiceConfig struct {
	SnapshotInterval uint64 `toml:"snapshot_interval"`
	BatchSize        int    `toml:"batch_size"`
}

type MetricsConfig struct {
	Address string `toml:"address"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the documented default configuration.
func Default() *Config {
	return &Config{
		RPC: RPCConfig{
			Threads: 0,
			Address: "127.0.0.1",
			Port:    39172,
		},
		Journal: JournalConfig{
			Path:              "./rayd-journal",
			FileSizeSoftLimit: 64 * 1024 * 1024,
		},
		Snapshot: SnapshotConfig{
			Path: "./rayd-snapshots",
		},
		PSM: PSMConfig{
			JournalService: JournalServiceConfig{
				RequestQueueSize: 10000,
				BatchSize:        100,
			},
			MachineService: MachineServiceConfig{
				RequestQueueSize: 10000,
			},
			SnapshotService: SnapshotServiceConfig{
				SnapshotInterval: 10000,
				BatchSize:        100,
			},
		},
		Metrics: MetricsConfig{
			Address: "",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads and decodes a TOML config file, using Default() for any
// field left unset by the file's own defaulting (naoina/toml decodes
// into the struct in place, so starting from Default() gives absent
// sections their documented values for free).
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
