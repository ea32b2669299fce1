// Package config loads the node-tree bootstrap configuration for mcsd:
// environment variables for process-wide settings, plus a required YAML
// manifest (gopkg.in/yaml.v3) enumerating the LRUs, VCCs, FSPs and
// subarrays to construct and whether each driver runs against real
// hardware or its simulator twin, per spec §9's simulationMode attribute.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root of the bootstrap manifest.
type Config struct {
	// ControllerFQDN names the root Controller node.
	ControllerFQDN string `yaml:"controller_fqdn"`

	// StorePath is the bbolt file backing persisted admin mode.
	StorePath string `yaml:"store_path"`

	// SimulationMode runs every node against its in-memory simulator
	// driver twin instead of dialing real hardware, used for bring-up
	// and CI. Overridable per-LRU/per-SlimLink below.
	SimulationMode bool `yaml:"simulation_mode"`

	LRUs      []LRUConfig      `yaml:"lrus"`
	VCCs      []VCCConfig      `yaml:"vccs"`
	FSPs      []FSPConfig      `yaml:"fsps"`
	SlimLinks []SlimLinkConfig `yaml:"slim_links"`
	Subarrays []SubarrayConfig `yaml:"subarrays"`

	Subscription SubscriptionConfig `yaml:"subscription"`
}

// LRUConfig describes one TalonLRU chassis and its two PDU outlets.
type LRUConfig struct {
	FQDN     string `yaml:"fqdn"`
	OutletA  string `yaml:"outlet_a"`
	OutletB  string `yaml:"outlet_b"`
	PDUURL   string `yaml:"pdu_url"`   // production power.Driver base URL
	SSHHost  string `yaml:"ssh_host"`  // not read; the provisioner dials BoardTargetIP
	SSHUser  string `yaml:"ssh_user"`
	SSHKeyPath string `yaml:"ssh_key_path"`

	BoardTargetIP        string   `yaml:"board_target_ip"`
	BitstreamPath        string   `yaml:"bitstream_path"`
	DeviceServerList     []string `yaml:"device_server_list"`
	MasterFQDN           string   `yaml:"master_fqdn"`

	Simulate bool `yaml:"simulate"`
}

// VCCConfig describes one VCC node and the bands it supports. ID is the
// channelizer id a SysParam dish_parameters entry resolves to.
type VCCConfig struct {
	ID             int      `yaml:"id"`
	FQDN           string   `yaml:"fqdn"`
	SupportedBands []string `yaml:"supported_bands"`
}

// FSPConfig describes one frequency-slice processor from the fixed pool.
// ID is the fsp_id a scan configuration's cbf.fsp[] entries address it by.
type FSPConfig struct {
	ID   int    `yaml:"id"`
	FQDN string `yaml:"fqdn"`
}

// SlimLinkConfig describes one inter-board SLIM link endpoint pair.
type SlimLinkConfig struct {
	FQDN          string `yaml:"fqdn"`
	TxEndpoint    string `yaml:"tx_endpoint"`
	RxEndpoint    string `yaml:"rx_endpoint"`
	SNMPCommunity string `yaml:"snmp_community"`
	Simulate      bool   `yaml:"simulate"`
}

// SubarrayConfig describes one subarray and the subarray id the spec's
// ConfigureScan/AddReceptors commands address it by.
type SubarrayConfig struct {
	FQDN       string `yaml:"fqdn"`
	SubarrayID int    `yaml:"subarray_id"`
}

// SubscriptionConfig names the gNMI target for the external Subscription
// Sink driver (delay model / jones / doppler / beam-weight points).
type SubscriptionConfig struct {
	Target   string `yaml:"target"`
	Simulate bool   `yaml:"simulate"`
}

// Load reads and parses a YAML bootstrap manifest, then applies
// environment-variable overrides for the settings operators most often
// need to flip without editing the manifest (MCSD_SIMULATION_MODE,
// MCSD_STORE_PATH).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnv()
	if cfg.StorePath == "" {
		cfg.StorePath = "mcsd.db"
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("MCSD_SIMULATION_MODE"); ok {
		c.SimulationMode = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("MCSD_STORE_PATH"); ok {
		c.StorePath = v
	}
	if v, ok := os.LookupEnv("MCSD_SUBSCRIPTION_TARGET"); ok {
		c.Subscription.Target = v
	}
}

// Simulate reports whether a given per-component override, combined with
// the process-wide default, means this component should run against its
// simulator twin rather than its production driver.
func (c *Config) Simulate(override bool) bool {
	return c.SimulationMode || override
}
