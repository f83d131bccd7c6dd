package main

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Nmap XML structures
type NmapRun struct {
	XMLName  xml.Name `xml:"nmaprun"`
	Scanner  string   `xml:"scanner,attr"`
	Args     string   `xml:"args,attr"`
	StartStr string   `xml:"startstr,attr"`
	Version  string   `xml:"version,attr"`
	Hosts    []Host   `xml:"host"`
}

type Host struct {
	Status    HostStatus `xml:"status"`
	Addresses []Address  `xml:"address"`
	Hostnames []Hostname `xml:"hostnames>hostname"`
}

type HostStatus struct {
	State  string `xml:"state,attr"`
	Reason string `xml:"reason,attr"`
}

type Address struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type Hostname struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

// Include file structures, a subset of the main config accepted by the
// include loader.
type IncludeFile struct {
	Accounts []AccountConfig `yaml:"accounts"`
}

type AccountConfig struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name,omitempty"`
	Enabled   bool            `yaml:"enabled"`
	Interval  time.Duration   `yaml:"interval,omitempty"`
	Inventory InventoryConfig `yaml:"inventory"`
}

type InventoryConfig struct {
	Type        string         `yaml:"type"`
	PingCount   int            `yaml:"ping_count,omitempty"`
	PingTimeout time.Duration  `yaml:"ping_timeout,omitempty"`
	Privileged  bool           `yaml:"privileged,omitempty"`
	Devices     []DeviceConfig `yaml:"devices"`
}

type DeviceConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name,omitempty"`
	Address string `yaml:"address"`
}

type generateOptions struct {
	accountID   string
	name        string
	interval    time.Duration
	enabled     bool
	privileged  bool
	pingCount   int
	pingTimeout time.Duration
}

func parseNmap(data []byte) (*NmapRun, error) {
	var run NmapRun
	if err := xml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse nmap XML: %w", err)
	}
	return &run, nil
}

// generateInclude turns every up host with an IPv4 address into a device of
// one ICMP account. Device IDs are made unique by suffixing the address.
func generateInclude(run *NmapRun, opts generateOptions) *IncludeFile {
	var devices []DeviceConfig
	seen := make(map[string]bool)

	for _, host := range run.Hosts {
		if host.Status.State != "up" {
			continue
		}
		device, ok := deviceFromHost(host)
		if !ok {
			continue
		}
		if seen[device.ID] {
			device.ID = fmt.Sprintf("%s-%s", device.ID, strings.ReplaceAll(device.Address, ".", "-"))
		}
		seen[device.ID] = true
		devices = append(devices, device)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	return &IncludeFile{Accounts: []AccountConfig{{
		ID:       opts.accountID,
		Name:     opts.name,
		Enabled:  opts.enabled,
		Interval: opts.interval,
		Inventory: InventoryConfig{
			Type:        "icmp",
			PingCount:   opts.pingCount,
			PingTimeout: opts.pingTimeout,
			Privileged:  opts.privileged,
			Devices:     devices,
		},
	}}}
}

func deviceFromHost(host Host) (DeviceConfig, bool) {
	var ipv4, hostname string
	for _, addr := range host.Addresses {
		if addr.AddrType == "ipv4" {
			ipv4 = addr.Addr
			break
		}
	}
	if ipv4 == "" {
		return DeviceConfig{}, false
	}

	for _, hn := range host.Hostnames {
		if hn.Type == "PTR" || hn.Type == "user" {
			hostname = hn.Name
			break
		}
	}

	device := DeviceConfig{ID: deviceID(ipv4, hostname), Address: ipv4}
	if hostname != "" {
		device.Name = hostname
	}
	return device, true
}

func deviceID(ipv4, hostname string) string {
	if hostname != "" {
		return strings.ToLower(strings.Split(hostname, ".")[0])
	}

	parts := strings.Split(ipv4, ".")
	if len(parts) == 4 {
		return fmt.Sprintf("host-%s", parts[3])
	}
	return fmt.Sprintf("host-%s", strings.ReplaceAll(ipv4, ".", "-"))
}

func renderInclude(include *IncludeFile, generated time.Time) ([]byte, error) {
	data, err := yaml.Marshal(include)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}

	devices := 0
	for _, account := range include.Accounts {
		devices += len(account.Inventory.Devices)
	}

	header := fmt.Sprintf("# netavail account include\n# Generated by netavail-discover on %s\n# Contains %d devices\n\n",
		generated.Format("2006-01-02 15:04:05"), devices)
	return append([]byte(header), data...), nil
}
