// cmd/netavail-discover/main.go
package main

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type discoverFlags struct {
	network  string
	xmlFile  string
	nmapPath string
	output   string
	verbose  bool
	generateOptions
}

func main() {
	var flags discoverFlags

	rootCmd := &cobra.Command{
		Use:   "netavail-discover",
		Short: "Generate an ICMP account include file from an nmap ping sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(&flags)
		},
		SilenceUsage: true,
	}

	f := rootCmd.Flags()
	f.StringVar(&flags.network, "network", "", "Network to scan in CIDR notation (auto-detected if empty)")
	f.StringVar(&flags.xmlFile, "xml", "", "Read an existing nmap XML file instead of scanning")
	f.StringVar(&flags.nmapPath, "nmap", "nmap", "Path to the nmap binary")
	f.StringVar(&flags.output, "output", "discovered.yaml", "Include file to write")
	f.BoolVar(&flags.verbose, "verbose", false, "Verbose nmap output")
	f.StringVar(&flags.accountID, "account", "discovered", "Account ID for the discovered devices")
	f.StringVar(&flags.name, "name", "", "Account display name")
	f.DurationVar(&flags.interval, "interval", 5*time.Minute, "Polling interval")
	f.BoolVar(&flags.enabled, "enabled", true, "Start polling the account on startup")
	f.BoolVar(&flags.privileged, "privileged", false, "Use raw ICMP sockets")
	f.IntVar(&flags.pingCount, "ping-count", 3, "Echo requests per device and tick")
	f.DurationVar(&flags.pingTimeout, "ping-timeout", 5*time.Second, "Per-device ping timeout")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(flags *discoverFlags) error {
	var (
		data []byte
		err  error
	)

	if flags.xmlFile != "" {
		logrus.WithField("file", flags.xmlFile).Info("Reading nmap XML")
		data, err = os.ReadFile(flags.xmlFile)
		if err != nil {
			return fmt.Errorf("failed to read XML file: %w", err)
		}
	} else {
		if flags.network == "" {
			flags.network = detectLocalNetwork()
			if flags.network == "" {
				return fmt.Errorf("no network specified and none could be detected, use --network")
			}
			logrus.WithField("network", flags.network).Info("Auto-detected network")
		}
		data, err = runNmapScan(flags.network, flags.nmapPath, flags.verbose)
		if err != nil {
			return err
		}
	}

	nmapRun, err := parseNmap(data)
	if err != nil {
		return err
	}

	include := generateInclude(nmapRun, flags.generateOptions)
	rendered, err := renderInclude(include, time.Now())
	if err != nil {
		return err
	}
	if err := os.WriteFile(flags.output, rendered, 0644); err != nil {
		return fmt.Errorf("failed to write include file: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"output":  flags.output,
		"account": flags.accountID,
		"devices": len(include.Accounts[0].Inventory.Devices),
	}).Info("Include file written")
	return nil
}

func detectLocalNetwork() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil && ipnet.IP.IsGlobalUnicast() {
				return ipnet.String()
			}
		}
	}
	return ""
}

// runNmapScan runs a ping sweep; port scanning is not needed to track
// reachability.
func runNmapScan(network, nmapPath string, verbose bool) ([]byte, error) {
	args := []string{"--system-dns", "-sn", "-oX", "-"}
	if verbose {
		args = append(args, "-v")
	}
	args = append(args, network)

	logrus.Infof("Running: %s %s", nmapPath, strings.Join(args, " "))

	output, err := exec.Command(nmapPath, args...).Output()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("nmap exited with status %d", exitError.ExitCode())
		}
		return nil, fmt.Errorf("nmap execution failed: %w", err)
	}
	return output, nil
}
