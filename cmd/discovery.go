// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliotherm/internal/hub"
	"github.com/Thermoquad/heliotherm/internal/transport"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

var (
	discoveryTimeout time.Duration
	discoveryAll     bool
	discoveryPorts   bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Discover which data identities the boiler supports",
	Long: `Send READ_DATA for each data identity and report how the boiler answers.

Every identity ends up in one of these groups:
  supported    - READ_ACK, shown with its decoded value
  invalid      - DATA_INVALID, the boiler knows the identity but has no value
  unsupported  - UNKNOWN_DATA_ID
  no response  - timeout or corrupted answer

By default only the well-known identities are scanned. Use --all to scan the
whole 0-127 range. Use --ports to list serial ports instead.

Exit codes:
  0 - At least one identity is supported
  1 - Nothing answered
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().DurationVar(&discoveryTimeout, "timeout", 3*time.Second, "Timeout for each identity")
	discoveryCmd.Flags().BoolVar(&discoveryAll, "all", false, "Scan every identity, not just the well-known ones")
	discoveryCmd.Flags().BoolVar(&discoveryPorts, "ports", false, "List serial ports and exit")
}

// discoveryResult is the boiler's answer for one identity.
type discoveryResult struct {
	id    opentherm.MessageID
	kind  hub.EventKind
	frame opentherm.Frame
}

// scanIDs returns the identities to probe.
func scanIDs(all bool) []opentherm.MessageID {
	var ids []opentherm.MessageID
	for i := 0; i <= opentherm.MaxMessageID; i++ {
		id := opentherm.MessageID(i)
		if all || id.IsKnown() {
			ids = append(ids, id)
		}
	}
	return ids
}

// outcome reports whether k ends an exchange.
func outcome(k hub.EventKind) bool {
	switch k {
	case hub.EventReceived, hub.EventDataInvalid, hub.EventUnknownDataID,
		hub.EventParityError, hub.EventReceiveTimeout, hub.EventMessageTimeout,
		hub.EventTransmitError:
		return true
	}
	return false
}

func listPorts() error {
	ports, err := transport.SerialPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	if discoveryPorts {
		return listPorts()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, true)

	gw, err := openGateway(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	events := make(chan hub.Event, 16)
	gw.hub.AddObserver(hub.ObserverFunc(func(e hub.Event) {
		if outcome(e.Kind) {
			select {
			case events <- e:
			default:
			}
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.start(ctx, false)

	ids := scanIDs(discoveryAll)
	fmt.Printf("Heliotherm - Discovery\n")
	fmt.Printf("Connection: %s\n", gw.link)
	fmt.Printf("Scanning %d identities...\n\n", len(ids))

	var results []discoveryResult
	for _, id := range ids {
		gw.hub.Enqueue(opentherm.ReadData, id)
		results = append(results, waitDiscovery(id, events))
	}

	supported := printDiscovery(results)
	gw.close()
	if supported == 0 {
		os.Exit(1)
	}
	return nil
}

// waitDiscovery waits for the exchange of id to finish.
func waitDiscovery(id opentherm.MessageID, events <-chan hub.Event) discoveryResult {
	timer := time.NewTimer(discoveryTimeout)
	defer timer.Stop()

	for {
		select {
		case e := <-events:
			if e.Frame.MessageID() != id {
				continue
			}
			return discoveryResult{id: id, kind: e.Kind, frame: e.Frame}
		case <-timer.C:
			return discoveryResult{id: id, kind: hub.EventReceiveTimeout}
		}
	}
}

// printDiscovery prints the results grouped by answer and returns the number
// of supported identities.
func printDiscovery(results []discoveryResult) int {
	var supported, invalid, unsupported, silent []discoveryResult
	for _, r := range results {
		switch r.kind {
		case hub.EventReceived:
			supported = append(supported, r)
		case hub.EventDataInvalid:
			invalid = append(invalid, r)
		case hub.EventUnknownDataID:
			unsupported = append(unsupported, r)
		default:
			silent = append(silent, r)
		}
	}

	fmt.Printf("Supported (%d):\n", len(supported))
	for _, r := range supported {
		fmt.Printf("  %3d %-24s %s\n", r.id, opentherm.FormatMessageID(r.id), opentherm.FormatValue(r.frame))
	}
	printIDs("Data invalid", invalid)
	printIDs("Unsupported", unsupported)
	printIDs("No response", silent)
	return len(supported)
}

func printIDs(title string, results []discoveryResult) {
	if len(results) == 0 {
		return
	}
	fmt.Printf("\n%s (%d):\n", title, len(results))
	for _, r := range results {
		fmt.Printf("  %3d %s\n", r.id, opentherm.FormatMessageID(r.id))
	}
}
