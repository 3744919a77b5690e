// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliotherm/internal/hub"
	"github.com/Thermoquad/heliotherm/internal/publish/mqtt"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

var (
	sendType     string
	sendID       string
	sendData     string
	sendValue    string
	sendAccessor string
	sendTimeout  time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send [id]",
	Short: "Send one request and print the boiler's response",
	Long: `Schedule a single exchange and wait for its outcome.

The id is a data identity name (FEED_TEMP) or number (25), given as the
argument or with --id. Data for the
request is given either raw with --data or as a value encoded through an
accessor with --value and --accessor.

Examples:
  heliotherm send FEED_TEMP
  heliotherm send CH_SETPOINT --type WRITE_DATA --value 55 --accessor q7_8
  heliotherm send --id 0 --data 0x0300

Exit codes:
  0 - Response received
  1 - No response (timeout or rejected response)
  2 - Connection or usage error`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendType, "type", "t", "READ_DATA", "Message type (READ_DATA, WRITE_DATA, INVALID_DATA)")
	sendCmd.Flags().StringVar(&sendID, "id", "", "Data identity (name or number)")
	sendCmd.Flags().StringVar(&sendData, "data", "", "Raw 16-bit data field (decimal or 0x hex)")
	sendCmd.Flags().StringVar(&sendValue, "value", "", "Value encoded with --accessor (number, on/off or true/false)")
	sendCmd.Flags().StringVar(&sendAccessor, "accessor", "u16", "Accessor used to encode --value")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 5*time.Second, "How long to wait for the exchange")
}

// buildSendData returns the function that fills the request data field.
func buildSendData() (func(f *opentherm.Frame), error) {
	switch {
	case sendData != "" && sendValue != "":
		return nil, fmt.Errorf("--data and --value are mutually exclusive")
	case sendData != "":
		raw, err := strconv.ParseUint(sendData, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid --data %q: %w", sendData, err)
		}
		return func(f *opentherm.Frame) { f.SetU16(uint16(raw)) }, nil
	case sendValue != "":
		acc, err := opentherm.ParseAccessor(sendAccessor)
		if err != nil {
			return nil, err
		}
		v, err := mqtt.ParseCommand([]byte(sendValue))
		if err != nil {
			return nil, fmt.Errorf("invalid --value: %w", err)
		}
		return func(f *opentherm.Frame) { acc.Write(f, v) }, nil
	}
	return nil, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	t, err := opentherm.ParseMessageType(sendType)
	if err != nil {
		return err
	}
	if !t.IsMaster() {
		return fmt.Errorf("%s is not a master message type", opentherm.FormatMessageType(t))
	}
	idArg := sendID
	if len(args) == 1 {
		idArg = args[0]
	}
	if idArg == "" {
		return fmt.Errorf("a data identity is required")
	}
	id, err := opentherm.ParseMessageID(idArg)
	if err != nil {
		return err
	}
	write, err := buildSendData()
	if err != nil {
		return err
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

	events := make(chan hub.Event, 8)
	gw.hub.RegisterConsumer(&hub.Registration{ID: id, Type: t, Write: write})
	gw.hub.AddObserver(hub.ObserverFunc(func(e hub.Event) {
		switch e.Kind {
		case hub.EventTransmitted, hub.EventTransmitError, hub.EventReceived,
			hub.EventDataInvalid, hub.EventUnknownDataID, hub.EventParityError,
			hub.EventReceiveTimeout, hub.EventMessageTimeout:
			select {
			case events <- e:
			default:
			}
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	gw.start(ctx, false)

	fmt.Printf("Heliotherm - Send\n")
	fmt.Printf("Connection: %s\n", gw.link)
	gw.hub.Enqueue(t, id)

	code := waitExchange(ctx, events)
	gw.close()
	os.Exit(code)
	return nil
}

// waitExchange prints the exchange as it happens and returns the exit code.
func waitExchange(ctx context.Context, events <-chan hub.Event) int {
	for {
		select {
		case e := <-events:
			switch e.Kind {
			case hub.EventTransmitted:
				fmt.Printf("TX: %s\n", opentherm.FormatFrame(e.Frame))
			case hub.EventTransmitError:
				fmt.Fprintf(os.Stderr, "Transmit error: %v\n", e.Err)
				return 2
			case hub.EventReceived:
				fmt.Printf("RX: %s (%s)\n", opentherm.FormatFrame(e.Frame), e.Elapsed.Round(time.Millisecond))
				return 0
			case hub.EventDataInvalid, hub.EventUnknownDataID:
				fmt.Printf("RX: %s (%s)\n", opentherm.FormatFrame(e.Frame), e.Elapsed.Round(time.Millisecond))
				fmt.Fprintf(os.Stderr, "REJECTED: boiler answered %s\n", opentherm.FormatMessageType(e.Frame.MessageType()))
				return 1
			case hub.EventParityError:
				fmt.Fprintf(os.Stderr, "PARITY ERROR: %s\n", opentherm.FormatFrame(e.Frame))
				return 1
			case hub.EventReceiveTimeout, hub.EventMessageTimeout:
				fmt.Fprintf(os.Stderr, "TIMEOUT: no response from the boiler\n")
				return 1
			}
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "TIMEOUT: exchange did not finish within %s\n", sendTimeout)
			return 1
		}
	}
}
