// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

var (
	decodeDurations bool
	decodeTolerance uint32
	encodeData      string
	encodeParity    bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode <frame|durations...>",
	Short: "Decode a raw frame or a captured pulse sequence",
	Long: `Decode an OpenTherm frame offline.

By default the argument is a 32-bit frame in hex (0x40190000 or 40190000).
With --durations the arguments are signed level durations in microseconds,
positive for a mark and negative for a space, as reported by the adapter.

Examples:
  heliotherm decode 0xC0193C80
  heliotherm decode --durations 500 -500 500 -500 ...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

var encodeCmd = &cobra.Command{
	Use:   "encode <type> <id>",
	Short: "Encode a request into its pulse sequence",
	Long: `Build a frame and print it together with the pulse durations that
would be put on the line.

Example:
  heliotherm encode WRITE_DATA CH_SETPOINT --data 0x3700`,
	Args: cobra.ExactArgs(2),
	RunE: runEncode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(encodeCmd)

	decodeCmd.Flags().BoolVar(&decodeDurations, "durations", false, "Arguments are signed durations in microseconds")
	decodeCmd.Flags().Uint32Var(&decodeTolerance, "tolerance", opentherm.DefaultTolerance, "Accepted level deviation in percent")

	encodeCmd.Flags().StringVar(&encodeData, "data", "0", "16-bit data field (decimal or 0x hex)")
	encodeCmd.Flags().BoolVar(&encodeParity, "parity", true, "Set the parity bit before encoding")
}

func parseDurations(args []string) ([]int32, error) {
	var out []int32
	for _, arg := range args {
		for _, field := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			v, err := strconv.ParseInt(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q: %w", field, err)
			}
			out = append(out, int32(v))
		}
	}
	return out, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	var f opentherm.Frame
	if decodeDurations {
		durations, err := parseDurations(args)
		if err != nil {
			return err
		}
		f, err = opentherm.DecodeDurations(durations, decodeTolerance)
		if err != nil {
			return err
		}
		fmt.Printf("Levels: %d\n", len(durations))
	} else {
		raw, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(args[0]), "0x"), 16, 32)
		if err != nil {
			return fmt.Errorf("invalid frame %q: %w", args[0], err)
		}
		f = opentherm.FrameFromRaw(uint32(raw))
	}

	fmt.Printf("Raw: 0x%08X\n", f.Raw())
	fmt.Println(opentherm.FormatFrame(f))
	return nil
}

func runEncode(cmd *cobra.Command, args []string) error {
	t, err := opentherm.ParseMessageType(args[0])
	if err != nil {
		return err
	}
	id, err := opentherm.ParseMessageID(args[1])
	if err != nil {
		return err
	}
	data, err := strconv.ParseUint(encodeData, 0, 16)
	if err != nil {
		return fmt.Errorf("invalid --data %q: %w", encodeData, err)
	}

	f := opentherm.NewFrame(t, id)
	f.SetU16(uint16(data))
	if encodeParity {
		f.CalcParity()
	}
	p := opentherm.EncodeFrame(f)

	fmt.Printf("Raw: 0x%08X\n", f.Raw())
	fmt.Println(opentherm.FormatFrame(f))
	fmt.Printf("Levels: %d, carrier %d Hz\n", p.Len(), p.CarrierFrequency())

	parts := make([]string, 0, p.Len())
	for _, d := range p.Durations() {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	fmt.Println(strings.Join(parts, " "))
	return nil
}
