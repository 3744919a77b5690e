// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Heliotherm - OpenTherm Master Gateway
//
// A CLI tool and daemon that drives an OpenTherm boiler through a pulse
// capture adapter and exposes its data points as entities.

package main

import (
	"os"

	"github.com/Thermoquad/heliotherm/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
