package main

import (
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/wavelength/internal/protocol"
	"github.com/1ureka/wavelength/internal/relay"
	"github.com/1ureka/wavelength/internal/util"
)

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askAddress prompts for a relay address until one normalizes.
func askAddress() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay address (e.g. 192.168.1.20:9000 or wss://relay.example.com)").
			Show()

		raw = strings.TrimSpace(raw)
		// A missing port is filled in from the config later.
		if _, err := relay.NormalizeTarget(raw, 1); err == nil {
			pterm.Println()
			return raw
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askFrequency prompts until a frequency within range is entered.
func askFrequency() protocol.Frequency {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Frequency (30 ~ 300)").
			Show()

		freq, err := protocol.ParseFrequency(raw)
		if err == nil {
			pterm.Println()
			return freq
		}

		util.LogWarning("%v", err)
		pterm.Println()
	}
}

// askName prompts for a display name. An empty answer keeps def.
func askName(def string) string {
	prompt := "Display name"
	if def != "" {
		prompt += " [" + def + "]"
	}
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		Show()
	pterm.Println()
	if name := strings.TrimSpace(raw); name != "" {
		return name
	}
	if def != "" {
		return def
	}
	return "anonymous"
}
