package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/wavelength/internal/app"
	"github.com/1ureka/wavelength/internal/config"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var debugFlag bool

	ctx := newCommandContext(&configFlag, &debugFlag)

	rootCmd := &cobra.Command{
		Use:           "wavelength",
		Short:         "Frequency-based chat over a WebSocket relay",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd, ctx)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newRelayCommand(ctx))
	rootCmd.AddCommand(newConnectCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}

// roleChoices are the entries of the interactive role select.
var roleChoices = []struct {
	label string
	role  config.Role
}{
	{"Relay  — Host a relay for others", config.RoleRelay},
	{"Client — Tune in to a relay", config.RoleClient},
}

func roleLabels() []string {
	labels := make([]string, len(roleChoices))
	for i, c := range roleChoices {
		labels[i] = c.label
	}
	return labels
}

// roleFromLabel maps a selected entry back to its role.
func roleFromLabel(label string) (config.Role, error) {
	for _, c := range roleChoices {
		if c.label == label {
			return c.role, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", label)
}

// runInteractive asks for the role and its parameters when no subcommand
// is given.
func runInteractive(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	pterm.Info.Println(fmt.Sprintf("Wavelength — v%s", version))
	pterm.Println()

	label, err := pterm.DefaultInteractiveSelect.
		WithOptions(roleLabels()).
		WithDefaultText("Select your role").
		Show()
	if err != nil {
		return err
	}
	pterm.Println()

	role, err := roleFromLabel(label)
	if err != nil {
		return err
	}

	switch role {
	case config.RoleRelay:
		cfg.Relay.Port = askPort("Relay port (1 ~ 65535)")
		return app.RunRelay(cmd.Context(), cfg)
	default:
		opts := app.ClientOptions{
			Address:   askAddress(),
			Name:      askName(cfg.Client.Name),
			Frequency: askFrequency(),
		}
		opts.Port = resolvePort(opts.Address, 0, cfg.Relay.Port)
		return app.RunClient(cmd.Context(), cfg, opts)
	}
}
