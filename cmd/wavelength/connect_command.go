package main

import (
	"github.com/spf13/cobra"

	"github.com/1ureka/wavelength/internal/app"
	"github.com/1ureka/wavelength/internal/protocol"
	"github.com/1ureka/wavelength/internal/relay"
)

func newConnectCommand(ctx *commandContext) *cobra.Command {
	var port int
	var name string
	var frequency int
	var saveDir string

	cmd := &cobra.Command{
		Use:   "connect <address>",
		Short: "Tune in to a relay",
		Long: "Connect to a relay and chat on a frequency (30 ~ 300). address may be a\n" +
			"host, host:port or a ws://, wss://, http:// or https:// URL.",
		Example: "  wavelength connect 192.168.1.20:9000 --freq 88 --name alice\n" +
			"  wavelength connect wss://relay.example.com --freq 120",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("name") {
				name = cfg.Client.Name
			}
			if name == "" {
				name = askName("")
			}

			if !cmd.Flags().Changed("freq") {
				frequency = cfg.Client.Frequency
			}
			var freq protocol.Frequency
			if frequency == 0 {
				freq = askFrequency()
			} else {
				freq = protocol.Frequency(frequency)
				if err := freq.Validate(); err != nil {
					return err
				}
			}

			return app.RunClient(cmd.Context(), cfg, app.ClientOptions{
				Address:   args[0],
				Port:      resolvePort(args[0], port, cfg.Relay.Port),
				Name:      name,
				Frequency: freq,
				SaveDir:   saveDir,
				In:        cmd.InOrStdin(),
				Out:       cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Relay port when address has none")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name")
	cmd.Flags().IntVarP(&frequency, "freq", "f", 0, "Frequency to tune in to (30 ~ 300)")
	cmd.Flags().StringVar(&saveDir, "save-dir", "", "Directory for received attachments")
	return cmd
}

// resolvePort picks the port to dial: an explicit one, else the one in
// address, else the configured relay port.
func resolvePort(address string, explicit, fallback int) int {
	if explicit != 0 {
		return explicit
	}
	if _, err := relay.NormalizeTarget(address, 0); err == nil {
		return 0
	}
	return fallback
}
