package main

import (
	"github.com/spf13/cobra"

	"github.com/1ureka/wavelength/internal/app"
)

func newRelayCommand(ctx *commandContext) *cobra.Command {
	var port int
	var listenHost string
	var statsInterval int

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a wavelength relay",
		Long: "Run a wavelength relay. Peers that connect tune in to a frequency and\n" +
			"everything they send is relayed to the other peers on it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Relay.Port = port
			}
			if cmd.Flags().Changed("listen") {
				cfg.Relay.ListenHost = listenHost
			}
			if cmd.Flags().Changed("stats") {
				cfg.Logging.StatsIntervalSeconds = statsInterval
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return app.RunRelay(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (0 picks a free one; default from config)")
	cmd.Flags().StringVar(&listenHost, "listen", "", "Interface to bind, e.g. 127.0.0.1 (default all)")
	cmd.Flags().IntVar(&statsInterval, "stats", 0, "Seconds between stats lines, 0 disables")
	return cmd
}
