package cli

import (
	"github.com/ankittk/teamscope/internal/config"
	"github.com/ankittk/teamscope/internal/daemon"
	"github.com/spf13/cobra"
)

func newDaemonCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			if err := flags.apply(cmd.Flags(), &cfg); err != nil {
				return err
			}
			return daemon.StartForeground(cmd.Context(), daemon.OptionsFromConfig(home, cfg))
		},
	}

	flags.register(cmd.Flags())
	return cmd
}
