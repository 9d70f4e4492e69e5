package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ankittk/teamscope/internal/config"
	"github.com/ankittk/teamscope/internal/store"
	"github.com/ankittk/teamscope/internal/store/postgres"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify configuration, watched roots and store",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			out := cmd.OutOrStdout()

			cfg, err := config.Load(home)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			var problems []string
			for _, root := range []struct{ name, dir string }{{"teams", cfg.TeamsDir}, {"tasks", cfg.TasksDir}} {
				fi, err := os.Stat(root.dir)
				switch {
				case os.IsNotExist(err):
					// The watcher creates missing roots on start.
					_, _ = fmt.Fprintf(out, "%s root %s does not exist yet\n", root.name, root.dir)
				case err != nil:
					problems = append(problems, fmt.Sprintf("%s root %s: %v", root.name, root.dir, err))
				case !fi.IsDir():
					problems = append(problems, fmt.Sprintf("%s root %s is not a directory", root.name, root.dir))
				}
			}

			if err := checkStore(cmd.Context(), home, cfg); err != nil {
				problems = append(problems, fmt.Sprintf("store %s: %v", cfg.Store.Driver, err))
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "ok")
			return nil
		},
	}
	return cmd
}

// checkStore opens (and for sqlite and postgres, migrates) the configured store.
func checkStore(ctx context.Context, home string, cfg config.Config) error {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		st, err = store.Open(home)
	case config.DriverPostgres:
		st, err = postgres.Open(ctx, cfg.Store.URL)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	return st.Close()
}
