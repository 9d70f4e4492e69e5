package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ankittk/teamscope/internal/config"
	"github.com/ankittk/teamscope/internal/daemon"
	"github.com/ankittk/teamscope/pkg/client"
	"github.com/ankittk/teamscope/pkg/models"
	"github.com/spf13/cobra"
)

// apiClient targets --addr, else the running daemon's addr file, else the
// configured port on localhost.
func apiClient(ctx context.Context, addr string) (*client.Client, error) {
	if addr == "" {
		home := config.MustHomeFrom(ctx)
		if st, _ := daemon.Status(ctx, home); st.Running && st.Addr != "unknown" {
			addr = st.Addr
		} else {
			cfg, err := config.Load(home)
			if err != nil {
				return nil, err
			}
			addr = net.JoinHostPort("localhost", strconv.Itoa(cfg.Port))
		}
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + dialable(addr)
	}
	return client.New(strings.TrimRight(addr, "/")), nil
}

// dialable swaps a wildcard listen host for loopback.
func dialable(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func addAddrFlag(cmd *cobra.Command, addr *string) {
	cmd.Flags().StringVar(addr, "addr", "", "API address (default: running daemon)")
}

func newTeamsCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "teams [name]",
		Short: "List teams, or show one team's agents and tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context(), addr)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer func() { _ = w.Flush() }()

			if len(args) == 1 {
				team, err := c.Team(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(w, "TEAM\t%s\tsession %s\n", team.Name, sessionLabel(team.SessionID))
				for _, a := range team.Agents {
					_, _ = fmt.Fprintf(w, "AGENT\t%s\t%s\t%s\n", a.Name, a.AgentType, a.Model)
				}
				for _, t := range team.Tasks {
					_, _ = fmt.Fprintf(w, "TASK\t%s\t%s\t%s\n", t.TaskID, t.Status, t.Subject)
				}
				return nil
			}

			teams, err := c.Teams(cmd.Context())
			if err != nil {
				return err
			}
			if len(teams) == 0 {
				_, _ = fmt.Fprintln(w, "No teams.")
				return nil
			}
			_, _ = fmt.Fprintln(w, "NAME\tSESSION\tTASKS\tINBOXES")
			for _, t := range teams {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", t.Name, sessionLabel(t.SessionID), len(t.Tasks), len(t.Messages))
			}
			return nil
		},
	}
	addAddrFlag(cmd, &addr)
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		addr  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List monitoring sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context(), addr)
			if err != nil {
				return err
			}
			sessions, err := c.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer func() { _ = w.Flush() }()
			_, _ = fmt.Fprintln(w, "ID\tTEAM\tSTATUS\tSTARTED\tAGENTS\tTASKS\tMESSAGES\tTOKENS")
			for _, s := range sessions {
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					s.ID, s.TeamName, s.Status, s.StartedAt.Local().Format(time.DateTime),
					len(s.Agents), len(s.Tasks), s.MessageCount, s.TotalTokens)
			}
			return nil
		},
	}
	addAddrFlag(cmd, &addr)
	cmd.Flags().IntVar(&limit, "limit", models.DefaultHistoryLimit, "Maximum sessions to list")
	return cmd
}

func newEndCmd() *cobra.Command {
	var (
		addr   string
		tokens int64
	)
	cmd := &cobra.Command{
		Use:   "end <team>",
		Short: "End a team's active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context(), addr)
			if err != nil {
				return err
			}
			if err := c.EndSession(cmd.Context(), args[0], tokens); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Ended session for %q\n", args[0])
			return nil
		},
	}
	addAddrFlag(cmd, &addr)
	cmd.Flags().Int64Var(&tokens, "tokens", 0, "Total tokens used by the session")
	return cmd
}

func newAgentStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "agent-status <team> <agent> <status>",
		Short: "Set an agent's status (active, idle, error, unknown)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context(), addr)
			if err != nil {
				return err
			}
			if err := c.SetAgentStatus(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s/%s is %s\n", args[0], args[1], args[2])
			return nil
		},
	}
	addAddrFlag(cmd, &addr)
	return cmd
}

func sessionLabel(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}
