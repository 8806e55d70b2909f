package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"prism-dashboard/access"
	"prism-dashboard/api"
	"prism-dashboard/config"
	"prism-dashboard/domain"
	"prism-dashboard/kanban"
)

const idempotencyTTL = 24 * time.Hour

var (
	apiURL string
	debug  bool

	listenAddr string

	loginEmail    string
	loginPassword string

	filterProject  int
	filterStatus   string
	filterAssignee int
	filterPriority string
	filterTitle    string

	rootCmd = &cobra.Command{
		Use:           "prism-dashboard",
		Short:         "Client core of the Prism project management dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard views over a local HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Log in and persist the session",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}
	logoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "Forget the persisted session",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
	whoamiCmd = &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in identity",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
	tasksCmd = &cobra.Command{
		Use:   "tasks",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE:  runTasks,
	}
	moveCmd = &cobra.Command{
		Use:   "move [task id] [status]",
		Short: "Move a task to another kanban lane",
		Args:  cobra.ExactArgs(2),
		RunE:  runMove,
	}
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Print the kanban lane counts whenever the task list changes",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "REST API base URL (overrides API_URL)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging (overrides DEBUG)")

	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides LISTEN_ADDR)")

	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password (defaults to $PRISM_PASSWORD)")
	_ = loginCmd.MarkFlagRequired("email")

	for _, c := range []*cobra.Command{tasksCmd, watchCmd} {
		c.Flags().IntVar(&filterProject, "project", 0, "only tasks of this project")
		c.Flags().StringVar(&filterStatus, "status", "", "only tasks with this status")
		c.Flags().IntVar(&filterAssignee, "assignee", 0, "only tasks assigned to this user")
		c.Flags().StringVar(&filterPriority, "priority", "", "only tasks with this priority")
		c.Flags().StringVar(&filterTitle, "title", "", "title search")
	}
	moveCmd.Flags().IntVar(&filterProject, "project", 0, "board of this project")

	rootCmd.AddCommand(serveCmd, loginCmd, logoutCmd, whoamiCmd, tasksCmd, moveCmd, watchCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("api-url") {
		cfg.APIURL = apiURL
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = debug
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = listenAddr
	}
	return cfg, cfg.Validate()
}

// withApp runs fn against a started dashboard and tears everything down
// afterwards.
func withApp(cmd *cobra.Command, realtime bool, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	shutdown, err := setupTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	a, err := newApp(ctx, cfg, logger, realtime)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, true, func(ctx context.Context, a *app) error {
		var dedupe api.Deduper
		if a.redis != nil {
			dedupe = api.NewRedisDeduper(a.redis, a.cfg.Storage.Namespace, idempotencyTTL)
		}
		e := api.NewServer(a.dashboard, dedupe, a.logger)

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case path := <-a.dashboard.Redirects():
					a.logger.WithField("path", path).Warn("the API rejected the session; log in again")
				}
			}
		}()

		errCh := make(chan error, 1)
		go func() {
			a.logger.WithField("addr", a.cfg.ListenAddr).Info("dashboard listening")
			errCh <- e.Start(a.cfg.ListenAddr)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
}

func runLogin(cmd *cobra.Command, _ []string) error {
	password := loginPassword
	if password == "" {
		password = os.Getenv("PRISM_PASSWORD")
	}
	return withApp(cmd, false, func(ctx context.Context, a *app) error {
		s, err := a.dashboard.Login(ctx, loginEmail, password)
		if err != nil {
			return err
		}
		landing := access.DashboardPath
		if d := a.dashboard.Navigate(access.DashboardPath); d.Kind == access.Redirect {
			landing = d.Path
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\nLanding page: %s\n", s.Identity.Name, s.Identity.Role, landing)
		return nil
	})
}

func runLogout(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, false, func(ctx context.Context, a *app) error {
		if err := a.dashboard.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	})
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, false, func(ctx context.Context, a *app) error {
		s := a.dashboard.Session()
		if !s.Authenticated() {
			fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> %s\n", s.Identity.Name, s.Identity.Email, s.Identity.Role)
		return nil
	})
}

func taskFilter() domain.TaskFilter {
	return domain.TaskFilter{
		ProjectID:  filterProject,
		Status:     domain.TaskStatus(filterStatus),
		AssigneeID: filterAssignee,
		Priority:   domain.Priority(filterPriority),
		Title:      filterTitle,
	}
}

func requireLogin(a *app) error {
	if !a.dashboard.Session().Authenticated() {
		return errors.New("not logged in; run the login command first")
	}
	return nil
}

func runTasks(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, false, func(ctx context.Context, a *app) error {
		if err := requireLogin(a); err != nil {
			return err
		}
		tasks, err := a.dashboard.Tasks(ctx, taskFilter())
		if err != nil {
			return err
		}
		printTasks(cmd.OutOrStdout(), tasks)
		return nil
	})
}

func printTasks(out io.Writer, tasks []domain.Task) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tTITLE\tASSIGNEE")
	for _, t := range tasks {
		assignee := "-"
		if t.Assignee != nil {
			assignee = t.Assignee.Name
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, t.Title, assignee)
	}
	w.Flush()
}

func runMove(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid task id %q", args[0])
	}
	status := domain.TaskStatus(args[1])
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", args[1])
	}
	return withApp(cmd, false, func(ctx context.Context, a *app) error {
		if err := requireLogin(a); err != nil {
			return err
		}
		res, err := a.dashboard.MoveTask(ctx, domain.TaskFilter{ProjectID: filterProject}, id, status)
		if err != nil {
			return err
		}
		switch res.Outcome {
		case kanban.Cancelled:
			return fmt.Errorf("task %d is not on the board", id)
		case kanban.DroppedOnSame:
			fmt.Fprintf(cmd.OutOrStdout(), "Task %d is already in %s\n", id, status)
			return nil
		}
		if _, err := res.Pending.Wait(ctx); err != nil {
			return fmt.Errorf("move rolled back: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task %d moved from %s to %s\n", id, res.From, res.To)
		return nil
	})
}

func runWatch(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, true, func(ctx context.Context, a *app) error {
		if err := requireLogin(a); err != nil {
			return err
		}
		sub := a.dashboard.WatchTasks(taskFilter())
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sub.Updates():
			}
			entry := sub.Entry()
			if entry.Err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", entry.Err.Message)
				continue
			}
			if tasks, ok := entry.Data.([]domain.Task); ok && entry.HasData {
				fmt.Fprintln(cmd.OutOrStdout(), laneSummary(tasks))
			}
		}
	})
}

func laneSummary(tasks []domain.Task) string {
	lanes := kanban.Lanes(tasks)
	parts := make([]string, 0, len(lanes))
	for _, l := range lanes {
		parts = append(parts, fmt.Sprintf("%s=%d", l.Status, len(l.Tasks)))
	}
	return strings.Join(parts, " ")
}
