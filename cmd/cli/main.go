package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/workmetrics/internal/aggregator"
	"github.com/kurihiro0119/workmetrics/internal/domain"
)

// defaultWindowDays is the window length used when --start is omitted
const defaultWindowDays = 30

var (
	outputJSON bool
	remote     bool
	startDate  string
	endDate    string
	sinceDate  string
	limit      int
)

var rootCmd = &cobra.Command{
	Use:   "workmetrics",
	Short: "Delivery performance metrics tool",
	Long: `A CLI tool for collecting and reporting delivery performance metrics.

It pulls merge requests, commits, deployments, incidents and reviews of a
repository into the event store and reports the DORA four keys, cycle time
and team activity for a date window.`,
	SilenceUsage: true,
}

var collectCmd = &cobra.Command{
	Use:   "collect [project-id]",
	Short: "Collect events of a project from GitHub",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollect,
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage registered projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Args:  cobra.NoArgs,
	RunE:  runProjectsList,
}

var projectsAddCmd = &cobra.Command{
	Use:   "add [repository-url]",
	Short: "Register a GitHub repository as a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsAdd,
}

var fourKeysCmd = &cobra.Command{
	Use:   "four-keys [project-id]",
	Short: "Show the DORA four keys of a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runFourKeys,
}

var cycleTimeCmd = &cobra.Command{
	Use:   "cycle-time [project-id]",
	Short: "Show the cycle-time breakdown of a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runCycleTime,
}

var teamActivityCmd = &cobra.Command{
	Use:   "team-activity [project-id]",
	Short: "Show per-member activity and review load of a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runTeamActivity,
}

var reportCmd = &cobra.Command{
	Use:   "report [project-id]",
	Short: "Show every metric of a project for one window",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&remote, "remote", false, "query the API server at API_ENDPOINT instead of the local store")

	for _, cmd := range []*cobra.Command{fourKeysCmd, cycleTimeCmd, teamActivityCmd, reportCmd} {
		cmd.Flags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD, default 30 days before end)")
		cmd.Flags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD, default today)")
	}
	cycleTimeCmd.Flags().IntVar(&limit, "limit", 0, "number of slowest merge requests to list (default DISTRIBUTION_LIMIT)")
	reportCmd.Flags().IntVar(&limit, "limit", 0, "number of slowest merge requests to list (default DISTRIBUTION_LIMIT)")
	collectCmd.Flags().StringVar(&sinceDate, "since", "", "collect events since this date (YYYY-MM-DD, default 90 days ago)")

	projectsCmd.AddCommand(projectsListCmd, projectsAddCmd)
	rootCmd.AddCommand(collectCmd, projectsCmd, fourKeysCmd, cycleTimeCmd, teamActivityCmd, reportCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// dateRange resolves --start/--end against today
func dateRange(now time.Time) (string, string) {
	end := endDate
	if end == "" {
		end = now.UTC().Format(domain.DateLayout)
	}
	start := startDate
	if start == "" {
		if t, err := time.Parse(domain.DateLayout, end); err == nil {
			start = t.AddDate(0, 0, -(defaultWindowDays - 1)).Format(domain.DateLayout)
		}
	}
	return start, end
}

func parseProjectID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid project id %q", arg)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCollect(cmd *cobra.Command, args []string) error {
	projectID, err := parseProjectID(args[0])
	if err != nil {
		return err
	}

	since := time.Now().UTC().AddDate(0, 0, -90)
	if sinceDate != "" {
		since, err = time.ParseInLocation(domain.DateLayout, sinceDate, time.UTC)
		if err != nil {
			return fmt.Errorf("--since must be a YYYY-MM-DD date")
		}
	}

	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "Collecting project %d since %s...\n", projectID, since.Format(domain.DateLayout))
	result, err := b.Refresh(cmd.Context(), projectID, since)
	if err != nil {
		return fmt.Errorf("failed to collect data: %w", err)
	}

	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	renderSyncResult(cmd.OutOrStdout(), result)
	return nil
}

func runProjectsList(cmd *cobra.Command, args []string) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	projects, err := b.ListProjects(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	if outputJSON {
		if projects == nil {
			projects = []*domain.Project{}
		}
		return writeJSON(cmd.OutOrStdout(), projects)
	}
	renderProjects(cmd.OutOrStdout(), projects)
	return nil
}

func runProjectsAdd(cmd *cobra.Command, args []string) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	project, err := b.RegisterProject(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to register project: %w", err)
	}

	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), project)
	}
	renderProjects(cmd.OutOrStdout(), []*domain.Project{project})
	return nil
}

func runFourKeys(cmd *cobra.Command, args []string) error {
	projectID, start, end, b, err := metricsSetup(cmd, args)
	if err != nil {
		return err
	}
	defer b.Close()

	metrics, err := b.FourKeys(cmd.Context(), projectID, start, end)
	if err != nil {
		return fmt.Errorf("failed to get metrics: %w", err)
	}

	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), metrics)
	}
	renderFourKeys(cmd.OutOrStdout(), metrics)
	return nil
}

func runCycleTime(cmd *cobra.Command, args []string) error {
	projectID, start, end, b, err := metricsSetup(cmd, args)
	if err != nil {
		return err
	}
	defer b.Close()

	report, err := b.CycleTime(cmd.Context(), projectID, start, end, limit)
	if err != nil {
		return fmt.Errorf("failed to get metrics: %w", err)
	}

	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	renderCycleTime(cmd.OutOrStdout(), report)
	return nil
}

func runTeamActivity(cmd *cobra.Command, args []string) error {
	projectID, start, end, b, err := metricsSetup(cmd, args)
	if err != nil {
		return err
	}
	defer b.Close()

	report, err := b.TeamActivity(cmd.Context(), projectID, start, end)
	if err != nil {
		return fmt.Errorf("failed to get metrics: %w", err)
	}

	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	renderTeamActivity(cmd.OutOrStdout(), report)
	return nil
}

// projectReport bundles the three aggregates of one window
type projectReport struct {
	FourKeys     *domain.FourKeysMetrics    `json:"four_keys"`
	CycleTime    *domain.CycleTimeReport    `json:"cycle_time"`
	TeamActivity *domain.TeamActivityReport `json:"team_activity"`
}

func runReport(cmd *cobra.Command, args []string) error {
	projectID, start, end, b, err := metricsSetup(cmd, args)
	if err != nil {
		return err
	}
	defer b.Close()

	report, err := collectReport(cmd.Context(), b, projectID, start, end, limit)
	if err != nil {
		return fmt.Errorf("failed to get metrics: %w", err)
	}

	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	out := cmd.OutOrStdout()
	renderFourKeys(out, report.FourKeys)
	fmt.Fprintln(out)
	renderCycleTime(out, report.CycleTime)
	fmt.Fprintln(out)
	renderTeamActivity(out, report.TeamActivity)
	return nil
}

// collectReport computes the three aggregates concurrently; any failure cancels the rest
func collectReport(ctx context.Context, m metrics, projectID int64, start, end string, limit int) (*projectReport, error) {
	var report projectReport
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		report.FourKeys, err = m.FourKeys(gctx, projectID, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		report.CycleTime, err = m.CycleTime(gctx, projectID, start, end, limit)
		return err
	})
	g.Go(func() error {
		var err error
		report.TeamActivity, err = m.TeamActivity(gctx, projectID, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &report, nil
}

func metricsSetup(cmd *cobra.Command, args []string) (int64, string, string, backend, error) {
	projectID, err := parseProjectID(args[0])
	if err != nil {
		return 0, "", "", nil, err
	}
	start, end := dateRange(time.Now())
	if _, err := aggregator.ParseWindow(start, end); err != nil {
		return 0, "", "", nil, err
	}
	b, err := openBackend()
	if err != nil {
		return 0, "", "", nil, err
	}
	return projectID, start, end, b, nil
}
