package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/kurihiro0119/workmetrics/internal/domain"
)

const noData = "-"

func hoursOrDash(v *float64) string {
	if v == nil {
		return noData
	}
	return fmt.Sprintf("%.1f h", *v)
}

func percentOrDash(v *float64) string {
	if v == nil {
		return noData
	}
	return fmt.Sprintf("%.1f%%", *v)
}

func levelOrDash(l *domain.PerformanceLevel) string {
	if l == nil {
		return noData
	}
	return string(*l)
}

func period(start, end time.Time) string {
	return start.Format(domain.DateLayout) + " to " + end.Format(domain.DateLayout)
}

func renderFourKeys(w io.Writer, m *domain.FourKeysMetrics) {
	fmt.Fprintf(w, "DORA Four Keys\n")
	fmt.Fprintf(w, "Period: %s\n\n", period(m.PeriodStart, m.PeriodEnd))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value", "Rating"})
	table.Append([]string{"Deployment Frequency", fmt.Sprintf("%.2f / day", m.DeploymentFrequency), levelOrDash(m.Ratings.DeploymentFrequency)})
	table.Append([]string{"Lead Time (avg)", hoursOrDash(m.LeadTimeHours), levelOrDash(m.Ratings.LeadTime)})
	table.Append([]string{"Lead Time (median)", hoursOrDash(m.LeadTimeMedianHours), ""})
	table.Append([]string{"Change Failure Rate", percentOrDash(m.ChangeFailureRate), levelOrDash(m.Ratings.ChangeFailureRate)})
	table.Append([]string{"Time to Restore (avg)", hoursOrDash(m.TimeToRestoreHours), levelOrDash(m.Ratings.TimeToRestore)})
	table.Append([]string{"Time to Restore (median)", hoursOrDash(m.TimeToRestoreMedianHours), ""})
	table.Append([]string{"Deployments", fmt.Sprintf("%d (%d ok, %d failed)", m.DeploymentCount, m.SuccessfulDeploymentCount, m.FailedDeploymentCount), ""})
	table.Render()
}

func renderCycleTime(w io.Writer, r *domain.CycleTimeReport) {
	fmt.Fprintf(w, "Cycle Time\n")
	fmt.Fprintf(w, "Period: %s\n", period(r.PeriodStart, r.PeriodEnd))
	fmt.Fprintf(w, "Merge requests: %d (%d partial, %d excluded)\n\n", r.Metrics.Count, r.Metrics.PartialCount, r.Metrics.ExcludedCount)

	stages := tablewriter.NewWriter(w)
	stages.SetHeader([]string{"Stage", "Count", "Mean", "Median", "P75", "P90", "Max"})
	for _, s := range []*domain.StageStats{r.Metrics.Stages.Coding, r.Metrics.Stages.Review, r.Metrics.Stages.Deployment, r.Metrics.Total} {
		if s == nil {
			continue
		}
		stages.Append([]string{
			s.Name,
			fmt.Sprintf("%d", s.Count),
			fmt.Sprintf("%.1f", s.Mean),
			fmt.Sprintf("%.1f", s.Median),
			fmt.Sprintf("%.1f", s.P75),
			fmt.Sprintf("%.1f", s.P90),
			fmt.Sprintf("%.1f", s.Max),
		})
	}
	stages.Render()

	if b := r.Metrics.StageBreakdownAvg; b != nil {
		fmt.Fprintf(w, "Breakdown: coding %.1f%% / review %.1f%% / deployment %.1f%%\n",
			b.CodingPercentage, b.ReviewPercentage, b.DeploymentPercentage)
	}
	if len(r.Distribution) == 0 {
		return
	}

	fmt.Fprintln(w)
	dist := tablewriter.NewWriter(w)
	dist.SetHeader([]string{"MR", "Title", "Author", "Coding", "Review", "Deploy", "Total", "Missing"})
	for _, item := range r.Distribution {
		dist.Append([]string{
			fmt.Sprintf("!%d", item.MergeRequestIID),
			truncate(item.Title, 40),
			item.Author,
			fmt.Sprintf("%.1f", item.CodingTime),
			fmt.Sprintf("%.1f", item.ReviewTime),
			fmt.Sprintf("%.1f", item.DeploymentTime),
			fmt.Sprintf("%.1f", item.TotalTime),
			strings.Join(item.MissingStages, ","),
		})
	}
	dist.Render()
}

func renderTeamActivity(w io.Writer, r *domain.TeamActivityReport) {
	fmt.Fprintf(w, "Team Activity\n")
	fmt.Fprintf(w, "Period: %s\n\n", period(r.PeriodStart, r.PeriodEnd))

	members := tablewriter.NewWriter(w)
	members.SetHeader([]string{"Member", "Commits", "+Lines", "-Lines", "MRs Created", "MRs Merged", "Reviews", "Comments", "Avg Review"})
	for _, m := range r.TeamMembers {
		members.Append([]string{
			m.Username,
			fmt.Sprintf("%d", m.CommitCount),
			fmt.Sprintf("%d", m.LinesAdded),
			fmt.Sprintf("%d", m.LinesDeleted),
			fmt.Sprintf("%d", m.MRsCreated),
			fmt.Sprintf("%d", m.MRsMerged),
			fmt.Sprintf("%d", m.ReviewsGiven),
			fmt.Sprintf("%d", m.ReviewComments),
			hoursOrDash(m.AvgReviewTimeHours),
		})
	}
	members.Render()

	if len(r.ReviewLoad) == 0 {
		fmt.Fprintln(w, "No reviews in this period")
		return
	}

	fmt.Fprintln(w)
	load := tablewriter.NewWriter(w)
	load.SetHeader([]string{"Reviewer", "Reviews", "Comments", "Share"})
	for _, l := range r.ReviewLoad {
		load.Append([]string{
			l.Username,
			fmt.Sprintf("%d", l.ReviewCount),
			fmt.Sprintf("%d", l.CommentCount),
			fmt.Sprintf("%.2f%%", l.ReviewLoadPercentage),
		})
	}
	load.Render()

	if b := r.ReviewBalance; b != nil {
		verdict := "balanced"
		if !b.Balanced {
			verdict = "unbalanced"
		}
		fmt.Fprintf(w, "Review load is %s (max deviation %.2f points from %.2f%%)\n", verdict, b.MaxDeviation, b.IdealPercentage)
	}
}

func renderProjects(w io.Writer, projects []*domain.Project) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "URL", "Host ID", "Last Synced"})
	for _, p := range projects {
		synced := "never"
		if p.LastSyncedAt != nil {
			synced = p.LastSyncedAt.Format("2006-01-02 15:04")
		}
		table.Append([]string{
			fmt.Sprintf("%d", p.ID),
			p.Name,
			p.URL,
			fmt.Sprintf("%d", p.HostID),
			synced,
		})
	}
	table.Render()
}

func renderSyncResult(w io.Writer, r *domain.SyncResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Events", "Collected"})
	table.Append([]string{"Merge Requests", fmt.Sprintf("%d", r.MergeRequests)})
	table.Append([]string{"Commits", fmt.Sprintf("%d", r.Commits)})
	table.Append([]string{"Deployments", fmt.Sprintf("%d", r.Deployments)})
	table.Append([]string{"Incidents", fmt.Sprintf("%d", r.Incidents)})
	table.Append([]string{"Reviews", fmt.Sprintf("%d", r.Reviews)})
	table.Append([]string{"Team Members", fmt.Sprintf("%d", r.TeamMembers)})
	table.Render()
	fmt.Fprintln(w, "Data collection complete!")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
