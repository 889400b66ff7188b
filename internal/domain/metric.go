package domain

import "time"

// DateLayout is the layout of the start_date and end_date parameters
const DateLayout = "2006-01-02"

// TimeWindow represents an inclusive range of calendar days in UTC.
// Start is 00:00:00 of the first day, End is 23:59:59 of the last day.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// NewTimeWindow builds a window covering the calendar days of start through end
func NewTimeWindow(start, end time.Time) TimeWindow {
	s := start.UTC()
	e := end.UTC()
	return TimeWindow{
		Start: time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC),
		End:   time.Date(e.Year(), e.Month(), e.Day(), 23, 59, 59, 0, time.UTC),
	}
}

// Until returns the exclusive upper bound of the window (midnight after the last day)
func (w TimeWindow) Until() time.Time {
	e := w.End
	return time.Date(e.Year(), e.Month(), e.Day()+1, 0, 0, 0, 0, time.UTC)
}

// Contains reports whether t falls on one of the window's days
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.Until())
}

// ContainsPtr is Contains for nullable timestamps; nil is never contained
func (w TimeWindow) ContainsPtr(t *time.Time) bool {
	return t != nil && w.Contains(*t)
}

// Days returns the number of calendar days covered by the window
func (w TimeWindow) Days() int {
	return int(w.Until().Sub(w.Start).Hours() / 24)
}

// StageStats represents the distribution of a set of durations, in hours
type StageStats struct {
	Name   string  `json:"name"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P75    float64 `json:"p75"`
	P90    float64 `json:"p90"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// PerformanceLevel is a DORA performance band
type PerformanceLevel string

const (
	LevelElite  PerformanceLevel = "Elite"
	LevelHigh   PerformanceLevel = "High"
	LevelMedium PerformanceLevel = "Medium"
	LevelLow    PerformanceLevel = "Low"
)

// FourKeysRatings holds the performance band of each key; nil when the key has no data
type FourKeysRatings struct {
	DeploymentFrequency *PerformanceLevel `json:"deployment_frequency"`
	LeadTime            *PerformanceLevel `json:"lead_time"`
	ChangeFailureRate   *PerformanceLevel `json:"change_failure_rate"`
	TimeToRestore       *PerformanceLevel `json:"time_to_restore"`
}

// FourKeysMetrics represents the DORA four keys of a project over a window
type FourKeysMetrics struct {
	PeriodStart               time.Time       `json:"period_start"`
	PeriodEnd                 time.Time       `json:"period_end"`
	DeploymentFrequency       float64         `json:"deployment_frequency"`
	DeploymentCount           int             `json:"deployment_count"`
	SuccessfulDeploymentCount int             `json:"successful_deployment_count"`
	LeadTimeHours             *float64        `json:"lead_time_hours"`
	LeadTimeMedianHours       *float64        `json:"lead_time_median_hours"`
	ChangeFailureRate         *float64        `json:"change_failure_rate"`
	FailedDeploymentCount     int             `json:"failed_deployment_count"`
	TimeToRestoreHours        *float64        `json:"time_to_restore_hours"`
	TimeToRestoreMedianHours  *float64        `json:"time_to_restore_median_hours"`
	Ratings                   FourKeysRatings `json:"ratings"`
}

// StageBreakdown represents the share of total cycle time spent in each stage
type StageBreakdown struct {
	CodingPercentage     float64 `json:"coding_percentage"`
	ReviewPercentage     float64 `json:"review_percentage"`
	DeploymentPercentage float64 `json:"deployment_percentage"`
}

// CycleTimeStages groups the stage distributions
type CycleTimeStages struct {
	Coding     *StageStats `json:"coding"`
	Review     *StageStats `json:"review"`
	Deployment *StageStats `json:"deployment"`
}

// CycleTimeMetrics represents the aggregated cycle time of merged merge requests
type CycleTimeMetrics struct {
	Count             int             `json:"count"`
	PartialCount      int             `json:"partial_count"`
	ExcludedCount     int             `json:"excluded_count"`
	Stages            CycleTimeStages `json:"stages"`
	Total             *StageStats     `json:"total"`
	StageBreakdownAvg *StageBreakdown `json:"stage_breakdown_avg"`
}

// CycleTimeDistributionItem represents the stage durations of one merge request
type CycleTimeDistributionItem struct {
	MergeRequestIID int64     `json:"mr_id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	MergedAt        time.Time `json:"merged_at"`
	CodingTime      float64   `json:"coding_time"`
	ReviewTime      float64   `json:"review_time"`
	DeploymentTime  float64   `json:"deployment_time"`
	TotalTime       float64   `json:"total_time"`
	Partial         bool      `json:"partial"`
	MissingStages   []string  `json:"missing_stages,omitempty"`
}

// CycleTimeReport is the cycle-time response for a project and window
type CycleTimeReport struct {
	PeriodStart  time.Time                    `json:"period_start"`
	PeriodEnd    time.Time                    `json:"period_end"`
	Metrics      CycleTimeMetrics             `json:"metrics"`
	Distribution []*CycleTimeDistributionItem `json:"distribution"`
}

// TeamMemberActivity represents the activity counts of one member over a window
type TeamMemberActivity struct {
	TeamMemberID       int64    `json:"team_member_id"`
	Username           string   `json:"username"`
	Name               string   `json:"name"`
	CommitCount        int      `json:"commit_count"`
	LinesAdded         int      `json:"lines_added"`
	LinesDeleted       int      `json:"lines_deleted"`
	MRsCreated         int      `json:"mrs_created"`
	MRsMerged          int      `json:"mrs_merged"`
	MRsClosed          int      `json:"mrs_closed"`
	ReviewsGiven       int      `json:"reviews_given"`
	ReviewComments     int      `json:"review_comments"`
	AvgReviewTimeHours *float64 `json:"avg_review_time_hours"`
}

// ReviewLoad represents one member's share of the reviews of a window
type ReviewLoad struct {
	TeamMemberID         int64   `json:"team_member_id"`
	Username             string  `json:"username"`
	Name                 string  `json:"name"`
	ReviewCount          int     `json:"review_count"`
	CommentCount         int     `json:"comment_count"`
	ReviewLoadPercentage float64 `json:"review_load_percentage"`
}

// ReviewBalance summarizes how evenly reviews are spread across the team
type ReviewBalance struct {
	Balanced         bool    `json:"balanced"`
	MemberCount      int     `json:"member_count"`
	IdealPercentage  float64 `json:"ideal_percentage"`
	MaxDeviation     float64 `json:"max_deviation"`
	TotalReviewCount int     `json:"total_review_count"`
}

// TeamActivityReport is the team-activity response for a project and window
type TeamActivityReport struct {
	PeriodStart   time.Time             `json:"period_start"`
	PeriodEnd     time.Time             `json:"period_end"`
	TeamMembers   []*TeamMemberActivity `json:"team_members"`
	ReviewLoad    []*ReviewLoad         `json:"review_load"`
	ReviewBalance *ReviewBalance        `json:"review_balance"`
}
