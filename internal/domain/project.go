package domain

import "time"

// Project represents a project registered for metrics collection
type Project struct {
	ID           int64      `json:"id"`
	HostID       int64      `json:"gitlab_id"` // numeric project id on the source-control host
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TeamMember represents a contributor of a project
type TeamMember struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
}

// SyncResult summarizes one collection run of a project
type SyncResult struct {
	ProjectID     int64     `json:"project_id"`
	Since         time.Time `json:"since"`
	SyncedAt      time.Time `json:"synced_at"`
	MergeRequests int       `json:"merge_requests"`
	Commits       int       `json:"commits"`
	Deployments   int       `json:"deployments"`
	Incidents     int       `json:"incidents"`
	Reviews       int       `json:"reviews"`
	TeamMembers   int       `json:"team_members"`
}
