package types

import "fmt"

// Project is the externally owned project record plus the access and feature
// flags the eligibility gate reads. Missing access/feature rows scan as zero values.
type Project struct {
	ID                    string `json:"id"`
	Slug                  string `json:"slug"`
	ArcActive             bool   `json:"arc_active"`
	ArcAccessLevel        string `json:"arc_access_level"`
	ApplicationStatus     string `json:"application_status"`
	Option2NormalUnlocked bool   `json:"option2_normal_unlocked"`
	LeaderboardEnabled    bool   `json:"leaderboard_enabled"`
}

// FlagSummary renders the flags the eligibility gate reads, for error context.
func (p Project) FlagSummary() string {
	return fmt.Sprintf("arc_active=%t arc_access_level=%q application_status=%q option2_normal_unlocked=%t leaderboard_enabled=%t",
		p.ArcActive, p.ArcAccessLevel, p.ApplicationStatus, p.Option2NormalUnlocked, p.LeaderboardEnabled)
}

// ArenaState is the stored kind/status of a project's ms-family row.
type ArenaState struct {
	Kind   Kind
	Status Status
}

// ProjectState pairs a project with its current ms-family arena, if any.
type ProjectState struct {
	Project Project
	Arena   *ArenaState
}

// Settled reports whether the project's ms-family row is already labeled ms
// and active, i.e. an approval would not change its classification.
func (s ProjectState) Settled() bool {
	return s.Arena != nil && s.Arena.Kind == KindMS && s.Arena.Status == StatusActive
}
