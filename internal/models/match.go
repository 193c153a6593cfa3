// internal/models/match.go
package models

// MatchStatus is a match's workflow state in the data service.
type MatchStatus string

const (
	MatchStatusPickingPlayers MatchStatus = "PickingPlayers"
	MatchStatusVeto           MatchStatus = "Veto"
	MatchStatusCanceled       MatchStatus = "Canceled"
)

// MatchOptions are the settings a matchmade match is created with.
type MatchOptions struct {
	MR             int    `json:"mr"`
	BestOf         int    `json:"best_of"`
	Knife          bool   `json:"knife"`
	Overtime       bool   `json:"overtime"`
	TimeoutSetting string `json:"timeout_setting"`
	Region         string `json:"region"`
}

// DefaultMatchOptions returns the options every matchmade match starts with.
func DefaultMatchOptions(region string) MatchOptions {
	return MatchOptions{
		MR:             12,
		BestOf:         1,
		Knife:          true,
		Overtime:       true,
		TimeoutSetting: "Admin",
		Region:         region,
	}
}

// Match is a created match along with the IDs of its two lineups.
type Match struct {
	ID        string `json:"id"`
	Lineup1ID string `json:"lineup_1_id"`
	Lineup2ID string `json:"lineup_2_id"`
}
