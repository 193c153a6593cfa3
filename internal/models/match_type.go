// internal/models/match_type.go
package models

// MatchType is the competitive format a lobby queues for.
type MatchType string

const (
	MatchTypeDuel        MatchType = "Duel"
	MatchTypeWingman     MatchType = "Wingman"
	MatchTypeCompetitive MatchType = "Competitive"
)

// DefaultRosterSizes maps each match type to the total number of players one match needs.
var DefaultRosterSizes = map[MatchType]int{
	MatchTypeDuel:        2,
	MatchTypeWingman:     4,
	MatchTypeCompetitive: 10,
}
