// internal/models/player.go
package models

// Role is a player's permission level on the platform.
type Role string

const (
	RoleUser                Role = "user"
	RoleVerifiedUser        Role = "verified_user"
	RoleMatchOrganizer      Role = "match_organizer"
	RoleTournamentOrganizer Role = "tournament_organizer"
	RoleAdministrator       Role = "administrator"
)

var roleOrder = []Role{
	RoleUser,
	RoleVerifiedUser,
	RoleMatchOrganizer,
	RoleTournamentOrganizer,
	RoleAdministrator,
}

// AtLeast reports whether r ranks at or above min. Unknown roles rank lowest.
func (r Role) AtLeast(min Role) bool {
	return roleIndex(r) >= roleIndex(min)
}

func roleIndex(r Role) int {
	for i, o := range roleOrder {
		if o == r {
			return i
		}
	}
	return -1
}
