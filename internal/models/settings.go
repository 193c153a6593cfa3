// internal/models/settings.go
package models

// MatchmakingSettings are the platform settings consulted before a lobby may queue.
type MatchmakingSettings struct {
	// Enabled is false only when public.matchmaking is explicitly "false".
	Enabled bool
	// MinRole is empty when public.matchmaking_min_role is unset.
	MinRole Role
}
