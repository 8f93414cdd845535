// Package stage holds the rule engine deciding which of the three
// proposal stages is editable and when the form may advance.
package stage

type Role string

const (
	RoleManager Role = "manager"
	RoleAgent   Role = "agent"
)

// Normalize collapses unknown role strings to the least privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleManager, RoleAgent:
		return Role(role)
	default:
		return RoleAgent
	}
}

// Gate tracks stage progression for one proposal. Unlocked is the highest
// stage the server has confirmed (0 = nothing confirmed yet), Current is
// the stage whose form is being shown.
type Gate struct {
	Unlocked int
	Current  int
}

// FromServer derives the gate from the server-reported stage. An absent or
// out-of-range stage resets to {0, 1}; local stage state is never trusted
// for a freshly identified proposal.
func FromServer(reported int) Gate {
	if reported < 1 || reported > 3 {
		return Gate{Unlocked: 0, Current: 1}
	}
	return Gate{Unlocked: reported, Current: reported}
}

// CanEdit reports whether a user with the given role may modify the given
// stage's fields. Managers always may. Everyone else keeps edit rights on
// the current frontier and on stages not yet signed off; once the frontier
// has advanced past a stage, only a manager may touch it.
func (g Gate) CanEdit(role Role, stage int) bool {
	if role == RoleManager {
		return true
	}
	return g.Unlocked <= stage
}

// CanAdvance reports whether the form may move past fromStage. The server
// must already have confirmed the next stage, normally via completed
// signatures for fromStage.
func (g Gate) CanAdvance(fromStage int) bool {
	return g.Unlocked > fromStage
}
