// Package exchange implements the rules of a white-elephant gift swap.
//
// The package is pure: Apply never touches the state it is given, never
// performs I/O, and produces the same output for the same inputs (turn
// order shuffles are driven by an explicit seed). Everything stateful --
// sessions, connections, persistence -- lives above it.
package exchange

// Phase is the coarse lifecycle stage of a game. Transitions only ever
// move forward: lobby -> submissions -> in_progress -> finished.
type Phase string

const (
	PhaseLobby       Phase = "lobby"
	PhaseSubmissions Phase = "submissions"
	PhaseInProgress  Phase = "in_progress"
	PhaseFinished    Phase = "finished"
)

// GiftState tracks whether a gift has been unwrapped yet.
type GiftState string

const (
	GiftUnopened GiftState = "unopened"
	GiftOpened   GiftState = "opened"
)

// StealCap is the maximum number of times any single gift may change
// hands by theft. The fourth attempt is always rejected.
const StealCap = 3

// Player is a participant in a game. Immutable once joined.
type Player struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joined_at"`
}

// Gift is one submitted present and its table state.
type Gift struct {
	ID          string    `json:"id"`
	SubmittedBy string    `json:"submitted_by"`
	ProductURL  string    `json:"product_url"`
	Hint        string    `json:"hint"`
	ImageURL    string    `json:"image_url,omitempty"`
	Title       string    `json:"title,omitempty"`
	State       GiftState `json:"state"`
	OpenedBy    string    `json:"opened_by,omitempty"`
	HeldBy      string    `json:"held_by,omitempty"`
	StolenCount int       `json:"stolen_count"`

	// LastLostBy names the player this gift was most recently stolen
	// from. While set, that player may not steal it back; the marker is
	// cleared as soon as they complete any other action.
	LastLostBy string `json:"last_lost_by,omitempty"`
}

// Game is the complete authoritative state of one session. Values
// returned by Apply are never mutated afterwards, so a *Game published
// to readers can be shared freely.
type Game struct {
	ID      string   `json:"id"`
	Phase   Phase    `json:"phase"`
	Players []Player `json:"players"`
	Gifts   []Gift   `json:"gifts"`

	// TurnOrder is a permutation of player IDs fixed at start.
	TurnOrder   []string `json:"turn_order,omitempty"`
	CurrentTurn int      `json:"current_turn"`

	// ForcedTurns holds players owed an out-of-rotation turn because
	// their gift was just stolen, most recent first. Whoever is at the
	// head acts next, overriding the cursor.
	ForcedTurns []string `json:"forced_turns,omitempty"`

	History []Event `json:"history,omitempty"`
}

// NewGame returns an empty game in the lobby phase.
func NewGame(id string) *Game {
	return &Game{
		ID:    id,
		Phase: PhaseLobby,
	}
}

// ActivePlayer returns the ID of the single player currently allowed to
// choose or steal, or "" outside the in_progress phase. The head of the
// forced-turn stack wins; otherwise the cursor decides.
func (g *Game) ActivePlayer() string {
	if g.Phase != PhaseInProgress {
		return ""
	}
	if len(g.ForcedTurns) > 0 {
		return g.ForcedTurns[0]
	}
	if g.CurrentTurn >= 0 && g.CurrentTurn < len(g.TurnOrder) {
		return g.TurnOrder[g.CurrentTurn]
	}
	return ""
}

// Clone returns a deep copy of the game. Apply works on a clone so that
// callers keep an untouched before-state on rejection.
func (g *Game) Clone() *Game {
	next := *g
	next.Players = append([]Player(nil), g.Players...)
	next.Gifts = append([]Gift(nil), g.Gifts...)
	next.TurnOrder = append([]string(nil), g.TurnOrder...)
	next.ForcedTurns = append([]string(nil), g.ForcedTurns...)
	next.History = append([]Event(nil), g.History...)
	return &next
}

func (g *Game) playerIndex(id string) int {
	for i := range g.Players {
		if g.Players[i].ID == id {
			return i
		}
	}
	return -1
}

func (g *Game) giftIndex(id string) int {
	for i := range g.Gifts {
		if g.Gifts[i].ID == id {
			return i
		}
	}
	return -1
}

func (g *Game) giftBySubmitter(playerID string) int {
	for i := range g.Gifts {
		if g.Gifts[i].SubmittedBy == playerID {
			return i
		}
	}
	return -1
}

// complete reports whether the end condition holds: every gift opened
// and every player holding exactly one.
func (g *Game) complete() bool {
	if len(g.Gifts) == 0 {
		return false
	}
	held := make(map[string]int, len(g.Players))
	for i := range g.Gifts {
		if g.Gifts[i].State != GiftOpened {
			return false
		}
		held[g.Gifts[i].HeldBy]++
	}
	for i := range g.Players {
		if held[g.Players[i].ID] != 1 {
			return false
		}
	}
	return true
}
