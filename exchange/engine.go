package exchange

import (
	"math/rand"
	"strings"
)

// Apply runs one action against the game and returns the replacement
// state plus the events it produced, or a *Rejection explaining why
// nothing happened. The input state is never modified.
func Apply(g *Game, act Action) (*Game, []Event, error) {
	next := g.Clone()

	var (
		events []Event
		err    error
	)

	switch act.Type {
	case ActionJoin:
		events, err = next.join(act)
	case ActionOpenSubmissions:
		events, err = next.openSubmissions(act)
	case ActionSubmitGift:
		events, err = next.submitGift(act)
	case ActionStart:
		events, err = next.start(act)
	case ActionChooseGift:
		events, err = next.chooseGift(act)
	case ActionStealGift:
		events, err = next.stealGift(act)
	default:
		err = reject(ReasonInvalidAction)
	}

	if err != nil {
		return nil, nil, err
	}

	next.History = append(next.History, events...)

	return next, events, nil
}

func (g *Game) join(act Action) ([]Event, error) {
	if g.Phase != PhaseLobby {
		return nil, reject(ReasonInvalidPhase)
	}

	name := strings.TrimSpace(act.Name)
	if name == "" {
		return nil, reject(ReasonInvalidName)
	}

	for i := range g.Players {
		if strings.EqualFold(g.Players[i].Name, name) {
			return nil, reject(ReasonDuplicateName)
		}
	}

	g.Players = append(g.Players, Player{
		ID:       act.PlayerID,
		Name:     name,
		JoinedAt: act.JoinedAt,
	})

	return []Event{{Type: EventPlayerJoined, PlayerID: act.PlayerID}}, nil
}

func (g *Game) openSubmissions(act Action) ([]Event, error) {
	if !act.Privileged {
		return nil, reject(ReasonNotPrivileged)
	}
	if g.Phase != PhaseLobby {
		return nil, reject(ReasonInvalidPhase)
	}

	g.Phase = PhaseSubmissions

	return []Event{{Type: EventSubmissionsOpened}}, nil
}

func (g *Game) submitGift(act Action) ([]Event, error) {
	if g.Phase != PhaseSubmissions {
		return nil, reject(ReasonInvalidPhase)
	}
	if g.playerIndex(act.PlayerID) < 0 {
		return nil, reject(ReasonUnknownPlayer)
	}
	if strings.TrimSpace(act.ProductURL) == "" || strings.TrimSpace(act.Hint) == "" {
		return nil, reject(ReasonInvalidGift)
	}

	// Resubmitting before the game starts edits the earlier entry in
	// place, keeping its ID. One gift per player, always.
	giftID := act.GiftID
	if idx := g.giftBySubmitter(act.PlayerID); idx >= 0 {
		giftID = g.Gifts[idx].ID
		g.Gifts[idx].ProductURL = act.ProductURL
		g.Gifts[idx].Hint = act.Hint
		g.Gifts[idx].ImageURL = act.ImageURL
		g.Gifts[idx].Title = act.Title
	} else {
		g.Gifts = append(g.Gifts, Gift{
			ID:          giftID,
			SubmittedBy: act.PlayerID,
			ProductURL:  act.ProductURL,
			Hint:        act.Hint,
			ImageURL:    act.ImageURL,
			Title:       act.Title,
			State:       GiftUnopened,
		})
	}

	return []Event{{Type: EventGiftSubmitted, PlayerID: act.PlayerID, GiftID: giftID}}, nil
}

func (g *Game) start(act Action) ([]Event, error) {
	if !act.Privileged {
		return nil, reject(ReasonNotPrivileged)
	}
	if g.Phase != PhaseSubmissions {
		return nil, reject(ReasonInvalidPhase)
	}
	if len(g.Players) == 0 {
		return nil, reject(ReasonMissingGifts)
	}
	for i := range g.Players {
		if g.giftBySubmitter(g.Players[i].ID) < 0 {
			return nil, reject(ReasonMissingGifts)
		}
	}

	order := make([]string, len(g.Players))
	for i := range g.Players {
		order[i] = g.Players[i].ID
	}

	// Seeded shuffle so the same seed always yields the same order.
	rng := rand.New(rand.NewSource(act.Seed))
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	g.Phase = PhaseInProgress
	g.TurnOrder = order
	g.CurrentTurn = 0
	g.ForcedTurns = nil

	return []Event{
		{Type: EventGameStarted},
		{Type: EventTurnChanged, PlayerID: order[0]},
	}, nil
}

func (g *Game) chooseGift(act Action) ([]Event, error) {
	if g.Phase != PhaseInProgress {
		return nil, reject(ReasonInvalidPhase)
	}
	if g.playerIndex(act.PlayerID) < 0 {
		return nil, reject(ReasonUnknownPlayer)
	}
	if g.ActivePlayer() != act.PlayerID {
		return nil, reject(ReasonNotActivePlayer)
	}

	idx := g.giftIndex(act.GiftID)
	if idx < 0 {
		return nil, reject(ReasonUnknownGift)
	}
	if g.Gifts[idx].State != GiftUnopened {
		return nil, reject(ReasonGiftAlreadyOpened)
	}

	g.Gifts[idx].State = GiftOpened
	g.Gifts[idx].OpenedBy = act.PlayerID
	g.Gifts[idx].HeldBy = act.PlayerID

	events := []Event{{Type: EventGiftOpened, PlayerID: act.PlayerID, GiftID: act.GiftID}}

	g.clearStealBack(act.PlayerID)
	g.popForced(act.PlayerID)
	if len(g.ForcedTurns) == 0 {
		g.CurrentTurn = (g.CurrentTurn + 1) % len(g.TurnOrder)
	}

	return append(events, g.resolveTurn()...), nil
}

func (g *Game) stealGift(act Action) ([]Event, error) {
	if g.Phase != PhaseInProgress {
		return nil, reject(ReasonInvalidPhase)
	}
	if g.playerIndex(act.PlayerID) < 0 {
		return nil, reject(ReasonUnknownPlayer)
	}
	if g.ActivePlayer() != act.PlayerID {
		return nil, reject(ReasonNotActivePlayer)
	}

	idx := g.giftIndex(act.GiftID)
	if idx < 0 {
		return nil, reject(ReasonUnknownGift)
	}
	if g.Gifts[idx].State != GiftOpened {
		return nil, reject(ReasonGiftNotOpened)
	}

	victim := g.Gifts[idx].HeldBy
	if victim == act.PlayerID {
		return nil, reject(ReasonCannotStealOwn)
	}
	if g.Gifts[idx].StolenCount >= StealCap {
		return nil, reject(ReasonStealCapReached)
	}
	if g.Gifts[idx].LastLostBy == act.PlayerID {
		return nil, reject(ReasonStealBackForbidden)
	}

	g.clearStealBack(act.PlayerID)

	g.Gifts[idx].HeldBy = act.PlayerID
	g.Gifts[idx].StolenCount++
	g.Gifts[idx].LastLostBy = victim

	events := []Event{{
		Type:   EventGiftStolen,
		From:   victim,
		To:     act.PlayerID,
		GiftID: act.GiftID,
	}}

	// A steal consumes the actor's own forced entry (if any) and owes
	// the victim a turn in its place. The victim acts next.
	g.popForced(act.PlayerID)
	g.ForcedTurns = append([]string{victim}, g.ForcedTurns...)

	return append(events, g.resolveTurn()...), nil
}

// popForced removes the head of the forced-turn stack if it belongs to
// the given player. Whether the actor was forced or in normal rotation,
// taking an action settles the debt.
func (g *Game) popForced(playerID string) {
	if len(g.ForcedTurns) > 0 && g.ForcedTurns[0] == playerID {
		g.ForcedTurns = g.ForcedTurns[1:]
	}
}

// clearStealBack lifts the anti-steal-back marker for a player who is
// completing an action; the window only ever covers their very next turn.
func (g *Game) clearStealBack(playerID string) {
	for i := range g.Gifts {
		if g.Gifts[i].LastLostBy == playerID {
			g.Gifts[i].LastLostBy = ""
		}
	}
}

// resolveTurn finishes the game if the end condition now holds,
// otherwise announces the next active player.
func (g *Game) resolveTurn() []Event {
	if g.complete() {
		g.Phase = PhaseFinished
		g.ForcedTurns = nil
		return []Event{{Type: EventGameFinished}}
	}
	return []Event{{Type: EventTurnChanged, PlayerID: g.ActivePlayer()}}
}
