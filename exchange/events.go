package exchange

// ActionType enumerates every inbound action the engine understands.
// The set is closed: Apply switches over it exhaustively and anything
// else is rejected.
type ActionType string

const (
	ActionJoin            ActionType = "join"
	ActionOpenSubmissions ActionType = "open_submissions"
	ActionSubmitGift      ActionType = "submit_gift"
	ActionStart           ActionType = "start"
	ActionChooseGift      ActionType = "choose_gift"
	ActionStealGift       ActionType = "steal_gift"
)

// Action is the single inbound message shape. Which fields matter
// depends on Type; unused ones stay zero.
type Action struct {
	Type     ActionType `json:"type"`
	PlayerID string     `json:"player_id,omitempty"`
	GiftID   string     `json:"gift_id,omitempty"`

	// Join fields. PlayerID and JoinedAt are filled in by the transport
	// layer so the engine itself stays deterministic.
	Name     string `json:"name,omitempty"`
	JoinedAt int64  `json:"joined_at,omitempty"`

	// SubmitGift fields. GiftID is pre-generated by the transport and
	// used only when the player has no earlier submission to replace.
	ProductURL string `json:"product_url,omitempty"`
	Hint       string `json:"hint,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	Title      string `json:"title,omitempty"`

	// Start fields.
	Seed int64 `json:"seed,omitempty"`

	// Privileged is set by the transport layer after it has verified the
	// host token. It never comes off the wire.
	Privileged bool `json:"-"`
}

// EventType enumerates everything the engine can announce.
type EventType string

const (
	EventPlayerJoined       EventType = "player_joined"
	EventSubmissionsOpened  EventType = "submissions_opened"
	EventGiftSubmitted      EventType = "gift_submitted"
	EventGameStarted        EventType = "game_started"
	EventGiftOpened         EventType = "gift_opened"
	EventGiftStolen         EventType = "gift_stolen"
	EventTurnChanged        EventType = "turn_changed"
	EventGameFinished       EventType = "game_finished"
)

// Event is one entry of the outbound stream. Each carries enough data
// for a client to apply the effect without re-deriving it.
type Event struct {
	Type     EventType `json:"type"`
	PlayerID string    `json:"player_id,omitempty"`
	GiftID   string    `json:"gift_id,omitempty"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
}

// Reason classifies why an action was rejected. Rejections are ordinary
// results: they never mutate state and are only shown to the actor.
type Reason string

const (
	ReasonInvalidPhase       Reason = "invalid_phase"
	ReasonNotActivePlayer    Reason = "not_active_player"
	ReasonUnknownGift        Reason = "unknown_gift"
	ReasonUnknownPlayer      Reason = "unknown_player"
	ReasonGiftAlreadyOpened  Reason = "gift_already_opened"
	ReasonGiftNotOpened      Reason = "gift_not_opened"
	ReasonStealCapReached    Reason = "steal_cap_reached"
	ReasonStealBackForbidden Reason = "immediate_steal_back_forbidden"
	ReasonDuplicateName      Reason = "duplicate_name"
	ReasonMissingGifts       Reason = "missing_gifts"
	ReasonInvalidName        Reason = "invalid_name"
	ReasonInvalidGift        Reason = "invalid_gift"
	ReasonCannotStealOwn     Reason = "cannot_steal_own_gift"
	ReasonNotPrivileged      Reason = "not_privileged"
	ReasonInvalidAction      Reason = "invalid_action"
)

// Rejection is the error type returned for every refused action.
type Rejection struct {
	Reason Reason
}

func (r *Rejection) Error() string {
	return string(r.Reason)
}

func reject(reason Reason) error {
	return &Rejection{Reason: reason}
}
