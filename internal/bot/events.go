package bot

import "github.com/roach88/tokenbot/internal/ir"

// Event is a normalized inbound trigger. The set of events is closed:
// only the types in this file implement it.
type Event interface {
	// Actor returns the user who caused the event.
	Actor() string

	// Name returns a short label for logs and metrics.
	Name() string

	isEvent()
}

// MessagePosted is a chat message seen in the guild.
type MessagePosted struct {
	AuthorID string `json:"author_id"`
	IsBot    bool   `json:"is_bot"`
}

// BalanceQuery asks for the actor's own balance.
type BalanceQuery struct {
	UserID string `json:"user_id"`
}

// InfoRequested asks for the price list and command help.
type InfoRequested struct {
	UserID string `json:"user_id"`
}

// ActionRequest opens the target picker.
type ActionRequest struct {
	UserID string `json:"user_id"`
}

// TargetPicked selects the target of an open session.
type TargetPicked struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	TargetID string `json:"target_id"`
}

// ActionPicked selects the effect to apply to the picked target.
type ActionPicked struct {
	Token    string        `json:"token"`
	UserID   string        `json:"user_id"`
	TargetID string        `json:"target_id"`
	Kind     ir.ActionKind `json:"kind"`
}

// DurationSubmitted carries the raw duration typed for a mute or deafen.
type DurationSubmitted struct {
	Token    string        `json:"token"`
	UserID   string        `json:"user_id"`
	TargetID string        `json:"target_id"`
	Kind     ir.ActionKind `json:"kind"`
	Raw      string        `json:"raw"`
}

// ConfirmRequested asks to execute the session's action.
type ConfirmRequested struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// CancelRequested abandons the session.
type CancelRequested struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// StealRequested opens a steal session awaiting confirmation.
type StealRequested struct {
	UserID   string `json:"user_id"`
	TargetID string `json:"target_id"`
	Amount   int64  `json:"amount"`
}

func (e MessagePosted) Actor() string     { return e.AuthorID }
func (e BalanceQuery) Actor() string      { return e.UserID }
func (e InfoRequested) Actor() string     { return e.UserID }
func (e ActionRequest) Actor() string     { return e.UserID }
func (e TargetPicked) Actor() string      { return e.UserID }
func (e ActionPicked) Actor() string      { return e.UserID }
func (e DurationSubmitted) Actor() string { return e.UserID }
func (e ConfirmRequested) Actor() string  { return e.UserID }
func (e CancelRequested) Actor() string   { return e.UserID }
func (e StealRequested) Actor() string    { return e.UserID }

func (MessagePosted) Name() string     { return "message_posted" }
func (BalanceQuery) Name() string      { return "balance_query" }
func (InfoRequested) Name() string     { return "info_requested" }
func (ActionRequest) Name() string     { return "action_request" }
func (TargetPicked) Name() string      { return "target_picked" }
func (ActionPicked) Name() string      { return "action_picked" }
func (DurationSubmitted) Name() string { return "duration_submitted" }
func (ConfirmRequested) Name() string  { return "confirm_requested" }
func (CancelRequested) Name() string   { return "cancel_requested" }
func (StealRequested) Name() string    { return "steal_requested" }

func (MessagePosted) isEvent()     {}
func (BalanceQuery) isEvent()      {}
func (InfoRequested) isEvent()     {}
func (ActionRequest) isEvent()     {}
func (TargetPicked) isEvent()      {}
func (ActionPicked) isEvent()      {}
func (DurationSubmitted) isEvent() {}
func (ConfirmRequested) isEvent()  {}
func (CancelRequested) isEvent()   {}
func (StealRequested) isEvent()    {}
