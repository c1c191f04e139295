package gateway

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/roach88/tokenbot/internal/bot"
	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/session"
)

// maxSelectOptions is Discord's limit for one select menu.
const maxSelectOptions = 25

// durationInputID names the text input of the duration modal.
const durationInputID = "seconds"

// Components renders the controls for the next step of a result's session.
// Finished or failed results get none, which clears the old controls.
func Components(res bot.Result) []discordgo.MessageComponent {
	if !res.OK || res.View == nil {
		return []discordgo.MessageComponent{}
	}
	v := res.View
	cancel := button("Cancel", discordgo.SecondaryButton, NewCustomID(v.Token, StepCancel))

	switch v.State {
	case session.StateIdle:
		return []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{targetMenu(v)}},
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{cancel}},
		}
	case session.StateTargetSelected:
		row := make([]discordgo.MessageComponent, 0, 4)
		for _, kind := range []ir.ActionKind{ir.ActionMute, ir.ActionDeafen, ir.ActionDisconnect} {
			row = append(row, button(actionLabel(kind), discordgo.PrimaryButton, NewCustomID(v.Token, string(kind), v.TargetID)))
		}
		row = append(row, cancel)
		return []discordgo.MessageComponent{discordgo.ActionsRow{Components: row}}
	case session.StateActionChosen, session.StateParametersPending:
		if v.Kind.IsTimed() && v.State == session.StateActionChosen {
			return []discordgo.MessageComponent{discordgo.ActionsRow{Components: []discordgo.MessageComponent{cancel}}}
		}
		confirm := button(fmt.Sprintf("Confirm (%s tokens)", v.Quote.Cost), discordgo.DangerButton, NewCustomID(v.Token, StepConfirm))
		return []discordgo.MessageComponent{discordgo.ActionsRow{Components: []discordgo.MessageComponent{confirm, cancel}}}
	}
	return []discordgo.MessageComponent{}
}

// DurationModal asks for the seconds of a mute or deafen.
func DurationModal(token, targetID string, kind ir.ActionKind) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		CustomID: NewCustomID(token, StepDuration, string(kind), targetID).String(),
		Title:    fmt.Sprintf("%s duration", actionLabel(kind)),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID:    durationInputID,
					Label:       "Duration in seconds",
					Style:       discordgo.TextInputShort,
					Placeholder: "30",
					Required:    true,
					MaxLength:   6,
				},
			}},
		},
	}
}

func targetMenu(v *session.View) discordgo.SelectMenu {
	options := make([]discordgo.SelectMenuOption, 0, len(v.Candidates))
	for _, m := range v.Candidates {
		if len(options) == maxSelectOptions {
			break
		}
		options = append(options, discordgo.SelectMenuOption{Label: m.DisplayName, Value: m.UserID})
	}
	return discordgo.SelectMenu{
		CustomID:    NewCustomID(v.Token, StepTarget).String(),
		Placeholder: "Pick a user",
		Options:     options,
	}
}

func button(label string, style discordgo.ButtonStyle, id CustomID) discordgo.Button {
	return discordgo.Button{Label: label, Style: style, CustomID: id.String()}
}

func actionLabel(kind ir.ActionKind) string {
	switch kind {
	case ir.ActionMute:
		return "Mute"
	case ir.ActionDeafen:
		return "Deafen"
	case ir.ActionDisconnect:
		return "Disconnect"
	}
	return string(kind)
}
