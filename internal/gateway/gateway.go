// Package gateway connects the dispatcher to Discord.
//
// Inbound gateway events are normalized into bot events. Interactions are
// acknowledged immediately and the deferred response is edited once the
// dispatcher replies. Voice states feed the Roster used for target lists
// and presence checks.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/roach88/tokenbot/internal/bot"
	"github.com/roach88/tokenbot/internal/effects"
	"github.com/roach88/tokenbot/internal/ir"
)

// Dispatcher is implemented by *bot.Bot.
type Dispatcher interface {
	Handle(ctx context.Context, ev bot.Event) bot.Result
	Submit(ev bot.Event, reply func(bot.Result)) bool
}

// Responder is the part of *discordgo.Session used to answer interactions.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Config identifies the application and guild served.
type Config struct {
	AppID   string
	GuildID string
	// MaxStealAmount bounds the /robar amount option. Zero leaves it open.
	MaxStealAmount int64
}

// Gateway routes Discord events to a Dispatcher.
type Gateway struct {
	session    *discordgo.Session
	responder  Responder
	dispatcher Dispatcher
	roster     *Roster
	scheduler  *effects.Scheduler
	cfg        Config
	ctx        context.Context
}

// New creates a Gateway on an unopened session. scheduler may be nil.
func New(s *discordgo.Session, d Dispatcher, roster *Roster, scheduler *effects.Scheduler, cfg Config) *Gateway {
	return &Gateway{
		session:    s,
		responder:  s,
		dispatcher: d,
		roster:     roster,
		scheduler:  scheduler,
		cfg:        cfg,
		ctx:        context.Background(),
	}
}

// Commands returns the slash commands registered in the guild.
func Commands(maxStealAmount int64) []*discordgo.ApplicationCommand {
	minAmount := 1.0
	amount := &discordgo.ApplicationCommandOption{
		Type: discordgo.ApplicationCommandOptionInteger, Name: "cantidad", Description: "Tokens to steal", Required: true, MinValue: &minAmount,
	}
	if maxStealAmount > 0 {
		amount.MaxValue = float64(maxStealAmount)
	}
	return []*discordgo.ApplicationCommand{
		{Name: "tokens", Description: "Show your token balance"},
		{Name: "admin", Description: "Spend tokens on someone in voice"},
		{
			Name:        "robar",
			Description: "Try to steal tokens from someone",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "objetivo", Description: "User to steal from", Required: true},
				amount,
			},
		},
		{Name: "info", Description: "Show prices and commands"},
	}
}

// Open registers handlers, connects, and overwrites the guild's slash
// commands. ctx is passed to every event handled afterwards.
func (g *Gateway) Open(ctx context.Context) error {
	g.ctx = ctx
	g.session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers

	g.session.AddHandler(g.onReady)
	g.session.AddHandler(g.onGuildCreate)
	g.session.AddHandler(g.onVoiceStateUpdate)
	g.session.AddHandler(g.onMessageCreate)
	g.session.AddHandler(g.onInteractionCreate)

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	if _, err := g.session.ApplicationCommandBulkOverwrite(g.cfg.AppID, g.cfg.GuildID, Commands(g.cfg.MaxStealAmount), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return nil
}

// Close disconnects from Discord.
func (g *Gateway) Close() error {
	return g.session.Close()
}

func (g *Gateway) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	slog.Info("discord ready", "user", r.User.Username, "guilds", len(r.Guilds))
}

func (g *Gateway) onGuildCreate(_ *discordgo.Session, gc *discordgo.GuildCreate) {
	g.roster.Load(gc.Guild)
}

func (g *Gateway) onVoiceStateUpdate(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if !g.roster.Observe(v.VoiceState) || g.scheduler == nil {
		return
	}
	if n := g.scheduler.CancelTarget(v.UserID); n > 0 {
		slog.Debug("dropped reverts for user leaving voice", "user", v.UserID, "count", n)
	}
}

func (g *Gateway) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || (g.cfg.GuildID != "" && m.GuildID != g.cfg.GuildID) {
		return
	}
	g.dispatcher.Submit(bot.MessagePosted{AuthorID: m.Author.ID, IsBot: m.Author.Bot}, nil)
}

func (g *Gateway) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	if user == nil {
		return
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		ev, err := commandEvent(user.ID, i.ApplicationCommandData())
		if err != nil {
			g.respondText(i, err.Error())
			return
		}
		g.deferAndDispatch(i, discordgo.InteractionResponseDeferredChannelMessageWithSource, ev)

	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		id, err := ParseCustomID(data.CustomID)
		if err != nil {
			slog.Debug("ignoring foreign component", "custom_id", data.CustomID)
			return
		}
		ev, err := componentEvent(user.ID, id, data.Values)
		if err != nil {
			g.respondText(i, err.Error())
			return
		}
		if picked, ok := ev.(bot.ActionPicked); ok && picked.Kind.IsTimed() {
			g.openDurationModal(i, picked)
			return
		}
		g.deferAndDispatch(i, discordgo.InteractionResponseDeferredMessageUpdate, ev)

	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		id, err := ParseCustomID(data.CustomID)
		if err != nil {
			return
		}
		ev, err := modalEvent(user.ID, id, data)
		if err != nil {
			g.respondText(i, err.Error())
			return
		}
		g.deferAndDispatch(i, discordgo.InteractionResponseDeferredMessageUpdate, ev)
	}
}

// openDurationModal records the picked action synchronously, since a modal
// must be the first response to the interaction.
func (g *Gateway) openDurationModal(i *discordgo.InteractionCreate, picked bot.ActionPicked) {
	res := g.dispatcher.Handle(g.ctx, picked)
	if !res.OK {
		g.respond(i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{Content: res.Message, Components: Components(res)},
		})
		return
	}
	g.respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: DurationModal(picked.Token, picked.TargetID, picked.Kind),
	})
}

func (g *Gateway) deferAndDispatch(i *discordgo.InteractionCreate, ack discordgo.InteractionResponseType, ev bot.Event) {
	resp := &discordgo.InteractionResponse{Type: ack}
	if ack == discordgo.InteractionResponseDeferredChannelMessageWithSource {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	if !g.respond(i, resp) {
		return
	}

	accepted := g.dispatcher.Submit(ev, func(res bot.Result) {
		content := res.Message
		components := Components(res)
		if _, err := g.responder.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
			Content:    &content,
			Components: &components,
		}); err != nil {
			slog.Warn("edit interaction response failed", "kind", ev.Name(), "actor", ev.Actor(), "error", err)
		}
	})
	if !accepted {
		content := bot.ShuttingDownText
		_, _ = g.responder.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content})
	}
}

func (g *Gateway) respondText(i *discordgo.InteractionCreate, text string) {
	g.respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: text, Flags: discordgo.MessageFlagsEphemeral},
	})
}

func (g *Gateway) respond(i *discordgo.InteractionCreate, resp *discordgo.InteractionResponse) bool {
	if err := g.responder.InteractionRespond(i.Interaction, resp); err != nil {
		slog.Warn("interaction response failed", "type", resp.Type, "error", err)
		return false
	}
	return true
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// commandEvent maps a slash command to a bot event.
func commandEvent(userID string, data discordgo.ApplicationCommandInteractionData) (bot.Event, error) {
	switch data.Name {
	case "tokens":
		return bot.BalanceQuery{UserID: userID}, nil
	case "info":
		return bot.InfoRequested{UserID: userID}, nil
	case "admin":
		return bot.ActionRequest{UserID: userID}, nil
	case "robar":
		ev := bot.StealRequested{UserID: userID}
		for _, opt := range data.Options {
			switch {
			case opt.Name == "objetivo" && opt.Type == discordgo.ApplicationCommandOptionUser:
				ev.TargetID = opt.UserValue(nil).ID
			case opt.Name == "cantidad" && opt.Type == discordgo.ApplicationCommandOptionInteger:
				ev.Amount = opt.IntValue()
			}
		}
		if ev.TargetID == "" {
			return nil, fmt.Errorf("pick someone to steal from")
		}
		return ev, nil
	}
	return nil, fmt.Errorf("unknown command /%s", data.Name)
}

// componentEvent maps a select menu or button to a bot event.
func componentEvent(userID string, id CustomID, values []string) (bot.Event, error) {
	switch id.Step {
	case StepTarget:
		if len(values) == 0 {
			return nil, fmt.Errorf("pick a user")
		}
		return bot.TargetPicked{Token: id.Token, UserID: userID, TargetID: values[0]}, nil
	case StepConfirm:
		return bot.ConfirmRequested{Token: id.Token, UserID: userID}, nil
	case StepCancel:
		return bot.CancelRequested{Token: id.Token, UserID: userID}, nil
	}

	kind, err := ir.ParseActionKind(id.Step)
	if err != nil || !kind.IsEffect() {
		return nil, fmt.Errorf("unknown step %q", id.Step)
	}
	return bot.ActionPicked{Token: id.Token, UserID: userID, TargetID: id.Arg(0), Kind: kind}, nil
}

// modalEvent maps the duration modal to a bot event.
func modalEvent(userID string, id CustomID, data discordgo.ModalSubmitInteractionData) (bot.Event, error) {
	if id.Step != StepDuration {
		return nil, fmt.Errorf("unknown modal %q", id.Step)
	}
	kind, err := ir.ParseActionKind(id.Arg(0))
	if err != nil {
		return nil, err
	}
	return bot.DurationSubmitted{
		Token:    id.Token,
		UserID:   userID,
		TargetID: id.Arg(1),
		Kind:     kind,
		Raw:      textInputValue(data.Components, durationInputID),
	}, nil
}

func textInputValue(components []discordgo.MessageComponent, customID string) string {
	for _, c := range components {
		switch v := c.(type) {
		case *discordgo.ActionsRow:
			if s := textInputValue(v.Components, customID); s != "" {
				return s
			}
		case discordgo.ActionsRow:
			if s := textInputValue(v.Components, customID); s != "" {
				return s
			}
		case *discordgo.TextInput:
			if v.CustomID == customID {
				return v.Value
			}
		case discordgo.TextInput:
			if v.CustomID == customID {
				return v.Value
			}
		}
	}
	return ""
}
