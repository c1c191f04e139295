package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/roach88/tokenbot/internal/ir"
)

// Embed colors per outcome.
const (
	colorApplied   = 0x5865F2
	colorStealWon  = 0x57F287
	colorStealLost = 0xED4245
	colorAlert     = 0xFEE75C
)

// MessageAPI is the part of *discordgo.Session used to post messages.
type MessageAPI interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts audit embeds and alerts to the log channel and
// announcements to the announce channel. An empty channel id disables that
// stream.
type Discord struct {
	api             MessageAPI
	logChannel      string
	announceChannel string
}

// NewDiscord creates a Discord notifier.
func NewDiscord(api MessageAPI, logChannel, announceChannel string) *Discord {
	return &Discord{api: api, logChannel: logChannel, announceChannel: announceChannel}
}

// Audit posts rec as an embed to the log channel.
func (d *Discord) Audit(ctx context.Context, rec ir.AuditRecord) error {
	if d.logChannel == "" {
		return nil
	}
	if _, err := d.api.ChannelMessageSendEmbed(d.logChannel, AuditEmbed(rec), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("post audit %d: %w", rec.Seq, err)
	}
	return nil
}

// AnnouncePublic posts text to the announce channel.
func (d *Discord) AnnouncePublic(ctx context.Context, text string) error {
	if d.announceChannel == "" {
		return nil
	}
	if _, err := d.api.ChannelMessageSend(d.announceChannel, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("post announcement: %w", err)
	}
	return nil
}

// Alert posts an operator alert to the log channel.
func (d *Discord) Alert(ctx context.Context, text string) error {
	if d.logChannel == "" {
		return nil
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Ledger alert",
		Description: text,
		Color:       colorAlert,
	}
	if _, err := d.api.ChannelMessageSendEmbed(d.logChannel, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	return nil
}

// AuditEmbed builds the log-channel embed for rec.
func AuditEmbed(rec ir.AuditRecord) *discordgo.MessageEmbed {
	color := colorApplied
	switch rec.Outcome {
	case ir.OutcomeStealWon:
		color = colorStealWon
	case ir.OutcomeStealLost:
		color = colorStealLost
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Cost", Value: rec.Cost.String(), Inline: true},
		{Name: "Outcome", Value: string(rec.Outcome), Inline: true},
	}
	if rec.Action == ir.ActionSteal {
		fields = append(fields,
			&discordgo.MessageEmbedField{Name: "Stolen", Value: rec.Stolen.String(), Inline: true},
			&discordgo.MessageEmbedField{Name: "Odds", Value: fmt.Sprintf("%d%% (rolled %d)", rec.Probability, rec.Roll), Inline: true},
		)
	}

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("#%d %s", rec.Seq, rec.Action),
		Description: Summary(rec),
		Color:       color,
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: rec.Token},
	}
	if !rec.At.IsZero() {
		embed.Timestamp = rec.At.UTC().Format(time.RFC3339)
	}
	return embed
}
