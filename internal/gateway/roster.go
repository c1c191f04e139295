package gateway

import (
	"context"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/roach88/tokenbot/internal/ir"
)

// Roster tracks who is connected to voice in one guild, fed by
// GUILD_CREATE and VOICE_STATE_UPDATE events.
//
// Thread-safety: Roster is safe for concurrent use.
type Roster struct {
	guildID string

	mu      sync.RWMutex
	members map[string]ir.Member
}

// NewRoster creates an empty roster for guildID.
func NewRoster(guildID string) *Roster {
	return &Roster{guildID: guildID, members: make(map[string]ir.Member)}
}

// Load replaces the roster with the voice states of g.
func (r *Roster) Load(g *discordgo.Guild) {
	if g == nil || g.ID != r.guildID {
		return
	}
	names := make(map[string]*discordgo.Member, len(g.Members))
	for _, m := range g.Members {
		if m != nil && m.User != nil {
			names[m.User.ID] = m
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = make(map[string]ir.Member, len(g.VoiceStates))
	for _, vs := range g.VoiceStates {
		if vs == nil || vs.ChannelID == "" {
			continue
		}
		m := vs.Member
		if m == nil {
			m = names[vs.UserID]
		}
		if isBot(m) {
			continue
		}
		r.members[vs.UserID] = ir.Member{UserID: vs.UserID, DisplayName: displayName(vs.UserID, m)}
	}
}

// Observe applies one voice state change. It reports whether the user
// left voice.
func (r *Roster) Observe(vs *discordgo.VoiceState) (left bool) {
	if vs == nil || vs.GuildID != r.guildID || isBot(vs.Member) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, was := r.members[vs.UserID]
	if vs.ChannelID == "" {
		delete(r.members, vs.UserID)
		return was
	}
	r.members[vs.UserID] = ir.Member{UserID: vs.UserID, DisplayName: displayName(vs.UserID, vs.Member)}
	return false
}

// VoiceMembers lists connected users sorted by display name.
func (r *Roster) VoiceMembers(context.Context) ([]ir.Member, error) {
	r.mu.RLock()
	out := make([]ir.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// InVoice reports whether userID is connected to voice.
func (r *Roster) InVoice(_ context.Context, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[userID]
	return ok, nil
}

func isBot(m *discordgo.Member) bool {
	return m != nil && m.User != nil && m.User.Bot
}

func displayName(userID string, m *discordgo.Member) string {
	if m == nil {
		return userID
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User != nil {
		if m.User.GlobalName != "" {
			return m.User.GlobalName
		}
		if m.User.Username != "" {
			return m.User.Username
		}
	}
	return userID
}
