// Package discord adapts the gateway to the session core: it reduces raw
// voice-state events to presence pairs, serves the roster, renders the
// user-facing notifications and boards, and grants badge roles.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/studycord/studycord/internal/session"
)

// GatewayConfig selects what the gateway watches.
type GatewayConfig struct {
	GuildID string
	// Tracks decides whether a voice channel name is tracked. Untracked
	// channels read as disconnected.
	Tracks func(channelName string) bool
}

// Gateway owns the discordgo session and feeds the reconciler.
type Gateway struct {
	dg  *discordgo.Session
	cfg GatewayConfig
	rec *session.Reconciler
	log *slog.Logger
}

// NewGateway dials nothing yet; bind a reconciler with SetReconciler, then
// Open starts the connection.
func NewGateway(token string, cfg GatewayConfig, log *slog.Logger) (*Gateway, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent
	dg.State.TrackVoice = true

	g := &Gateway{dg: dg, cfg: cfg, log: log}
	dg.AddHandler(g.onVoiceStateUpdate)
	return g, nil
}

// SetReconciler binds the event consumer. Must be called before Open; the
// notifier the reconciler needs is itself built on this gateway's session,
// which is why binding is a second step.
func (g *Gateway) SetReconciler(rec *session.Reconciler) { g.rec = rec }

// Open connects to the gateway.
func (g *Gateway) Open() error {
	if err := g.dg.Open(); err != nil {
		return fmt.Errorf("opening gateway: %w", err)
	}
	g.log.Info("gateway connected", "guild", g.cfg.GuildID)
	return nil
}

// Close drops the connection.
func (g *Gateway) Close() error { return g.dg.Close() }

// Session exposes the underlying connection for collaborators built on it.
func (g *Gateway) Session() *discordgo.Session { return g.dg }

// AddMessageHandler registers a message-create handler, used by the command
// router.
func (g *Gateway) AddMessageHandler(h func(*discordgo.Session, *discordgo.MessageCreate)) {
	g.dg.AddHandler(h)
}

func (g *Gateway) onVoiceStateUpdate(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if g.rec == nil || e.GuildID != g.cfg.GuildID {
		return
	}
	if e.Member != nil && e.Member.User != nil && e.Member.User.Bot {
		return
	}

	after := g.presenceOf(e.VoiceState)
	var before session.Presence
	if e.BeforeUpdate != nil {
		before = g.presenceOf(e.BeforeUpdate)
	}

	user := session.UserRef{ID: e.UserID, Name: g.displayName(e)}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	g.rec.HandleVoiceState(ctx, user, before, after)
}

// presenceOf reduces a raw voice state. Untracked channels count as
// disconnected so moving into one stops the clock like a real leave.
func (g *Gateway) presenceOf(vs *discordgo.VoiceState) session.Presence {
	if vs == nil || vs.ChannelID == "" {
		return session.Presence{}
	}
	if !g.channelTracked(vs.ChannelID) {
		return session.Presence{}
	}
	return session.Presence{
		ChannelID: vs.ChannelID,
		SelfMute:  vs.SelfMute,
		SelfDeaf:  vs.SelfDeaf,
	}
}

func (g *Gateway) channelTracked(channelID string) bool {
	if g.cfg.Tracks == nil {
		return true
	}
	ch, err := g.dg.State.Channel(channelID)
	if err != nil {
		ch, err = g.dg.Channel(channelID)
		if err != nil {
			g.log.Warn("channel lookup failed, treating as untracked", "channel", channelID, "error", err)
			return false
		}
	}
	return g.cfg.Tracks(ch.Name)
}

func (g *Gateway) displayName(e *discordgo.VoiceStateUpdate) string {
	if e.Member != nil {
		if e.Member.Nick != "" {
			return e.Member.Nick
		}
		if e.Member.User != nil && e.Member.User.Username != "" {
			return e.Member.User.Username
		}
	}
	if m, err := g.dg.State.Member(e.GuildID, e.UserID); err == nil {
		if m.Nick != "" {
			return m.Nick
		}
		if m.User != nil {
			return m.User.Username
		}
	}
	return e.UserID
}

// ChannelOccupied reports whether any non-bot user sits in channelID. The
// pomodoro announcer uses it to skip empty rooms.
func (g *Gateway) ChannelOccupied(_ context.Context, channelID string) (bool, error) {
	guild, err := g.dg.State.Guild(g.cfg.GuildID)
	if err != nil {
		return false, fmt.Errorf("guild state unavailable: %w", err)
	}
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		if m, err := g.dg.State.Member(g.cfg.GuildID, vs.UserID); err == nil && m.User != nil && m.User.Bot {
			continue
		}
		return true, nil
	}
	return false, nil
}
