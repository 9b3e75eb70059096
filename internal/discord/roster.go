package discord

import (
	"context"
	"fmt"

	"github.com/studycord/studycord/internal/session"
)

// Roster reads current voice occupancy from the gateway's cached guild
// state. It satisfies session.RosterSource for startup recovery.
type Roster struct {
	g *Gateway
}

// NewRoster builds a roster over an open gateway.
func NewRoster(g *Gateway) *Roster { return &Roster{g: g} }

// ActiveMembers lists non-bot users in tracked voice channels with their
// current presence.
func (r *Roster) ActiveMembers(_ context.Context) ([]session.Member, error) {
	guild, err := r.g.dg.State.Guild(r.g.cfg.GuildID)
	if err != nil {
		return nil, fmt.Errorf("guild state unavailable: %w", err)
	}

	var members []session.Member
	for _, vs := range guild.VoiceStates {
		p := r.g.presenceOf(vs)
		if p.ChannelID == "" {
			continue
		}
		name := vs.UserID
		m, err := r.g.dg.State.Member(r.g.cfg.GuildID, vs.UserID)
		if err != nil {
			m, err = r.g.dg.GuildMember(r.g.cfg.GuildID, vs.UserID)
		}
		if err == nil {
			if m.User != nil && m.User.Bot {
				continue
			}
			switch {
			case m.Nick != "":
				name = m.Nick
			case m.User != nil && m.User.Username != "":
				name = m.User.Username
			}
		}
		members = append(members, session.Member{
			User:     session.UserRef{ID: vs.UserID, Name: name},
			Presence: p,
		})
	}
	return members, nil
}
