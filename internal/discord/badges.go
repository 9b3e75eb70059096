package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// RoleBadges grants milestone badges as guild roles, matched by name. A role
// the member already holds is a no-op, so re-evaluation after recovery or
// redelivered events cannot double-grant.
type RoleBadges struct {
	dg      *discordgo.Session
	guildID string
	log     *slog.Logger
}

// NewRoleBadges builds a granter for one guild.
func NewRoleBadges(dg *discordgo.Session, guildID string, log *slog.Logger) *RoleBadges {
	return &RoleBadges{dg: dg, guildID: guildID, log: log}
}

// Grant awards the named badge role to the user.
func (b *RoleBadges) Grant(_ context.Context, userID, badge string) error {
	roleID, err := b.roleID(badge)
	if err != nil {
		return err
	}

	member, err := b.dg.State.Member(b.guildID, userID)
	if err != nil {
		member, err = b.dg.GuildMember(b.guildID, userID)
	}
	if err != nil {
		return fmt.Errorf("looking up member %s: %w", userID, err)
	}
	for _, held := range member.Roles {
		if held == roleID {
			return nil
		}
	}

	if err := b.dg.GuildMemberRoleAdd(b.guildID, userID, roleID); err != nil {
		return fmt.Errorf("adding role %q to %s: %w", badge, userID, err)
	}
	b.log.Info("badge granted", "user", userID, "badge", badge)
	return nil
}

func (b *RoleBadges) roleID(badge string) (string, error) {
	guild, err := b.dg.State.Guild(b.guildID)
	if err != nil {
		return "", fmt.Errorf("guild state unavailable: %w", err)
	}
	for _, role := range guild.Roles {
		if role.Name == badge {
			return role.ID, nil
		}
	}
	return "", fmt.Errorf("no role named %q in guild %s", badge, b.guildID)
}
