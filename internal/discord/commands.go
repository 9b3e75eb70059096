package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/studycord/studycord/internal/durafmt"
	"github.com/studycord/studycord/internal/rank"
	"github.com/studycord/studycord/internal/session"
	"github.com/studycord/studycord/internal/store"
	"github.com/studycord/studycord/internal/timer"
)

const commandPrefix = "!"

// TaskStore persists the per-user task and reading lines shown on the board.
type TaskStore interface {
	SetUserTask(ctx context.Context, userID, task string) error
	SetUserReading(ctx context.Context, userID, reading string) error
}

// Commands routes prefix commands from the guild's text channels.
type Commands struct {
	guildID string
	agg     *rank.Aggregator
	rec     *session.Reconciler
	timers  *timer.Service
	tasks   TaskStore
	log     *slog.Logger
}

// NewCommands builds the router.
func NewCommands(guildID string, agg *rank.Aggregator, rec *session.Reconciler, timers *timer.Service, tasks TaskStore, log *slog.Logger) *Commands {
	return &Commands{guildID: guildID, agg: agg, rec: rec, timers: timers, tasks: tasks, log: log}
}

// Handle is registered as a MessageCreate handler.
func (c *Commands) Handle(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.GuildID != c.guildID || m.Author == nil || m.Author.Bot {
		return
	}
	if !strings.HasPrefix(m.Content, commandPrefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(m.Content, commandPrefix))
	if len(fields) == 0 {
		return
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var reply string
	var err error
	switch cmd {
	case "rank":
		reply, err = c.rankReply(ctx)
	case "stats":
		reply, err = c.statsReply(ctx, m)
	case "streak":
		reply, err = c.streakReply(ctx, m)
	case "timer":
		reply, err = c.timerReply(ctx, m, args)
	case "task":
		reply, err = c.taskReply(ctx, m, args)
	case "reading":
		reply, err = c.readingReply(ctx, m, args)
	case "add":
		reply, err = c.addReply(ctx, s, m, args)
	default:
		if minutes, convErr := strconv.Atoi(cmd); convErr == nil {
			// bare "!25" is timer shorthand
			reply, err = c.timerReply(ctx, m, []string{strconv.Itoa(minutes)})
		} else {
			return
		}
	}
	if err != nil {
		c.log.Warn("command failed", "command", cmd, "user", m.Author.ID, "error", err)
		reply = "Something went wrong, try again."
	}
	if reply == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		c.log.Warn("command reply failed", "command", cmd, "error", err)
	}
}

func (c *Commands) rankReply(ctx context.Context) (string, error) {
	entries, err := c.agg.WeeklyRanking(ctx)
	if err != nil {
		return "", err
	}
	total, err := c.agg.DailyServerTotal(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("**This week**\n%s\n\nToday, everyone combined: %s",
		rankingLines(entries), durafmt.Seconds(total)), nil
}

func (c *Commands) statsReply(ctx context.Context, m *discordgo.MessageCreate) (string, error) {
	userID := targetUser(m)
	st, err := c.agg.UserStats(ctx, userID)
	if err != nil {
		return "", err
	}
	cells, err := c.agg.Contribution(ctx, userID)
	if err != nil {
		return "", err
	}
	return statsDescription(displayName(m), st) + "\nLast 7 days: " + contributionStrip(cells), nil
}

func (c *Commands) streakReply(ctx context.Context, m *discordgo.MessageCreate) (string, error) {
	streak, err := c.agg.UserStreak(ctx, targetUser(m))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("**%s** is on a %d day streak 🔥", displayName(m), streak), nil
}

func (c *Commands) timerReply(ctx context.Context, m *discordgo.MessageCreate, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: `!timer <minutes>`", nil
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil {
		return "Usage: `!timer <minutes>`", nil
	}
	end, err := c.timers.Set(ctx, m.Author.ID, minutes)
	if errors.Is(err, timer.ErrBadDuration) {
		return err.Error(), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Timer set for %s, ringing <t:%d:R>.", durafmt.Spoken(int64(minutes)*60), end.Unix()), nil
}

func (c *Commands) taskReply(ctx context.Context, m *discordgo.MessageCreate, args []string) (string, error) {
	text := strings.Join(args, " ")
	if err := c.tasks.SetUserTask(ctx, m.Author.ID, text); err != nil {
		return "", err
	}
	if text == "" {
		return "Task cleared.", nil
	}
	return "Task set: " + text, nil
}

func (c *Commands) readingReply(ctx context.Context, m *discordgo.MessageCreate, args []string) (string, error) {
	text := strings.Join(args, " ")
	if err := c.tasks.SetUserReading(ctx, m.Author.ID, text); err != nil {
		return "", err
	}
	if text == "" {
		return "Reading cleared.", nil
	}
	return "Now reading: " + text, nil
}

// addReply appends a manual correction. Restricted to members who can
// manage the guild.
func (c *Commands) addReply(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, args []string) (string, error) {
	perms, err := s.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		return "", fmt.Errorf("permission check: %w", err)
	}
	if perms&discordgo.PermissionManageGuild == 0 {
		return "You need Manage Server to use `!add`.", nil
	}
	if len(m.Mentions) != 1 || len(args) != 2 {
		return "Usage: `!add @user <minutes>`", nil
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil || minutes == 0 {
		return "Usage: `!add @user <minutes>` (negative subtracts)", nil
	}
	target := m.Mentions[0]
	user := session.UserRef{ID: target.ID, Name: target.Username}
	total, err := c.rec.AddCorrection(ctx, user, time.Duration(minutes)*time.Minute)
	if err != nil {
		return "", err
	}
	verb := "Added"
	shown := minutes
	if minutes < 0 {
		verb = "Removed"
		shown = -minutes
	}
	return fmt.Sprintf("%s %s for **%s**. New total: %s.",
		verb, durafmt.Seconds(int64(shown)*60), target.Username, durafmt.Seconds(total)), nil
}

func targetUser(m *discordgo.MessageCreate) string {
	if len(m.Mentions) == 1 {
		return m.Mentions[0].ID
	}
	return m.Author.ID
}

func displayName(m *discordgo.MessageCreate) string {
	if len(m.Mentions) == 1 {
		return m.Mentions[0].Username
	}
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	return m.Author.Username
}

// ensure the concrete store satisfies the command surface
var _ TaskStore = (*store.Store)(nil)
