package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/studycord/studycord/internal/durafmt"
	"github.com/studycord/studycord/internal/rank"
	"github.com/studycord/studycord/internal/session"
)

// BoardTaskStore reads the task lines shown next to live users.
type BoardTaskStore interface {
	UserTask(ctx context.Context, userID string) (task, reading string, err error)
}

// Board renders the status channel message: who is working right now, the
// weekly ranking and today's server total. One message is kept and edited
// in place; it is recreated when someone deletes it.
type Board struct {
	dg        *discordgo.Session
	agg       *rank.Aggregator
	live      *session.SessionManager
	tasks     BoardTaskStore
	channelID string
	log       *slog.Logger

	mu    sync.Mutex
	msgID string
}

// NewBoard builds the renderer for channelID.
func NewBoard(dg *discordgo.Session, agg *rank.Aggregator, live *session.SessionManager, tasks BoardTaskStore, channelID string, log *slog.Logger) *Board {
	return &Board{dg: dg, agg: agg, live: live, tasks: tasks, channelID: channelID, log: log}
}

// Redraw rebuilds and upserts the board message. It is the refresh function
// handed to the board refresher.
func (b *Board) Redraw(ctx context.Context) {
	if b.channelID == "" {
		return
	}
	embed, err := b.render(ctx)
	if err != nil {
		b.log.Warn("board render failed", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgID != "" {
		if _, err := b.dg.ChannelMessageEditEmbed(b.channelID, b.msgID, embed); err == nil {
			return
		}
		// edit failed, message was probably deleted; fall through and resend
		b.msgID = ""
	}
	msg, err := b.dg.ChannelMessageSendEmbed(b.channelID, embed)
	if err != nil {
		b.log.Warn("board send failed", "error", err)
		return
	}
	b.msgID = msg.ID
}

func (b *Board) render(ctx context.Context) (*discordgo.MessageEmbed, error) {
	now := time.Now()
	var sections []string

	views := b.live.Snapshot(now)
	if len(views) == 0 {
		sections = append(sections, "**In session**\nNobody right now.")
	} else {
		var sb strings.Builder
		sb.WriteString("**In session**\n")
		for _, v := range views {
			fmt.Fprintf(&sb, "🟢 **%s** — %s", v.Name, durafmt.Seconds(v.Elapsed))
			if line := b.taskLine(ctx, v.UserID); line != "" {
				sb.WriteString(" · ")
				sb.WriteString(line)
			}
			sb.WriteByte('\n')
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	entries, err := b.agg.WeeklyRanking(ctx)
	if err != nil {
		return nil, err
	}
	sections = append(sections, "**This week**\n"+rankingLines(entries))

	total, err := b.agg.DailyServerTotal(ctx)
	if err != nil {
		return nil, err
	}
	sections = append(sections, "Today, everyone combined: "+durafmt.Seconds(total))

	return &discordgo.MessageEmbed{
		Title:       "Study board",
		Description: strings.Join(sections, "\n\n"),
		Color:       colorResume,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Updated " + now.UTC().Format("15:04:05 MST"),
		},
	}, nil
}

func (b *Board) taskLine(ctx context.Context, userID string) string {
	task, reading, err := b.tasks.UserTask(ctx, userID)
	if err != nil {
		b.log.Debug("task lookup failed", "user", userID, "error", err)
		return ""
	}
	switch {
	case task != "" && reading != "":
		return task + " / 📖 " + reading
	case task != "":
		return task
	case reading != "":
		return "📖 " + reading
	default:
		return ""
	}
}
