package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/studycord/studycord/internal/durafmt"
	"github.com/studycord/studycord/internal/session"
	"github.com/studycord/studycord/internal/store"
)

// PanelStore is the message-state slice the notifier persists panels in.
type PanelStore interface {
	MessageState(ctx context.Context, userID string) (store.PanelState, error)
	SetMessageState(ctx context.Context, ps store.PanelState) error
	SecondsSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// NotifierConfig names the destination channels. Empty channels silently
// disable the corresponding notification.
type NotifierConfig struct {
	GuildID          string
	LogChannelID     string
	SummaryChannelID string
	Location         *time.Location
}

// Notifier posts session lifecycle embeds and keeps the per-user join/leave
// panel pair tidy: at most one join panel and one leave panel per user, the
// newest always replacing the oldest.
type Notifier struct {
	dg    *discordgo.Session
	store PanelStore
	cfg   NotifierConfig
	log   *slog.Logger
}

// NewNotifier builds a notifier over an open session.
func NewNotifier(dg *discordgo.Session, st PanelStore, cfg NotifierConfig, log *slog.Logger) *Notifier {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Notifier{dg: dg, store: st, cfg: cfg, log: log}
}

func (n *Notifier) SessionStarted(ctx context.Context, user session.UserRef, todayTotal int64) error {
	if n.cfg.LogChannelID == "" {
		return nil
	}
	ps := n.panel(ctx, user.ID)
	n.deleteMsg(ps.LeaveMsgID)
	n.deleteMsg(ps.JoinMsgID)

	id, err := n.sendEmbed(n.cfg.LogChannelID, colorJoin, joinDescription(user.Name, todayTotal))
	if err != nil {
		return err
	}
	return n.store.SetMessageState(ctx, store.PanelState{UserID: user.ID, JoinMsgID: id})
}

func (n *Notifier) SessionPaused(ctx context.Context, user session.UserRef, carried int64) error {
	if n.cfg.LogChannelID == "" {
		return nil
	}
	ps := n.panel(ctx, user.ID)
	n.deleteMsg(ps.LeaveMsgID)

	id, err := n.sendEmbed(n.cfg.LogChannelID, colorPause, pauseDescription(user.Name, carried))
	if err != nil {
		return err
	}
	ps.LeaveMsgID = id
	ps.UserID = user.ID
	return n.store.SetMessageState(ctx, ps)
}

func (n *Notifier) SessionResumed(ctx context.Context, user session.UserRef) error {
	if n.cfg.LogChannelID == "" {
		return nil
	}
	ps := n.panel(ctx, user.ID)
	n.deleteMsg(ps.LeaveMsgID)
	n.deleteMsg(ps.JoinMsgID)

	id, err := n.sendEmbed(n.cfg.LogChannelID, colorResume, resumeDescription(user.Name))
	if err != nil {
		return err
	}
	return n.store.SetMessageState(ctx, store.PanelState{UserID: user.ID, JoinMsgID: id})
}

func (n *Notifier) SessionStopped(ctx context.Context, user session.UserRef, notice session.StopNotice) error {
	if n.cfg.LogChannelID == "" {
		return nil
	}
	ps := n.panel(ctx, user.ID)
	n.deleteMsg(ps.JoinMsgID)
	n.deleteMsg(ps.LeaveMsgID)

	id, err := n.sendEmbed(n.cfg.LogChannelID, colorStop, stopDescription(user.Name, notice))
	if err != nil {
		return err
	}
	return n.store.SetMessageState(ctx, store.PanelState{UserID: user.ID, LeaveMsgID: id})
}

func (n *Notifier) MilestoneReached(_ context.Context, user session.UserRef, m session.Milestone) error {
	if n.cfg.LogChannelID == "" {
		return nil
	}
	name := user.Name
	if name == "" {
		name = n.memberName(user.ID)
	}
	_, err := n.sendEmbed(n.cfg.LogChannelID, colorMilestone, milestoneDescription(name, m))
	return err
}

// StaleDeparture closes a join panel whose owner left while the tracker was
// down. The reported figure is whatever the store already holds for today;
// the downtime itself is not billed.
func (n *Notifier) StaleDeparture(ctx context.Context, userID string) error {
	ps := n.panel(ctx, userID)
	n.deleteMsg(ps.JoinMsgID)
	n.deleteMsg(ps.LeaveMsgID)

	if n.cfg.LogChannelID == "" {
		return n.store.SetMessageState(ctx, store.PanelState{UserID: userID})
	}
	today, err := n.store.SecondsSince(ctx, userID, session.StartOfDay(time.Now(), n.cfg.Location))
	if err != nil {
		n.log.Warn("today total lookup failed", "user", userID, "error", err)
	}
	id, err := n.sendEmbed(n.cfg.LogChannelID, colorStop, staleDescription(n.memberName(userID), today))
	if err != nil {
		return err
	}
	return n.store.SetMessageState(ctx, store.PanelState{UserID: userID, LeaveMsgID: id})
}

// DailyReport posts the nightly rollup to the summary channel.
func (n *Notifier) DailyReport(_ context.Context, date string, totals []store.UserTotal) error {
	if n.cfg.SummaryChannelID == "" {
		return nil
	}
	_, err := n.sendEmbed(n.cfg.SummaryChannelID, colorReport, reportDescription(date, totals))
	return err
}

// MaintenanceSummary posts the nightly housekeeping counts and database size
// to the summary channel, so operators can watch retention and growth without
// reading logs.
func (n *Notifier) MaintenanceSummary(_ context.Context, res session.MaintenanceResult, dbBytes int64) error {
	if n.cfg.SummaryChannelID == "" {
		return nil
	}
	_, err := n.sendEmbed(n.cfg.SummaryChannelID, colorReport, maintenanceDescription(res, dbBytes))
	return err
}

// TimerFinished rings a personal timer by direct message.
func (n *Notifier) TimerFinished(_ context.Context, userID string, minutes int) error {
	ch, err := n.dg.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("opening DM channel: %w", err)
	}
	_, err = n.dg.ChannelMessageSend(ch.ID,
		fmt.Sprintf("⏰ Your %s timer is up!", durafmt.Spoken(int64(minutes)*60)))
	return err
}

func (n *Notifier) sendEmbed(channelID string, color int, description string) (string, error) {
	msg, err := n.dg.ChannelMessageSendEmbed(channelID, &discordgo.MessageEmbed{
		Description: description,
		Color:       color,
	})
	if err != nil {
		return "", fmt.Errorf("sending embed to %s: %w", channelID, err)
	}
	return msg.ID, nil
}

func (n *Notifier) panel(ctx context.Context, userID string) store.PanelState {
	ps, err := n.store.MessageState(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		n.log.Warn("panel state lookup failed", "user", userID, "error", err)
	}
	return ps
}

func (n *Notifier) deleteMsg(msgID string) {
	if msgID == "" || n.cfg.LogChannelID == "" {
		return
	}
	if err := n.dg.ChannelMessageDelete(n.cfg.LogChannelID, msgID); err != nil {
		// already deleted by a moderator, most likely
		n.log.Debug("panel delete failed", "message", msgID, "error", err)
	}
}

func (n *Notifier) memberName(userID string) string {
	if m, err := n.dg.State.Member(n.cfg.GuildID, userID); err == nil {
		if m.Nick != "" {
			return m.Nick
		}
		if m.User != nil && m.User.Username != "" {
			return m.User.Username
		}
	}
	return userID
}
