// Package main implements the Studycord daemon, which tracks voice-channel
// study sessions on a Discord guild and posts session panels, rankings, and
// nightly reports.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rootpkg "github.com/studycord/studycord"
	"github.com/studycord/studycord/internal/announce"
	"github.com/studycord/studycord/internal/board"
	"github.com/studycord/studycord/internal/config"
	"github.com/studycord/studycord/internal/discord"
	"github.com/studycord/studycord/internal/logger"
	"github.com/studycord/studycord/internal/paths"
	"github.com/studycord/studycord/internal/pomodoro"
	"github.com/studycord/studycord/internal/rank"
	"github.com/studycord/studycord/internal/schedule"
	"github.com/studycord/studycord/internal/session"
	"github.com/studycord/studycord/internal/store"
	"github.com/studycord/studycord/internal/timer"
)

// topRanked caps the weekly ranking length in replies and on the board.
const topRanked = 10

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - goreleaser: -X main.version={{.Version}}  -> "0.1.0"
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// When ldflags are not set (bare go build), resolveVersion reads the VCS info
// that Go embeds automatically, so dev builds get a useful version string
// without needing git at runtime.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags at build time it is returned as-is; otherwise VCS revision and dirty
// state embedded by the Go toolchain are used to construct a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token used to prove ownership
// of the PID file, so [removePID] only deletes the file if this instance wrote it.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID creates or opens the PID file at [DataPaths.PID], acquires an
// advisory file lock, and writes "PID:TOKEN" content. The returned file handle
// must be kept open for the lifetime of the daemon to hold the lock; pass it to
// [removePID] on shutdown.
func writePID(paths DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(paths.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	content := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if _, err := f.WriteString(content); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return f, nil
}

// removePID releases the advisory lock, closes the file handle, and removes the
// PID file only if the stored token matches, preventing accidental removal of a
// file owned by a different daemon instance.
func removePID(paths DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(paths.PID())
	if err != nil {
		return
	}
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) == 2 && parts[1] == token {
		os.Remove(paths.PID())
	}
}

// checkStalePID checks whether another daemon instance is running. It attempts
// to acquire the advisory lock on the PID file; if the lock fails, another
// instance holds it. If the lock succeeds, any previous instance is dead and
// the stale file is cleaned up.
func checkStalePID(paths DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(paths.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(paths.PID())
		f.Close()
		parts := strings.SplitN(string(data), ":", 2)
		if len(parts) >= 1 {
			if p, convErr := strconv.Atoi(parts[0]); convErr == nil {
				return true, p
			}
		}
		return true, 0
	}

	// Lock acquired -- previous instance is dead. Clean up stale file.
	_ = unlockFile(f)
	f.Close()
	os.Remove(paths.PID())
	return false, 0
}

// ///////////////////////////////////////////////
// Milestone Mapping
// ///////////////////////////////////////////////

// toMilestones converts the config milestone list into the [session.Milestone]
// slice the reconciler and maintenance job consume. Order (ascending hours) is
// preserved from [config.Config.MilestoneList].
func toMilestones(list []config.Milestone) []session.Milestone {
	out := make([]session.Milestone, len(list))
	for i, m := range list {
		out[i] = session.Milestone{Hours: m.Hours, Badge: m.Badge}
	}
	return out
}

// ///////////////////////////////////////////////
// Default Data Directory
// ///////////////////////////////////////////////

// defaultDataDir returns the platform default directory for Studycord data,
// typically ~/.studycord. Falls back to ./.studycord if the home directory
// cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "."+paths.BinaryName)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory for config, state, and logs")
	stderrEcho := flag.Bool("stderr", false, "Echo log output to stderr in addition to the log file")
	flag.Parse()

	dataPaths := DataPaths{Root: *dataDir}

	if err := os.MkdirAll(dataPaths.Root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create data dir: %v\n", err)
		os.Exit(1)
	}

	if alive, pid := checkStalePID(dataPaths); alive {
		fmt.Fprintf(os.Stderr, "daemon already running (pid %d)\n", pid)
		os.Exit(1)
	}

	if _, err := os.Stat(dataPaths.Config()); os.IsNotExist(err) {
		if writeErr := os.WriteFile(dataPaths.Config(), rootpkg.DefaultConfigTOML, 0o644); writeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", writeErr)
		}
	}

	cfg, err := config.Load(dataPaths.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: invalid config: %v\n", err)
		os.Exit(1)
	}

	logLevel := logger.ParseLevel(cfg.Log.Level)
	log, logCloser, err := logger.NewLogger(dataPaths.Log(), logLevel, cfg.Log.MaxSizeMB, *stderrEcho)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	ver := resolveVersion()
	slog.Info("studycord starting", "version", ver, "data_dir", dataPaths.Root)

	token := pidToken()
	pidFile, err := writePID(dataPaths, token)
	if err != nil {
		slog.Error("failed to write PID file", "error", err)
		os.Exit(1)
	}
	defer removePID(dataPaths, token, pidFile)

	db, err := store.Open(dataPaths.Database())
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	loc := cfg.Location()
	mgr := session.NewSessionManager()

	// Spoken announcements are optional; when disabled the reconciler simply
	// gets a nil Announcer.
	// TODO: replace NopPlayer once an opus transcode pipeline exists; until
	// then synthesis and caching run but nothing reaches the voice channel.
	var queue *announce.Queue
	var announcer session.Announcer
	if cfg.Voice.Enabled && cfg.Voice.TTSURL != "" {
		synth := announce.NewSynthesizer(cfg.Voice.TTSURL, cfg.Voice.TTSVoice, dataPaths.AudioCache(), log)
		queue = announce.NewQueue(synth, announce.NopPlayer{}, log)
		announcer = queue
	}

	gw, err := discord.NewGateway(cfg.BotToken(), discord.GatewayConfig{
		GuildID: cfg.Discord.GuildID,
		Tracks:  cfg.TracksChannel,
	}, log)
	if err != nil {
		slog.Error("failed to create gateway", "error", err)
		os.Exit(1)
	}
	dg := gw.Session()

	notifier := discord.NewNotifier(dg, db, discord.NotifierConfig{
		GuildID:          cfg.Discord.GuildID,
		LogChannelID:     cfg.Channels.Log,
		SummaryChannelID: cfg.Channels.Summary,
		Location:         loc,
	}, log)
	badges := discord.NewRoleBadges(dg, cfg.Discord.GuildID, log)

	agg := rank.New(db, mgr, loc, topRanked)
	statusBoard := discord.NewBoard(dg, agg, mgr, db, cfg.Channels.Status, log)
	refresher := board.New(
		statusBoard.Redraw,
		time.Duration(cfg.Report.BoardCooldownSeconds)*time.Second,
		time.Duration(cfg.Report.BoardIntervalMinutes)*time.Minute,
		log,
	)

	// Milestone thresholds are hot-reloadable; the holder feeds both the
	// reconciler (via SetMilestones) and the nightly maintenance job.
	var msMu sync.Mutex
	currentMilestones := toMilestones(cfg.MilestoneList())
	getMilestones := func() []session.Milestone {
		msMu.Lock()
		defer msMu.Unlock()
		return currentMilestones
	}

	rec := session.NewReconciler(mgr, db, notifier, log, session.ReconcilerOptions{
		Badges:     badges,
		Announce:   announcer,
		BoardWake:  refresher.Request,
		Milestones: currentMilestones,
		Location:   loc,
	})
	gw.SetReconciler(rec)

	timers := timer.New(db, notifier, log, cfg.Timer.MaxMinutes)
	cmds := discord.NewCommands(cfg.Discord.GuildID, agg, rec, timers, db, log)
	gw.AddMessageHandler(cmds.Handle)

	maint := session.NewMaintenance(mgr, db, notifier, log, session.MaintenanceConfig{
		Location:        loc,
		KeepLogDays:     cfg.Report.KeepLogDays,
		KeepSummaryDays: cfg.Report.KeepSummaryDays,
		Milestones:      getMilestones,
		Badges:          badges,
	})

	if err := gw.Open(); err != nil {
		slog.Error("failed to connect to Discord", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Discord", "guild", cfg.Discord.GuildID)

	ctx, cancel := context.WithCancel(context.Background())

	// Pick sessions back up for members already in tracked channels, bridging
	// carry-over from before the restart where the gap is short enough.
	recoverCtx, recoverCancel := context.WithTimeout(ctx, 30*time.Second)
	resumed := session.NewRecovery(
		mgr, db, notifier, log,
		time.Duration(cfg.Tracking.RecoveryBridgeSeconds)*time.Second,
	).Run(recoverCtx, discord.NewRoster(gw))
	recoverCancel()
	slog.Info("startup recovery complete", "resumed", resumed)

	go refresher.Run(ctx)
	refresher.Request()

	sched := schedule.New(loc, log)
	scheduleJobs(sched, cfg, loc, dataPaths.Database(), maint, notifier, refresher, timers, queue, gw)
	sched.Start()

	watcher, watchErr := config.NewWatcher(dataPaths.Config())
	if watchErr != nil {
		slog.Warn("config watcher unavailable, milestone changes need a restart", "error", watchErr)
	} else {
		defer watcher.Close()
		if watcher.Polling() {
			slog.Info("using polling mode for config watching")
		}
		go func() {
			for range watcher.Events() {
				fresh, loadErr := config.Load(dataPaths.Root)
				if loadErr != nil {
					slog.Warn("config reload failed", "error", loadErr)
					continue
				}
				list := toMilestones(fresh.MilestoneList())
				msMu.Lock()
				currentMilestones = list
				msMu.Unlock()
				rec.SetMilestones(list)
				slog.Info("config reloaded", "milestones", len(list))
			}
		}()
	}

	<-signalChannel()
	slog.Info("received shutdown signal")

	sched.Stop()
	if closeErr := gw.Close(); closeErr != nil {
		slog.Warn("gateway close failed", "error", closeErr)
	}
	cancel()

	// Flush whatever is still live so no study time is lost across restarts.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 30*time.Second)
	saved := session.NewSaver(mgr, db, log).SaveAll(flushCtx)
	flushCancel()
	slog.Info("flushed open sessions", "count", saved)

	if queue != nil {
		queue.Close()
	}
}

// ///////////////////////////////////////////////
// Scheduled Jobs
// ///////////////////////////////////////////////

// scheduleJobs registers the recurring work: nightly maintenance plus report,
// the expired-timer sweep, and (when a pomodoro channel is configured and
// voice is enabled) the half-hour work/break announcements. Registration
// failures are fatal because every cron spec is derived from validated config.
func scheduleJobs(
	sched *schedule.Scheduler,
	cfg *config.Config,
	loc *time.Location,
	dbPath string,
	maint *session.Maintenance,
	notifier *discord.Notifier,
	refresher *board.Refresher,
	timers *timer.Service,
	queue *announce.Queue,
	gw *discord.Gateway,
) {
	mustSchedule := func(err error) {
		if err != nil {
			slog.Error("failed to register scheduled job", "error", err)
			os.Exit(1)
		}
	}

	mustSchedule(sched.Daily(cfg.Report.DailyHour, cfg.Report.DailyMinute, "daily maintenance", func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		res, err := maint.Run(runCtx)
		if err != nil {
			slog.Error("maintenance run failed", "error", err)
			return
		}
		date := session.StartOfDay(time.Now().In(loc), loc).Format("2006-01-02")
		if reportErr := notifier.DailyReport(runCtx, date, res.Totals); reportErr != nil {
			slog.Warn("daily report failed", "error", reportErr)
		}
		var dbBytes int64
		if fi, statErr := os.Stat(dbPath); statErr == nil {
			dbBytes = fi.Size()
		}
		if sumErr := notifier.MaintenanceSummary(runCtx, res, dbBytes); sumErr != nil {
			slog.Warn("maintenance summary failed", "error", sumErr)
		}
		refresher.Request()
	}))

	mustSchedule(sched.Every(time.Duration(cfg.Timer.CheckIntervalSeconds)*time.Second, "timer sweep", func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		timers.Sweep(sweepCtx)
	}))

	if cfg.Channels.Pomodoro != "" && queue != nil {
		pomo := pomodoro.New(queue, gw.ChannelOccupied, cfg.Channels.Pomodoro, slog.Default())
		mustSchedule(sched.AtMinutes(pomodoro.WorkMinutes, "pomodoro work", func() {
			pomoCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			pomo.AnnounceWork(pomoCtx)
		}))
		mustSchedule(sched.AtMinutes(pomodoro.BreakMinutes, "pomodoro break", func() {
			pomoCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			pomo.AnnounceBreak(pomoCtx)
		}))
	}
}
