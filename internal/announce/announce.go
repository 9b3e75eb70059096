// Package announce queues spoken join/leave lines for voice channels.
//
// Each channel gets its own serialized queue so announcements never talk
// over each other, while different channels play independently. Audio is
// synthesized over HTTP and cached on disk keyed by text and voice, so a
// regular's name is fetched once and replayed from cache afterwards.
package announce

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/studycord/studycord/internal/atomicfile"
)

// Player plays a synthesized file into a voice channel. The daemon wires a
// gateway-backed implementation; tests use a recorder.
type Player interface {
	Play(ctx context.Context, channelID, audioPath string) error
}

// NopPlayer discards playback. Used when voice output is disabled.
type NopPlayer struct{}

func (NopPlayer) Play(context.Context, string, string) error { return nil }

// httpClient is a lazily-initialized retryablehttp client shared across all
// synthesis fetches. Initialized once via httpClientOnce.
var (
	httpClient     *retryablehttp.Client
	httpClientOnce sync.Once
)

func getHTTPClient() *retryablehttp.Client {
	httpClientOnce.Do(func() {
		httpClient = retryablehttp.NewClient()
		httpClient.RetryMax = 2
		httpClient.HTTPClient.Timeout = 15 * time.Second
		httpClient.Logger = nil // suppress retryablehttp's default logging
	})
	return httpClient
}

// ///////////////////////////////////////////////
// Synthesizer
// ///////////////////////////////////////////////

// Synthesizer turns text into cached audio files via an HTTP TTS endpoint.
type Synthesizer struct {
	baseURL  string
	voice    string
	cacheDir string
	log      *slog.Logger
}

// NewSynthesizer builds a synthesizer writing cache files under cacheDir.
func NewSynthesizer(baseURL, voice, cacheDir string, log *slog.Logger) *Synthesizer {
	return &Synthesizer{baseURL: baseURL, voice: voice, cacheDir: cacheDir, log: log}
}

// Synthesize returns the path of an audio file for text, fetching it when
// the cache misses.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	path := filepath.Join(s.cacheDir, s.cacheKey(text)+".wav")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	audio, err := s.fetch(ctx, text)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("creating audio cache directory: %w", err)
	}
	if err := atomicfile.Write(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("caching audio: %w", err)
	}
	return path, nil
}

func (s *Synthesizer) fetch(ctx context.Context, text string) ([]byte, error) {
	const maxAudioBytes = 5 << 20 // 5 MiB

	q := url.Values{}
	q.Set("text", text)
	q.Set("voice", s.voice)
	reqURL := s.baseURL + "?" + q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building TTS request: %w", err)
	}
	resp, err := getHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", s.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", s.baseURL, resp.StatusCode)
	}
	limited := io.LimitReader(resp.Body, maxAudioBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("reading TTS response: %w", err)
	}
	if int64(len(body)) > maxAudioBytes {
		return nil, fmt.Errorf("TTS response exceeds %d bytes", maxAudioBytes)
	}
	return body, nil
}

func (s *Synthesizer) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(s.voice + "\x00" + text))
	return hex.EncodeToString(sum[:16])
}

// ///////////////////////////////////////////////
// Queue
// ///////////////////////////////////////////////

type request struct {
	channelID string
	text      string
}

// Queue fans announcements out to one worker per channel. Speak never
// blocks; when a channel's backlog is full the line is dropped, since a
// join announcement played a minute late is worse than none.
type Queue struct {
	synth  *Synthesizer
	player Player
	log    *slog.Logger

	mu      sync.Mutex
	workers map[string]chan request
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

const backlogPerChannel = 8

// NewQueue builds a queue over the synthesizer and player.
func NewQueue(synth *Synthesizer, player Player, log *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		synth:   synth,
		player:  player,
		log:     log,
		workers: make(map[string]chan request),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Speak queues one line for a channel. The userID is accepted for logging
// only; the spoken text is already fully rendered.
func (q *Queue) Speak(channelID, text, userID string) {
	if channelID == "" || text == "" {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	ch, ok := q.workers[channelID]
	if !ok {
		ch = make(chan request, backlogPerChannel)
		q.workers[channelID] = ch
		q.wg.Add(1)
		go q.serve(ch)
	}
	q.mu.Unlock()

	select {
	case ch <- request{channelID: channelID, text: text}:
	default:
		q.log.Debug("announcement dropped, backlog full", "channel", channelID, "user", userID)
	}
}

func (q *Queue) serve(ch chan request) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case req := <-ch:
			path, err := q.synth.Synthesize(q.ctx, req.text)
			if err != nil {
				q.log.Warn("synthesis failed", "channel", req.channelID, "error", err)
				continue
			}
			if err := q.player.Play(q.ctx, req.channelID, path); err != nil {
				q.log.Warn("playback failed", "channel", req.channelID, "error", err)
			}
		}
	}
}

// Close stops all workers and waits for in-flight playback to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}
