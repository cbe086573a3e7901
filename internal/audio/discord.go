package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"
)

const (
	channels   = 2
	sampleRate = 48000
	frameSize  = 960 // 20ms at 48kHz
)

// DiscordBackend streams audio into Discord voice channels by piping the
// source through ffmpeg and opus-encoding the raw PCM frames.
type DiscordBackend struct {
	dg *discordgo.Session

	mu    sync.Mutex
	conns map[string]*voiceConn
}

func NewDiscordBackend(dg *discordgo.Session) *DiscordBackend {
	return &DiscordBackend{dg: dg, conns: make(map[string]*voiceConn)}
}

func (b *DiscordBackend) Join(guildID, channelID string) (Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.conns[guildID]; ok && c.vc.ChannelID == channelID {
		return c, nil
	}

	vc, err := b.dg.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("audio: joining voice channel: %w", err)
	}
	c := &voiceConn{vc: vc}
	b.conns[guildID] = c
	return c, nil
}

func (b *DiscordBackend) Leave(guildID string) error {
	b.mu.Lock()
	c := b.conns[guildID]
	delete(b.conns, guildID)
	b.mu.Unlock()

	if c == nil {
		return nil
	}
	if err := c.vc.Disconnect(); err != nil {
		return fmt.Errorf("audio: leaving voice channel: %w", err)
	}
	return nil
}

type voiceConn struct {
	vc *discordgo.VoiceConnection

	mu      sync.Mutex
	gains   [NumBands]float64
	onStart []func(Track)
	onEnd   []func(Track)
}

func (c *voiceConn) OnTrackStart(fn func(Track)) {
	c.mu.Lock()
	c.onStart = append(c.onStart, fn)
	c.mu.Unlock()
}

func (c *voiceConn) OnTrackEnd(fn func(Track)) {
	c.mu.Lock()
	c.onEnd = append(c.onEnd, fn)
	c.mu.Unlock()
}

func (c *voiceConn) Equalize(band int, gain float64) error {
	if band < 0 || band >= NumBands {
		return fmt.Errorf("audio: band %d out of range", band)
	}
	c.mu.Lock()
	c.gains[band] = ClampGain(gain)
	c.mu.Unlock()
	return nil
}

func (c *voiceConn) EqualizeAll(gains [NumBands]float64) error {
	c.mu.Lock()
	for i, g := range gains {
		c.gains[i] = ClampGain(g)
	}
	c.mu.Unlock()
	return nil
}

// Play starts ffmpeg on the source URL and streams opus frames until the
// source ends or the track is stopped. Equalizer gains are applied as an
// ffmpeg filter, so changes take effect from the next track.
func (c *voiceConn) Play(url string) (Track, error) {
	c.mu.Lock()
	filter := equalizerFilter(c.gains)
	c.mu.Unlock()

	args := []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", url,
	}
	if filter != "" {
		args = append(args, "-af", filter)
	}
	args = append(args,
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"-loglevel", "warning",
		"pipe:1",
	)

	ffmpeg := exec.Command("ffmpeg", args...)
	out, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: stdout pipe: %w", err)
	}
	if err := ffmpeg.Start(); err != nil {
		return nil, fmt.Errorf("audio: starting ffmpeg: %w", err)
	}

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		_ = ffmpeg.Process.Kill()
		return nil, fmt.Errorf("audio: creating opus encoder: %w", err)
	}

	t := &voiceTrack{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go watchStop(t, out)
	go c.stream(t, out, ffmpeg, enc)
	return t, nil
}

// watchStop closes the ffmpeg pipe when the track is stopped, so a pcm read
// blocked on a stalled source unblocks and Stop never hangs on t.done.
func watchStop(t *voiceTrack, out io.Closer) {
	select {
	case <-t.stop:
		_ = out.Close()
	case <-t.done:
	}
}

func (c *voiceConn) stream(t *voiceTrack, out io.ReadCloser, ffmpeg *exec.Cmd, enc *opus.Encoder) {
	defer close(t.done)
	defer func() {
		_ = ffmpeg.Process.Kill()
		_, _ = ffmpeg.Process.Wait()
	}()

	c.fire(c.snapshotHooks(&c.onStart), t)
	defer func() { c.fire(c.snapshotHooks(&c.onEnd), t) }()

	if err := c.vc.Speaking(true); err != nil {
		log.Printf("[WARN] [Audio] speaking(true) failed: %v", err)
	}
	defer func() {
		if err := c.vc.Speaking(false); err != nil {
			log.Printf("[WARN] [Audio] speaking(false) failed: %v", err)
		}
	}()

	pcm := make([]int16, channels*frameSize)
	encoded := make([]byte, 1024)
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		for t.isPaused() {
			select {
			case <-t.stop:
				return
			case <-time.After(100 * time.Millisecond):
			}
		}

		if err := binary.Read(out, binary.LittleEndian, pcm); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				log.Printf("[ERR] [Audio] reading pcm: %v", err)
			}
			return
		}
		n, err := enc.Encode(pcm, encoded)
		if err != nil {
			log.Printf("[ERR] [Audio] encoding frame: %v", err)
			return
		}
		frame := make([]byte, n)
		copy(frame, encoded[:n])

		select {
		case <-t.stop:
			return
		case c.vc.OpusSend <- frame:
		}
	}
}

func (c *voiceConn) snapshotHooks(hooks *[]func(Track)) []func(Track) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(Track), len(*hooks))
	copy(out, *hooks)
	return out
}

func (c *voiceConn) fire(hooks []func(Track), t Track) {
	for _, fn := range hooks {
		fn(t)
	}
}

// equalizerFilter maps the 15 UI bands onto ffmpeg's superequalizer. A zero
// gain vector needs no filter at all.
func equalizerFilter(gains [NumBands]float64) string {
	all := true
	for _, g := range gains {
		if g != 0 {
			all = false
			break
		}
	}
	if all {
		return ""
	}
	parts := make([]string, 0, NumBands)
	for i, g := range gains {
		// superequalizer band gains default to 1; our [-0.25, 0.25]
		// range maps onto [0, 2].
		parts = append(parts, fmt.Sprintf("%db=%.3f", i+1, 1+g*4))
	}
	return "superequalizer=" + strings.Join(parts, ":")
}

type voiceTrack struct {
	mu       sync.Mutex
	paused   bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (t *voiceTrack) Stop() error {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
	return nil
}

func (t *voiceTrack) Pause() error {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
	return nil
}

func (t *voiceTrack) Resume() error {
	t.mu.Lock()
	t.paused = false
	t.mu.Unlock()
	return nil
}

func (t *voiceTrack) isPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}
