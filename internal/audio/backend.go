// Package audio abstracts the voice-streaming backend: joining voice
// channels, playing a source URL and steering in-flight tracks.
package audio

// NumBands is the number of equalizer bands exposed to the UI.
const NumBands = 15

// MaxGain bounds a band gain; valid gains are in [-MaxGain, +MaxGain].
const MaxGain = 0.25

// Backend manages voice connections per guild.
type Backend interface {
	Join(guildID, channelID string) (Conn, error)
	Leave(guildID string) error
}

// Conn is an established voice connection for one guild.
type Conn interface {
	// Play starts streaming the given source URL and returns a handle to
	// the in-flight track.
	Play(url string) (Track, error)
	Equalize(band int, gain float64) error
	EqualizeAll(gains [NumBands]float64) error

	// OnTrackStart and OnTrackEnd register hooks fired for every track on
	// this connection. Hooks run on the streaming goroutine.
	OnTrackStart(fn func(Track))
	OnTrackEnd(fn func(Track))
}

// Track is an opaque reference to an in-flight audio stream.
type Track interface {
	Stop() error
	Pause() error
	Resume() error
}

// ClampGain bounds g to the valid gain range.
func ClampGain(g float64) float64 {
	if g > MaxGain {
		return MaxGain
	}
	if g < -MaxGain {
		return -MaxGain
	}
	return g
}
