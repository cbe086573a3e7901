// Package resolver turns user input (video URL, playlist URL, search term)
// into playable songs by shelling out to yt-dlp.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sync/semaphore"
)

// Song is one resolved playlist entry.
type Song struct {
	URL       string
	Title     string
	Author    string
	Thumbnail string
}

type Resolver interface {
	// Resolve expands input into one or more songs with metadata.
	Resolve(ctx context.Context, input string) ([]Song, error)
	// StreamURL returns the direct audio URL for a song. It is called
	// again for every playback attempt since stream URLs expire.
	StreamURL(ctx context.Context, song Song) (string, error)
}

// maxConcurrent caps the number of yt-dlp subprocesses running at once,
// process-wide.
const maxConcurrent = 64

// YTDLP resolves media through the yt-dlp command line tool.
type YTDLP struct {
	bin string
	sem *semaphore.Weighted
}

func NewYTDLP(bin string) *YTDLP {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &YTDLP{bin: bin, sem: semaphore.NewWeighted(maxConcurrent)}
}

func (y *YTDLP) Resolve(ctx context.Context, input string) ([]Song, error) {
	out, err := y.run(ctx, "-J", "--flat-playlist", input)
	if err != nil {
		return nil, fmt.Errorf("resolver: resolving %q: %w", input, err)
	}
	songs, err := parseResolveOutput(out)
	if err != nil {
		return nil, fmt.Errorf("resolver: resolving %q: %w", input, err)
	}
	return songs, nil
}

func (y *YTDLP) StreamURL(ctx context.Context, song Song) (string, error) {
	out, err := y.run(ctx, "-j", "-f", "bestaudio", song.URL)
	if err != nil {
		return "", fmt.Errorf("resolver: stream url for %q: %w", song.URL, err)
	}
	url, err := parseStreamOutput(out)
	if err != nil {
		return "", fmt.Errorf("resolver: stream url for %q: %w", song.URL, err)
	}
	return url, nil
}

func (y *YTDLP) run(ctx context.Context, args ...string) ([]byte, error) {
	if err := y.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer y.sem.Release(1)

	out, err := exec.CommandContext(ctx, y.bin, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("yt-dlp produced no output")
	}
	return out, nil
}

type ytdlpEntry struct {
	Type       string `json:"_type"`
	URL        string `json:"url"`
	WebpageURL string `json:"webpage_url"`
	Title      string `json:"title"`
	Uploader   string `json:"uploader"`
	Channel    string `json:"channel"`
	Thumbnail  string `json:"thumbnail"`

	Entries []ytdlpEntry `json:"entries"`
}

func (e *ytdlpEntry) song() Song {
	url := e.WebpageURL
	if url == "" {
		url = e.URL
	}
	author := e.Uploader
	if author == "" {
		author = e.Channel
	}
	return Song{URL: url, Title: e.Title, Author: author, Thumbnail: e.Thumbnail}
}

func parseResolveOutput(out []byte) ([]Song, error) {
	var root ytdlpEntry
	if err := json.Unmarshal(out, &root); err != nil {
		return nil, fmt.Errorf("parsing yt-dlp output: %w", err)
	}

	if root.Type == "playlist" {
		songs := make([]Song, 0, len(root.Entries))
		for _, e := range root.Entries {
			s := e.song()
			if s.URL == "" {
				continue
			}
			songs = append(songs, s)
		}
		if len(songs) == 0 {
			return nil, errors.New("playlist contains no playable entries")
		}
		return songs, nil
	}

	s := root.song()
	if s.URL == "" {
		return nil, errors.New("no url in yt-dlp output")
	}
	return []Song{s}, nil
}

type ytdlpStreamInfo struct {
	URL     string `json:"url"`
	Formats []struct {
		URL string `json:"url"`
	} `json:"formats"`
}

func parseStreamOutput(out []byte) (string, error) {
	var info ytdlpStreamInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return "", fmt.Errorf("parsing yt-dlp output: %w", err)
	}
	url := strings.TrimSpace(info.URL)
	if url == "" && len(info.Formats) > 0 {
		url = strings.TrimSpace(info.Formats[0].URL)
	}
	if url == "" {
		return "", errors.New("empty stream url returned from yt-dlp")
	}
	return url, nil
}
