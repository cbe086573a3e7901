package music

import (
	"math/rand"
	"sync"

	"github.com/Trivernis/2b-rs-sub000/internal/resolver"
)

// Queue is the ordered list of songs waiting to play plus a reference to the
// song currently streaming. It does no I/O.
type Queue struct {
	mu      sync.Mutex
	entries []resolver.Song
	current *resolver.Song
}

func NewQueue() *Queue {
	return &Queue{}
}

// Add appends songs to the back of the queue.
func (q *Queue) Add(songs ...resolver.Song) {
	q.mu.Lock()
	q.entries = append(q.entries, songs...)
	q.mu.Unlock()
}

// AddNext pushes a song to the front so it plays before everything queued.
func (q *Queue) AddNext(s resolver.Song) {
	q.mu.Lock()
	q.entries = append([]resolver.Song{s}, q.entries...)
	q.mu.Unlock()
}

// Next dequeues the front song. ok is false on an empty queue.
func (q *Queue) Next() (s resolver.Song, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return resolver.Song{}, false
	}
	s = q.entries[0]
	q.entries = q.entries[1:]
	return s, true
}

// Move takes the song at from and reinserts it at to. Out-of-bounds indices
// are clamped to the last valid position.
func (q *Queue) Move(from, to int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	if n == 0 {
		return
	}
	from = clamp(from, n-1)
	to = clamp(to, n-1)
	if from == to {
		return
	}
	s := q.entries[from]
	q.entries = append(q.entries[:from], q.entries[from+1:]...)
	rest := append([]resolver.Song{s}, q.entries[to:]...)
	q.entries = append(q.entries[:to], rest...)
}

// Remove drops the song at i. Out-of-bounds indices are a no-op.
func (q *Queue) Remove(i int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.entries) {
		return
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
}

// Shuffle permutes the queue with a uniform Fisher-Yates pass.
func (q *Queue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.entries) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
	}
}

// Clear drops all queued songs.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.entries = nil
	q.mu.Unlock()
}

// Len returns the number of queued songs, excluding the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a copy of the queued songs.
func (q *Queue) Entries() []resolver.Song {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]resolver.Song, len(q.entries))
	copy(out, q.entries)
	return out
}

// Current returns the song that is streaming right now, or nil.
func (q *Queue) Current() *resolver.Song {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// SetCurrent records the song handed to the backend. nil marks the queue idle.
func (q *Queue) SetCurrent(s *resolver.Song) {
	q.mu.Lock()
	q.current = s
	q.mu.Unlock()
}

func clamp(i, max int) int {
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}
