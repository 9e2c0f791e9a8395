// Package metadata supplies SongInfo for level ids, backed by a JSON song
// library file.
package metadata

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/1ureka/rhythmhub/internal/protocol"
)

// Provider looks up songs on demand.
type Provider interface {
	Lookup(levelID string) (protocol.SongInfo, bool)
	Random() (protocol.SongInfo, bool)
	// SetDuration records a duration reported by a client that loaded the
	// level.
	SetDuration(levelID string, seconds float32)
}

var ErrBadLibrary = errors.New("bad song library")

// Library is an in-memory Provider. It is safe for concurrent use.
type Library struct {
	mu    sync.RWMutex
	songs []protocol.SongInfo
	index map[string]int
	pick  func(n int) int
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{index: make(map[string]int), pick: rand.IntN}
}

// Load reads a library file. See Parse for the format.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read song library: %w", err)
	}
	return Parse(data)
}

// Parse reads a document of the form
//
//	{"songs": [{"levelId": "...", "name": "...", "duration": 183.5}, ...]}
//
// Entries without "levelId" may give a beatmap "hash" instead, which maps to
// the level id "custom_level_<hash>". Entries with neither are skipped.
func Parse(data []byte) (*Library, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrBadLibrary)
	}
	songs := gjson.GetBytes(data, "songs")
	if !songs.IsArray() {
		return nil, fmt.Errorf("%w: missing songs array", ErrBadLibrary)
	}

	l := NewLibrary()
	songs.ForEach(func(_, v gjson.Result) bool {
		id := v.Get("levelId").String()
		if id == "" {
			if hash := v.Get("hash").String(); hash != "" {
				id = "custom_level_" + hash
			}
		}
		if id == "" {
			return true
		}
		l.Add(protocol.NewSongInfo(v.Get("name").String(), id, float32(v.Get("duration").Float())))
		return true
	})
	return l, nil
}

// Add inserts or replaces a song by level id.
func (l *Library) Add(s protocol.SongInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i, ok := l.index[s.LevelID]; ok {
		l.songs[i] = s
		return
	}
	l.index[s.LevelID] = len(l.songs)
	l.songs = append(l.songs, s)
}

func (l *Library) Lookup(levelID string) (protocol.SongInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[levelID]
	if !ok {
		return protocol.SongInfo{}, false
	}
	return l.songs[i], true
}

func (l *Library) Random() (protocol.SongInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.songs) == 0 {
		return protocol.SongInfo{}, false
	}
	return l.songs[l.pick(len(l.songs))], true
}

// SetDuration updates a known song. Unknown ids are ignored, as are
// non-positive durations.
func (l *Library) SetDuration(levelID string, seconds float32) {
	if seconds <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if i, ok := l.index[levelID]; ok {
		l.songs[i].Duration = seconds
	}
}

// Len returns the number of songs.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.songs)
}
