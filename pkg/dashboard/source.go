package dashboard

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pylon/pkg/risk"
	"pylon/pkg/transcript"
	"pylon/pkg/turns"
)

// Loader feeds the pipeline from a transcript store on disk. Parsed sessions
// are cached per transcript and invalidated by modtime or an fsnotify event;
// the tick itself remains the polling safety net, so a lost notification
// only delays a refresh by one cache check.
type Loader struct {
	root string

	mu    sync.Mutex
	cache map[string]*cachedSession
	dirty map[string]bool
}

type cachedSession struct {
	modTime time.Time
	size    int64
	turns   []*turns.TurnNode
	risk    *risk.AgentRisk
}

// NewLoader creates a Loader over a transcript store root.
func NewLoader(root string) *Loader {
	return &Loader{
		root:  root,
		cache: map[string]*cachedSession{},
		dirty: map[string]bool{},
	}
}

// Load discovers and parses all sessions, reusing cached parse results for
// transcripts that have not changed.
func (l *Loader) Load(_ context.Context, now time.Time) ([]SessionState, error) {
	sessions, err := transcript.DiscoverSessions(l.root, now)
	if err != nil {
		return nil, err
	}

	states := make([]SessionState, 0, len(sessions))
	seen := map[string]bool{}
	for _, s := range sessions {
		seen[s.Path] = true
		entry := l.lookup(s)
		if entry == nil {
			entry = l.parse(s)
			if entry == nil {
				continue
			}
		}
		states = append(states, SessionState{
			Session: s,
			Turns:   entry.turns,
			Risk:    entry.risk,
		})
	}
	l.evict(seen)
	return states, nil
}

// lookup returns the cached entry for a session if it is still current.
func (l *Loader) lookup(s transcript.Session) *cachedSession {
	info, err := os.Stat(s.Path)
	if err != nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dirty[s.Path] {
		delete(l.dirty, s.Path)
		return nil
	}
	entry, ok := l.cache[s.Path]
	if !ok || !entry.modTime.Equal(info.ModTime()) || entry.size != info.Size() {
		return nil
	}
	return entry
}

// parse reads and analyzes one transcript, caching the result. A transcript
// that cannot be opened is skipped; individual bad records are already
// handled inside the parser.
func (l *Loader) parse(s transcript.Session) *cachedSession {
	info, err := os.Stat(s.Path)
	if err != nil {
		return nil
	}
	result, err := transcript.ParseFile(s.Path)
	if err != nil {
		return nil
	}
	sequence := turns.Segment(result.Events)
	entry := &cachedSession{
		modTime: info.ModTime(),
		size:    info.Size(),
		turns:   sequence,
		risk:    risk.Analyze(sequence),
	}
	l.mu.Lock()
	l.cache[s.Path] = entry
	l.mu.Unlock()
	return entry
}

// evict drops cache entries for transcripts that disappeared.
func (l *Loader) evict(seen map[string]bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for path := range l.cache {
		if !seen[path] {
			delete(l.cache, path)
		}
	}
}

// Watch invalidates cache entries when transcripts change on disk, so the
// next tick reparses them even if the filesystem's modtime granularity hides
// a quick successive write. Blocks until ctx is done. Errors from the
// watcher are non-fatal: the modtime check still catches changes.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(l.root); err != nil {
		return err
	}
	// Watch existing project directories; new ones are added as they appear.
	if entries, err := os.ReadDir(l.root); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = watcher.Add(filepath.Join(l.root, e.Name()))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
					continue
				}
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				l.mu.Lock()
				l.dirty[ev.Name] = true
				l.mu.Unlock()
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
