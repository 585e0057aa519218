package roomfile

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gastownhall/chatsync/internal/chat"
)

// debounce coalesces the burst of fsnotify events editors produce for a
// single save.
const debounce = 100 * time.Millisecond

// Subscriber opens and closes conversations as the file changes. Implemented
// by the session.
type Subscriber interface {
	Open(conv chat.Conversation) error
	Close(conv chat.Conversation) error
}

// Watcher keeps the subscriber's room set in sync with the rooms file.
type Watcher struct {
	path    string
	sub     Subscriber
	current map[string]chat.Conversation
}

// NewWatcher creates a watcher; Run applies the initial file state and then
// follows edits.
func NewWatcher(path string, sub Subscriber) *Watcher {
	return &Watcher{
		path:    path,
		sub:     sub,
		current: make(map[string]chat.Conversation),
	}
}

// Run blocks until ctx is cancelled. The watch is on the containing
// directory: editors replace files on save, which would orphan a watch on
// the file itself.
func (w *Watcher) Run(ctx context.Context) error {
	w.apply()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	var pending *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(debounce)
				fire = pending.C
			} else {
				pending.Reset(debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("roomfile: watch error: %v", err)
		case <-fire:
			pending = nil
			fire = nil
			w.apply()
		}
	}
}

// apply diffs the file against the currently-open set. A parse error keeps
// the previous set untouched.
func (w *Watcher) apply() {
	convs, err := Load(w.path)
	if err != nil {
		log.Printf("roomfile: %v (keeping previous rooms)", err)
		return
	}

	next := make(map[string]chat.Conversation, len(convs))
	for _, conv := range convs {
		next[conv.ID] = conv
		if _, open := w.current[conv.ID]; !open {
			if err := w.sub.Open(conv); err != nil {
				log.Printf("roomfile: open %s: %v", conv.ID, err)
			}
		}
	}
	for id, conv := range w.current {
		if _, keep := next[id]; !keep {
			if err := w.sub.Close(conv); err != nil {
				log.Printf("roomfile: close %s: %v", id, err)
			}
		}
	}
	w.current = next
}
