package dropsync

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultSettle = 250 * time.Millisecond

// Watcher runs the syncer whenever a candidate file appears or changes.
// Bursts of events are coalesced: a pass starts once the directory has been
// quiet for the settle delay.
type Watcher struct {
	syncer  *Syncer
	watcher *fsnotify.Watcher
	settle  time.Duration
	log     zerolog.Logger
	change  chan struct{}
	// OnPass observes every completed pass. Tests use it.
	OnPass func(Report, error)
}

func NewWatcher(syncer *Syncer, settle time.Duration) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(syncer.LocalRoot()); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	if settle <= 0 {
		settle = defaultSettle
	}
	return &Watcher{
		syncer:  syncer,
		watcher: watcher,
		settle:  settle,
		log:     syncer.log.With().Str("watch", syncer.LocalRoot()).Logger(),
		change:  make(chan struct{}, 1),
	}, nil
}

// Run does one pass straight away, then one per settled burst, until ctx
// ends.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	go w.forward(ctx)

	w.pass(ctx)
	timer := time.NewTimer(w.settle)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-w.change:
			timer.Reset(w.settle)
		case <-timer.C:
			w.pass(ctx)
		}
	}
}

func (w *Watcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !fileChanged(event) || !w.syncer.Matches(event.Name) {
				continue
			}
			w.log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("file event")
			w.signal()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) signal() {
	select {
	case w.change <- struct{}{}:
	default:
	}
}

func (w *Watcher) pass(ctx context.Context) {
	report, err := w.syncer.SyncOnce(ctx)
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("drop sync pass failed")
	}
	if w.OnPass != nil {
		w.OnPass(report, err)
	}
}

func fileChanged(event fsnotify.Event) bool {
	return event.Op&fsnotify.Create == fsnotify.Create ||
		event.Op&fsnotify.Write == fsnotify.Write ||
		event.Op&fsnotify.Rename == fsnotify.Rename
}
