package services

import (
	"context"
	"sync"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"

	"go.uber.org/zap"
)

// EventDispatcher delivers session events to an observer one at a time, in
// the order the engine emitted them. Engine callbacks never block on the
// observer.
type EventDispatcher struct {
	target ports.SessionObserver
	logger *zap.SugaredLogger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func NewEventDispatcher(target ports.SessionObserver, logger *zap.SugaredLogger) *EventDispatcher {
	d := &EventDispatcher{
		target: target,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *EventDispatcher) AudioVideoDidStart() {
	d.enqueue("audio_video_did_start", func() { d.target.AudioVideoDidStart() })
}

func (d *EventDispatcher) AudioVideoDidStop(status domain.SessionStatus) {
	d.enqueue("audio_video_did_stop", func() { d.target.AudioVideoDidStop(status) })
}

func (d *EventDispatcher) VideoTileDidUpdate(tile domain.TileState) {
	d.enqueue("video_tile_did_update", func() { d.target.VideoTileDidUpdate(tile) })
}

func (d *EventDispatcher) VideoTileWasRemoved(tileID domain.TileID) {
	d.enqueue("video_tile_was_removed", func() { d.target.VideoTileWasRemoved(tileID) })
}

// Drain waits until every event queued before the call has been delivered.
func (d *EventDispatcher) Drain(ctx context.Context) error {
	reached := make(chan struct{})
	if !d.push(func() { close(reached) }) {
		return nil
	}
	select {
	case <-reached:
		return nil
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops delivery. Events still queued are dropped.
func (d *EventDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.queue = nil
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}

func (d *EventDispatcher) enqueue(name string, fn func()) {
	wrapped := func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Errorw("session observer panicked",
					"event", name,
					"panic", r,
				)
			}
		}()
		fn()
	}
	if !d.push(wrapped) {
		d.logger.Debugw("dropping event after close", "event", name)
	}
}

func (d *EventDispatcher) push(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *EventDispatcher) run() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			if d.closed {
				d.mu.Unlock()
				return
			}
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()

			fn()
		}
	}
}
