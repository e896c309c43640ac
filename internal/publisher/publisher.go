// Package publisher samples a device position stream and publishes it
// to shared storage: every sample appends a track point and overwrites
// the single presence record for the identity.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/itsshri/NightSafe/internal/models"
	"github.com/itsshri/NightSafe/internal/nserr"
	"github.com/itsshri/NightSafe/internal/observability"
	"github.com/itsshri/NightSafe/internal/store"
)

// PositionSource abstracts the device location sensor. Watch must
// detect capability absence at setup and return ErrUnavailable then;
// transient sampling errors are the platform's to retry and simply do
// not produce samples.
type PositionSource interface {
	Watch(ctx context.Context) (<-chan models.Position, error)
}

// LocationSink receives each accepted sample; the Kafka producer
// implements it when the ingest pipeline is configured.
type LocationSink interface {
	PublishSample(identity string, p models.Position) error
}

type Publisher struct {
	Store  store.Store
	Source PositionSource
	Sink   LocationSink // optional tee to the ingest pipeline
	Logger *slog.Logger

	mu     sync.Mutex
	active map[string]*Handle
}

func New(st store.Store, src PositionSource, logger *slog.Logger) *Publisher {
	return &Publisher{Store: st, Source: src, Logger: logger, active: make(map[string]*Handle)}
}

// Handle identifies one active publishing session.
type Handle struct {
	identity string
	cancel   context.CancelFunc
	done     chan struct{}
	pub      *Publisher
	stopOnce sync.Once
}

func (h *Handle) Identity() string { return h.identity }

// Stop cancels the watch and blocks until the pump loop has exited,
// so no sample write can land after Stop returns.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		<-h.done
		h.pub.mu.Lock()
		if h.pub.active[h.identity] == h {
			delete(h.pub.active, h.identity)
		}
		h.pub.mu.Unlock()
		observability.ActivePublishers.Dec()
	})
}

// Start begins publishing for identity. Starting while already active
// for the same identity is a no-op returning the existing handle.
func (p *Publisher) Start(ctx context.Context, identity string) (*Handle, error) {
	if identity == "" {
		return nil, fmt.Errorf("%w: empty identity", nserr.ErrInvalidInput)
	}
	p.mu.Lock()
	if h, ok := p.active[identity]; ok {
		p.mu.Unlock()
		return h, nil
	}
	p.mu.Unlock()

	watchCtx, cancel := context.WithCancel(ctx)
	samples, err := p.Source.Watch(watchCtx)
	if err != nil {
		cancel()
		// capability denial is surfaced immediately, never retried
		return nil, fmt.Errorf("position watch: %w", err)
	}

	h := &Handle{identity: identity, cancel: cancel, done: make(chan struct{}), pub: p}

	p.mu.Lock()
	if existing, ok := p.active[identity]; ok {
		p.mu.Unlock()
		cancel()
		close(h.done)
		return existing, nil
	}
	p.active[identity] = h
	p.mu.Unlock()

	observability.ActivePublishers.Inc()
	go p.pump(watchCtx, h, samples)
	return h, nil
}

func (p *Publisher) pump(ctx context.Context, h *Handle, samples <-chan models.Position) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case pos, ok := <-samples:
			if !ok {
				return
			}
			p.publish(ctx, h.identity, pos)
		}
	}
}

// publish writes one sample. Failures are logged and dropped: presence
// is overwritten wholesale on every update, so stale data self-heals
// on the next successful write.
func (p *Publisher) publish(ctx context.Context, identity string, pos models.Position) {
	ok := true
	if err := p.Store.AppendTrackPoint(ctx, identity, pos); err != nil {
		p.Logger.Warn("track append failed", "identity", identity, "error", err)
		ok = false
	}
	if err := p.Store.SetPresence(ctx, models.PresenceRecord{
		Identity: identity, Lat: pos.Lat, Lng: pos.Lng, Timestamp: pos.Timestamp,
	}); err != nil {
		p.Logger.Warn("presence write failed", "identity", identity, "error", err)
		ok = false
	}
	if err := p.Store.SetTrackMeta(ctx, identity, pos.Timestamp); err != nil {
		p.Logger.Debug("route meta write failed", "identity", identity, "error", err)
	}
	if p.Sink != nil {
		if err := p.Sink.PublishSample(identity, pos); err != nil {
			p.Logger.Warn("ingest publish failed", "identity", identity, "error", err)
		}
	}
	if ok {
		observability.PositionsPublished.Inc()
	} else {
		observability.PositionsDropped.Inc()
	}
}

// PublishOnce writes a single externally supplied sample, the path
// used by the HTTP ingest endpoint. Same write sequence as the
// watch-driven pump.
func (p *Publisher) PublishOnce(ctx context.Context, identity string, pos models.Position) error {
	if identity == "" {
		return fmt.Errorf("%w: empty identity", nserr.ErrInvalidInput)
	}
	p.publish(ctx, identity, pos)
	return nil
}

// StopAll tears down every active session, for server shutdown.
func (p *Publisher) StopAll() {
	p.mu.Lock()
	handles := make([]*Handle, 0, len(p.active))
	for _, h := range p.active {
		handles = append(handles, h)
	}
	p.mu.Unlock()
	for _, h := range handles {
		h.Stop()
	}
}
