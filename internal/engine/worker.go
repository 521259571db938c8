package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"

	"firestige.xyz/synguard/internal/capture"
	"firestige.xyz/synguard/internal/classifier"
	"firestige.xyz/synguard/internal/log"
)

// Worker drains one capture source, one frame at a time, on a single
// goroutine. Frames are classified synchronously; there is no queue between
// the source and the classifier.
type Worker struct {
	id       int
	engine   *Engine
	source   capture.Source
	injector capture.Injector
	buf      gopacket.SerializeBuffer
	sampler  *log.Sampler

	// observe, when set, sees every result. Used by replay.
	observe func(res *classifier.Result, now time.Time)

	received atomic.Uint64
	injected atomic.Uint64
}

// WorkerStats are per-worker counters.
type WorkerStats struct {
	Received uint64
	Injected uint64
}

// NewWorker creates a worker reading src. When inj is nil cookie redirects
// are counted but not answered.
func (e *Engine) NewWorker(id int, src capture.Source, inj capture.Injector) *Worker {
	return &Worker{
		id:       id,
		engine:   e,
		source:   src,
		injector: inj,
		buf:      gopacket.NewSerializeBuffer(),
		sampler:  log.NewSampler(1, 5),
	}
}

// Stats returns the worker counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{Received: w.received.Load(), Injected: w.injected.Load()}
}

// Run reads until ctx is done or the source is exhausted. It returns nil
// on both; read errors end the worker.
func (w *Worker) Run(ctx context.Context) error {
	link, err := capture.DecoderLink(w.source.LinkType())
	if err != nil {
		return fmt.Errorf("worker %d: %w", w.id, err)
	}
	if link != w.engine.link {
		return fmt.Errorf("worker %d: source link %s does not match engine link %s", w.id, link, w.engine.link)
	}

	for ctx.Err() == nil {
		data, ci, err := w.source.ReadPacketData()
		if err != nil {
			switch {
			case capture.IsTimeout(err):
				continue
			case errors.Is(err, io.EOF):
				return nil
			default:
				return fmt.Errorf("worker %d: read: %w", w.id, err)
			}
		}
		w.handle(data, ci)
	}
	return nil
}

func (w *Worker) handle(frame []byte, ci gopacket.CaptureInfo) {
	w.received.Add(1)
	now := ci.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	res := w.engine.Classify(frame, now)
	if w.observe != nil {
		w.observe(&res, now)
	}
	if res.Verdict != classifier.RedirectToCookie || w.injector == nil {
		return
	}

	if err := w.respond(&res, now); err != nil {
		w.engine.counters.InjectErrors.Add(1)
		if l := w.sampler.Logger(); l != nil {
			l.WithError(err).WithField("worker", w.id).Warn("failed to send syn cookie")
		}
		return
	}
	w.injected.Add(1)
}

func (w *Worker) respond(res *classifier.Result, now time.Time) error {
	if err := w.engine.responder.SynAck(w.buf, *res, now); err != nil {
		return err
	}
	if ti, ok := w.injector.(capture.TimestampedInjector); ok {
		return ti.WritePacketDataAt(w.buf.Bytes(), now)
	}
	return w.injector.WritePacketData(w.buf.Bytes())
}

// Run starts one worker per source and blocks until ctx is done, every
// source is exhausted, or a worker fails, which stops the others. With
// respond set, sources able to transmit answer cookie redirects. Sources
// are closed before Run returns.
func (e *Engine) Run(ctx context.Context, sources []capture.Source, respond bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := log.GetLogger()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i, src := range sources {
		var inj capture.Injector
		if respond {
			inj, _ = capture.InjectorOf(src)
		}
		w := e.NewWorker(i, src, inj)

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.WithField("worker", w.id).WithField("respond", inj != nil).Info("capture worker started")
			if err := w.Run(ctx); err != nil {
				logger.WithError(err).Error("capture worker failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				cancel()
			}
			st := w.Stats()
			logger.WithField("worker", w.id).
				WithField("received", st.Received).
				WithField("injected", st.Injected).
				Info("capture worker stopped")
		}()
	}
	wg.Wait()

	for _, src := range sources {
		if err := src.Close(); err != nil {
			logger.WithError(err).Warn("failed to close capture source")
		}
	}
	return errors.Join(errs...)
}
