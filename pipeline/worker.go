// RTLDAB - An rtl-sdr monitor for DAB and DAB+ multiplexes.
// Copyright (C) 2015 Douglas Hall
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package pipeline

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bemasher/rtldab/catalog"
	"github.com/bemasher/rtldab/eti"
	"github.com/bemasher/rtldab/fic"
	"github.com/bemasher/rtldab/measure"
	"github.com/bemasher/rtldab/quality"
	"github.com/bemasher/rtldab/source"
	"github.com/bemasher/rtldab/spectrum"
)

// frameBuffer is the number of ETI frames read ahead of the worker.
const frameBuffer = 64

type worker struct {
	p      *Pipeline
	sess   *session
	params Params
	log    logrus.FieldLogger

	src     source.Source
	cat     *catalog.Catalog
	dec     *fic.Decoder
	engine  *spectrum.Engine
	block   []complex64
	frames  <-chan eti.Frame
	etiDone <-chan eti.Stats
	eti     eti.Stats

	failures int
	retries  uint64
	last     time.Time
}

func newWorker(p *Pipeline, sess *session, params Params) *worker {
	log := p.log.WithField("session", sess.id)

	return &worker{
		p:      p,
		sess:   sess,
		params: params,
		log:    log,
		cat:    catalog.New(),
		dec:    fic.NewDecoder(log),
		engine: spectrum.NewEngine(params.FFTSize),
		block:  make([]complex64, params.BlockSize),
	}
}

func (w *worker) run(ctx context.Context) {
	defer close(w.sess.done)

	var err error
	w.src, err = source.New(w.params.Source, w.params.SourceParams)
	if err != nil {
		w.fail(ctx, err)
		return
	}
	defer w.src.Close()

	if w.params.ETIFile != "" {
		f, err := os.Open(w.params.ETIFile)
		if err != nil {
			w.fail(ctx, errors.Wrap(err, "open eti"))
			return
		}
		defer f.Close()

		w.frames, w.etiDone = readFrames(ctx, eti.NewReader(f), w.log)
	}

	w.cat.SetFrequency(uint64(w.params.SourceParams.CenterFreq))

	connected := false
	for {
		w.control(ctx)

		err := w.src.ReadBlock(w.block)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			if errors.Cause(err) != source.ErrTimeout || w.failures >= w.params.MaxRetries {
				w.fail(ctx, err)
				return
			}

			w.failures++
			w.retries++
			w.p.emit(ctx, event{session: w.sess.id, kind: evRetry, err: err, failures: w.failures})

			if !sleep(ctx, w.params.Backoff<<uint(w.failures-1)) {
				return
			}
			continue
		}
		w.failures = 0

		if !connected {
			connected = true
			w.p.emit(ctx, event{session: w.sess.id, kind: evConnected})
		}

		r := w.tick()
		w.p.publish(r)
		w.p.emit(ctx, event{
			session:  w.sess.id,
			kind:     evTick,
			noSignal: r.Measurement.SNRDB < w.params.NoSignalSNR,
		})

		if !sleep(ctx, w.params.Interval) {
			return
		}
	}
}

func (w *worker) fail(ctx context.Context, err error) {
	w.p.emit(ctx, event{session: w.sess.id, kind: evFailed, err: err, failures: w.failures})
}

// control applies pending commands from the controller.
func (w *worker) control(ctx context.Context) {
	for {
		select {
		case cmd := <-w.sess.ctl:
			switch cmd.kind {
			case cmdTune:
				if err := w.src.SetCenterFreq(cmd.freq); err != nil {
					w.log.WithError(err).Warn("retune failed")
					continue
				}
				w.params.SourceParams.CenterFreq = cmd.freq
				w.cat.Reset()
				w.cat.SetFrequency(uint64(cmd.freq))
				w.log.WithField("frequency", cmd.freq).Info("retuned")
			case cmdSettings:
				if cmd.settings.Gain != nil {
					if err := w.src.SetGain(*cmd.settings.Gain); err != nil {
						w.log.WithError(err).Warn("set gain failed")
					}
				}
				cmd.settings.apply(&w.params)
				w.engine.SetFFTSize(w.params.FFTSize)
			}
		default:
			return
		}
	}
}

// tick analyzes the current block and folds in every ETI frame that has
// arrived since the last tick.
func (w *worker) tick() Result {
	fs := float64(w.params.SourceParams.SampleRate)
	fc := float64(w.params.SourceParams.CenterFreq)

	st := w.engine.Analyze(w.block, fs, fc).Stats()
	q := quality.Estimate(w.block, fs)

	w.drain()

	snap := w.cat.Snapshot()
	fstats := w.dec.Stats()

	m := measure.New(w.timestamp(), fc, st, q).WithCatalog(snap)
	m.Session = w.sess.id
	m.Errors = w.eti.ShortFrames + fstats.CRCErrors + fstats.Truncated + w.retries

	return Result{
		Measurement: m,
		Catalog:     snap,
		FFTSize:     w.engine.FFTSize,
		ETI:         w.eti,
		FIC:         fstats,
	}
}

func (w *worker) drain() {
	for w.frames != nil {
		select {
		case frame, ok := <-w.frames:
			if !ok {
				w.frames = nil
				stats := <-w.etiDone
				w.eti.ShortFrames = stats.ShortFrames
				w.log.WithFields(logrus.Fields{
					"frames":      stats.Frames,
					"shortFrames": stats.ShortFrames,
				}).Info("eti stream ended")
				return
			}

			w.eti.Frames++
			w.process(frame)
		default:
			return
		}
	}
}

func (w *worker) process(frame eti.Frame) {
	for _, fib := range w.dec.DecodeFIC(frame.FIC) {
		if !fib.Valid {
			continue
		}
		for _, frag := range fib.Fragments {
			w.cat.Apply(frag)
		}
	}
}

// timestamp returns the current time, nudged forward if the clock hasn't
// advanced since the previous measurement.
func (w *worker) timestamp() time.Time {
	ts := time.Now()
	if !ts.After(w.last) {
		ts = w.last.Add(time.Nanosecond)
	}
	w.last = ts
	return ts
}

// readFrames pulls frames into a buffered channel until the stream ends or
// ctx is cancelled. The reader's statistics follow on the second channel
// once the first is closed.
func readFrames(ctx context.Context, r *eti.Reader, log logrus.FieldLogger) (<-chan eti.Frame, <-chan eti.Stats) {
	frames := make(chan eti.Frame, frameBuffer)
	done := make(chan eti.Stats, 1)

	go func() {
		defer func() {
			done <- r.Stats()
		}()
		defer close(frames)

		for {
			frame, err := r.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				log.WithError(err).Warn("eti read failed")
				return
			}

			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	return frames, done
}

// sleep waits for d, returning false if ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
