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

// Package pipeline runs monitoring sessions: it reads sample blocks and ETI
// frames, analyzes them and publishes a result per tick.
package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrClosed = errors.New("pipeline closed")
	ErrBusy   = errors.New("pipeline busy")
)

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdTune
	cmdSettings
)

type command struct {
	kind     cmdKind
	params   Params
	freq     uint32
	settings Settings
	reply    chan error
}

type evKind int

const (
	evConnected evKind = iota
	evRetry
	evTick
	evFailed
)

type event struct {
	session  string
	kind     evKind
	err      error
	failures int
	noSignal bool
}

type session struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	ctl    chan command
}

// Pipeline serializes commands through a single controller goroutine, which
// owns the state. Each session's worker is the only writer of its catalog.
type Pipeline struct {
	log logrus.FieldLogger

	cmds     chan command
	events   chan event
	results  chan Result
	failures chan error
	closed   chan struct{}

	// Owned by the controller.
	params  Params
	session *session

	mu     sync.RWMutex
	status Status
	latest *Result
}

func New(log logrus.FieldLogger, params Params) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}

	p := &Pipeline{
		log:      log.WithField("component", "pipeline"),
		cmds:     make(chan command),
		events:   make(chan event, 16),
		results:  make(chan Result, 16),
		failures: make(chan error, 4),
		closed:   make(chan struct{}),
		params:   params,
		status: Status{
			State:     Idle,
			Source:    params.Source,
			Frequency: params.SourceParams.CenterFreq,
			NoSignal:  true,
		},
	}
	p.status.settings(params)

	return p
}

// Results delivers one result per tick. It is closed when Run returns. Slow
// consumers lose the oldest results.
func (p *Pipeline) Results() <-chan Result {
	return p.results
}

// Failures delivers the error that ended each failed session, after the
// session has returned to Idle. It is closed when Run returns.
func (p *Pipeline) Failures() <-chan error {
	return p.failures
}

// Latest returns the most recent result.
func (p *Pipeline) Latest() (Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.latest == nil {
		return Result{}, false
	}
	return *p.latest, true
}

func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status
}

// Run is the controller loop. It stops any running session and returns when
// ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.failures)
	defer close(p.results)
	defer close(p.closed)

	for {
		select {
		case <-ctx.Done():
			p.stop()
			return
		case cmd := <-p.cmds:
			cmd.reply <- p.handle(cmd)
		case ev := <-p.events:
			p.handleEvent(ev)
		}
	}
}

func (p *Pipeline) do(cmd command) error {
	cmd.reply = make(chan error, 1)

	select {
	case p.cmds <- cmd:
	case <-p.closed:
		return ErrClosed
	}

	return <-cmd.reply
}

// Start opens a new session. The source is connected asynchronously, watch
// Status for the transition to Running.
func (p *Pipeline) Start(params Params) error {
	return p.do(command{kind: cmdStart, params: params})
}

// Stop ends the session after its in-flight tick.
func (p *Pipeline) Stop() error {
	return p.do(command{kind: cmdStop})
}

// SetFrequency retunes the source, the catalog is cleared.
func (p *Pipeline) SetFrequency(hz uint32) error {
	return p.do(command{kind: cmdTune, freq: hz})
}

func (p *Pipeline) SetParameters(s Settings) error {
	return p.do(command{kind: cmdSettings, settings: s})
}

func (p *Pipeline) handle(cmd command) error {
	switch cmd.kind {
	case cmdStart:
		if state := p.Status().State; state != Idle {
			return errors.Wrapf(ErrBusy, "start in state %s", state)
		}
		p.start(cmd.params)
	case cmdStop:
		p.stop()
	case cmdTune:
		p.params.SourceParams.CenterFreq = cmd.freq
		p.update(func(s *Status) { s.Frequency = cmd.freq })
		p.forward(cmd)
	case cmdSettings:
		cmd.settings.apply(&p.params)
		p.update(func(s *Status) { s.settings(p.params) })
		p.forward(cmd)
	}

	return nil
}

// forward hands a command to the running worker.
func (p *Pipeline) forward(cmd command) {
	if p.session == nil {
		return
	}

	select {
	case p.session.ctl <- cmd:
	case <-p.session.done:
	}
}

func (p *Pipeline) start(params Params) {
	p.params = params

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:     uuid.New().String(),
		cancel: cancel,
		done:   make(chan struct{}),
		ctl:    make(chan command, 8),
	}
	p.session = sess

	p.update(func(s *Status) {
		s.Session = sess.id
		s.Source = params.Source
		s.Frequency = params.SourceParams.CenterFreq
		s.LastError = ""
		s.Failures = 0
		s.NoSignal = true
		s.Ticks = 0
		s.settings(params)
	})
	p.transition(Connecting)

	w := newWorker(p, sess, params)
	go w.run(ctx)
}

// stop cancels the session and waits for its worker to release the source.
func (p *Pipeline) stop() {
	sess := p.session
	if sess == nil {
		return
	}

	if p.Status().State != Error {
		p.transition(Stopping)
	}

	sess.cancel()
	<-sess.done
	p.session = nil

	p.update(func(s *Status) { s.NoSignal = true })
	p.transition(Idle)
}

func (p *Pipeline) handleEvent(ev event) {
	if p.session == nil || ev.session != p.session.id {
		return
	}

	switch ev.kind {
	case evConnected:
		p.transition(Running)
	case evRetry:
		p.log.WithFields(logrus.Fields{
			"session":  ev.session,
			"failures": ev.failures,
		}).WithError(ev.err).Warn("sample read failed, retrying")
		p.update(func(s *Status) {
			s.Failures = ev.failures
			s.NoSignal = true
			s.LastError = ev.err.Error()
		})
	case evTick:
		p.update(func(s *Status) {
			s.Failures = 0
			s.NoSignal = ev.noSignal
			s.Ticks++
		})
	case evFailed:
		p.log.WithField("session", ev.session).WithError(ev.err).Error("session failed")
		p.update(func(s *Status) {
			s.LastError = ev.err.Error()
			s.Failures = ev.failures
		})
		p.transition(Error)
		p.stop()

		select {
		case p.failures <- ev.err:
		default:
			p.log.WithError(ev.err).Debug("failure dropped, no reader")
		}
	}
}

func (p *Pipeline) update(fn func(*Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn(&p.status)
}

func (p *Pipeline) transition(to State) {
	p.mu.Lock()
	from := p.status.State
	p.status.State = to
	session := p.status.Session
	p.mu.Unlock()

	if from != to {
		p.log.WithFields(logrus.Fields{
			"session": session,
			"from":    from,
			"to":      to,
		}).Info("state")
	}
}

// publish records r as the latest result and queues it for Results,
// displacing the oldest queued result if the queue is full.
func (p *Pipeline) publish(r Result) {
	p.mu.Lock()
	p.latest = &r
	p.mu.Unlock()

	select {
	case p.results <- r:
		return
	default:
	}

	select {
	case <-p.results:
	default:
	}

	select {
	case p.results <- r:
	default:
	}
}

// emit reports an event to the controller unless the session has been
// cancelled.
func (p *Pipeline) emit(ctx context.Context, ev event) {
	select {
	case p.events <- ev:
	case <-ctx.Done():
	}
}
