package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/bemasher/rtldab/fic"
	"github.com/bemasher/rtldab/gen"
	"github.com/bemasher/rtldab/source"
)

// scripted returns the queued errors from successive reads, then succeeds
// or keeps returning final if set.
type scripted struct {
	mu     sync.Mutex
	errs   []error
	final  error
	reads  int
	gains  []float64
	closed bool
}

func (s *scripted) ReadBlock(block []complex64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return s.final
}

func (s *scripted) SetCenterFreq(uint32) error { return nil }

func (s *scripted) SetGain(db float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gains = append(s.gains, db)
	return nil
}

func (s *scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *scripted) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reads
}

func (s *scripted) gainCalls() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]float64(nil), s.gains...)
}

func (s *scripted) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

var (
	scriptMutex sync.Mutex
	scripts     = map[string]*scripted{}
)

func init() {
	source.Register("scripted", func(p source.Params) (source.Source, error) {
		scriptMutex.Lock()
		defer scriptMutex.Unlock()

		s, ok := scripts[p.Addr]
		if !ok {
			return nil, errors.Wrapf(source.ErrUnavailable, "no script %q", p.Addr)
		}
		return s, nil
	})
}

func script(t *testing.T, s *scripted) string {
	scriptMutex.Lock()
	defer scriptMutex.Unlock()

	scripts[t.Name()] = s
	return t.Name()
}

func params(src, addr string) Params {
	return Params{
		Source: src,
		SourceParams: source.Params{
			Addr:       addr,
			CenterFreq: 225648000,
			SampleRate: 2048000,
		},
		FFTSize:     256,
		BlockSize:   4096,
		Interval:    time.Millisecond,
		MaxRetries:  3,
		Backoff:     time.Millisecond,
		NoSignalSNR: 6,
	}
}

func newPipeline(t *testing.T) (*Pipeline, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	p := New(log, params("synthetic", ""))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return p, hook
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitState(t *testing.T, p *Pipeline, state State) {
	t.Helper()
	waitFor(t, state.String(), func() bool { return p.Status().State == state })
}

func waitFailure(t *testing.T, p *Pipeline) error {
	t.Helper()

	select {
	case err := <-p.Failures():
		if p.Status().State != Idle {
			t.Fatalf("failure reported in state %s", p.Status().State)
		}
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failure")
	}
	return nil
}

func transitions(hook *test.Hook) (states []State) {
	for _, e := range hook.AllEntries() {
		if to, ok := e.Data["to"].(State); ok {
			states = append(states, to)
		}
	}
	return
}

func TestLifecycle(t *testing.T) {
	p, hook := newPipeline(t)

	if s := p.Status(); s.State != Idle || !s.NoSignal {
		t.Fatalf("unexpected initial status: %+v", s)
	}

	if err := p.Start(params("synthetic", "")); err != nil {
		t.Fatal(err)
	}
	waitState(t, p, Running)

	if err := p.Start(params("synthetic", "")); errors.Cause(err) != ErrBusy {
		t.Fatalf("expected busy, got %v", err)
	}

	r := <-p.Results()
	if r.Measurement.Session == "" || r.Measurement.Session != p.Status().Session {
		t.Fatalf("unexpected session: %q", r.Measurement.Session)
	}
	if r.Measurement.FrequencyMHz != 225.648 {
		t.Fatalf("unexpected frequency: %f", r.Measurement.FrequencyMHz)
	}

	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
	if state := p.Status().State; state != Idle {
		t.Fatalf("expected idle after stop, got %s", state)
	}

	expected := []State{Connecting, Running, Stopping, Idle}
	got := transitions(hook)
	if len(got) != len(expected) {
		t.Fatalf("expected transitions %v, got %v", expected, got)
	}
	for idx := range expected {
		if got[idx] != expected[idx] {
			t.Fatalf("expected transitions %v, got %v", expected, got)
		}
	}
}

func TestTimestampsIncrease(t *testing.T) {
	p, _ := newPipeline(t)

	prm := params("synthetic", "")
	prm.Interval = 0
	if err := p.Start(prm); err != nil {
		t.Fatal(err)
	}

	var last time.Time
	for idx := 0; idx < 32; idx++ {
		r := <-p.Results()
		if !r.Measurement.Timestamp.After(last) {
			t.Fatalf("result %d: timestamp %s not after %s", idx, r.Measurement.Timestamp, last)
		}
		last = r.Measurement.Timestamp
	}
}

// writeETI writes a capture of one ensemble and service. With clearFC the
// frame characterization fields are all zero.
func writeETI(t *testing.T, clearFC bool) string {
	t.Helper()

	frames, err := gen.Frames(10,
		gen.EnsembleInfo(0xE1C5, 0),
		gen.EnsembleLabel(0xE1C5, "Thai PBS"),
		gen.Subchannels(gen.Subchannel(1, 0, false, 16)),
		gen.Services(gen.Service(0x1001, false, 0, fic.ServiceComponent{Type: 63, SubchannelID: 1, Primary: true})),
		gen.ServiceLabel(0x1001, "Thai PBS Radio"),
	)
	if err != nil {
		t.Fatal(err)
	}

	if clearFC {
		for _, frame := range frames {
			copy(frame[:4], make([]byte, 4))
		}
	}

	dir, err := ioutil.TempDir("", "rtldab")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "capture.eti")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := gen.WriteETI(f, frames); err != nil {
		t.Fatal(err)
	}

	// A trailing partial frame.
	f.Write(make([]byte, 100))

	return path
}

// drainETI waits for the result that follows the end of the ETI stream.
func drainETI(t *testing.T, p *Pipeline) (r Result) {
	t.Helper()

	waitFor(t, "eti stream", func() bool {
		r = <-p.Results()
		return r.ETI.Frames == 10 && r.ETI.ShortFrames == 1
	})
	return r
}

func checkCatalog(t *testing.T, r Result) {
	t.Helper()

	snap := r.Catalog
	if snap.Ensemble == nil || snap.Ensemble.ID != 0xE1C5 || snap.Ensemble.Label != "Thai PBS" {
		t.Fatalf("unexpected ensemble: %+v", snap.Ensemble)
	}
	if len(snap.Services) != 1 {
		t.Fatalf("expected 1 service, got %v", snap.Services)
	}

	svc := snap.Services[0]
	if svc.ID != 0x1001 || svc.Label != "Thai PBS Radio" || len(svc.Components) != 1 {
		t.Fatalf("unexpected service: %+v", svc)
	}

	sub, ok := snap.Resolve(svc.Components[0])
	if !ok || sub.ID != 1 {
		t.Fatalf("expected component resolved to subchannel 1, got %+v %v", sub, ok)
	}

	m := r.Measurement
	if m.ServicesFound != 1 || m.EnsembleID == nil || *m.EnsembleID != 0xE1C5 || m.EnsembleLabel != "Thai PBS" {
		t.Fatalf("unexpected measurement: %+v", m)
	}
	if m.Errors != 1 {
		t.Fatalf("expected the short frame counted as an error, got %d", m.Errors)
	}
	if r.FIC.CRCErrors != 0 || r.FIC.FIBs != 30 {
		t.Fatalf("unexpected fic stats: %+v", r.FIC)
	}
}

func TestEndToEnd(t *testing.T) {
	p, _ := newPipeline(t)

	prm := params("synthetic", "")
	prm.ETIFile = writeETI(t, false)
	if err := p.Start(prm); err != nil {
		t.Fatal(err)
	}

	r := drainETI(t, p)
	checkCatalog(t, r)
	m := r.Measurement

	latest, ok := p.Latest()
	if !ok || latest.Measurement.Session != m.Session {
		t.Fatal("expected latest result")
	}

	if err := p.SetFrequency(227360000); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "retune", func() bool {
		r = <-p.Results()
		return r.Measurement.FrequencyMHz == 227.36
	})
	if r.Catalog.Ensemble != nil || len(r.Catalog.Services) != 0 {
		t.Fatalf("expected catalog reset on retune: %+v", r.Catalog)
	}
	if p.Status().Frequency != 227360000 {
		t.Fatalf("unexpected status frequency: %d", p.Status().Frequency)
	}
}

func TestEndToEndZeroFC(t *testing.T) {
	p, _ := newPipeline(t)

	prm := params("synthetic", "")
	prm.ETIFile = writeETI(t, true)
	if err := p.Start(prm); err != nil {
		t.Fatal(err)
	}

	checkCatalog(t, drainETI(t, p))
}

func TestSourceUnavailable(t *testing.T) {
	p, hook := newPipeline(t)

	s := &scripted{errs: []error{nil, nil}, final: errors.Wrap(source.ErrUnavailable, "device removed")}
	if err := p.Start(params("scripted", script(t, s))); err != nil {
		t.Fatal(err)
	}

	if err := waitFailure(t, p); errors.Cause(err) != source.ErrUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if p.Status().LastError == "" {
		t.Fatal("expected last error in status")
	}

	got := transitions(hook)
	if len(got) < 2 || got[len(got)-2] != Error || got[len(got)-1] != Idle {
		t.Fatalf("expected error then idle, got %v", got)
	}
	if !s.isClosed() {
		t.Fatal("expected source closed")
	}
}

func TestConnectFailure(t *testing.T) {
	p, hook := newPipeline(t)

	if err := p.Start(params("scripted", "missing")); err != nil {
		t.Fatal(err)
	}

	if err := waitFailure(t, p); errors.Cause(err) != source.ErrUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}

	expected := []State{Connecting, Error, Idle}
	got := transitions(hook)
	if len(got) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
	for idx := range expected {
		if got[idx] != expected[idx] {
			t.Fatalf("expected %v, got %v", expected, got)
		}
	}
}

func TestRetry(t *testing.T) {
	p, _ := newPipeline(t)

	timeout := errors.Wrap(source.ErrTimeout, "slow")
	s := &scripted{errs: []error{timeout, timeout, nil, timeout}}
	if err := p.Start(params("scripted", script(t, s))); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "ticks", func() bool { return p.Status().Ticks >= 4 })

	st := p.Status()
	if st.State != Running || st.Failures != 0 {
		t.Fatalf("expected recovery, got %+v", st)
	}

	r, _ := p.Latest()
	if r.Measurement.Errors != 3 {
		t.Fatalf("expected retries counted, got %d", r.Measurement.Errors)
	}
}

func TestRetryExhausted(t *testing.T) {
	p, hook := newPipeline(t)

	s := &scripted{final: errors.Wrap(source.ErrTimeout, "slow")}
	prm := params("scripted", script(t, s))
	prm.MaxRetries = 2
	if err := p.Start(prm); err != nil {
		t.Fatal(err)
	}

	if err := waitFailure(t, p); errors.Cause(err) != source.ErrTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}

	if reads := s.readCount(); reads != 3 {
		t.Fatalf("expected 3 reads, got %d", reads)
	}

	got := transitions(hook)
	if got[len(got)-2] != Error {
		t.Fatalf("expected error state, got %v", got)
	}
}

func TestSetParameters(t *testing.T) {
	p, _ := newPipeline(t)

	s := &scripted{}
	prm := params("scripted", script(t, s))
	prm.Interval = 2 * time.Millisecond
	prm.SourceParams.Gain = 20
	if err := p.Start(prm); err != nil {
		t.Fatal(err)
	}
	waitState(t, p, Running)

	fftSize := 512
	if err := p.SetParameters(Settings{FFTSize: &fftSize}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "fft size", func() bool {
		r := <-p.Results()
		return r.FFTSize == 512
	})

	st := p.Status()
	if st.FFTSize != 512 || st.Gain != 20 || st.Interval != Duration(2*time.Millisecond) {
		t.Fatalf("omitted settings not preserved: %+v", st)
	}
	if gains := s.gainCalls(); len(gains) != 0 {
		t.Fatalf("gain changed without being given: %v", gains)
	}

	gain := 30.0
	if err := p.SetParameters(Settings{Gain: &gain}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "gain", func() bool {
		gains := s.gainCalls()
		return len(gains) == 1 && gains[0] == 30
	})

	if st := p.Status(); st.FFTSize != 512 || st.Gain != 30 {
		t.Fatalf("unexpected settings: %+v", st)
	}

	r := <-p.Results()
	if r.FFTSize != 512 {
		t.Fatalf("fft size reverted to %d", r.FFTSize)
	}
}

func TestDurationJSON(t *testing.T) {
	var settings Settings
	if err := json.Unmarshal([]byte(`{"interval":"1.5s"}`), &settings); err != nil {
		t.Fatal(err)
	}
	if settings.Interval == nil || time.Duration(*settings.Interval) != 1500*time.Millisecond {
		t.Fatalf("unexpected interval: %v", settings.Interval)
	}
	if settings.FFTSize != nil || settings.Gain != nil {
		t.Fatalf("unexpected fields set: %+v", settings)
	}

	if err := json.Unmarshal([]byte(`{"interval":1000}`), &settings); err == nil {
		t.Fatal("expected error for numeric interval")
	}

	b, err := json.Marshal(Status{Interval: Duration(time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(b, []byte(`"interval":"1s"`)) {
		t.Fatalf("unexpected encoding: %s", b)
	}
}

func TestClosed(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := New(log, Params{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	if err := p.Stop(); err != ErrClosed {
		t.Fatalf("expected closed, got %v", err)
	}
	if _, ok := <-p.Results(); ok {
		t.Fatal("expected results closed")
	}
	if _, ok := <-p.Failures(); ok {
		t.Fatal("expected failures closed")
	}
}
