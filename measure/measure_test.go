package measure

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bemasher/rtldab/catalog"
	"github.com/bemasher/rtldab/csv"
	"github.com/bemasher/rtldab/fic"
	"github.com/bemasher/rtldab/quality"
	"github.com/bemasher/rtldab/spectrum"
)

func sample() Measurement {
	m := New(
		time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		225.648e6,
		spectrum.Stats{SignalStrength: 40, NoiseFloor: 10, SNR: 30, PeakFrequency: 225.650e6, Bandwidth: 1536e3},
		quality.Report{Sync: 90, Constellation: 75, EVM: 0.25, CarrierOffset: -120, BER: 3e-5},
	)

	c := catalog.New()
	c.Apply(fic.EnsembleLabel{ID: 0xE1C5, Label: fic.Label{Text: "Thai PBS"}})
	c.Apply(fic.ServiceInfo{ID: 0x1001})

	return m.WithCatalog(c.Snapshot())
}

func TestNew(t *testing.T) {
	m := sample()

	if m.FrequencyMHz != 225.648 || m.BandwidthKHz != 1536 || m.SNRDB != 30 {
		t.Fatalf("unexpected measurement: %+v", m)
	}
	if m.EnsembleID == nil || *m.EnsembleID != 0xE1C5 || m.EnsembleLabel != "Thai PBS" || m.ServicesFound != 1 {
		t.Fatalf("unexpected catalog fields: %+v", m)
	}
}

func TestCSV(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := csv.NewEncoder(buf)

	m := sample()
	if err := enc.Encode(m); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and record, got %q", buf.String())
	}

	if len(strings.Split(lines[0], ",")) != len(m.Record()) {
		t.Fatalf("header and record lengths differ: %q", buf.String())
	}
	if !strings.Contains(lines[1], "0xE1C5,Thai PBS") {
		t.Fatalf("expected ensemble in record: %q", lines[1])
	}
}

func TestJSONOptional(t *testing.T) {
	m := New(time.Now(), 225.648e6, spectrum.Stats{}, quality.Report{})

	buf, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(buf, []byte("ensemble_id")) {
		t.Fatalf("expected ensemble id omitted: %s", buf)
	}
}

func TestFilterChain(t *testing.T) {
	var fc FilterChain
	if !fc.Match(sample()) {
		t.Fatal("empty chain should match")
	}

	ids := EnsembleIDFilter{make(UintMap)}
	if err := ids.Set("0xE1C5,4097"); err != nil {
		t.Fatal(err)
	}

	fc.Add(MinSNRFilter(20))
	fc.Add(ids)

	m := sample()
	if !fc.Match(m) {
		t.Fatal("expected match")
	}

	m.SNRDB = 10
	if fc.Match(m) {
		t.Fatal("expected snr filter to reject")
	}

	m = sample()
	m.EnsembleID = nil
	if fc.Match(m) {
		t.Fatal("expected ensemble filter to reject unidentified ensemble")
	}
}

func TestChangeFilter(t *testing.T) {
	f := NewChangeFilter()

	m := sample()
	if !f.Filter(m) {
		t.Fatal("expected first measurement to pass")
	}
	if f.Filter(m) {
		t.Fatal("expected repeat to be suppressed")
	}

	m.ServicesFound++
	if !f.Filter(m) {
		t.Fatal("expected change to pass")
	}
}
