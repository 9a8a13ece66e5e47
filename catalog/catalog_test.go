package catalog

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/bemasher/rtldab/fic"
)

func TestEnsembleLabel(t *testing.T) {
	c := New()
	c.Apply(fic.EnsembleLabel{ID: 0xE1C5, Label: fic.Label{Text: "Thai Digital Radio"}})

	s := c.Snapshot()
	if s.Ensemble == nil {
		t.Fatal("expected ensemble")
	}
	if s.Ensemble.ID != 0xE1C5 || s.Ensemble.Label != "Thai Digital Radio" {
		t.Fatalf("unexpected ensemble: %+v", s.Ensemble)
	}
}

func TestEnsemblesByID(t *testing.T) {
	c := New()
	c.Apply(fic.EnsembleLabel{ID: 0x1001, Label: fic.Label{Text: "Thai Digital Radio"}})
	c.Apply(fic.EnsembleInfo{ID: 0xE1C5, CIFCount: 42})
	c.Apply(fic.EnsembleLabel{ID: 0xE1C5, Label: fic.Label{Text: "Thai PBS"}})

	s := c.Snapshot()
	if len(s.Ensembles) != 2 {
		t.Fatalf("expected 2 ensembles, got %+v", s.Ensembles)
	}

	first, ok := s.EnsembleByID(0x1001)
	if !ok || first.Label != "Thai Digital Radio" || first.CIFCount != 0 {
		t.Fatalf("unexpected ensemble 0x1001: %+v %v", first, ok)
	}

	second, ok := s.EnsembleByID(0xE1C5)
	if !ok || second.Label != "Thai PBS" || second.CIFCount != 42 {
		t.Fatalf("unexpected ensemble 0xE1C5: %+v %v", second, ok)
	}

	if s.Ensemble == nil || s.Ensemble.ID != 0xE1C5 {
		t.Fatalf("expected 0xE1C5 current, got %+v", s.Ensemble)
	}

	c.Apply(fic.EnsembleLabel{ID: 0x1001, Label: fic.Label{Text: "Renamed"}})
	if s := c.Snapshot(); s.Ensemble.ID != 0xE1C5 {
		t.Fatalf("label changed current ensemble to %+v", s.Ensemble)
	}
}

func TestSubchannelIdempotent(t *testing.T) {
	c := New()
	sub := fic.SubchannelInfo{ID: 1, StartAddress: 0, TableIndex: 16, Size: 29, ProtectionLevel: 3, Bitrate: 48}

	c.Apply(sub)
	first := c.Snapshot()
	c.Apply(sub)
	second := c.Snapshot()

	if len(second.Subchannels) != 1 {
		t.Fatalf("expected 1 subchannel, got %d", len(second.Subchannels))
	}
	if first.Subchannels[0] != second.Subchannels[0] {
		t.Fatalf("subchannel drifted: %+v != %+v", first.Subchannels[0], second.Subchannels[0])
	}
}

func TestMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := New()

	var services, subchannels int
	for i := 0; i < 1024; i++ {
		var frag fic.Fragment
		switch rng.Intn(4) {
		case 0:
			frag = fic.SubchannelInfo{ID: uint8(rng.Intn(64))}
		case 1:
			frag = fic.ServiceInfo{ID: uint16(rng.Intn(32)), Components: []fic.ServiceComponent{{SubchannelID: uint8(rng.Intn(64))}}}
		case 2:
			frag = fic.ServiceLabel{ID: uint16(rng.Intn(32))}
		case 3:
			frag = fic.EnsembleInfo{ID: 0xE1C5}
		}
		c.Apply(frag)

		svcs, subs := c.Len()
		if svcs < services || subs < subchannels {
			t.Fatalf("catalog shrank after %s: %d/%d -> %d/%d", frag.FIG(), services, subchannels, svcs, subs)
		}
		services, subchannels = svcs, subs
	}
}

func TestServiceLabelBeforeInfo(t *testing.T) {
	c := New()
	c.Apply(fic.ServiceLabel{ID: 0x1001, Label: fic.Label{Text: "Thai PBS Radio"}})
	c.Apply(fic.ServiceInfo{ID: 0x1001, Components: []fic.ServiceComponent{{SubchannelID: 1, Primary: true}}})

	svc, ok := c.Snapshot().Service(0x1001)
	if !ok {
		t.Fatal("expected service")
	}
	if svc.Label != "Thai PBS Radio" || len(svc.Components) != 1 {
		t.Fatalf("unexpected service: %+v", svc)
	}
}

func TestComponentsReplaced(t *testing.T) {
	c := New()
	c.Apply(fic.ServiceInfo{ID: 1, Components: []fic.ServiceComponent{{SubchannelID: 1}, {SubchannelID: 2}}})
	c.Apply(fic.ServiceInfo{ID: 1, Components: []fic.ServiceComponent{{SubchannelID: 3}}})

	svc, _ := c.Snapshot().Service(1)
	if len(svc.Components) != 1 || svc.Components[0].SubchannelID != 3 {
		t.Fatalf("expected components replaced: %+v", svc.Components)
	}
}

func TestResolve(t *testing.T) {
	c := New()
	c.Apply(fic.SubchannelInfo{ID: 1, Bitrate: 48})
	c.Apply(fic.SubchannelInfo{ID: 5, Bitrate: 96})

	s := c.Snapshot()
	if sub, ok := s.Resolve(Component{SubchannelID: 5}); !ok || sub.Bitrate != 96 {
		t.Fatalf("expected subchannel 5, got %+v %v", sub, ok)
	}
	if _, ok := s.Resolve(Component{SubchannelID: 2}); ok {
		t.Fatal("expected subchannel 2 to be unknown")
	}
}

func TestSnapshotIsolated(t *testing.T) {
	c := New()
	c.Apply(fic.ServiceInfo{ID: 1, Components: []fic.ServiceComponent{{SubchannelID: 1}}})

	s := c.Snapshot()
	s.Services[0].Components[0].SubchannelID = 9

	svc, _ := c.Snapshot().Service(1)
	if svc.Components[0].SubchannelID != 1 {
		t.Fatal("snapshot shares state with catalog")
	}
}

func TestResetAndFrequency(t *testing.T) {
	c := New()
	c.SetFrequency(225648000)
	c.Apply(fic.EnsembleInfo{ID: 0xE1C5})
	c.Apply(fic.SubchannelInfo{ID: 1})

	if s := c.Snapshot(); s.Ensemble.Frequency != 225648000 {
		t.Fatalf("expected frequency stamped on ensemble, got %d", s.Ensemble.Frequency)
	}

	c.Reset()
	s := c.Snapshot()
	if s.Ensemble != nil || len(s.Ensembles) != 0 || len(s.Subchannels) != 0 {
		t.Fatalf("expected empty catalog: %+v", s)
	}
}

func TestExport(t *testing.T) {
	c := New()
	c.SetFrequency(225648000)
	c.Apply(fic.EnsembleLabel{ID: 0xE1C5, Label: fic.Label{Text: "Thai PBS"}})
	c.Apply(fic.ServiceInfo{ID: 0x1001, Components: []fic.ServiceComponent{{Type: 63, SubchannelID: 1}}})
	c.Apply(fic.SubchannelInfo{ID: 1, TableIndex: 16})

	buf, err := json.Marshal(c.Snapshot().Export())
	if err != nil {
		t.Fatal(err)
	}

	var rec struct {
		Ensemble struct {
			ID        uint16
			Label     string
			Frequency uint64
		}
		Services []struct {
			ID         uint16
			Components []struct {
				TMID         uint8
				Type         uint8
				SubchannelID uint8 `json:"subchannel_id"`
			}
		}
		Subchannels []struct {
			ID           uint8
			StartAddress uint16 `json:"start_address"`
			TableIndex   uint8  `json:"table_index"`
		}
	}
	if err := json.Unmarshal(buf, &rec); err != nil {
		t.Fatal(err)
	}

	if rec.Ensemble.ID != 0xE1C5 || rec.Ensemble.Label != "Thai PBS" || rec.Ensemble.Frequency != 225648000 {
		t.Fatalf("unexpected ensemble: %s", buf)
	}
	if len(rec.Services) != 1 || rec.Services[0].Components[0].Type != 63 || rec.Services[0].Components[0].SubchannelID != 1 {
		t.Fatalf("unexpected services: %s", buf)
	}
	if len(rec.Subchannels) != 1 || rec.Subchannels[0].TableIndex != 16 {
		t.Fatalf("unexpected subchannels: %s", buf)
	}
}
