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

package catalog

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// Snapshot is an immutable copy of a Catalog. Ensemble is the current
// ensemble, Ensembles holds every one seen.
type Snapshot struct {
	Frequency   uint64
	Ensemble    *Ensemble
	Ensembles   []Ensemble
	Services    []Service
	Subchannels []Subchannel
}

// Resolve follows a component's sub-channel reference. A missing sub-channel
// hasn't been announced yet.
func (s Snapshot) Resolve(comp Component) (Subchannel, bool) {
	idx := sort.Search(len(s.Subchannels), func(i int) bool {
		return s.Subchannels[i].ID >= comp.SubchannelID
	})
	if idx < len(s.Subchannels) && s.Subchannels[idx].ID == comp.SubchannelID {
		return s.Subchannels[idx], true
	}
	return Subchannel{}, false
}

func (s Snapshot) EnsembleByID(id uint16) (Ensemble, bool) {
	for _, e := range s.Ensembles {
		if e.ID == id {
			return e, true
		}
	}
	return Ensemble{}, false
}

func (s Snapshot) Service(id uint16) (Service, bool) {
	for _, svc := range s.Services {
		if svc.ID == id {
			return svc, true
		}
	}
	return Service{}, false
}

// Export is the serializable form of a snapshot.
type Export struct {
	XMLName     xml.Name     `json:"-" xml:"catalog"`
	Ensemble    *Ensemble    `json:"ensemble" xml:"ensemble,omitempty"`
	Ensembles   []Ensemble   `json:"ensembles" xml:"ensembles>ensemble"`
	Services    []Service    `json:"services" xml:"service"`
	Subchannels []Subchannel `json:"subchannels" xml:"subchannel"`
}

func (s Snapshot) Export() Export {
	e := Export{
		Ensemble:    s.Ensemble,
		Ensembles:   s.Ensembles,
		Services:    s.Services,
		Subchannels: s.Subchannels,
	}

	if e.Ensemble == nil && s.Frequency != 0 {
		e.Ensemble = &Ensemble{Frequency: s.Frequency}
	}

	return e
}

func (s Snapshot) String() string {
	var b strings.Builder

	freq := humanize.SIWithDigits(float64(s.Frequency), 3, "Hz")
	if s.Ensemble != nil {
		fmt.Fprintf(&b, "Ensemble 0x%04X %q @ %s\n", s.Ensemble.ID, s.Ensemble.Label, freq)
	} else {
		fmt.Fprintf(&b, "Ensemble unknown @ %s\n", freq)
	}

	for _, svc := range s.Services {
		fmt.Fprintf(&b, "  Service 0x%04X %-16q\n", svc.ID, svc.Label)
		for _, comp := range svc.Components {
			sub, ok := s.Resolve(comp)
			if !ok {
				fmt.Fprintf(&b, "    SubCh %2d unresolved\n", comp.SubchannelID)
				continue
			}
			fmt.Fprintf(&b, "    SubCh %2d start %4d size %3d CU %3d kbps\n", sub.ID, sub.StartAddress, sub.Size, sub.Bitrate)
		}
	}

	return b.String()
}
