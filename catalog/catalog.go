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

// Package catalog accumulates the multiplex structure announced in the FIC:
// the ensemble, its services and their sub-channels.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bemasher/rtldab/fic"
)

type Ensemble struct {
	ID          uint16 `json:"id" xml:"id,attr"`
	Label       string `json:"label" xml:"label"`
	ShortLabel  string `json:"short_label,omitempty" xml:"short_label,omitempty"`
	Frequency   uint64 `json:"frequency" xml:"frequency"`
	ChangeFlags uint8  `json:"change_flags" xml:"change_flags"`
	Alarm       bool   `json:"alarm" xml:"alarm"`
	CIFCount    uint16 `json:"cif_count" xml:"cif_count"`
}

type Component struct {
	TMID         uint8 `json:"tmid" xml:"tmid,attr"`
	Type         uint8 `json:"type" xml:"type,attr"`
	SubchannelID uint8 `json:"subchannel_id" xml:"subchannel_id,attr"`
	Primary      bool  `json:"primary" xml:"primary,attr"`
	CAFlag       bool  `json:"ca_flag" xml:"ca_flag,attr"`
}

type Service struct {
	ID         uint16      `json:"id" xml:"id,attr"`
	Label      string      `json:"label" xml:"label"`
	ShortLabel string      `json:"short_label,omitempty" xml:"short_label,omitempty"`
	Local      bool        `json:"local" xml:"local"`
	CAID       uint8       `json:"ca_id" xml:"ca_id"`
	Components []Component `json:"components" xml:"component"`
}

func (s Service) String() string {
	var comps []string
	for _, c := range s.Components {
		comps = append(comps, fmt.Sprintf("%d", c.SubchannelID))
	}
	return fmt.Sprintf("{ID:0x%04X Label:%q Subchannels:[%s]}", s.ID, s.Label, strings.Join(comps, " "))
}

type Subchannel struct {
	ID              uint8  `json:"id" xml:"id,attr"`
	StartAddress    uint16 `json:"start_address" xml:"start_address"`
	TableSwitch     bool   `json:"table_switch" xml:"table_switch"`
	TableIndex      uint8  `json:"table_index" xml:"table_index"`
	LongForm        bool   `json:"long_form" xml:"long_form"`
	Option          uint8  `json:"option,omitempty" xml:"option,omitempty"`
	ProtectionLevel uint8  `json:"protection_level" xml:"protection_level"`
	Size            uint16 `json:"size_cu" xml:"size_cu"`
	Bitrate         uint16 `json:"bitrate_kbps" xml:"bitrate_kbps"`
}

// Catalog is owned by a single writer. Readers get copies from Snapshot.
type Catalog struct {
	frequency   uint64
	ensembles   map[uint16]*Ensemble
	current     *Ensemble
	services    map[uint16]*Service
	subchannels map[uint8]*Subchannel
}

func New() *Catalog {
	c := new(Catalog)
	c.Reset()
	return c
}

// Reset forgets everything but the frequency.
func (c *Catalog) Reset() {
	c.ensembles = make(map[uint16]*Ensemble)
	c.current = nil
	c.services = make(map[uint16]*Service)
	c.subchannels = make(map[uint8]*Subchannel)
}

// SetFrequency stamps the frequency the multiplex was received on.
func (c *Catalog) SetFrequency(hz uint64) {
	c.frequency = hz
	for _, e := range c.ensembles {
		e.Frequency = hz
	}
}

// ensemble returns the entry for id, creating it if needed. The first
// ensemble seen becomes current until an EnsembleInfo names another.
func (c *Catalog) ensemble(id uint16) *Ensemble {
	e, ok := c.ensembles[id]
	if !ok {
		e = &Ensemble{ID: id, Frequency: c.frequency}
		c.ensembles[id] = e
	}
	if c.current == nil {
		c.current = e
	}
	return e
}

func (c *Catalog) service(id uint16) *Service {
	svc, ok := c.services[id]
	if !ok {
		svc = &Service{ID: id}
		c.services[id] = svc
	}
	return svc
}

// Apply merges a decoded fragment. The latest observation of each natural
// key wins, entries are never removed.
func (c *Catalog) Apply(frag fic.Fragment) {
	switch f := frag.(type) {
	case fic.EnsembleInfo:
		e := c.ensemble(f.ID)
		c.current = e
		e.ChangeFlags = f.ChangeFlags
		e.Alarm = f.Alarm
		e.CIFCount = f.CIFCount
	case fic.EnsembleLabel:
		e := c.ensemble(f.ID)
		e.Label = f.Text
		e.ShortLabel = f.Short
	case fic.SubchannelInfo:
		c.subchannels[f.ID] = &Subchannel{
			ID:              f.ID,
			StartAddress:    f.StartAddress,
			TableSwitch:     f.TableSwitch,
			TableIndex:      f.TableIndex,
			LongForm:        f.LongForm,
			Option:          f.Option,
			ProtectionLevel: f.ProtectionLevel,
			Size:            f.Size,
			Bitrate:         f.Bitrate,
		}
	case fic.ServiceInfo:
		svc := c.service(f.ID)
		svc.Local = f.Local
		svc.CAID = f.CAID
		svc.Components = make([]Component, len(f.Components))
		for idx, comp := range f.Components {
			svc.Components[idx] = Component(comp)
		}
	case fic.ServiceLabel:
		svc := c.service(f.ID)
		svc.Label = f.Text
		svc.ShortLabel = f.Short
	}
}

// Len reports the number of services and sub-channels.
func (c *Catalog) Len() (services, subchannels int) {
	return len(c.services), len(c.subchannels)
}

// Snapshot returns a deep copy of the catalog with services and sub-channels
// ordered by id.
func (c *Catalog) Snapshot() Snapshot {
	s := Snapshot{
		Frequency:   c.frequency,
		Ensembles:   make([]Ensemble, 0, len(c.ensembles)),
		Services:    make([]Service, 0, len(c.services)),
		Subchannels: make([]Subchannel, 0, len(c.subchannels)),
	}

	if c.current != nil {
		e := *c.current
		s.Ensemble = &e
	}

	for _, e := range c.ensembles {
		s.Ensembles = append(s.Ensembles, *e)
	}
	sort.Slice(s.Ensembles, func(i, j int) bool { return s.Ensembles[i].ID < s.Ensembles[j].ID })

	for _, svc := range c.services {
		cp := *svc
		cp.Components = append([]Component(nil), svc.Components...)
		s.Services = append(s.Services, cp)
	}
	sort.Slice(s.Services, func(i, j int) bool { return s.Services[i].ID < s.Services[j].ID })

	for _, sub := range c.subchannels {
		s.Subchannels = append(s.Subchannels, *sub)
	}
	sort.Slice(s.Subchannels, func(i, j int) bool { return s.Subchannels[i].ID < s.Subchannels[j].ID })

	return s
}
