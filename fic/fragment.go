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

package fic

import (
	"fmt"
	"strconv"
)

// A Fragment is one piece of multiplex configuration carried by a FIG.
type Fragment interface {
	FIG() string
}

// EnsembleInfo is carried by FIG 0/0.
type EnsembleInfo struct {
	ID          uint16
	ChangeFlags uint8
	Alarm       bool
	CIFCount    uint16
}

func (EnsembleInfo) FIG() string { return "0/0" }

func (e EnsembleInfo) String() string {
	return fmt.Sprintf("{ID:0x%04X Change:%d Alarm:%t CIF:%d}", e.ID, e.ChangeFlags, e.Alarm, e.CIFCount)
}

// SubchannelInfo is one FIG 0/1 record. Short form records reference the
// UEP table by index, long form records carry their own size.
type SubchannelInfo struct {
	ID           uint8
	StartAddress uint16

	LongForm    bool
	TableSwitch bool
	TableIndex  uint8

	Option          uint8
	ProtectionLevel uint8
	Size            uint16
	Bitrate         uint16
}

func (SubchannelInfo) FIG() string { return "0/1" }

func (s SubchannelInfo) String() string {
	if s.LongForm {
		return fmt.Sprintf("{ID:%2d Start:%4d EEP-%c%d Size:%3d Bitrate:%3d}",
			s.ID, s.StartAddress, 'A'+s.Option, s.ProtectionLevel, s.Size, s.Bitrate,
		)
	}
	return fmt.Sprintf("{ID:%2d Start:%4d UEP:%2d Switch:%t Size:%3d Bitrate:%3d}",
		s.ID, s.StartAddress, s.TableIndex, s.TableSwitch, s.Size, s.Bitrate,
	)
}

// ServiceComponent is one component record of a FIG 0/2 service.
type ServiceComponent struct {
	TMID         uint8
	Type         uint8
	SubchannelID uint8
	Primary      bool
	CAFlag       bool
}

// ServiceInfo is one FIG 0/2 service record with its complete component
// list.
type ServiceInfo struct {
	ID         uint16
	Local      bool
	CAID       uint8
	Components []ServiceComponent
}

func (ServiceInfo) FIG() string { return "0/2" }

func (s ServiceInfo) String() string {
	return fmt.Sprintf("{ID:0x%04X Local:%t CAID:%d Components:%+v}", s.ID, s.Local, s.CAID, s.Components)
}

// Label is the text shared by FIG 1 extensions.
type Label struct {
	Charset uint8
	Text    string
	Short   string
}

func (l Label) String() string {
	return strconv.Quote(l.Text) + "/" + strconv.Quote(l.Short)
}

// EnsembleLabel is carried by FIG 1/0.
type EnsembleLabel struct {
	ID uint16
	Label
}

func (EnsembleLabel) FIG() string { return "1/0" }

// ServiceLabel is carried by FIG 1/1.
type ServiceLabel struct {
	ID uint16
	Label
}

func (ServiceLabel) FIG() string { return "1/1" }
