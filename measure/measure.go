// Package measure holds the per tick measurement record and the filters
// applied before it is reported.
package measure

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bemasher/rtldab/catalog"
	"github.com/bemasher/rtldab/quality"
	"github.com/bemasher/rtldab/spectrum"
)

const (
	TimeFormat = "2006-01-02T15:04:05.000"
)

type Measurement struct {
	Timestamp time.Time `json:"timestamp" xml:"timestamp,attr"`
	Session   string    `json:"session" xml:"session,attr"`

	FrequencyMHz         float64 `json:"frequency_mhz" xml:"frequency_mhz"`
	SignalStrengthDB     float64 `json:"signal_strength_db" xml:"signal_strength_db"`
	NoiseFloorDB         float64 `json:"noise_floor_db" xml:"noise_floor_db"`
	SNRDB                float64 `json:"snr_db" xml:"snr_db"`
	PeakFrequencyMHz     float64 `json:"peak_frequency_mhz" xml:"peak_frequency_mhz"`
	BandwidthKHz         float64 `json:"bandwidth_khz" xml:"bandwidth_khz"`
	BEREstimate          float64 `json:"ber_estimate" xml:"ber_estimate"`
	SyncQuality          float64 `json:"sync_quality" xml:"sync_quality"`
	ConstellationQuality float64 `json:"constellation_quality" xml:"constellation_quality"`
	CarrierOffsetHz      float64 `json:"carrier_offset_hz" xml:"carrier_offset_hz"`

	ServicesFound int     `json:"services_found" xml:"services_found"`
	EnsembleID    *uint16 `json:"ensemble_id,omitempty" xml:"ensemble_id,omitempty"`
	EnsembleLabel string  `json:"ensemble_label,omitempty" xml:"ensemble_label,omitempty"`

	Errors uint64 `json:"errors" xml:"errors"`
}

// New builds a measurement from the analysis of one sample block.
func New(ts time.Time, centerFreq float64, st spectrum.Stats, q quality.Report) Measurement {
	return Measurement{
		Timestamp:            ts,
		FrequencyMHz:         centerFreq / 1e6,
		SignalStrengthDB:     st.SignalStrength,
		NoiseFloorDB:         st.NoiseFloor,
		SNRDB:                st.SNR,
		PeakFrequencyMHz:     st.PeakFrequency / 1e6,
		BandwidthKHz:         st.Bandwidth / 1e3,
		BEREstimate:          q.BER,
		SyncQuality:          q.Sync,
		ConstellationQuality: q.Constellation,
		CarrierOffsetHz:      q.CarrierOffset,
	}
}

// WithCatalog copies the ensemble identity and service count from a
// snapshot.
func (m Measurement) WithCatalog(s catalog.Snapshot) Measurement {
	m.ServicesFound = len(s.Services)
	m.EnsembleID = nil
	m.EnsembleLabel = ""

	if s.Ensemble != nil {
		id := s.Ensemble.ID
		m.EnsembleID = &id
		m.EnsembleLabel = s.Ensemble.Label
	}

	return m
}

func (m Measurement) String() string {
	ensemble := "none"
	if m.EnsembleID != nil {
		ensemble = fmt.Sprintf("0x%04X %q", *m.EnsembleID, m.EnsembleLabel)
	}

	return fmt.Sprintf("{Time:%s Freq:%s SNR:%.1fdB Signal:%.1fdB Noise:%.1fdB Peak:%s BW:%.0fkHz Sync:%.0f Const:%.0f Offset:%.0fHz BER:%.2e Services:%d Ensemble:%s Errors:%s}",
		m.Timestamp.Format(TimeFormat),
		humanize.SIWithDigits(m.FrequencyMHz*1e6, 3, "Hz"),
		m.SNRDB, m.SignalStrengthDB, m.NoiseFloorDB,
		humanize.SIWithDigits(m.PeakFrequencyMHz*1e6, 3, "Hz"),
		m.BandwidthKHz, m.SyncQuality, m.ConstellationQuality, m.CarrierOffsetHz,
		m.BEREstimate, m.ServicesFound, ensemble, humanize.Comma(int64(m.Errors)),
	)
}

func (m Measurement) Header() []string {
	return []string{
		"timestamp", "session", "frequency_mhz", "signal_strength_db",
		"noise_floor_db", "snr_db", "peak_frequency_mhz", "bandwidth_khz",
		"ber_estimate", "sync_quality", "constellation_quality",
		"carrier_offset_hz", "services_found", "ensemble_id",
		"ensemble_label", "errors",
	}
}

func (m Measurement) Record() (r []string) {
	float := func(f float64) string {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	r = append(r, m.Timestamp.Format(time.RFC3339Nano))
	r = append(r, m.Session)
	r = append(r, float(m.FrequencyMHz))
	r = append(r, float(m.SignalStrengthDB))
	r = append(r, float(m.NoiseFloorDB))
	r = append(r, float(m.SNRDB))
	r = append(r, float(m.PeakFrequencyMHz))
	r = append(r, float(m.BandwidthKHz))
	r = append(r, strconv.FormatFloat(m.BEREstimate, 'e', -1, 64))
	r = append(r, float(m.SyncQuality))
	r = append(r, float(m.ConstellationQuality))
	r = append(r, float(m.CarrierOffsetHz))
	r = append(r, strconv.Itoa(m.ServicesFound))

	if m.EnsembleID != nil {
		r = append(r, fmt.Sprintf("0x%04X", *m.EnsembleID))
	} else {
		r = append(r, "")
	}
	r = append(r, m.EnsembleLabel)
	r = append(r, strconv.FormatUint(m.Errors, 10))

	return r
}

type FilterChain []Filter

func (fc *FilterChain) Add(filter Filter) {
	*fc = append(*fc, filter)
}

func (fc FilterChain) Match(m Measurement) bool {
	if len(fc) == 0 {
		return true
	}

	for _, filter := range fc {
		if !filter.Filter(m) {
			return false
		}
	}

	return true
}

type Filter interface {
	Filter(Measurement) bool
}

// MinSNRFilter passes measurements at or above an SNR in dB.
type MinSNRFilter float64

func (f MinSNRFilter) Filter(m Measurement) bool {
	return m.SNRDB >= float64(f)
}

// UintMap is a set of integers parsed from a comma-separated list. Values
// may be given in decimal or with a 0x prefix.
type UintMap map[uint]bool

func (m UintMap) String() (s string) {
	var values []string
	for k := range m {
		values = append(values, strconv.FormatUint(uint64(k), 10))
	}
	return strings.Join(values, ",")
}

func (m UintMap) Set(value string) error {
	values := strings.Split(value, ",")

	for _, v := range values {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
		if err != nil {
			return err
		}

		m[uint(n)] = true
	}

	return nil
}

// EnsembleIDFilter passes measurements of the listed ensembles. Measurements
// without an identified ensemble are rejected.
type EnsembleIDFilter struct {
	UintMap
}

func (f EnsembleIDFilter) Filter(m Measurement) bool {
	return m.EnsembleID != nil && f.UintMap[uint(*m.EnsembleID)]
}

// ChangeFilter passes a measurement only when the service count or ensemble
// differs from the previous one it saw.
type ChangeFilter struct {
	seen     bool
	services int
	ensemble string
}

func NewChangeFilter() *ChangeFilter {
	return new(ChangeFilter)
}

func (f *ChangeFilter) Filter(m Measurement) bool {
	ensemble := m.EnsembleLabel
	if m.EnsembleID != nil {
		ensemble = fmt.Sprintf("%04X:%s", *m.EnsembleID, m.EnsembleLabel)
	}

	if f.seen && f.services == m.ServicesFound && f.ensemble == ensemble {
		return false
	}

	f.seen, f.services, f.ensemble = true, m.ServicesFound, ensemble
	return true
}
