// Package config loads monitor settings from YAML and command line flags.
package config

import (
	"flag"
	"fmt"
	"io/ioutil"
	"math"
	"strconv"
	"time"

	"github.com/bemasher/rtltcp/si"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Frequency is a value in Hz which accepts SI suffixes: 225.648M.
type Frequency uint32

func (f Frequency) String() string {
	return strconv.FormatUint(uint64(f), 10)
}

func (f *Frequency) Set(value string) error {
	var sci si.ScientificNotation
	if err := sci.Set(value); err != nil {
		return err
	}
	if sci < 0 || sci > 1<<32-1 {
		return fmt.Errorf("frequency out of range: %s", value)
	}
	*f = Frequency(math.Round(float64(sci)))
	return nil
}

func (f *Frequency) UnmarshalYAML(value *yaml.Node) error {
	return f.Set(value.Value)
}

type Config struct {
	Source   SourceConfig   `yaml:"source"`
	Analysis AnalysisConfig `yaml:"analysis"`
	ETI      ETIConfig      `yaml:"eti"`
	HTTP     HTTPConfig     `yaml:"http"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type SourceConfig struct {
	Type        string    `yaml:"type"`
	Addr        string    `yaml:"addr"`
	FrequencyHz Frequency `yaml:"frequency_hz"`
	SampleRate  Frequency `yaml:"sample_rate"`
	Gain        float64   `yaml:"gain"`
	Loop        bool      `yaml:"loop"`
}

type AnalysisConfig struct {
	FFTSize     int           `yaml:"fft_size"`
	BlockSize   int           `yaml:"block_size"`
	Interval    time.Duration `yaml:"interval"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	Backoff     time.Duration `yaml:"backoff"`
	NoSignalSNR float64       `yaml:"no_signal_snr"`
}

type ETIConfig struct {
	File string `yaml:"file"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type OutputConfig struct {
	Format   string        `yaml:"format"`
	Duration time.Duration `yaml:"duration"`
	MinSNR   float64       `yaml:"min_snr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the settings used for anything not configured: band III
// block 12B at the native DAB sample rate.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Type:        "rtltcp",
			Addr:        "127.0.0.1:1234",
			FrequencyHz: 225648000,
			SampleRate:  2048000,
		},
		Analysis: AnalysisConfig{
			FFTSize:     2048,
			BlockSize:   65536,
			Interval:    time.Second,
			ReadTimeout: 2 * time.Second,
			MaxRetries:  3,
			Backoff:     250 * time.Millisecond,
			NoSignalSNR: 6,
		},
		Output: OutputConfig{
			Format: "plain",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(filename string) (*Config, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config file %s", filename)
	}

	return cfg, cfg.Validate()
}

// RegisterFlags binds flags to the config's fields, flag defaults are the
// config's current values.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Source.Type, "source", c.Source.Type, "sample source: rtltcp, file or synthetic")
	fs.StringVar(&c.Source.Addr, "server", c.Source.Addr, "address of rtl_tcp instance or path of IQ sample file")
	fs.Var(&c.Source.FrequencyHz, "centerfreq", "center frequency to receive on, accepts SI suffixes")
	fs.Var(&c.Source.SampleRate, "samplerate", "sample rate, accepts SI suffixes")
	fs.Float64Var(&c.Source.Gain, "gain", c.Source.Gain, "tuner gain in dB, 0 for automatic")
	fs.BoolVar(&c.Source.Loop, "loop", c.Source.Loop, "rewind sample file at end")

	fs.IntVar(&c.Analysis.FFTSize, "fftsize", c.Analysis.FFTSize, "spectrum length in bins")
	fs.IntVar(&c.Analysis.BlockSize, "blocksize", c.Analysis.BlockSize, "samples analyzed per tick")
	fs.DurationVar(&c.Analysis.Interval, "interval", c.Analysis.Interval, "time between ticks")
	fs.DurationVar(&c.Analysis.ReadTimeout, "timeout", c.Analysis.ReadTimeout, "sample read timeout, 0 to wait forever")
	fs.IntVar(&c.Analysis.MaxRetries, "retries", c.Analysis.MaxRetries, "consecutive read timeouts tolerated")
	fs.DurationVar(&c.Analysis.Backoff, "backoff", c.Analysis.Backoff, "delay before the first retry, doubled for each after")
	fs.Float64Var(&c.Analysis.NoSignalSNR, "nosignal", c.Analysis.NoSignalSNR, "snr in dB below which no signal is reported")

	fs.StringVar(&c.ETI.File, "eti", c.ETI.File, "ETI-NI file to decode the service catalog from")
	fs.StringVar(&c.HTTP.Addr, "http", c.HTTP.Addr, "serve status api on address, empty to disable")

	fs.StringVar(&c.Output.Format, "format", c.Output.Format, "measurement output format: plain, csv, json, or xml")
	fs.DurationVar(&c.Output.Duration, "duration", c.Output.Duration, "time to run for, 0 for infinite, ex. 1h5m10s")
	fs.Float64Var(&c.Output.MinSNR, "minsnr", c.Output.MinSNR, "display only measurements at or above snr in dB")

	fs.StringVar(&c.Logging.Level, "loglevel", c.Logging.Level, "log level: debug, info, warn or error")
}

// Override applies the flags explicitly given on set to c.
func (c *Config) Override(set *flag.FlagSet) (err error) {
	fs := flag.NewFlagSet("override", flag.ContinueOnError)
	c.RegisterFlags(fs)

	set.Visit(func(f *flag.Flag) {
		if err != nil || fs.Lookup(f.Name) == nil {
			return
		}
		err = errors.Wrapf(fs.Set(f.Name, f.Value.String()), "flag %s", f.Name)
	})

	return err
}

func (c *Config) Validate() error {
	switch {
	case c.Source.SampleRate == 0:
		return errors.New("sample rate must be positive")
	case c.Analysis.FFTSize < 16 || c.Analysis.FFTSize&(c.Analysis.FFTSize-1) != 0:
		return errors.Errorf("fft size must be a power of two >= 16: %d", c.Analysis.FFTSize)
	case c.Analysis.BlockSize < c.Analysis.FFTSize:
		return errors.Errorf("block size %d smaller than fft size %d", c.Analysis.BlockSize, c.Analysis.FFTSize)
	case c.Analysis.MaxRetries < 0:
		return errors.Errorf("negative retry count: %d", c.Analysis.MaxRetries)
	case c.Analysis.Backoff < 0 || c.Analysis.Interval < 0 || c.Analysis.ReadTimeout < 0:
		return errors.New("durations must not be negative")
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "log level")
	}

	switch c.Output.Format {
	case "plain", "csv", "json", "xml":
	default:
		return errors.Errorf("invalid output format: %q", c.Output.Format)
	}

	return nil
}

// Log prints the configuration a field at a time.
func (c *Config) Log(log logrus.FieldLogger) {
	log.WithFields(logrus.Fields{
		"Source":     c.Source.Type,
		"Addr":       c.Source.Addr,
		"CenterFreq": uint32(c.Source.FrequencyHz),
		"SampleRate": uint32(c.Source.SampleRate),
		"Gain":       c.Source.Gain,
	}).Info("source")

	log.WithFields(logrus.Fields{
		"FFTSize":     c.Analysis.FFTSize,
		"BlockSize":   c.Analysis.BlockSize,
		"Interval":    c.Analysis.Interval,
		"ReadTimeout": c.Analysis.ReadTimeout,
		"MaxRetries":  c.Analysis.MaxRetries,
		"Backoff":     c.Analysis.Backoff,
	}).Info("analysis")

	if c.ETI.File != "" {
		log.WithField("File", c.ETI.File).Info("eti")
	}
}
