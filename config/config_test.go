package config

import (
	"flag"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	dir, err := ioutil.TempDir("", "rtldab")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "rtldab.yaml")
	if err := ioutil.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
source:
  type: synthetic
  frequency_hz: 227.36M
analysis:
  fft_size: 4096
  read_timeout: 500ms
eti:
  file: capture.eti
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Source.Type != "synthetic" || cfg.Source.FrequencyHz != 227360000 {
		t.Fatalf("unexpected source: %+v", cfg.Source)
	}
	if cfg.Analysis.FFTSize != 4096 || cfg.Analysis.ReadTimeout != 500*time.Millisecond {
		t.Fatalf("unexpected analysis: %+v", cfg.Analysis)
	}
	if cfg.Source.SampleRate != 2048000 || cfg.Analysis.MaxRetries != 3 {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}
	if cfg.ETI.File != "capture.eti" {
		t.Fatalf("unexpected eti: %+v", cfg.ETI)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := writeConfig(t, "analysis:\n  fft_size: 1000\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected invalid fft size to be rejected")
	}
}

func TestOverride(t *testing.T) {
	cli := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cli.RegisterFlags(fs)

	if err := fs.Parse([]string{"-centerfreq", "222.064M", "-retries", "5"}); err != nil {
		t.Fatal(err)
	}
	if cli.Source.FrequencyHz != 222064000 {
		t.Fatalf("unexpected frequency: %d", cli.Source.FrequencyHz)
	}

	file := Default()
	file.Source.FrequencyHz = 227360000
	file.Analysis.FFTSize = 4096

	if err := file.Override(fs); err != nil {
		t.Fatal(err)
	}

	if file.Source.FrequencyHz != 222064000 || file.Analysis.MaxRetries != 5 {
		t.Fatalf("explicit flags didn't win: %+v", file)
	}
	if file.Analysis.FFTSize != 4096 {
		t.Fatalf("unset flag overrode file: %d", file.Analysis.FFTSize)
	}
}

func TestFrequency(t *testing.T) {
	var f Frequency
	for _, tc := range []struct {
		in  string
		out Frequency
	}{
		{"225648000", 225648000},
		{"225.648M", 225648000},
		{"1.5k", 1500},
	} {
		if err := f.Set(tc.in); err != nil {
			t.Fatal(err)
		}
		if f != tc.out {
			t.Fatalf("%s: expected %d got %d", tc.in, tc.out, f)
		}
	}

	if err := f.Set("5G"); err == nil {
		t.Fatal("expected out of range frequency to fail")
	}
}
