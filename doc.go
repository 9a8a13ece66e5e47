/*
RTLDAB is an rtl-sdr monitor for DAB and DAB+ multiplexes. It measures the
quality of a tuned channel and decodes the ensemble's service catalog from an
ETI-NI stream.

Commands:

	rtldab monitor [flags]

Receives from a sample source and emits one measurement per interval.

	rtldab catalog [flags] file.eti...

Decodes the service catalog carried by recorded ETI-NI files.

	rtldab geneti [flags] output.eti

Writes a synthetic ETI-NI stream carrying one audio service.

	rtldab version

Prints the build tag, date and commit.

Monitor Flags:

	-config=""

Reads settings from a yaml file. Flags given on the command line or through
the environment take precedence over the file.

	-source="rtltcp"

Selects the sample source: rtltcp, file or synthetic.

	-server="127.0.0.1:1234"

Address of the rtl_tcp instance. For the file source this is the path of an
8-bit unsigned interleaved IQ recording.

	-centerfreq=225648000

Sets the center frequency. SI suffixes are accepted, 225.648M is channel 12B.

	-samplerate=2048000

Sets the sample rate. Defaults to 2.048MHz, the DAB baseband rate.

	-gain=0

Sets tuner gain in dB, 0 selects automatic gain control.

	-fftsize=2048

Spectrum length in bins, a power of two.

	-interval=1s

Time between measurements.

	-timeout=2s -retries=3 -backoff=250ms

A read that takes longer than timeout is retried up to retries times, waiting
backoff before the first retry and twice as long before each one after. When
the retries are spent the session enters the error state.

	-eti=""

ETI-NI file the service catalog is decoded from. Without it the catalog fields
of each measurement stay empty.

	-http=""

Serves a status api on the given address. Without it monitor exits with an
error when the session fails, with it the api may start a new session:

	GET  /status       session state
	GET  /catalog      latest service catalog
	GET  /measurement  latest measurement
	POST /tune         {"frequency_hz": 227360000}
	POST /start        {"frequency_hz": 225648000}
	POST /stop
	PUT  /parameters   {"fft_size": 4096, "gain": 30, "interval": "500ms"}

	-format="plain"

Sets the measurement output format: plain, csv, json or xml. Plain text has the
form:

	{Time:%s Freq:%s SNR:%.1fdB Signal:%.1fdB Noise:%.1fdB Peak:%s BW:%.0fkHz Sync:%.0f Const:%.0f Offset:%.0fHz BER:%.2e Services:%d Ensemble:%s Errors:%s}

For json and xml output each line is an element, there is no root node.

	-duration=0

Time to run for, 0 for infinite.

	-minsnr=0 -filterid=0xE1C5 -unique

Filters measurements by snr, by ensemble id and by whether the ensemble or
service count changed since the previous measurement.

Every monitor flag may also be given as an environment variable named
RTLDAB_<FLAG>, for example RTLDAB_CENTERFREQ=227.36M.
*/
package main
