package golden

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ledwave.dev/timing"
)

func CompareSamples(path string, update bool, dumpDir string, spec timing.Spec, samples []uint16) error {
	bpath := filepath.Base(path)
	if dumpDir != "" {
		fpath := filepath.Join(dumpDir, bpath+".svg")
		if err := dumpSVG(fpath, spec, samples); err != nil {
			return err
		}
	}
	if update {
		buf := new(bytes.Buffer)
		w, err := gzip.NewWriterLevel(buf, gzip.BestCompression)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		w.Write(encodeSamples(samples))
		if err := w.Close(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return os.WriteFile(path, buf.Bytes(), 0o640)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	golden, err := decodeSamples(b)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	mismatches := 0
	n := min(len(samples), len(golden))
	for i := 0; i < n; i++ {
		if samples[i] != golden[i] {
			mismatches++
		}
	}
	if mismatches > 0 || len(samples) != len(golden) {
		if dumpDir != "" {
			fpath := filepath.Join(dumpDir, bpath+".orig.svg")
			if err := dumpSVG(fpath, spec, golden); err != nil {
				return err
			}
		}
		return fmt.Errorf("stream lengths %d, %d, with %d/%d sample mismatches", len(samples), len(golden), mismatches, len(golden))
	}
	return nil
}

// decodeSamples decodes a duty cycle stream from its binary form.
func decodeSamples(enc []byte) ([]uint16, error) {
	if len(enc)%2 != 0 {
		return nil, errors.New("truncated sample stream")
	}
	samples := make([]uint16, len(enc)/2)
	for i := range samples {
		samples[i] = binary.BigEndian.Uint16(enc[2*i:])
	}
	return samples, nil
}

// encodeSamples encodes a duty cycle stream into its binary form.
func encodeSamples(samples []uint16) []byte {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.BigEndian.PutUint16(buf[2*i:], s)
	}
	return buf
}

func Vectorize(f io.Writer, spec timing.Spec, samples []uint16) error {
	const (
		margin = 20
		high   = 10
		low    = 50
	)
	out := bufio.NewWriter(f)

	period := int(spec.Period)
	w, h := len(samples)*period+2*margin, low+2*margin
	fmt.Fprintf(out, "<svg xmlns=\"http://www.w3.org/2000/svg\" viewBox=\"%d %d %d %d\" width=\"%d\" height=\"%d\">\n",
		-margin, 0, w, h, w/4, h)

	fmt.Fprint(out, `<defs><style>
		.trace { fill: none; stroke: #000; stroke-width: 2; stroke-linejoin: miter; }
	</style></defs>`)
	fmt.Fprint(out, `<path class="trace" d="`)
	fmt.Fprintf(out, "M 0 %d", low)
	for i, s := range samples {
		x := i * period
		d := min(int(s), period)
		if d > 0 {
			fmt.Fprintf(out, " L %d %d L %d %d L %d %d", x, high, x+d, high, x+d, low)
		}
		fmt.Fprintf(out, " L %d %d", x+period, low)
	}
	fmt.Fprintln(out, `" />`)
	fmt.Fprintln(out, "</svg>")
	return out.Flush()
}

func dumpSVG(f string, spec timing.Spec, samples []uint16) error {
	buf := new(bytes.Buffer)
	Vectorize(buf, spec, samples)
	return os.WriteFile(f, buf.Bytes(), 0o640)
}
