package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
	"ledwave.dev/profile"
	"ledwave.dev/timing"
	"ledwave.dev/uf2"
)

func TestPackUnpack(t *testing.T) {
	const in = `name: desk
variant: sk6812rgbw
pixels: 144
brightness: 80
`
	blob := exec(t, []byte(in), "pack")
	p, err := profile.Decode(blob)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "desk" || p.Variant != timing.SK6812RGBW || p.Pixels != 144 || p.Brightness != 80 {
		t.Errorf("packed blob decoded to %+v", p)
	}
	out := exec(t, blob, "unpack")
	var y profileYAML
	if err := yaml.Unmarshal(out, &y); err != nil {
		t.Fatal(err)
	}
	if y.Name != "desk" || y.Variant != "sk6812rgbw" || y.Pixels != 144 || y.Brightness != 80 {
		t.Errorf("unpacked to %+v", y)
	}
	if y.Timing != nil {
		t.Errorf("unpacked custom timing %+v, expected none", y.Timing)
	}
}

func TestPackCustomTiming(t *testing.T) {
	const in = `name: prototype
variant: ws2812
pixels: 30
timing:
  period_ns: 1300
  t0_high_ns: 350
  t1_high_ns: 750
  reset_ns: 60000
  order: rgb
`
	blob := exec(t, []byte(in), "pack")
	p, err := profile.Decode(blob)
	if err != nil {
		t.Fatal(err)
	}
	tm := p.Timing()
	want := timing.Timing{Period: 1300, T0High: 350, T1High: 750, Reset: 60000, Order: timing.RGB}
	if tm != want {
		t.Errorf("resolved timing %+v, expected %+v", tm, want)
	}
	out := exec(t, blob, "unpack")
	var y profileYAML
	if err := yaml.Unmarshal(out, &y); err != nil {
		t.Fatal(err)
	}
	if y.Timing == nil || y.Timing.PeriodNs != 1300 || y.Timing.Order != "rgb" {
		t.Errorf("unpacked custom timing %+v", y.Timing)
	}
}

func TestPackRejects(t *testing.T) {
	if _, err := execErr([]byte("pixels: 10\n"), "pack"); err == nil {
		t.Error("profile without a variant not rejected")
	}
	if _, err := execErr([]byte("variant: ws9999\npixels: 10\n"), "pack"); err == nil {
		t.Error("unknown variant not rejected")
	}
	if _, err := execErr([]byte("variant: ws2812b\npixels: 0\n"), "pack"); err == nil {
		t.Error("zero pixel count not rejected")
	}
}

func TestUnpackRejectsGarbage(t *testing.T) {
	if _, err := execErr([]byte("not a profile"), "unpack"); err == nil {
		t.Error("garbage blob not rejected")
	}
}

func TestPackUF2(t *testing.T) {
	const in = `name: cube
variant: ws2812b
pixels: 64
`
	img := exec(t, []byte(in), "pack -uf2 -addr 0x10040000")
	if len(img) == 0 || len(img)%512 != 0 {
		t.Fatalf("UF2 image of %d bytes", len(img))
	}
	if !uf2.Sniff(img) {
		t.Error("packed image does not sniff as UF2")
	}
	_, addr, err := uf2.Decode(img, uf2.FamilyRP2040)
	if err != nil {
		t.Fatal(err)
	}
	if addr != 0x10040000 {
		t.Errorf("image targets %#x, expected 0x10040000", addr)
	}
	out := exec(t, img, "unpack")
	var y profileYAML
	if err := yaml.Unmarshal(out, &y); err != nil {
		t.Fatal(err)
	}
	if y.Name != "cube" || y.Variant != "ws2812b" || y.Pixels != 64 {
		t.Errorf("unpacked to %+v", y)
	}
}

func TestPackUF2Rejects(t *testing.T) {
	if _, err := execErr([]byte("variant: ws2812b\npixels: 1\n"), "pack -uf2 -addr nope"); err == nil {
		t.Error("invalid flash address not rejected")
	}
}

func TestRunSim(t *testing.T) {
	out := exec(t, nil, "run -backend sim -pattern rainbow -variant ws2812b -pixels 7 -frames 3 -fps 1000 -preview=false")
	if len(out) != 0 {
		t.Errorf("headless run wrote %q to stdout", out)
	}
}

func TestRunSimPreview(t *testing.T) {
	out := string(exec(t, nil, "run -backend sim -pattern solid -color 102030 -variant ws2812b -pixels 2 -frames 1 -fps 1000 -preview=true"))
	if !strings.Contains(out, "\x1b[48;2;16;32;48m") {
		t.Errorf("preview output %q does not show the solid color", out)
	}
}

func TestRunSimWhite(t *testing.T) {
	out := string(exec(t, nil, "run -backend sim -pattern white -variant sk6812rgbw -pixels 1 -frames 1 -fps 1000 -preview=true"))
	if !strings.Contains(out, "\x1b[48;2;255;255;255m") {
		t.Errorf("preview output %q does not show the white channel", out)
	}
}

func TestRunSimSparkle(t *testing.T) {
	out := string(exec(t, nil, "run -backend sim -pattern sparkle -color c06030 -variant ws2812b -pixels 1 -frames 1 -fps 1000 -preview=true"))
	if !strings.Contains(out, "\x1b[48;2;192;96;48m") {
		t.Errorf("preview output %q does not show an ignited pixel", out)
	}
}

func TestRunConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := "pixels: 3\npattern: wipe\ncolor: \"00ff00\"\n"
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	exec(t, nil, "run -config %s -backend sim -variant ws2812b -frames 2 -fps 1000 -preview=false", path)
}

func TestRunRejects(t *testing.T) {
	tests := []string{
		"run -backend warp -frames 1",
		"run -backend sim -pattern plaid -frames 1",
		"run -backend sim -pattern white -variant ws2812b -frames 1",
		"run -backend sim -variant ws9999 -frames 1",
		"run -backend sim -variant ws2812b -pixels 0 -frames 1",
		"run -backend sim -variant ws2812b -pixels 4 -color zz -frames 1",
		"run -backend sim -variant ws2812b -pixels 4 -color ff4000 -fps 0 -frames 1",
	}
	for _, cmdline := range tests {
		if _, err := execErr(nil, cmdline); err == nil {
			t.Errorf("'ledwave %s' did not fail", cmdline)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, err := execErr(nil, "blink"); err == nil {
		t.Error("unknown command not rejected")
	}
	if err := run(new(bytes.Buffer), bytes.NewReader(nil), nil); err == nil {
		t.Error("missing command not rejected")
	}
}

func exec(t *testing.T, stdin []byte, cmd string, args ...any) []byte {
	t.Helper()
	cmdline := fmt.Sprintf(cmd, args...)
	stdout, err := execErr(stdin, cmdline)
	if err != nil {
		t.Fatalf("'ledwave %s' reported '%v'", cmdline, err)
	}
	return stdout
}

func execErr(stdin []byte, cmd string) ([]byte, error) {
	stdout := new(bytes.Buffer)
	err := run(stdout, bytes.NewReader(stdin), strings.Split(cmd, " "))
	return stdout.Bytes(), err
}
