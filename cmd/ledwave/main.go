// Command ledwave drives addressable LED strips for bring-up and
// diagnostics. The run command renders test patterns to a
// simulated strip or to one wired to a SPI port; pack and unpack
// convert strip profiles between YAML and the binary form stored
// on provisioned devices.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"ledwave.dev/driver/spiled"
	"ledwave.dev/pixel"
	"ledwave.dev/profile"
	"ledwave.dev/strip"
	"ledwave.dev/timing"
	"ledwave.dev/uf2"
	"ledwave.dev/waveform"
	"ledwave.dev/xoshiro256"
	"periph.io/x/conn/v3/physic"
)

var (
	runFlags      = flag.NewFlagSet("run", flag.ExitOnError)
	runConfig     = runFlags.String("config", "", "path to a YAML config overriding flag defaults")
	runBackend    = runFlags.String("backend", "sim", "output backend: sim | spi")
	runPort       = runFlags.String("port", "", "SPI port name, empty for the first available")
	runVariant    = runFlags.String("variant", "ws2812b", "strip variant (ws2812, ws2812b, sk6812, sk6812rgbw)")
	runPixels     = runFlags.Int("pixels", 8, "number of LEDs on the strip")
	runPattern    = runFlags.String("pattern", "rainbow", "pattern: rainbow | wipe | solid | sparkle | white")
	runColor      = runFlags.String("color", "ff4000", "hex color for the wipe, solid and sparkle patterns")
	runFPS        = runFlags.Int("fps", 30, "frames per second")
	runFrames     = runFlags.Int("frames", 0, "number of frames to send, 0 to run until interrupted")
	runBrightness = runFlags.Int("brightness", 100, "brightness percentage, 0-100")
	runSeed       = runFlags.Uint64("seed", 1, "seed for the sparkle pattern")
	runPreview    = runFlags.Bool("preview", true, "render the sim backend to the terminal")

	packFlags = flag.NewFlagSet("pack", flag.ExitOnError)
	packUF2   = packFlags.Bool("uf2", false, "wrap the blob in a UF2 image for the RP2040 bootloader")
	packAddr  = packFlags.String("addr", "0x101ff000", "flash address of the profile in the UF2 image")

	unpackFlags = flag.NewFlagSet("unpack", flag.ExitOnError)
)

func main() {
	if err := run(os.Stdout, os.Stdin, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ledwave: %v\n", err)
		os.Exit(2)
	}
}

func run(stdout io.Writer, stdin io.Reader, args []string) error {
	if len(args) == 0 {
		return errors.New("missing command (run, pack, unpack)")
	}
	cmd := args[0]
	args = args[1:]
	switch cmd {
	case "run":
		if err := runFlags.Parse(args); err != nil {
			runFlags.Usage()
		}
		return runPatterns(stdout)
	case "pack":
		if err := packFlags.Parse(args); err != nil {
			packFlags.Usage()
		}
		return pack(stdout, stdin)
	case "unpack":
		if err := unpackFlags.Parse(args); err != nil {
			unpackFlags.Usage()
		}
		return unpack(stdout, stdin)
	default:
		return fmt.Errorf("unknown command: %q", cmd)
	}
}

// config mirrors the run flags that make sense to persist.
type config struct {
	Backend    string `yaml:"backend"`
	Port       string `yaml:"port"`
	Variant    string `yaml:"variant"`
	Pixels     int    `yaml:"pixels"`
	Pattern    string `yaml:"pattern"`
	Color      string `yaml:"color"`
	FPS        int    `yaml:"fps"`
	Brightness int    `yaml:"brightness"`
}

func loadConfig(path string) (*config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// output is a sink for rendered frames, either the strip engine on
// a simulated transfer pair or a SPI wired strip.
type output interface {
	show(f *pixel.Frame, opts waveform.Options) error
	close() error
}

func runPatterns(stdout io.Writer) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	backend, port := *runBackend, *runPort
	variantName, patternName, colorHex := *runVariant, *runPattern, *runColor
	pixels, fps, brightness := *runPixels, *runFPS, *runBrightness
	if *runConfig != "" {
		c, err := loadConfig(*runConfig)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if c.Backend != "" {
			backend = c.Backend
		}
		if c.Port != "" {
			port = c.Port
		}
		if c.Variant != "" {
			variantName = c.Variant
		}
		if c.Pattern != "" {
			patternName = c.Pattern
		}
		if c.Color != "" {
			colorHex = c.Color
		}
		if c.Pixels > 0 {
			pixels = c.Pixels
		}
		if c.FPS > 0 {
			fps = c.FPS
		}
		if c.Brightness > 0 {
			brightness = c.Brightness
		}
	}

	variant, err := timing.ParseVariant(variantName)
	if err != nil {
		return err
	}
	tm := timing.ForVariant(variant)
	if pixels <= 0 {
		return fmt.Errorf("invalid pixel count %d", pixels)
	}
	if fps <= 0 {
		return fmt.Errorf("invalid frame rate %d", fps)
	}
	col, err := parseColor(colorHex)
	if err != nil {
		return err
	}
	format := pixel.FormatRGB
	if tm.Order.Channels() == 4 {
		format = pixel.FormatRGBW
	}
	pat, err := patternFor(patternName, col, format, *runSeed)
	if err != nil {
		return err
	}

	var out output
	switch backend {
	case "sim":
		out, err = openSim(tm, pixels, stdout, *runPreview)
	case "spi":
		out, err = openSPI(port, tm, pixels)
	default:
		return fmt.Errorf("unknown backend %q", backend)
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("backend", backend).
		Str("variant", variant.String()).
		Int("pixels", pixels).
		Str("pattern", patternName).
		Int("fps", fps).
		Msg("starting")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	f := pixel.NewFrame(format, pixels)
	opts := waveform.Options{Brightness: brightness}
	sent := 0
loop:
	for step := 0; ; step++ {
		pat.render(f, step)
		if pat.rotates {
			opts.Rotate = step
		}
		if err := out.show(f, opts); err != nil {
			out.close()
			return err
		}
		sent++
		if max := *runFrames; max > 0 && sent >= max {
			break
		}
		select {
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("stopping")
			break loop
		case <-ticker.C:
		}
	}
	if err := out.close(); err != nil {
		return err
	}
	log.Info().Int("frames", sent).Msg("done")
	return nil
}

type pattern struct {
	render  func(f *pixel.Frame, step int)
	rotates bool
}

// rainbowPalette repeats seven saturated colors along the strip.
// The rotation option then walks them towards the far end.
var rainbowPalette = []pixel.Pixel{
	pixel.RGB(0xff, 0x00, 0xff),
	pixel.RGB(0x00, 0x00, 0xff),
	pixel.RGB(0x00, 0xff, 0xff),
	pixel.RGB(0x00, 0xff, 0x00),
	pixel.RGB(0xff, 0xff, 0x00),
	pixel.RGB(0xff, 0x14, 0x00),
	pixel.RGB(0xff, 0x00, 0x00),
}

func patternFor(name string, col pixel.Pixel, format pixel.Format, seed uint64) (pattern, error) {
	switch name {
	case "rainbow":
		return pattern{rotates: true, render: func(f *pixel.Frame, _ int) {
			for i := 0; i < f.Len(); i++ {
				f.Set(i, rainbowPalette[i%len(rainbowPalette)])
			}
		}}, nil
	case "sparkle":
		rng := xoshiro256.NewSource(seed)
		return pattern{render: func(f *pixel.Frame, _ int) {
			for i := 0; i < f.Len(); i++ {
				p := f.At(i)
				f.Set(i, pixel.Pixel{
					R: uint8(uint16(p.R) * 7 / 10),
					G: uint8(uint16(p.G) * 7 / 10),
					B: uint8(uint16(p.B) * 7 / 10),
					W: uint8(uint16(p.W) * 7 / 10),
				})
			}
			ignite := max(1, f.Len()/8)
			for i := 0; i < ignite; i++ {
				f.Set(rng.Intn(f.Len()), col)
			}
		}}, nil
	case "wipe":
		return pattern{render: func(f *pixel.Frame, step int) {
			fill := step % (f.Len() + 1)
			for i := 0; i < f.Len(); i++ {
				if i < fill {
					f.Set(i, col)
				} else {
					f.Set(i, pixel.Pixel{})
				}
			}
		}}, nil
	case "solid":
		return pattern{render: func(f *pixel.Frame, _ int) {
			f.Fill(col)
		}}, nil
	case "white":
		if format != pixel.FormatRGBW {
			return pattern{}, errors.New("the white pattern needs an RGBW variant")
		}
		return pattern{render: func(f *pixel.Frame, _ int) {
			f.Fill(pixel.Pixel{W: 0xff})
		}}, nil
	default:
		return pattern{}, fmt.Errorf("unknown pattern %q", name)
	}
}

func parseColor(s string) (pixel.Pixel, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "#"))
	if err != nil || len(b) != 3 {
		return pixel.Pixel{}, fmt.Errorf("invalid color %q", s)
	}
	return pixel.RGB(b[0], b[1], b[2]), nil
}

// simClock stands in for the counter frequency of a real timer.
const simClock = 125 * physic.MegaHertz

type simOutput struct {
	driver  *strip.Driver
	sim     *strip.Simulator
	w       io.Writer
	preview bool
	shown   int
}

func openSim(tm timing.Timing, pixels int, w io.Writer, preview bool) (*simOutput, error) {
	spec, err := tm.SpecFor(simClock)
	if err != nil {
		return nil, err
	}
	sim := strip.NewSimulator(spec)
	d, err := strip.New(strip.Config{
		PWM:            sim,
		DMA:            sim,
		Timing:         spec,
		MaxPixels:      pixels,
		DoubleBuffered: true,
	})
	if err != nil {
		return nil, err
	}
	return &simOutput{driver: d, sim: sim, w: w, preview: preview}, nil
}

func (o *simOutput) show(f *pixel.Frame, opts waveform.Options) error {
	if err := o.driver.SendScaled(f, opts); err != nil {
		return err
	}
	if !o.preview {
		return nil
	}
	frames := o.sim.Frames[o.shown:]
	o.shown = len(o.sim.Frames)
	for _, fr := range frames {
		renderANSI(o.w, fr)
	}
	return nil
}

func (o *simOutput) close() error {
	if o.preview {
		fmt.Fprintln(o.w)
	}
	return nil
}

// renderANSI redraws the strip in place as a row of true color
// cells.
func renderANSI(w io.Writer, f *pixel.Frame) {
	var b strings.Builder
	b.WriteString("\r")
	for i := 0; i < f.Len(); i++ {
		r, g, bl := blendWhite(f.At(i))
		fmt.Fprintf(&b, "\x1b[48;2;%d;%d;%dm  ", r, g, bl)
	}
	b.WriteString("\x1b[0m")
	io.WriteString(w, b.String())
}

// blendWhite folds the white channel into the preview color.
func blendWhite(p pixel.Pixel) (r, g, b uint8) {
	add := func(c uint8) uint8 {
		s := uint16(c) + uint16(p.W)
		if s > 0xff {
			s = 0xff
		}
		return uint8(s)
	}
	return add(p.R), add(p.G), add(p.B)
}

type spiOutput struct {
	strip   *spiled.Strip
	scratch *pixel.Frame
}

func openSPI(port string, tm timing.Timing, pixels int) (*spiOutput, error) {
	s, err := spiled.Open(port, tm, pixels)
	if err != nil {
		return nil, err
	}
	return &spiOutput{strip: s}, nil
}

func (o *spiOutput) show(f *pixel.Frame, opts waveform.Options) error {
	if o.scratch == nil || o.scratch.Len() != f.Len() || o.scratch.Format != f.Format {
		o.scratch = pixel.NewFrame(f.Format, f.Len())
	}
	applyOptions(o.scratch, f, opts)
	return o.strip.Write(o.scratch)
}

// close blanks the strip before releasing the port.
func (o *spiOutput) close() error {
	if o.scratch != nil {
		o.scratch.Fill(pixel.Pixel{})
		if err := o.strip.Write(o.scratch); err != nil {
			o.strip.Close()
			return err
		}
	}
	return o.strip.Close()
}

// applyOptions scales and rotates src into dst the way the
// waveform encoder would, for backends that take pixels rather
// than samples.
func applyOptions(dst, src *pixel.Frame, opts waveform.Options) {
	n := src.Len()
	scale := uint16(100)
	if opts.Brightness > 0 {
		scale = uint16(opts.Brightness)
	}
	rot := 0
	if n > 0 {
		rot = opts.Rotate % n
		if rot < 0 {
			rot += n
		}
	}
	for i := 0; i < n; i++ {
		j := i - rot
		if j < 0 {
			j += n
		}
		p := src.At(j)
		dst.Set(i, pixel.Pixel{
			R: uint8(uint16(p.R) * scale / 100),
			G: uint8(uint16(p.G) * scale / 100),
			B: uint8(uint16(p.B) * scale / 100),
			W: uint8(uint16(p.W) * scale / 100),
		})
	}
}

// profileYAML is the editable face of a strip profile.
type profileYAML struct {
	Name       string      `yaml:"name"`
	Variant    string      `yaml:"variant"`
	Pixels     int         `yaml:"pixels"`
	Brightness int         `yaml:"brightness,omitempty"`
	Timing     *timingYAML `yaml:"timing,omitempty"`
}

type timingYAML struct {
	PeriodNs uint32 `yaml:"period_ns"`
	T0HighNs uint32 `yaml:"t0_high_ns"`
	T1HighNs uint32 `yaml:"t1_high_ns"`
	ResetNs  uint32 `yaml:"reset_ns"`
	Order    string `yaml:"order"`
}

func (y *profileYAML) profile() (profile.Profile, error) {
	if y.Variant == "" {
		return profile.Profile{}, errors.New("missing variant")
	}
	v, err := timing.ParseVariant(y.Variant)
	if err != nil {
		return profile.Profile{}, err
	}
	p := profile.Profile{
		Name:       y.Name,
		Variant:    v,
		Pixels:     y.Pixels,
		Brightness: y.Brightness,
	}
	if y.Timing != nil {
		o, err := timing.ParseOrder(y.Timing.Order)
		if err != nil {
			return profile.Profile{}, err
		}
		p.Custom = &timing.Timing{
			Period: y.Timing.PeriodNs,
			T0High: y.Timing.T0HighNs,
			T1High: y.Timing.T1HighNs,
			Reset:  y.Timing.ResetNs,
			Order:  o,
		}
	}
	return p, nil
}

// pack reads a YAML profile from standard in and writes the binary
// blob to standard out, optionally as a UF2 image ready to drop on
// an RP2040 bootloader drive.
func pack(stdout io.Writer, stdin io.Reader) error {
	b, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("pack: %w", err)
	}
	var y profileYAML
	if err := yaml.Unmarshal(b, &y); err != nil {
		return fmt.Errorf("pack: %w", err)
	}
	p, err := y.profile()
	if err != nil {
		return fmt.Errorf("pack: %w", err)
	}
	var blob []byte
	if *packUF2 {
		addr, err := strconv.ParseUint(*packAddr, 0, 32)
		if err != nil {
			return fmt.Errorf("pack: invalid address %q", *packAddr)
		}
		img, err := p.EncodeFlash()
		if err != nil {
			return fmt.Errorf("pack: %w", err)
		}
		blob = uf2.Encode(img, uint32(addr), uf2.FamilyRP2040)
	} else {
		blob, err = p.Encode()
		if err != nil {
			return fmt.Errorf("pack: %w", err)
		}
	}
	_, err = stdout.Write(blob)
	return err
}

// unpack reads a binary profile blob, or a UF2 image holding one,
// from standard in and writes its YAML form to standard out.
func unpack(stdout io.Writer, stdin io.Reader) error {
	blob, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("unpack: %w", err)
	}
	var p profile.Profile
	if uf2.Sniff(blob) {
		img, _, err := uf2.Decode(blob, uf2.FamilyRP2040)
		if err != nil {
			return fmt.Errorf("unpack: %w", err)
		}
		p, err = profile.DecodeFlash(img)
		if err != nil {
			return fmt.Errorf("unpack: %w", err)
		}
	} else {
		p, err = profile.Decode(blob)
		if err != nil {
			return fmt.Errorf("unpack: %w", err)
		}
	}
	y := profileYAML{
		Name:       p.Name,
		Variant:    strings.ToLower(p.Variant.String()),
		Pixels:     p.Pixels,
		Brightness: p.Brightness,
	}
	if p.Custom != nil {
		y.Timing = &timingYAML{
			PeriodNs: p.Custom.Period,
			T0HighNs: p.Custom.T0High,
			T1HighNs: p.Custom.T1High,
			ResetNs:  p.Custom.Reset,
			Order:    strings.ToLower(p.Custom.Order.String()),
		}
	}
	out, err := yaml.Marshal(&y)
	if err != nil {
		return fmt.Errorf("unpack: %w", err)
	}
	_, err = stdout.Write(out)
	return err
}
