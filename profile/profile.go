// Package profile stores descriptions of physical LED strips as
// compact CBOR blobs, for device flash and provisioning over
// constrained links. Encoding is deterministic, so identical profiles
// produce identical blobs.
package profile

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"ledwave.dev/timing"
)

// ErrInvalid is reported for profiles that cannot describe a
// drivable strip.
var ErrInvalid = errors.New("profile: invalid")

// Profile describes one physical strip: what is soldered to the pin.
type Profile struct {
	Name string
	// Variant selects published timings. Custom, when set,
	// overrides them, for strips that deviate from their
	// datasheet or are wired in another channel order.
	Variant timing.Variant
	Custom  *timing.Timing
	// Pixels is the number of chained LEDs.
	Pixels int
	// Brightness caps output in percent, 1 to 100. Zero means no
	// cap.
	Brightness int
}

// Timing returns the strip's waveform timing, the custom numbers if
// present, the variant's published ones otherwise.
func (p Profile) Timing() timing.Timing {
	if p.Custom != nil {
		return *p.Custom
	}
	return timing.ForVariant(p.Variant)
}

// wireProfile is the CBOR representation of a Profile.
type wireProfile struct {
	Name       string      `cbor:"1,keyasint,omitempty"`
	Variant    int         `cbor:"2,keyasint,omitempty"`
	Custom     *wireTiming `cbor:"3,keyasint,omitempty"`
	Pixels     int         `cbor:"4,keyasint"`
	Brightness int         `cbor:"5,keyasint,omitempty"`
}

type wireTiming struct {
	Period uint32 `cbor:"1,keyasint"`
	T0High uint32 `cbor:"2,keyasint"`
	T1High uint32 `cbor:"3,keyasint"`
	Reset  uint32 `cbor:"4,keyasint"`
	Order  int    `cbor:"5,keyasint,omitempty"`
}

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}

func (p Profile) validate() error {
	if p.Pixels <= 0 {
		return fmt.Errorf("%w: %d pixels", ErrInvalid, p.Pixels)
	}
	if p.Brightness < 0 || p.Brightness > 100 {
		return fmt.Errorf("%w: brightness %d%%", ErrInvalid, p.Brightness)
	}
	switch p.Variant {
	case timing.WS2812, timing.WS2812B, timing.SK6812, timing.SK6812RGBW:
	default:
		return fmt.Errorf("%w: unknown variant %d", ErrInvalid, int(p.Variant))
	}
	if p.Custom != nil {
		if err := p.Custom.Validate(); err != nil {
			return fmt.Errorf("%w: custom timing: %v", ErrInvalid, err)
		}
	}
	return nil
}

// Encode returns the profile as a CBOR blob.
func (p Profile) Encode() ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	w := wireProfile{
		Name:       p.Name,
		Variant:    int(p.Variant),
		Pixels:     p.Pixels,
		Brightness: p.Brightness,
	}
	if p.Custom != nil {
		w.Custom = &wireTiming{
			Period: p.Custom.Period,
			T0High: p.Custom.T0High,
			T1High: p.Custom.T1High,
			Reset:  p.Custom.Reset,
			Order:  int(p.Custom.Order),
		}
	}
	blob, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("profile: encode: %w", err)
	}
	return blob, nil
}

// flashMagic starts a profile frame in flash. The blob length
// follows, then the blob itself. Flash is written in padded pages,
// so the length recovers the exact blob.
const flashMagic = 0x4650574c // "LWPF"

// EncodeFlash returns the profile framed for storage in flash.
func (p Profile) EncodeFlash() ([]byte, error) {
	blob, err := p.Encode()
	if err != nil {
		return nil, err
	}
	img := make([]byte, 8, 8+len(blob))
	binary.LittleEndian.PutUint32(img, flashMagic)
	binary.LittleEndian.PutUint32(img[4:], uint32(len(blob)))
	return append(img, blob...), nil
}

// DecodeFlash parses a framed profile, ignoring padding after the
// blob.
func DecodeFlash(img []byte) (Profile, error) {
	if len(img) < 8 || binary.LittleEndian.Uint32(img) != flashMagic {
		return Profile{}, fmt.Errorf("%w: no profile frame", ErrInvalid)
	}
	n := binary.LittleEndian.Uint32(img[4:])
	img = img[8:]
	if uint64(n) > uint64(len(img)) {
		return Profile{}, fmt.Errorf("%w: truncated profile frame", ErrInvalid)
	}
	return Decode(img[:n])
}

// Decode parses and validates an encoded profile.
func Decode(blob []byte) (Profile, error) {
	var w wireProfile
	if err := decMode.Unmarshal(blob, &w); err != nil {
		return Profile{}, fmt.Errorf("profile: decode: %w", err)
	}
	p := Profile{
		Name:       w.Name,
		Variant:    timing.Variant(w.Variant),
		Pixels:     w.Pixels,
		Brightness: w.Brightness,
	}
	if w.Custom != nil {
		p.Custom = &timing.Timing{
			Period: w.Custom.Period,
			T0High: w.Custom.T0High,
			T1High: w.Custom.T1High,
			Reset:  w.Custom.Reset,
			Order:  timing.Order(w.Custom.Order),
		}
	}
	if err := p.validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}
