package uf2

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	data := make([]byte, 700)
	for i := range data {
		data[i] = byte(i)
	}
	const addr = 0x101ff000
	image := Encode(data, addr, FamilyRP2040)
	if want := 3 * blockSize; len(image) != want {
		t.Fatalf("image is %d bytes, expected %d", len(image), want)
	}
	bo := binary.LittleEndian
	for i := 0; i < 3; i++ {
		block := image[i*blockSize:]
		if got := bo.Uint32(block[12:16]); got != addr+uint32(i*payloadSize) {
			t.Errorf("block %d targets %#x, expected %#x", i, got, addr+uint32(i*payloadSize))
		}
		if got := bo.Uint32(block[20:24]); got != uint32(i) {
			t.Errorf("block %d numbered %d", i, got)
		}
		if got := bo.Uint32(block[24:28]); got != 3 {
			t.Errorf("block %d reports %d total blocks, expected 3", i, got)
		}
	}
	payload, start, err := Decode(image, FamilyRP2040)
	if err != nil {
		t.Fatal(err)
	}
	if start != addr {
		t.Errorf("decoded start address %#x, expected %#x", start, addr)
	}
	if len(payload) != 3*payloadSize {
		t.Fatalf("decoded %d bytes, expected %d", len(payload), 3*payloadSize)
	}
	if !bytes.Equal(payload[:len(data)], data) {
		t.Error("decoded payload differs from input")
	}
	for i, b := range payload[len(data):] {
		if b != 0 {
			t.Fatalf("padding byte %d is %#x, expected zero", i, b)
		}
	}
}

func TestEncodeEmpty(t *testing.T) {
	image := Encode(nil, 0x10000000, FamilyRP2040)
	if len(image) != blockSize {
		t.Fatalf("empty payload encoded to %d bytes, expected one block", len(image))
	}
}

func TestSniff(t *testing.T) {
	image := Encode([]byte{1}, 0x10000000, FamilyRP2040)
	if !Sniff(image) {
		t.Error("encoded image not recognized")
	}
	if Sniff([]byte("profile: yaml")) {
		t.Error("plain text recognized as UF2")
	}
	if Sniff(image[:4]) {
		t.Error("truncated magic recognized as UF2")
	}
}

func TestDecodeSkipsOtherFamilies(t *testing.T) {
	data := []byte("strip profile")
	mine := Encode(data, 0x101ff000, FamilyRP2040)
	alien := Encode([]byte("other firmware"), 0x10000000, FamilyID(0x1234))
	image := append(append([]byte(nil), alien...), mine...)
	payload, start, err := Decode(image, FamilyRP2040)
	if err != nil {
		t.Fatal(err)
	}
	if start != 0x101ff000 {
		t.Errorf("decoded start address %#x, expected 0x101ff000", start)
	}
	if !bytes.Equal(payload[:len(data)], data) {
		t.Error("decoded payload differs from input")
	}
}

func TestDecodeRejects(t *testing.T) {
	data := make([]byte, 300)
	image := Encode(data, 0x101ff000, FamilyRP2040)

	if _, _, err := Decode(image[:100], FamilyRP2040); err == nil {
		t.Error("truncated image not rejected")
	}

	bad := append([]byte(nil), image...)
	bad[0] ^= 0xff
	if _, _, err := Decode(bad, FamilyRP2040); err == nil {
		t.Error("corrupt header magic not rejected")
	}

	bad = append([]byte(nil), image...)
	bad[blockSize-1] ^= 0xff
	if _, _, err := Decode(bad, FamilyRP2040); err == nil {
		t.Error("corrupt footer magic not rejected")
	}

	swapped := append([]byte(nil), image[blockSize:]...)
	swapped = append(swapped, image[:blockSize]...)
	if _, _, err := Decode(swapped, FamilyRP2040); err == nil {
		t.Error("non-contiguous blocks not rejected")
	}

	if _, _, err := Decode(image, FamilyID(0x5678)); err == nil {
		t.Error("image without matching family not rejected")
	}
}
