// package uf2 implements the [UF2] file format, enough to store
// small payloads such as strip profiles in the flash of an RP2040
// through its bootloader drive.
//
// [UF2]: https://github.com/microsoft/uf2
package uf2

import (
	"encoding/binary"
	"errors"
	"fmt"
)

type FamilyID uint32

const (
	FamilyRP2040 FamilyID = 0xe48bff56
)

const (
	blockSize   = 512
	headerSize  = 32
	payloadSize = 256

	magic1   = 0x0A324655
	magic2   = 0x9E5D5157
	magicEnd = 0x0AB16F30

	flagNotMainFlash  = 0x00000001
	flagFileContainer = 0x00001000
	flagFamilyID      = 0x00002000
	flagMD5Checksum   = 0x00004000
	flagExtTags       = 0x00008000
)

// Encode packs data into UF2 blocks targeting addr. Payloads are
// padded to the 256 byte write size bootloaders expect.
func Encode(data []byte, addr uint32, family FamilyID) []byte {
	nblocks := (len(data) + payloadSize - 1) / payloadSize
	if nblocks == 0 {
		nblocks = 1
	}
	out := make([]byte, 0, nblocks*blockSize)
	bo := binary.LittleEndian
	for i := 0; i < nblocks; i++ {
		var block [blockSize]byte
		bo.PutUint32(block[0:], magic1)
		bo.PutUint32(block[4:], magic2)
		bo.PutUint32(block[8:], flagFamilyID)
		bo.PutUint32(block[12:], addr+uint32(i*payloadSize))
		bo.PutUint32(block[16:], payloadSize)
		bo.PutUint32(block[20:], uint32(i))
		bo.PutUint32(block[24:], uint32(nblocks))
		bo.PutUint32(block[28:], uint32(family))
		copy(block[headerSize:headerSize+payloadSize], data[i*payloadSize:])
		bo.PutUint32(block[blockSize-4:], magicEnd)
		out = append(out, block[:]...)
	}
	return out
}

// Sniff reports whether b starts with a UF2 block header.
func Sniff(b []byte) bool {
	return len(b) >= 8 &&
		binary.LittleEndian.Uint32(b[0:4]) == magic1 &&
		binary.LittleEndian.Uint32(b[4:8]) == magic2
}

// Decode extracts the payload written for family from a UF2 image
// and returns it along with its target address. Blocks for other
// families are skipped; remaining blocks must be contiguous.
func Decode(image []byte, family FamilyID) ([]byte, uint32, error) {
	if len(image)%blockSize != 0 {
		return nil, 0, fmt.Errorf("uf2: image size %d not a multiple of %d", len(image), blockSize)
	}
	var (
		data  []byte
		start uint32
		next  uint32
		first = true
	)
	bo := binary.LittleEndian
	for off := 0; off < len(image); off += blockSize {
		block := image[off : off+blockSize]
		if bo.Uint32(block[0:4]) != magic1 || bo.Uint32(block[4:8]) != magic2 {
			return nil, 0, errors.New("uf2: invalid header magic")
		}
		if bo.Uint32(block[blockSize-4:]) != magicEnd {
			return nil, 0, errors.New("uf2: invalid footer magic")
		}
		flags := bo.Uint32(block[8:12])
		if flags&flagFamilyID == 0 || FamilyID(bo.Uint32(block[28:32])) != family {
			continue
		}
		if flags&^uint32(flagFamilyID) != 0 {
			return nil, 0, fmt.Errorf("uf2: unsupported flags: %x", flags)
		}
		addr := bo.Uint32(block[12:16])
		size := bo.Uint32(block[16:20])
		if size > payloadSize {
			return nil, 0, fmt.Errorf("uf2: payload size %d exceeds %d", size, payloadSize)
		}
		if first {
			start = addr
			first = false
		} else if addr != next {
			return nil, 0, errors.New("uf2: non-contiguous data")
		}
		next = addr + size
		data = append(data, block[headerSize:headerSize+size]...)
	}
	if first {
		return nil, 0, errors.New("uf2: no blocks for family")
	}
	return data, start, nil
}
