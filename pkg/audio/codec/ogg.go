package codec

import (
	"bytes"
	"encoding/binary"
)

const (
	oggFlagBOS = 0x02
	oggFlagEOS = 0x04

	// oggMaxSegments is the lacing table limit of a single page.
	oggMaxSegments = 255

	oggVendor = "meetrec"
)

// oggWriter frames Opus packets into Ogg pages for one logical stream.
type oggWriter struct {
	serial  uint32
	seq     uint32
	granule uint64
}

// headers returns the OpusHead and OpusTags pages.
func (w *oggWriter) headers(sampleRate, channels int) []byte {
	var buf bytes.Buffer
	w.page(&buf, 0, oggFlagBOS, [][]byte{opusHead(sampleRate, channels)})
	w.page(&buf, 0, 0, [][]byte{opusTags()})
	return buf.Bytes()
}

// packets writes packets as audio pages. Each packet advances the granule
// position by samplesPerPacket (always counted at 48 kHz).
func (w *oggWriter) packets(packets [][]byte, samplesPerPacket uint64) []byte {
	var buf bytes.Buffer
	var page [][]byte
	segments := 0
	for _, p := range packets {
		n := len(p)/255 + 1
		if segments+n > oggMaxSegments && len(page) > 0 {
			w.page(&buf, w.granule, 0, page)
			page, segments = nil, 0
		}
		page = append(page, p)
		segments += n
		w.granule += samplesPerPacket
	}
	if len(page) > 0 {
		w.page(&buf, w.granule, 0, page)
	}
	return buf.Bytes()
}

// end returns an empty page that carries the end-of-stream flag.
func (w *oggWriter) end() []byte {
	var buf bytes.Buffer
	w.page(&buf, w.granule, oggFlagEOS, nil)
	return buf.Bytes()
}

func (w *oggWriter) page(buf *bytes.Buffer, granule uint64, flags byte, packets [][]byte) {
	var lacing []byte
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
	}

	start := buf.Len()
	buf.WriteString("OggS")
	buf.WriteByte(0) // version
	buf.WriteByte(flags)
	_ = binary.Write(buf, binary.LittleEndian, granule)
	_ = binary.Write(buf, binary.LittleEndian, w.serial)
	_ = binary.Write(buf, binary.LittleEndian, w.seq)
	_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // checksum, patched below
	buf.WriteByte(byte(len(lacing)))
	buf.Write(lacing)
	for _, p := range packets {
		buf.Write(p)
	}
	w.seq++

	page := buf.Bytes()[start:]
	binary.LittleEndian.PutUint32(page[22:26], oggChecksum(page))
}

func opusHead(sampleRate, channels int) []byte {
	var buf bytes.Buffer
	buf.WriteString("OpusHead")
	buf.WriteByte(1) // version
	buf.WriteByte(byte(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(0)) // pre-skip
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, int16(0)) // output gain
	buf.WriteByte(0)                                      // mapping family
	return buf.Bytes()
}

func opusTags() []byte {
	var buf bytes.Buffer
	buf.WriteString("OpusTags")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(oggVendor)))
	buf.WriteString(oggVendor)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0)) // no comments
	return buf.Bytes()
}

// Ogg pages use CRC-32 with polynomial 0x04C11DB7, unreflected, zero init.
var oggCRCTable = func() (t [256]uint32) {
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04C11DB7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

func oggChecksum(page []byte) uint32 {
	var crc uint32
	for _, b := range page {
		crc = crc<<8 ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}
