package codec

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"layeh.com/gopus"

	"github.com/MrWong99/meetrec/pkg/audio"
)

const (
	opusFrameDuration = 20 // ms
	opusGranuleRate   = 48000

	// opusMaxPacket bounds a single encoded packet.
	opusMaxPacket = 4000
)

// opusEncoder encodes 20 ms Opus packets and frames them in Ogg pages. The
// stream headers precede the first audio page.
type opusEncoder struct {
	enc       *gopus.Encoder
	format    audio.Format
	frameSize int // samples per channel per packet

	pcm     []int16
	packets [][]byte
	ogg     oggWriter
	started bool
}

func newOpusEncoder(format audio.Format, bitrate int) (*opusEncoder, error) {
	switch format.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("codec: opus: unsupported sample rate %d", format.SampleRate)
	}
	if format.Channels != 1 && format.Channels != 2 {
		return nil, fmt.Errorf("codec: opus: unsupported channel count %d", format.Channels)
	}
	enc, err := gopus.NewEncoder(format.SampleRate, format.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("codec: opus: create encoder: %w", err)
	}
	if bitrate > 0 {
		enc.SetBitrate(bitrate)
	}
	return &opusEncoder{
		enc:       enc,
		format:    format,
		frameSize: format.SampleRate * opusFrameDuration / 1000,
		ogg:       oggWriter{serial: rand.Uint32()},
	}, nil
}

func (e *opusEncoder) Encoding() Encoding { return OggOpus }

func (e *opusEncoder) Encode(pcm []int16) error {
	e.pcm = append(e.pcm, pcm...)
	step := e.frameSize * e.format.Channels
	for len(e.pcm) >= step {
		if err := e.encodeFrame(e.pcm[:step]); err != nil {
			return err
		}
		e.pcm = e.pcm[step:]
	}
	return nil
}

func (e *opusEncoder) encodeFrame(frame []int16) error {
	packet, err := e.enc.Encode(frame, e.frameSize, opusMaxPacket)
	if err != nil {
		return fmt.Errorf("codec: opus: encode: %w", err)
	}
	e.packets = append(e.packets, packet)
	return nil
}

func (e *opusEncoder) Flush(final bool) ([]byte, error) {
	if final && len(e.pcm) > 0 {
		frame := make([]int16, e.frameSize*e.format.Channels)
		copy(frame, e.pcm)
		e.pcm = nil
		if err := e.encodeFrame(frame); err != nil {
			return nil, err
		}
	}
	if len(e.packets) == 0 {
		return nil, nil
	}

	var out []byte
	if !e.started {
		out = e.ogg.headers(e.format.SampleRate, e.format.Channels)
		e.started = true
	}
	perPacket := uint64(e.frameSize * opusGranuleRate / e.format.SampleRate)
	out = append(out, e.ogg.packets(e.packets, perPacket)...)
	e.packets = nil
	return out, nil
}

func (e *opusEncoder) Finalize(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, errors.New("codec: opus: no audio pages")
	}
	out := make([]byte, 0, len(body)+27)
	out = append(out, body...)
	return append(out, e.ogg.end()...), nil
}
