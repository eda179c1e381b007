package codec

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/meetrec/pkg/audio"
)

const wavBitDepth = 16

// wavEncoder emits raw PCM pieces and wraps the whole recording in a RIFF
// container on Finalize, since the header carries the total length.
type wavEncoder struct {
	raw    *rawEncoder
	format audio.Format
}

func newWAVEncoder(format audio.Format) (*wavEncoder, error) {
	raw, err := newRawEncoder(format)
	if err != nil {
		return nil, fmt.Errorf("codec: wav: %w", err)
	}
	return &wavEncoder{raw: raw, format: format}, nil
}

func (e *wavEncoder) Encoding() Encoding { return WAV }

func (e *wavEncoder) Encode(pcm []int16) error { return e.raw.Encode(pcm) }

func (e *wavEncoder) Flush(final bool) ([]byte, error) { return e.raw.Flush(final) }

func (e *wavEncoder) Finalize(body []byte) ([]byte, error) {
	samples := audio.BytesToInt16s(body)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: e.format.Channels,
			SampleRate:  e.format.SampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: wavBitDepth,
	}
	for i, s := range samples {
		buf.Data[i] = int(s)
	}

	out := &memFile{}
	enc := wav.NewEncoder(out, e.format.SampleRate, wavBitDepth, e.format.Channels, 1)
	if err := enc.Write(buf); err != nil {
		return nil, errors.Join(fmt.Errorf("codec: wav: write: %w", err), enc.Close())
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("codec: wav: close: %w", err)
	}
	return out.buf, nil
}

// memFile is an in-memory io.WriteSeeker; the WAV encoder seeks back to patch
// the RIFF and data chunk sizes.
type memFile struct {
	buf []byte
	pos int64
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		m.buf = append(m.buf, make([]byte, end-int64(len(m.buf)))...)
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.pos + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("codec: seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("codec: seek: negative position")
	}
	m.pos = abs
	return abs, nil
}
