package codec

import (
	"fmt"

	"github.com/MrWong99/meetrec/pkg/audio"
)

// rawEncoder emits little-endian int16 PCM without a container.
type rawEncoder struct {
	format audio.Format
	buf    []byte
}

func newRawEncoder(format audio.Format) (*rawEncoder, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("codec: l16: invalid format %s", format)
	}
	return &rawEncoder{format: format}, nil
}

func (e *rawEncoder) Encoding() Encoding { return L16 }

func (e *rawEncoder) Encode(pcm []int16) error {
	e.buf = append(e.buf, audio.Int16sToBytes(pcm)...)
	return nil
}

func (e *rawEncoder) Flush(bool) ([]byte, error) {
	out := e.buf
	e.buf = nil
	return out, nil
}

func (e *rawEncoder) Finalize(body []byte) ([]byte, error) {
	return body, nil
}
