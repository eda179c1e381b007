// Package codec encodes mixed PCM into the container formats a recording can
// be uploaded in.
//
// An [Encoder] is fed PCM incrementally and drained with [Encoder.Flush]; the
// drained pieces, concatenated in order, are turned into the final file by
// [Encoder.Finalize]. Every encoder is bound to one [Encoding] for its whole
// lifetime.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/meetrec/pkg/audio"
)

// Encoding describes one supported output format.
type Encoding struct {
	// MIME is the media type sent with the upload, e.g. "audio/ogg;codecs=opus".
	MIME string

	// Extension is the file extension without the leading dot.
	Extension string
}

// Well-known encodings, in the default preference order.
var (
	OggOpus = Encoding{MIME: "audio/ogg;codecs=opus", Extension: "ogg"}
	WAV     = Encoding{MIME: "audio/wav", Extension: "wav"}
	L16     = Encoding{MIME: "audio/L16", Extension: "pcm"}
)

// DefaultPreferences is the encoding preference list used when none is configured.
var DefaultPreferences = []string{OggOpus.MIME, WAV.MIME, L16.MIME}

// ErrNoEncoding is returned by [Select] when no preferred encoding can be
// constructed for the stream format.
var ErrNoEncoding = errors.New("codec: no supported encoding")

// Encoder turns PCM into encoded bytes.
//
// Implementations are not safe for concurrent use; the recorder drives each
// encoder from a single goroutine.
type Encoder interface {
	// Encoding reports the output format.
	Encoding() Encoding

	// Encode buffers interleaved int16 samples.
	Encode(pcm []int16) error

	// Flush returns everything encoded since the previous Flush. When final
	// is true any partial frame is padded and emitted as well. Flush may
	// return an empty slice.
	Flush(final bool) ([]byte, error)

	// Finalize turns the concatenation of all flushed pieces into a complete
	// file of this encoding.
	Finalize(body []byte) ([]byte, error)
}

// Options tune encoder construction.
type Options struct {
	// OpusBitrate is the target Opus bitrate in bits per second. Zero keeps
	// the encoder default.
	OpusBitrate int
}

// New creates an encoder for the encoding identified by mime.
func New(mime string, format audio.Format, opts Options) (Encoder, error) {
	switch normalize(mime) {
	case normalize(OggOpus.MIME), "audio/ogg", "audio/opus":
		return newOpusEncoder(format, opts.OpusBitrate)
	case normalize(WAV.MIME), "audio/wave", "audio/x-wav":
		return newWAVEncoder(format)
	case normalize(L16.MIME), "audio/pcm":
		return newRawEncoder(format)
	default:
		return nil, fmt.Errorf("codec: unknown encoding %q", mime)
	}
}

// Select returns an encoder for the first entry of prefs that supports format.
func Select(prefs []string, format audio.Format, opts Options) (Encoder, error) {
	if len(prefs) == 0 {
		prefs = DefaultPreferences
	}
	var errs []error
	for _, mime := range prefs {
		enc, err := New(mime, format, opts)
		if err == nil {
			return enc, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w for %s: %w", ErrNoEncoding, format, errors.Join(errs...))
}

func normalize(mime string) string {
	return strings.ToLower(strings.ReplaceAll(mime, " ", ""))
}

// Known reports whether mime names an encoding [New] understands.
func Known(mime string) bool {
	switch normalize(mime) {
	case normalize(OggOpus.MIME), "audio/ogg", "audio/opus",
		normalize(WAV.MIME), "audio/wave", "audio/x-wav",
		normalize(L16.MIME), "audio/pcm":
		return true
	}
	return false
}
