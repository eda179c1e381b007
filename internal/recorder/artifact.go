package recorder

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/meetrec/pkg/audio/codec"
)

// Artifact is a finalized recording. It is immutable once created.
type Artifact struct {
	data     []byte
	encoding codec.Encoding
	segments int
}

// NewArtifact wraps already encoded data. It is used to rebuild an artifact
// for a retried upload and by tests.
func NewArtifact(data []byte, enc codec.Encoding, segments int) *Artifact {
	return &Artifact{data: bytes.Clone(data), encoding: enc, segments: segments}
}

// Bytes returns a copy of the encoded recording.
func (a *Artifact) Bytes() []byte { return bytes.Clone(a.data) }

// Reader returns a reader over the encoded recording.
func (a *Artifact) Reader() io.Reader { return bytes.NewReader(a.data) }

// Size returns the size of the recording in bytes.
func (a *Artifact) Size() int { return len(a.data) }

// Encoding returns the encoding the recording was produced with.
func (a *Artifact) Encoding() codec.Encoding { return a.encoding }

// MIMEType returns the media type of the recording.
func (a *Artifact) MIMEType() string { return a.encoding.MIME }

// Extension returns the file extension without the leading dot.
func (a *Artifact) Extension() string { return a.encoding.Extension }

// Segments returns how many segments were assembled into the recording.
func (a *Artifact) Segments() int { return a.segments }

// FileName names the recording for title at instant at.
func (a *Artifact) FileName(title string, at time.Time) string {
	return FileName(title, at, a.encoding.Extension)
}

var whitespace = regexp.MustCompile(`\s+`)

// FileName builds "{title}_{timestamp}.{ext}". Whitespace runs in title become
// underscores and path separators are dropped. The timestamp is the UTC
// instant in millisecond ISO-8601 form with ':' and '.' replaced by '-'.
func FileName(title string, at time.Time, ext string) string {
	name := whitespace.ReplaceAllString(strings.TrimSpace(title), "_")
	name = strings.NewReplacer("/", "", `\`, "").Replace(name)
	if name == "" {
		name = "recording"
	}
	stamp := at.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return name + "_" + stamp + "." + ext
}
