package audio

// MixedStream is the single logical stream produced by a mixing graph. The
// inputs that feed it are never exposed downstream.
//
// Implementations must be safe for concurrent use.
type MixedStream interface {
	// Frames returns the channel of mixed frames. It is closed by Close.
	Frames() <-chan AudioFrame

	// Format reports the PCM format of the mixed frames.
	Format() Format

	// Inputs reports how many sources feed the stream.
	Inputs() int

	// Close stops every input source and then tears down the graph. It is
	// safe to call Close more than once; subsequent calls return nil.
	Close() error
}
