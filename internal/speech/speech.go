// Package speech is the participant's audio text path: recognized speech
// flows out to the translation relay, translated text flows back in as
// synthesized utterances played one at a time.
package speech

import "context"

// Transcript is one recognizer hypothesis. Interim hypotheses may be revised
// by later ones; a final one closes the phrase.
type Transcript struct {
	Text  string
	Final bool
}

// Recognizer turns local speech into text. Listen streams hypotheses until
// ctx is done or the input ends, then closes the channel.
type Recognizer interface {
	Listen(ctx context.Context, lang string) (<-chan Transcript, error)
}

// Chunk is one piece of an utterance audio stream: 16-bit little-endian mono
// PCM tagged with the utterance it belongs to. The last chunk of a stream has
// End set; a chunk with Err ends the stream in failure.
type Chunk struct {
	UtteranceID string
	PCM         []byte
	End         bool
	Err         error
}

// Synthesizer renders text as an utterance audio stream at SampleRate.
type Synthesizer interface {
	SampleRate() int
	Synthesize(ctx context.Context, utteranceID, text, lang string) (<-chan Chunk, error)
}

// Player renders one complete utterance. Play blocks until playback ends.
type Player interface {
	SampleRate() int
	Play(ctx context.Context, utteranceID string, pcm []byte) error
}
