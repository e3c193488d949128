package tts

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Kind names a synthesis backend
type Kind string

const (
	KindDeepgram Kind = "deepgram"
	KindCartesia Kind = "cartesia"
	KindSilence  Kind = "silence"
)

// AudioExt is the extension of every file a synthesizer writes
const AudioExt = ".wav"

// SampleRate is the output sample rate shared by all backends
const SampleRate = 24000

// VoiceSynthesizer turns one line of text into an audio file.
// Implementations must be safe for concurrent use with disjoint output paths.
type VoiceSynthesizer interface {
	// Kind identifies the backend
	Kind() Kind

	// SupportsVoice reports whether voiceID is usable with this backend
	SupportsVoice(voiceID string) bool

	// Synthesize writes <outputDir>/<position>.wav and returns its path.
	// On failure no file is left behind.
	Synthesize(ctx context.Context, text, voiceID, outputDir string, position int) (string, error)
}

// ParseKind validates a backend name
func ParseKind(name string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(name))); k {
	case KindDeepgram, KindCartesia, KindSilence:
		return k, nil
	}
	return "", fmt.Errorf("unknown voice generator %q", name)
}

// FileName is the audio file name for a line position
func FileName(position int) string {
	return strconv.Itoa(position) + AudioExt
}

// PositionFromFileName parses a name produced by FileName
func PositionFromFileName(name string) (int, bool) {
	base, ok := strings.CutSuffix(name, AudioExt)
	if !ok {
		return 0, false
	}
	pos, err := strconv.Atoi(base)
	if err != nil || pos < 0 {
		return 0, false
	}
	return pos, true
}
