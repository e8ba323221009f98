// Package stt submits audio to the SpeechKit v3 streaming recognizer and
// assembles the recognized text.
package stt

import (
	"fmt"
	"strings"

	sttv3 "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/stt/v3"
)

// DefaultChunkSize is the payload size of each audio frame
const DefaultChunkSize = 4000

// AudioKind declares the container format of the submitted audio. The
// recognizer cannot sniff it.
type AudioKind int

const (
	// Voice is a chat voice note, OGG/Opus
	Voice AudioKind = iota
	// Audio is a general audio file, MP3
	Audio
)

func (k AudioKind) String() string {
	switch k {
	case Voice:
		return "voice"
	case Audio:
		return "audio"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k AudioKind) containerType() (sttv3.ContainerAudio_ContainerAudioType, error) {
	switch k {
	case Voice:
		return sttv3.ContainerAudio_OGG_OPUS, nil
	case Audio:
		return sttv3.ContainerAudio_MP3, nil
	default:
		return 0, fmt.Errorf("unsupported audio kind %v", k)
	}
}

// Finality selects which response event counts as finished text
type Finality int

const (
	// FinalityFinal uses `final` events, first alternative
	FinalityFinal Finality = iota
	// FinalityRefinement uses `final_refinement.normalized_text` events
	FinalityRefinement
)

// ParseFinality maps a configuration value onto a Finality
func ParseFinality(s string) (Finality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "final":
		return FinalityFinal, nil
	case "refinement", "final_refinement":
		return FinalityRefinement, nil
	default:
		return 0, fmt.Errorf("unknown finality %q", s)
	}
}

// SplitChunks cuts audio into frames of at most size bytes. The frames
// share audio's backing array.
func SplitChunks(audio []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]byte, 0, (len(audio)+size-1)/size)
	for len(audio) > size {
		chunks = append(chunks, audio[:size:size])
		audio = audio[size:]
	}
	if len(audio) > 0 {
		chunks = append(chunks, audio)
	}
	return chunks
}
