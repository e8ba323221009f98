package stt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	sttv3 "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/stt/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	"github.com/wrale/vmtt-bot/internal/iam"
)

const (
	// Endpoint is the production SpeechKit gRPC endpoint
	Endpoint = "stt.api.cloud.yandex.net:443"

	defaultTimeout = time.Minute
)

// Stream is one bidirectional RecognizeStreaming call
type Stream interface {
	Send(*sttv3.StreamingRequest) error
	Recv() (*sttv3.StreamingResponse, error)
	CloseSend() error
}

// StreamOpener starts a recognition stream. ctx carries the outgoing
// authorization metadata.
type StreamOpener func(ctx context.Context) (Stream, error)

// Dial connects to a SpeechKit endpoint over TLS
func Dial(endpoint string) (*grpc.ClientConn, error) {
	if endpoint == "" {
		endpoint = Endpoint
	}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})),
	)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}
	return conn, nil
}

// NewOpener opens streams on conn
func NewOpener(conn grpc.ClientConnInterface) StreamOpener {
	client := sttv3.NewRecognizerClient(conn)
	return func(ctx context.Context) (Stream, error) {
		return client.RecognizeStreaming(ctx)
	}
}

// Recognizer turns audio bytes into text
type Recognizer struct {
	open      StreamOpener
	chunkSize int
	finality  Finality
	timeout   time.Duration
	log       zerolog.Logger
}

// Option configures a Recognizer
type Option func(*Recognizer)

// WithChunkSize sets the audio frame size
func WithChunkSize(n int) Option {
	return func(r *Recognizer) {
		r.chunkSize = n
	}
}

// WithFinality selects the finality signal
func WithFinality(f Finality) Option {
	return func(r *Recognizer) {
		r.finality = f
	}
}

// WithTimeout bounds a whole recognition call
func WithTimeout(d time.Duration) Option {
	return func(r *Recognizer) {
		r.timeout = d
	}
}

// WithLogger sets the recognizer logger
func WithLogger(l zerolog.Logger) Option {
	return func(r *Recognizer) {
		r.log = l
	}
}

// NewRecognizer creates a recognizer using open for every call
func NewRecognizer(open StreamOpener, opts ...Option) *Recognizer {
	r := &Recognizer{
		open:      open,
		chunkSize: DefaultChunkSize,
		finality:  FinalityFinal,
		timeout:   defaultTimeout,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recognize returns the recognized text. A failed call yields the provider's
// error detail instead, so the caller always has something to reply with.
func (r *Recognizer) Recognize(ctx context.Context, audio []byte, kind AudioKind, cred *iam.Credential, folderID string) string {
	text, err := r.RecognizeStrict(ctx, audio, kind, cred, folderID)
	if err != nil {
		var recErr *Error
		errors.As(err, &recErr)
		r.log.Warn().Err(err).Stringer("kind", kind).Msg("recognition failed")
		return recErr.Detail
	}
	return text
}

// RecognizeStrict is Recognize with failures reported as *Error
func (r *Recognizer) RecognizeStrict(ctx context.Context, audio []byte, kind AudioKind, cred *iam.Credential, folderID string) (string, error) {
	container, err := kind.containerType()
	if err != nil {
		return "", &Error{Code: codes.InvalidArgument, Detail: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	md := []string{"authorization", cred.Authorization()}
	if folderID != "" {
		md = append(md, "x-folder-id", folderID)
	}
	stream, err := r.open(metadata.AppendToOutgoingContext(ctx, md...))
	if err != nil {
		return "", asError(err)
	}

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- r.send(stream, audio, container)
	}()

	text, err := r.receive(stream)
	if err != nil {
		cancel()
		<-sendErr
		return "", asError(err)
	}
	if err := <-sendErr; err != nil {
		return "", asError(err)
	}

	return text, nil
}

func (r *Recognizer) send(stream Stream, audio []byte, container sttv3.ContainerAudio_ContainerAudioType) error {
	options := &sttv3.StreamingRequest{
		Event: &sttv3.StreamingRequest_SessionOptions{
			SessionOptions: &sttv3.StreamingOptions{
				RecognitionModel: &sttv3.RecognitionModelOptions{
					AudioFormat: &sttv3.AudioFormatOptions{
						AudioFormat: &sttv3.AudioFormatOptions_ContainerAudio{
							ContainerAudio: &sttv3.ContainerAudio{ContainerAudioType: container},
						},
					},
					TextNormalization: &sttv3.TextNormalizationOptions{
						TextNormalization: sttv3.TextNormalizationOptions_TEXT_NORMALIZATION_ENABLED,
					},
				},
			},
		},
	}
	if err := stream.Send(options); err != nil {
		return sendFailure(err)
	}

	for _, chunk := range SplitChunks(audio, r.chunkSize) {
		req := &sttv3.StreamingRequest{
			Event: &sttv3.StreamingRequest_Chunk{
				Chunk: &sttv3.AudioChunk{Data: chunk},
			},
		}
		if err := stream.Send(req); err != nil {
			return sendFailure(err)
		}
	}

	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing stream: %w", err)
	}
	return nil
}

// sendFailure drops io.EOF: the stream ended and Recv reports the real status
func sendFailure(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (r *Recognizer) receive(stream Stream) (string, error) {
	var parts []string
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if text := r.finalText(resp); text != "" {
			parts = append(parts, text)
		}
	}

	r.log.Debug().Int("fragments", len(parts)).Msg("recognition finished")
	return strings.Join(parts, " "), nil
}

// finalText extracts the finished text of resp, if resp carries any
func (r *Recognizer) finalText(resp *sttv3.StreamingResponse) string {
	var update *sttv3.AlternativeUpdate
	switch r.finality {
	case FinalityRefinement:
		update = resp.GetFinalRefinement().GetNormalizedText()
	default:
		update = resp.GetFinal()
	}

	alternatives := update.GetAlternatives()
	if len(alternatives) == 0 {
		return ""
	}
	return alternatives[0].GetText()
}
