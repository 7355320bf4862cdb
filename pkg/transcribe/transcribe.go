// Package transcribe turns voice-note audio into text via AssemblyAI.
package transcribe

import (
	"context"
	"fmt"
	"io"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"
	"go.uber.org/zap"
)

// Service transcribes audio streams. It satisfies the conversation
// engine's Transcriber dependency.
type Service struct {
	client   *aai.Client
	language string
	logger   *zap.Logger
}

// NewService creates the transcription Service. language is a BCP-47 hint
// for the spoken language of incoming voice notes.
func NewService(apiKey, language string, logger *zap.Logger) *Service {
	return &Service{
		client:   aai.NewClient(apiKey),
		language: language,
		logger:   logger.Named("transcribe"),
	}
}

// Transcribe uploads the audio stream and blocks until the provider
// returns a finished transcript.
func (s *Service) Transcribe(ctx context.Context, audio io.Reader) (string, error) {
	params := &aai.TranscriptOptionalParams{
		LanguageCode: aai.TranscriptLanguageCode(s.language),
	}

	transcript, err := s.client.Transcripts.TranscribeFromReader(ctx, audio, params)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	if transcript.Status == aai.TranscriptStatusError {
		reason := "unknown error"
		if transcript.Error != nil {
			reason = *transcript.Error
		}
		return "", fmt.Errorf("transcription failed: %s", reason)
	}
	if transcript.Text == nil {
		return "", nil
	}

	text := *transcript.Text
	s.logger.Debug("voice note transcribed", zap.Int("chars", len(text)))
	return text, nil
}
