package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

var (
	ErrBufferFull          = errors.New("audio buffer cap reached")
	ErrTranscriptionFailed = errors.New("transcription upstream failed")
)

// ITranscription turns a finished utterance into text. The boolean is
// false when the upstream succeeded but heard nothing usable; that is not
// an error.
type ITranscription interface {
	Transcribe(ctx context.Context, audioBytes []byte, language string) (string, bool, error)
}

type transcriptionService struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	log     *logrus.Logger
}

func NewTranscriptionService(log *logrus.Logger) ITranscription {
	baseURL := os.Getenv("DEEPGRAM_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.deepgram.com/v1/listen"
	}

	return &transcriptionService{
		apiKey:  os.Getenv("DEEPGRAM_API_KEY"),
		baseURL: baseURL,
		model:   "nova-2",
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (t *transcriptionService) Transcribe(ctx context.Context, audioBytes []byte, language string) (string, bool, error) {
	if t.apiKey == "" {
		return "", false, fmt.Errorf("%w: DEEPGRAM_API_KEY not configured", ErrTranscriptionFailed)
	}

	contentType := DetectFormat(audioBytes)

	params := url.Values{}
	params.Set("model", t.model)
	params.Set("language", language)
	params.Set("punctuate", "true")
	params.Set("smart_format", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"?"+params.Encode(), bytes.NewReader(audioBytes))
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	req.Header.Set("Authorization", "Token "+t.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Error("Deepgram API error")
		return "", false, fmt.Errorf("%w: status %d", ErrTranscriptionFailed, resp.StatusCode)
	}

	var parsed deepgramResponse
	if err := jsoniter.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	channels := parsed.Results.Channels
	if len(channels) == 0 || len(channels[0].Alternatives) == 0 {
		t.log.Warn("No transcript in Deepgram response")
		return "", false, nil
	}

	alt := channels[0].Alternatives[0]
	if alt.Transcript == "" {
		return "", false, nil
	}

	t.log.WithFields(logrus.Fields{
		"transcript": alt.Transcript,
		"confidence": alt.Confidence,
	}).Info("Transcription complete")

	return alt.Transcript, true, nil
}

// DetectFormat classifies the audio container from its first bytes and
// returns the content type to advertise upstream. Unknown payloads default
// to WebM, the usual browser MediaRecorder output.
func DetectFormat(audioBytes []byte) string {
	if len(audioBytes) < 12 {
		return "audio/webm"
	}

	header := audioBytes[:12]

	switch {
	case bytes.Equal(header[:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")):
		return "audio/wav"
	case bytes.Equal(header[:4], []byte{0x1a, 0x45, 0xdf, 0xa3}):
		return "audio/webm"
	case bytes.Equal(header[:4], []byte("OggS")):
		return "audio/ogg"
	case bytes.Equal(header[:4], []byte("fLaC")):
		return "audio/flac"
	case bytes.Equal(header[:3], []byte("ID3")):
		return "audio/mp3"
	case header[0] == 0xff && header[1]&0xe0 == 0xe0:
		// MPEG frame sync
		return "audio/mp3"
	case bytes.Equal(header[4:8], []byte("ftyp")):
		return "audio/mp4"
	default:
		return "audio/webm"
	}
}
