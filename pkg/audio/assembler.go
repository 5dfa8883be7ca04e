package audio

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// Buffers shorter than MinAudioBytes carry no usable speech and are
	// never forwarded to transcription.
	MinAudioBytes = 100

	// DefaultMaxBufferBytes caps one in-flight utterance. Chunks past the
	// cap are rejected so a client that never sends AUDIO_END cannot grow
	// the buffer without bound.
	DefaultMaxBufferBytes = 10 * 1024 * 1024
)

// IAssembler accumulates audio chunks per user between the first chunk of
// an utterance and its finalize.
type IAssembler interface {
	Append(userID string, chunk []byte) error
	Finalize(userID string) []byte
	Discard(userID string)
	Size(userID string) int
}

type assembler struct {
	mu       sync.Mutex
	buffers  map[string][]byte
	maxBytes int
	log      *logrus.Logger
}

func NewAssembler(log *logrus.Logger) IAssembler {
	return &assembler{
		buffers:  make(map[string][]byte),
		maxBytes: DefaultMaxBufferBytes,
		log:      log,
	}
}

func (a *assembler) Append(userID string, chunk []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf := a.buffers[userID]
	if len(buf)+len(chunk) > a.maxBytes {
		a.log.WithFields(logrus.Fields{
			"user_id":  userID,
			"buffered": len(buf),
			"chunk":    len(chunk),
		}).Warn("Audio buffer cap reached, chunk rejected")
		return ErrBufferFull
	}

	a.buffers[userID] = append(buf, chunk...)
	return nil
}

// Finalize atomically removes and returns the accumulated bytes for the
// user. Returns an empty slice if nothing was buffered.
func (a *assembler) Finalize(userID string) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf := a.buffers[userID]
	delete(a.buffers, userID)
	return buf
}

func (a *assembler) Discard(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.buffers, userID)
}

func (a *assembler) Size(userID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers[userID])
}
