package client

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

const defaultAudioMIME = "audio/webm"

// ErrNotRecording indicates Stop was called without a running capture.
var ErrNotRecording = errors.New("client: recorder is not recording")

// ValidateVoiceNote checks that a payload is a well-formed audio data
// URI before it is accepted for sending.
func ValidateVoiceNote(dataURI string) error {
	if !strings.HasPrefix(dataURI, "data:audio/") {
		return errors.New("voice note must be an audio data URI")
	}
	_, encoded, found := strings.Cut(dataURI, ";base64,")
	if !found || encoded == "" {
		return errors.New("voice note data URI must carry base64 content")
	}
	if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("voice note content is not valid base64: %w", err)
	}
	return nil
}

// Recorder captures one voice note from an acquired audio source. The
// source is a scoped resource: it is released on Stop, and Close
// releases it even when the caller never stops explicitly.
type Recorder struct {
	acquire func() (io.ReadCloser, error)
	mime    string

	mu        sync.Mutex
	source    io.ReadCloser
	buf       bytes.Buffer
	recording bool
	copyDone  chan struct{}
	copyErr   error
}

// NewRecorder wraps a capture-source factory, typically a microphone
// acquisition. The factory is invoked once per Start.
func NewRecorder(acquire func() (io.ReadCloser, error)) *Recorder {
	return &Recorder{acquire: acquire, mime: defaultAudioMIME}
}

// Start acquires the audio source and begins buffering.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return errors.New("client: recorder already recording")
	}

	source, err := r.acquire()
	if err != nil {
		return fmt.Errorf("acquire audio source: %w", err)
	}

	r.source = source
	r.buf.Reset()
	r.recording = true
	r.copyDone = make(chan struct{})

	go func() {
		_, err := io.Copy(&r.buf, source)
		r.mu.Lock()
		// Errors caused by our own Close during Stop are expected.
		if err != nil && r.recording {
			r.copyErr = err
		}
		r.mu.Unlock()
		close(r.copyDone)
	}()

	return nil
}

// Stop releases the audio source and returns the captured note as a
// base64 data URI ready for encryption.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	source := r.source
	done := r.copyDone
	r.recording = false
	r.source = nil
	r.mu.Unlock()

	// Closing the source unblocks the copy goroutine.
	closeErr := source.Close()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.copyErr != nil {
		return "", fmt.Errorf("capture audio: %w", r.copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("release audio source: %w", closeErr)
	}
	if r.buf.Len() == 0 {
		return "", errors.New("client: empty recording")
	}

	encoded := base64.StdEncoding.EncodeToString(r.buf.Bytes())
	return "data:" + r.mime + ";base64," + encoded, nil
}

// Close releases the audio source without producing a note. Safe to
// call whether or not recording is active, and after Stop.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil
	}
	source := r.source
	done := r.copyDone
	r.recording = false
	r.source = nil
	r.mu.Unlock()

	err := source.Close()
	<-done
	return err
}
