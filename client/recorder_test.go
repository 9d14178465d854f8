package client

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"
)

// fakeSource is an in-memory audio capture that tracks release.
type fakeSource struct {
	reader io.Reader
	closed bool
}

func (f *fakeSource) Read(p []byte) (int, error) {
	return f.reader.Read(p)
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

// blockingSource never returns data until closed, like a quiet
// microphone.
type blockingSource struct {
	unblock chan struct{}
	closed  bool
}

func (b *blockingSource) Read(p []byte) (int, error) {
	<-b.unblock
	return 0, io.EOF
}

func (b *blockingSource) Close() error {
	b.closed = true
	close(b.unblock)
	return nil
}

func TestRecorderStartStopRoundTrip(t *testing.T) {
	captured := []byte("fake-opus-frames")
	source := &fakeSource{reader: bytes.NewReader(captured)}

	recorder := NewRecorder(func() (io.ReadCloser, error) { return source, nil })
	if err := recorder.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	dataURI, err := recorder.Stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !source.closed {
		t.Fatal("expected audio source released on stop")
	}

	if !strings.HasPrefix(dataURI, "data:audio/webm;base64,") {
		t.Fatalf("unexpected data URI prefix: %q", dataURI)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURI, "data:audio/webm;base64,"))
	if err != nil {
		t.Fatalf("decode captured payload: %v", err)
	}
	if !bytes.Equal(decoded, captured) {
		t.Fatalf("captured payload mismatch: got %q", decoded)
	}
}

func TestRecorderCloseReleasesSource(t *testing.T) {
	source := &blockingSource{unblock: make(chan struct{})}

	recorder := NewRecorder(func() (io.ReadCloser, error) { return source, nil })
	if err := recorder.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := recorder.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !source.closed {
		t.Fatal("expected audio source released on close")
	}

	// Close is idempotent and Stop after Close reports no capture.
	if err := recorder.Close(); err != nil {
		t.Fatalf("repeated close failed: %v", err)
	}
	if _, err := recorder.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording after close, got %v", err)
	}
}

func TestRecorderStopWithoutStart(t *testing.T) {
	recorder := NewRecorder(func() (io.ReadCloser, error) {
		t.Fatal("acquire must not run without Start")
		return nil, nil
	})

	if _, err := recorder.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
}

func TestRecorderEmptyCapture(t *testing.T) {
	source := &fakeSource{reader: bytes.NewReader(nil)}

	recorder := NewRecorder(func() (io.ReadCloser, error) { return source, nil })
	if err := recorder.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if _, err := recorder.Stop(); err == nil {
		t.Fatal("expected error for empty recording")
	}
	if !source.closed {
		t.Fatal("expected audio source released even on empty capture")
	}
}

func TestRecorderAcquireFailure(t *testing.T) {
	recorder := NewRecorder(func() (io.ReadCloser, error) {
		return nil, errors.New("microphone busy")
	})

	if err := recorder.Start(); err == nil {
		t.Fatal("expected acquire failure to surface")
	}
}

func TestValidateVoiceNote(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("audio-bytes"))

	if err := ValidateVoiceNote("data:audio/webm;base64," + payload); err != nil {
		t.Fatalf("expected valid voice note, got %v", err)
	}

	invalid := []struct {
		name    string
		dataURI string
	}{
		{"not a data URI", "hello"},
		{"wrong media type", "data:image/png;base64," + payload},
		{"missing payload", "data:audio/webm;base64,"},
		{"not base64", "data:audio/webm;base64,%%%"},
	}
	for _, tc := range invalid {
		if err := ValidateVoiceNote(tc.dataURI); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
