package stream

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kmb3322/love-pods/internal/audio"
)

// chunkWriter hands each Write to a channel so a concurrent pump can be
// observed without data races.
type chunkWriter chan []byte

func (c chunkWriter) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	c <- cp
	return len(p), nil
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) {
	return 0, errors.New("sink gone")
}

func TestPumpPCMWritesListenerFrames(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()

	out := make(chunkWriter, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpPCM(context.Background(), l, out)
	}()

	frame := []int16{1, -1, 257, -257}
	l.C <- frame

	select {
	case got := <-out:
		if want := audio.SamplesToBytes(frame); !bytes.Equal(got, want) {
			t.Errorf("pumped bytes = %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("frame never reached the writer")
	}

	b.Unsubscribe(l)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop after unsubscribe")
	}
}

func TestPumpPCMStopsOnWriterFailure(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()
	defer b.Unsubscribe(l)

	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpPCM(context.Background(), l, failWriter{})
	}()

	l.C <- []int16{1, 2}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop after a write error")
	}
}

func TestPumpPCMStopsOnContextCancel(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()
	defer b.Unsubscribe(l)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpPCM(ctx, l, chunkWriter(make(chan []byte, 4)))
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop after context cancel")
	}
}
