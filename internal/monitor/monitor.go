// Package monitor plays the broadcast mix on the local speakers. It is an
// optional sink for development machines; the daemon runs headless without it.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/hajimehoshi/oto/v2"

	"github.com/kmb3322/love-pods/internal/audio"
	"github.com/kmb3322/love-pods/internal/stream"
)

// bitDepthBytes is the oto sample width: int16 PCM.
const bitDepthBytes = 2

// frameReader adapts a broadcast listener to the io.Reader oto pulls from.
type frameReader struct {
	listener *stream.Listener
	rest     []byte
}

func (r *frameReader) Read(p []byte) (int, error) {
	if len(r.rest) == 0 {
		select {
		case <-r.listener.Done():
			return 0, io.EOF
		case frame, ok := <-r.listener.C:
			if !ok {
				return 0, io.EOF
			}
			r.rest = audio.SamplesToBytes(frame)
		}
	}
	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}

// Run subscribes to the broadcaster and plays frames until ctx is cancelled.
func Run(ctx context.Context, b *stream.Broadcaster) error {
	octx, ready, err := oto.NewContext(audio.SampleRate, audio.Channels, bitDepthBytes)
	if err != nil {
		return fmt.Errorf("monitor: open audio device: %w", err)
	}
	<-ready

	listener := b.Subscribe()
	defer b.Unsubscribe(listener)

	player := octx.NewPlayer(&frameReader{listener: listener})
	player.Play()
	log.Printf("monitor: speaker output on")

	<-ctx.Done()
	if err := player.Close(); err != nil {
		log.Printf("monitor: close player: %v", err)
	}
	log.Printf("monitor: speaker output off")
	return nil
}
