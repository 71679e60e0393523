package stream

import (
	"context"
	"io"
	"log"
	"net/http"
	"os/exec"

	"github.com/kmb3322/love-pods/internal/audio"
)

// mp3Bitrate is the encode rate for HTTP listeners.
const mp3Bitrate = "192k"

// HTTPHandler serves the session mix as chunked MP3. Every listener gets a
// private FFmpeg encoder fed from its own broadcast subscription, so a
// stalled connection costs that listener frames, never the broadcast.
// CORS is handled by the daemon's middleware.
type HTTPHandler struct {
	b *Broadcaster
}

// NewHTTPHandler creates an MP3 stream handler over the broadcaster.
func NewHTTPHandler(b *Broadcaster) *HTTPHandler {
	return &HTTPHandler{b: b}
}

// encoderCmd builds the FFmpeg process for a real-time PCM -> MP3 encode,
// reading raw samples on stdin and emitting MP3 on stdout.
func encoderCmd(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, "ffmpeg",
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", mp3Bitrate,
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	)
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("ICY-Name", "love-pods")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := encoderCmd(ctx)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Printf("HTTP stream: stdin pipe: %v", err)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Printf("HTTP stream: stdout pipe: %v", err)
		return
	}
	if err := cmd.Start(); err != nil {
		log.Printf("HTTP stream: ffmpeg start: %v", err)
		return
	}

	l := h.b.Subscribe()
	defer h.b.Unsubscribe(l)
	log.Printf("HTTP listener %s connected (total: %d)", l.ID, h.b.ListenerCount())
	defer log.Printf("HTTP listener %s disconnected", l.ID)

	go func() {
		defer stdin.Close()
		pumpPCM(ctx, l, stdin)
	}()

	// Relay encoded MP3 to the response, flushing each chunk so the client
	// hears audio as it is produced.
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("HTTP stream: listener %s: ffmpeg read: %v", l.ID, err)
			}
			break
		}
	}

	cmd.Wait()
}

// pumpPCM writes the listener's frames to w as little-endian bytes until the
// listener is unsubscribed, ctx ends, or the writer fails.
func pumpPCM(ctx context.Context, l *Listener, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}
