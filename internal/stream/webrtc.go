package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/kmb3322/love-pods/internal/audio"
)

// opusBitrate is the encode rate for WebRTC peers.
const opusBitrate = 128000

// WebRTCHandler answers SDP offers and streams the mix to each peer as an
// Opus track. Peers are registered under uuid ids, matching the
// broadcaster's listeners. CORS is handled by the daemon's middleware.
type WebRTCHandler struct {
	b *Broadcaster

	mu    sync.Mutex
	peers map[uuid.UUID]*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC stream handler over the broadcaster.
func NewWebRTCHandler(b *Broadcaster) *WebRTCHandler {
	return &WebRTCHandler{
		b:     b,
		peers: make(map[uuid.UUID]*webrtc.PeerConnection),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// addPeer registers a peer under a fresh id.
func (h *WebRTCHandler) addPeer(pc *webrtc.PeerConnection) uuid.UUID {
	id := uuid.New()
	h.mu.Lock()
	h.peers[id] = pc
	h.mu.Unlock()
	return id
}

// removePeer drops a peer from the registry. Removing an id twice is
// harmless; state-change callbacks can fire more than once.
func (h *WebRTCHandler) removePeer(id uuid.UUID) {
	h.mu.Lock()
	delete(h.peers, id)
	h.mu.Unlock()
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"love-pods",
	)
	if err == nil {
		_, err = pc.AddTrack(track)
	}
	if err != nil {
		pc.Close()
		http.Error(w, "attach audio track failed", http.StatusInternalServerError)
		return
	}

	if err := negotiate(pc, offer); err != nil {
		pc.Close()
		http.Error(w, "SDP negotiation failed", http.StatusBadRequest)
		return
	}

	id := h.addPeer(pc)
	log.Printf("WebRTC peer %s connected (total: %d)", id, h.PeerCount())

	go h.streamToPeer(id, track)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.removePeer(id)
			pc.Close()
			log.Printf("WebRTC peer %s disconnected (remaining: %d)", id, h.PeerCount())
		}
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// negotiate runs the answer side of the SDP exchange and waits for ICE
// gathering so the local description returned to the client is complete.
func negotiate(pc *webrtc.PeerConnection, offer webrtc.SessionDescription) error {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}
	<-gathered
	return nil
}

// streamToPeer encodes broadcast frames to Opus and writes them onto the
// peer's track until the peer or its subscription goes away.
func (h *WebRTCHandler) streamToPeer(id uuid.UUID, track *webrtc.TrackLocalStaticSample) {
	l := h.b.Subscribe()
	defer h.b.Unsubscribe(l)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Printf("WebRTC peer %s: opus encoder: %v", id, err)
		return
	}
	enc.SetBitrate(opusBitrate)

	out := make([]byte, 4000)
	for {
		select {
		case <-l.done:
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, out)
			if err != nil {
				log.Printf("WebRTC peer %s: opus encode: %v", id, err)
				continue
			}
			sample := media.Sample{Data: out[:n], Duration: audio.FrameDuration}
			if err := track.WriteSample(sample); err != nil {
				return
			}
		}
	}
}
