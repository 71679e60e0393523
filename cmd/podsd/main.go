package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/kmb3322/love-pods/internal/audio"
	"github.com/kmb3322/love-pods/internal/conductor"
	"github.com/kmb3322/love-pods/internal/config"
	"github.com/kmb3322/love-pods/internal/library"
	"github.com/kmb3322/love-pods/internal/monitor"
	"github.com/kmb3322/love-pods/internal/session"
	"github.com/kmb3322/love-pods/internal/stream"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("love-pods starting up...")

	var (
		cat *library.Catalog
		err error
	)
	if cfg.CatalogURL != "" {
		cat, err = library.FetchCatalog(ctx, cfg.CatalogURL)
	} else {
		cat, err = library.LoadCatalog(cfg.CatalogPath)
	}
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}
	log.Printf("catalog: %d tracks", len(cat.Tracks))

	store := library.NewStore(cat, nil)

	// Render loop: owns the audio clock, gain channels, and stem starts.
	engine := audio.NewEngine(cfg.GainTau)
	go engine.Run(ctx)

	// Broadcaster: fan rendered frames out to all listeners.
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, engine.Frames())

	cond := conductor.New(conductor.Config{
		GaugeSpeed:      cfg.GaugeSpeed,
		VocalGaugeSpeed: cfg.VocalGaugeSpeed,
		GaugeDecay:      cfg.GaugeDecay,
		TickRate:        cfg.TickRate,
		VocalStartDelay: cfg.VocalStartDelay,
		FadeOutTime:     cfg.FadeOutTime,
		SwitchFadeTime:  cfg.SwitchFadeTime,
	}, engine, store)

	hub := stream.NewWSHub(cond)
	cond.OnFrame = func(f conductor.Frame) { hub.Publish(f) }
	go cond.Run(ctx)

	if cfg.Monitor {
		go func() {
			if err := monitor.Run(ctx, broadcaster); err != nil {
				log.Printf("monitor: %v", err)
			}
		}()
	}

	webrtcHandler := stream.NewWebRTCHandler(broadcaster)

	router := mux.NewRouter()
	router.Handle("/stream", stream.NewHTTPHandler(broadcaster))
	router.Handle("/offer", webrtcHandler)
	router.Handle("/ws", hub)

	router.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		f := cond.Status()
		writeJSON(w, map[string]any{
			"phase":             f.Phase,
			"stage":             f.Stage,
			"released":          f.Released,
			"gauge":             f.Gauge,
			"visual_level":      f.VisualLevel,
			"bubble_spawn_hint": f.Bubble,
			"leaning":           f.Leaning,
			"track":             f.Track,
			"now":               f.Now,
			"http_listeners":    broadcaster.ListenerCount(),
			"webrtc_listeners":  webrtcHandler.PeerCount(),
			"ws_clients":        hub.ClientCount(),
		})
	}).Methods("GET")

	router.HandleFunc("/api/catalog", func(w http.ResponseWriter, r *http.Request) {
		type entry struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}
		out := make([]entry, 0, len(cat.Tracks))
		for _, e := range cat.Tracks {
			out = append(out, entry{ID: e.ID, Title: e.Title})
		}
		writeJSON(w, map[string]any{"tracks": out, "selected": store.Selected()})
	}).Methods("GET")

	router.HandleFunc("/api/connect", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, cond.Connect())
	}).Methods("POST")

	router.HandleFunc("/api/pause", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, cond.Pause())
	}).Methods("POST")

	router.HandleFunc("/api/resume", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, cond.Resume())
	}).Methods("POST")

	router.HandleFunc("/api/stop", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, cond.Stop())
	}).Methods("POST")

	router.HandleFunc("/api/select", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
			http.Error(w, "invalid track id", http.StatusBadRequest)
			return
		}
		writeResult(w, cond.SelectTrack(req.ID))
	}).Methods("POST")

	router.HandleFunc("/api/lean", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Active bool `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		writeResult(w, cond.SetLean(req.Active))
	}).Methods("POST")

	handler := cors.AllowAll().Handler(router)
	server := &http.Server{Addr: cfg.Addr, Handler: handler}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		server.Close()
	}()

	log.Printf("love-pods live on %s", cfg.Addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeResult maps the session error taxonomy onto the control API. Invalid
// transitions are silent no-ops; load and selection problems surface as 409s
// the client can retry.
func writeResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, map[string]any{"ok": true})
	case errors.Is(err, session.ErrInvalidTransition):
		writeJSON(w, map[string]any{"ok": true, "noop": true})
	case errors.Is(err, session.ErrNoSelection),
		errors.Is(err, session.ErrTrackNotLoaded),
		errors.Is(err, session.ErrAssetLoad):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": err.Error()})
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
