package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Addr string

	// Assets
	CatalogPath string // YAML manifest on disk
	CatalogURL  string // fetched over HTTP when set; wins over CatalogPath

	// Gauge behavior
	GaugeSpeed      float64 // charge per tick before the mix starts
	VocalGaugeSpeed float64 // charge per tick while the mix is active
	GaugeDecay      float64 // fall per tick while not leaning

	// Session timing
	TickRate        int           // gauge/mixer ticks per second
	VocalStartDelay time.Duration // gap between loop release and mix start
	FadeOutTime     time.Duration // full-stop fade
	SwitchFadeTime  time.Duration // track-switch fade, shorter than a stop
	GainTau         float64       // gain smoothing time constant, seconds

	// Local speaker monitor
	Monitor bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Addr: envStr("PODS_ADDR", ":8080"),

		CatalogPath: envStr("PODS_CATALOG", "assets/catalog.yaml"),
		CatalogURL:  envStr("PODS_CATALOG_URL", ""),

		GaugeSpeed:      envFloat("PODS_GAUGE_SPEED", 0.15),
		VocalGaugeSpeed: envFloat("PODS_VOCAL_GAUGE_SPEED", 0.3),
		GaugeDecay:      envFloat("PODS_GAUGE_DECAY", 0.2),

		TickRate:        envInt("PODS_TICK_RATE", 60),
		VocalStartDelay: envDur("PODS_VOCAL_START_DELAY", 500*time.Millisecond),
		FadeOutTime:     envDur("PODS_FADE_OUT", 10*time.Second),
		SwitchFadeTime:  envDur("PODS_SWITCH_FADE", 800*time.Millisecond),
		GainTau:         envFloat("PODS_GAIN_TAU", 0.05),

		Monitor: envBool("PODS_MONITOR", false),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
