package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var leanHold time.Duration

func init() {
	leanCmd.Flags().DurationVar(&leanHold, "hold", 0, "hold the lean for this long, then release")
	rootCmd.AddCommand(statusCmd, catalogCmd, connectCmd, pauseCmd, resumeCmd,
		stopCmd, selectCmd, leanCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var st struct {
			Phase       string  `json:"phase"`
			Stage       string  `json:"stage"`
			Released    bool    `json:"released"`
			Gauge       float64 `json:"gauge"`
			VisualLevel float64 `json:"visual_level"`
			Leaning     bool    `json:"leaning"`
			Track       string  `json:"track"`
			Now         float64 `json:"now"`
			HTTP        int     `json:"http_listeners"`
			WebRTC      int     `json:"webrtc_listeners"`
			WS          int     `json:"ws_clients"`
		}
		if err := getJSON("/api/status", &st); err != nil {
			return err
		}
		fmt.Printf("phase:    %s\n", st.Phase)
		fmt.Printf("stage:    %s", st.Stage)
		if st.Released {
			fmt.Print(" (released)")
		}
		fmt.Println()
		fmt.Printf("track:    %s\n", st.Track)
		fmt.Printf("gauge:    %.1f (visual %.2f, leaning %v)\n", st.Gauge, st.VisualLevel, st.Leaning)
		fmt.Printf("clock:    %.2fs\n", st.Now)
		fmt.Printf("audience: %d http, %d webrtc, %d ws\n", st.HTTP, st.WebRTC, st.WS)
		return nil
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List selectable track sets",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cat struct {
			Tracks []struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"tracks"`
			Selected string `json:"selected"`
		}
		if err := getJSON("/api/catalog", &cat); err != nil {
			return err
		}
		for _, tr := range cat.Tracks {
			marker := " "
			if tr.ID == cat.Selected {
				marker = "*"
			}
			fmt.Printf("%s %-20s %s\n", marker, tr.ID, tr.Title)
		}
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Start a session on the selected track",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postJSON("/api/connect", nil)
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Suspend the audio clock",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postJSON("/api/pause", nil)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postJSON("/api/resume", nil)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Fade out and end the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postJSON("/api/stop", nil)
	},
}

var selectCmd = &cobra.Command{
	Use:   "select <track-id>",
	Short: "Select a track set (switches live during a mix)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postJSON("/api/select", map[string]string{"id": args[0]})
	},
}

var leanCmd = &cobra.Command{
	Use:   "lean on|off",
	Short: "Set the leaning signal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var active bool
		switch args[0] {
		case "on":
			active = true
		case "off":
			active = false
		default:
			return fmt.Errorf("lean takes on or off, got %q", args[0])
		}
		if err := postJSON("/api/lean", map[string]bool{"active": active}); err != nil {
			return err
		}
		if active && leanHold > 0 {
			time.Sleep(leanHold)
			return postJSON("/api/lean", map[string]bool{"active": false})
		}
		return nil
	},
}
