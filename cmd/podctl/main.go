package main

import (
	"github.com/spf13/cobra"
)

var apiAddr string

var rootCmd = &cobra.Command{
	Use:   "podctl",
	Short: "Control a running love-pods daemon",
	Long:  `podctl drives the love-pods control API: sessions, pause/resume, track selection, and the lean signal.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "http://localhost:8080", "daemon base URL")
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
