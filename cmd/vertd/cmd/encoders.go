package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vertd/internal/ffmpeg"
)

var encodersTimeout time.Duration

var encodersCmd = &cobra.Command{
	Use:   "encoders",
	Short: "Probe hardware encoders",
	Long: `Detect ffmpeg and run a short test encode for every hardware encoder
candidate, printing the encoder each codec family will use.`,
	RunE: runEncoders,
}

func init() {
	encodersCmd.Flags().DurationVar(&encodersTimeout, "timeout", 2*time.Minute, "overall probing timeout")
	rootCmd.AddCommand(encodersCmd)
}

func runEncoders(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), encodersTimeout)
	defer cancel()

	tools, err := newToolchain(ctx, cfg.FFmpeg, slog.Default())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "ffmpeg %s (%s)\n", tools.info.Version, tools.info.FFmpegPath)
	if !cfg.FFmpeg.HWAccel {
		fmt.Fprintln(w, "hardware acceleration is disabled; all families use software encoders")
		return nil
	}
	fmt.Fprintln(w)

	snapshot := tools.negotiator.Warm(ctx)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FAMILY\tENCODER\tACCEL\tDEVICE")
	for _, family := range ffmpeg.Families() {
		enc, ok := snapshot[family]
		if !ok || !enc.Accelerated() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", family, "software", "-", "-")
			continue
		}
		device := enc.Device
		if device == "" {
			device = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", family, enc.Name, enc.Accel, device)
	}
	return tw.Flush()
}
