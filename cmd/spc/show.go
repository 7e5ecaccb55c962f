package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/franz/speech-corpus/internal/align"
	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/fingerprint"
	"github.com/franz/speech-corpus/internal/store"
)

var showCmd = &cobra.Command{
	Use:   "show <fingerprint | path>",
	Short: "Show everything stored about one recording",
	Long: `Print the audio metrics, dataset memberships, transcripts, error rates
and alignment stored for a fingerprint.

When the argument is not a fingerprint it is read as a path inside the
dataset and hashed first.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var fingerprintPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().Bool("intervals", false, "list every aligned interval")
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	intervals, _ := cmd.Flags().GetBool("intervals")

	fp := strings.ToLower(args[0])
	if !fingerprintPattern.MatchString(fp) {
		st, err := cfg.datasetStorage(ctx)
		if err != nil {
			return err
		}
		fp, err = fingerprint.File(ctx, st, args[0])
		if err != nil {
			return err
		}
	}

	db, err := cfg.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	return showFingerprint(ctx, os.Stdout, db, fp, intervals)
}

// showFingerprint prints every stored fact about fp to w
func showFingerprint(ctx context.Context, w io.Writer, db *store.Store, fp string, intervals bool) error {
	fmt.Fprintf(w, "Fingerprint: %s\n\n", fp)

	m, err := db.GetAudioMetrics(ctx, fp)
	if err != nil {
		return err
	}
	if m == nil {
		fmt.Fprintln(w, "Not in the metrics store.")
		return nil
	}
	fmt.Fprintln(w, "Audio:")
	fmt.Fprintf(w, "  Duration:    %.3f s\n", m.DurationSeconds)
	fmt.Fprintf(w, "  Format:      %d Hz, %d ch, %s\n", m.SampleRate, m.Channels, m.PCMFormat)
	fmt.Fprintf(w, "  SNR:         %.2f dB\n", m.SNR)
	fmt.Fprintf(w, "  dBFS:        %.2f\n", m.DBFS)

	members, err := db.GetMemberships(ctx, fp)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nDatasets (%d):\n", len(members))
	for _, mb := range members {
		fmt.Fprintf(w, "  %s: %s (speaker %d)\n", mb.Dataset, mb.Path, mb.SpeakerID)
	}

	original, err := db.GetOriginalText(ctx, fp)
	if err != nil {
		return err
	}
	asr, err := db.GetASRText(ctx, fp)
	if err != nil {
		return err
	}
	if original != nil || asr != nil {
		fmt.Fprintln(w, "\nTexts:")
		printTranscript(w, "Original", original)
		printTranscript(w, "ASR", asr)
	}

	cmp, err := db.GetTextComparison(ctx, fp)
	if err != nil {
		return err
	}
	if cmp != nil {
		fmt.Fprintf(w, "  WER: %.4f  CER: %.4f\n", cmp.WER, cmp.CER)
	}

	al, err := db.GetAlignment(ctx, fp)
	if err != nil {
		return err
	}
	if al != nil {
		fmt.Fprintf(w, "\nAlignment (%d intervals):\n", len(al.Intervals))
		fmt.Fprintf(w, "  %s\n", align.Transcript(al.Intervals, align.DefaultCommaPause, align.DefaultPeriodPause))
		if intervals {
			for _, iv := range al.Intervals {
				text := iv.Text
				if text == "" {
					text = "<pause>"
				}
				fmt.Fprintf(w, "  %8.3f %8.3f  %s\n", iv.Start, iv.End, text)
			}
		}
	}
	return nil
}

func printTranscript(w io.Writer, label string, t *corpus.Transcript) {
	if t == nil {
		return
	}
	cps := "-"
	if t.CPS != nil {
		cps = fmt.Sprintf("%.1f", *t.CPS)
	}
	fmt.Fprintf(w, "  %-9s %q (cps %s)\n", label+":", t.Text, cps)
}
