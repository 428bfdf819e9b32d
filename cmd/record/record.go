// Package record captures a fixed length of audio to a WAV file, useful for
// checking levels and pairing before running the relay.
package record

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/turntable-relay/internal/capture"
	"github.com/tphakala/turntable-relay/internal/conf"
	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
	"github.com/tphakala/turntable-relay/internal/wavstream"
)

// Command creates the record command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		duration time.Duration
		output   string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record audio from the configured source to a WAV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.Global().Module("record")
			src, err := capture.NewSource(settings, log)
			if err != nil {
				return err
			}

			f, err := os.Create(output)
			if err != nil {
				return errors.New(err).
					Component("record").
					Category(errors.CategoryFileIO).
					Context("path", output).
					Build()
			}
			defer f.Close()

			res, err := Record(cmd.Context(), src, capture.FormatFromSettings(settings.Audio), duration, settings.Buffer.ChunkSize, f)
			if err != nil {
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s (%d frames) from %s to %s\n",
				res.Duration.Round(time.Millisecond), res.Frames, src.Name(), output)
			return nil
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "Length of the recording")
	cmd.Flags().StringVarP(&output, "output", "o", "recording.wav", "Output WAV file")

	return cmd
}

// Result describes a finished recording.
type Result struct {
	Frames   int
	Duration time.Duration
}

// Record reads PCM from src until duration worth of audio is written to w or
// the source ends. The WAV header is finalized in both cases.
func Record(ctx context.Context, src capture.Source, format wavstream.Format, duration time.Duration, chunkSize int, w io.WriteSeeker) (Result, error) {
	if duration <= 0 {
		return Result{}, errors.Newf("duration must be positive, got %s", duration).
			Component("record").
			Category(errors.CategoryValidation).
			Build()
	}

	fw, err := wavstream.NewFileWriter(w, format)
	if err != nil {
		return Result{}, err
	}

	stream, err := src.Start(ctx)
	if err != nil {
		return Result{}, err
	}

	want := int64(duration.Seconds() * float64(format.BytesPerSecond()))
	want -= want % int64(format.BlockAlign())

	_, copyErr := io.CopyBuffer(fw, io.LimitReader(stream, want), make([]byte, max(chunkSize, 512)))
	closeErr := stream.Close()

	if err := fw.Close(); err != nil {
		return Result{}, err
	}
	if copyErr != nil && ctx.Err() == nil {
		return Result{}, errors.New(copyErr).
			Component("record").
			Category(errors.CategoryCapture).
			Build()
	}
	frames := fw.Frames()
	if closeErr != nil && frames == 0 {
		return Result{}, closeErr
	}

	return Result{
		Frames:   frames,
		Duration: format.Duration(uint64(frames * format.BlockAlign())), //nolint:gosec // non-negative
	}, nil
}
