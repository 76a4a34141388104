package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"video-encoder/internal/config"
	"video-encoder/internal/domain"
	"video-encoder/internal/encode"
	"video-encoder/internal/jobs"
	"video-encoder/internal/locator"
)

// exitCancelled matches the shell convention for SIGINT.
const exitCancelled = 130

// exitError carries a process exit code out of RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// encodeFlags holds raw flag values; empty strings keep the saved settings.
type encodeFlags struct {
	codec    string
	preset   string
	fps      string
	speed    string
	bitrate  string
	crop     string
	args     string
	ffmpeg   string
	logLevel string
	config   string
	duration time.Duration
	dryRun   bool
}

func newRootCmd() *cobra.Command {
	flags := &encodeFlags{}
	cmd := &cobra.Command{
		Use:   "vencode [flags] <input>",
		Short: "Re-encode a video with ffmpeg",
		Long: "Re-encode a video to <name>_encoded.mp4 next to the input using a locally installed ffmpeg.\n" +
			"Options not given on the command line come from the desktop app's saved settings.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.codec, "codec", "", "video codec: h264, h265 or av1")
	f.StringVar(&flags.preset, "preset", "", "encoder preset, ultrafast through veryslow")
	f.StringVar(&flags.fps, "fps", "", `output frame rate, or "keep"`)
	f.StringVar(&flags.speed, "speed", "", "playback speed multiplier, e.g. 1.5")
	f.StringVar(&flags.bitrate, "bitrate", "", "target video bitrate in kbps")
	f.StringVar(&flags.crop, "crop", "", "crop rectangle as w:h:x:y")
	f.StringVar(&flags.args, "args", "", "extra ffmpeg arguments, split on whitespace")
	f.StringVar(&flags.ffmpeg, "ffmpeg", "", "path to the ffmpeg executable")
	f.StringVar(&flags.logLevel, "log-level", "", "log level: trace, debug, info, warn or error (default from settings)")
	f.StringVar(&flags.config, "config", config.DefaultPath(), "settings file")
	f.DurationVar(&flags.duration, "duration", 0, "source duration for progress, probed when omitted")
	f.BoolVar(&flags.dryRun, "dry-run", false, "print the ffmpeg command and exit")
	return cmd
}

// applyFlags overlays explicitly given flags on the saved options.
func applyFlags(opts domain.EncodingOptions, flags *encodeFlags) (domain.EncodingOptions, error) {
	opts = opts.Clone()
	if flags.codec != "" {
		codec, err := domain.ParseCodec(flags.codec)
		if err != nil {
			return opts, err
		}
		opts.Codec = codec
	}
	if flags.preset != "" {
		preset, err := domain.ParsePreset(flags.preset)
		if err != nil {
			return opts, err
		}
		opts.Preset = preset
	}
	if flags.fps != "" {
		fps, err := domain.ParseFrameRate(flags.fps)
		if err != nil {
			return opts, err
		}
		opts.FrameRate = fps
	}
	if flags.speed != "" {
		speed, err := domain.ParseSpeed(flags.speed)
		if err != nil {
			return opts, err
		}
		opts.Speed = speed
	}
	if flags.bitrate != "" {
		opts.TargetBitrate = strings.TrimSpace(strings.TrimSuffix(strings.ToLower(flags.bitrate), "k"))
	}
	if flags.crop != "" {
		crop, err := domain.ParseCrop(flags.crop)
		if err != nil {
			return opts, err
		}
		opts.Crop = &crop
	}
	if flags.args != "" {
		opts.CustomArgs = flags.args
	}
	return opts, nil
}

func newLogger(level string, out io.Writer) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Warn
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "vencode",
		Level:  lvl,
		Output: out,
	})
}

func runEncode(ctx context.Context, stdout, stderr io.Writer, input string, flags *encodeFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	settings, err := config.NewYAMLStore(flags.config).Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	opts, err := applyFlags(settings.Options, flags)
	if err != nil {
		return err
	}

	level := flags.logLevel
	if level == "" {
		level = settings.LogLevel
	}
	log := newLogger(level, stderr)

	override := flags.ffmpeg
	if override == "" {
		override = settings.FFmpegPath
	}
	exe, err := locator.New(log, override).Resolve(ctx)
	if err != nil {
		if errors.Is(err, locator.ErrExecutableNotFound) {
			return fmt.Errorf("%w: install it (for example `brew install ffmpeg`) or pass --ffmpeg", err)
		}
		return err
	}

	output := encode.OutputPath(input)
	command, err := encode.Build(exe, input, output, opts)
	if err != nil {
		return err
	}
	if flags.dryRun {
		fmt.Fprintln(stdout, command.String())
		return nil
	}

	encoder := encode.NewRunner(log)
	duration := flags.duration
	if duration <= 0 {
		if d, err := encoder.ProbeDuration(ctx, exe, input); err == nil {
			duration = d
		} else {
			log.Debug("duration unknown, progress disabled", "error", err)
		}
	}
	if label := encode.EstimateLabel(duration.Seconds(), opts); label != "" {
		fmt.Fprintf(stderr, "Estimated output size: %s\n", label)
	}

	runner := jobs.NewRunner(log, encoder)
	terminal := make(chan jobs.Event, 1)
	unsubscribe := runner.Events().Subscribe(func(e jobs.Event) {
		switch {
		case e.Type == jobs.EventTypeProgress:
			fmt.Fprintf(stderr, "\r%3.0f%% %s\033[K", e.Progress*100, e.Remaining)
		case e.Terminal():
			select {
			case terminal <- e:
			default:
			}
		}
	})
	defer unsubscribe()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := runner.Start(exe, input, opts, duration); err != nil {
		return err
	}

	var final jobs.Event
	select {
	case final = <-terminal:
	case <-sigCtx.Done():
		if err := runner.Cancel(); err != nil && !errors.Is(err, jobs.ErrNoRunningJob) {
			return err
		}
		final = <-terminal
	}
	runner.Wait()
	if duration > 0 {
		fmt.Fprintln(stderr)
	}

	switch final.Status {
	case domain.JobStatusCompleted:
		size := "unknown size"
		if final.OutputSize != domain.UnknownSize {
			size = humanize.Bytes(uint64(final.OutputSize))
		}
		fmt.Fprintf(stdout, "%s (%s)\n", final.OutputPath, size)
		return nil
	case domain.JobStatusFailed:
		if final.Stderr != "" {
			fmt.Fprintln(stderr, final.Stderr)
		}
		code := final.ExitCode
		if code <= 0 {
			code = 1
		}
		return &exitError{code: code, err: errors.New(final.Message)}
	default:
		return &exitError{code: exitCancelled, err: errors.New("encoding cancelled")}
	}
}
