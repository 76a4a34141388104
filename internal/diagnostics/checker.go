package diagnostics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/samber/lo"

	"video-encoder/internal/domain"
	"video-encoder/internal/locator"
)

// probeTimeout bounds the encoder listing call.
const probeTimeout = 15 * time.Second

// Checker validates the ffmpeg executable and the encoders the app offers.
type Checker struct {
	log          hclog.Logger
	resolve      func(ctx context.Context) (locator.Executable, error)
	listEncoders func(ctx context.Context, ffmpegPath string) (string, error)
	now          func() time.Time
}

// NewChecker builds a checker that resolves ffmpeg through loc.
func NewChecker(log hclog.Logger, loc *locator.Locator) *Checker {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Checker{
		log:          log.Named("diagnostics"),
		resolve:      loc.Resolve,
		listEncoders: execListEncoders,
		now:          time.Now,
	}
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	resolve func(ctx context.Context) (locator.Executable, error),
	listEncoders func(ctx context.Context, ffmpegPath string) (string, error),
) *Checker {
	return &Checker{
		log:          hclog.NewNullLogger(),
		resolve:      resolve,
		listEncoders: listEncoders,
		now:          time.Now,
	}
}

// Run executes all checks and returns a combined report.
func (c *Checker) Run(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	report := domain.DiagnosticReport{GeneratedAt: c.now().UTC()}

	exe, err := c.resolve(ctx)
	report.Items = append(report.Items, c.checkFFmpeg(exe, err, settings.FFmpegPath))
	if err == nil {
		report.FFmpegPath = exe.Path()
		report.FFmpegVersion = exe.Version()
	}
	report.Items = append(report.Items, c.checkEncoders(ctx, exe, err))

	report.HasFailures = lo.SomeBy(report.Items, func(item domain.DiagnosticItem) bool {
		return item.Status == domain.DiagnosticStatusFail
	})
	return report
}

// checkFFmpeg reports the resolved executable or how to install one.
func (c *Checker) checkFFmpeg(exe locator.Executable, err error, configured string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   domain.DiagnosticFFmpeg,
		Name: "ffmpeg",
	}

	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, locator.ErrExecutableNotFound) {
			item.Message = "ffmpeg was not found in the app bundle, common install locations or PATH."
		} else {
			item.Message = fmt.Sprintf("ffmpeg could not be verified: %v", err)
		}
		item.Hint = "Install ffmpeg, then refresh. The install action can run the platform package manager for you."
		return item
	}

	configured = strings.TrimSpace(configured)
	if configured != "" && !samePath(configured, exe.Path()) {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Configured path %s is unusable; using %s", configured, exe.Path())
		item.Hint = "Fix or clear the ffmpeg path in settings."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s (%s)", exe.Path(), exe.Version())
	return item
}

// checkEncoders verifies ffmpeg was built with every offered video encoder.
func (c *Checker) checkEncoders(ctx context.Context, exe locator.Executable, resolveErr error) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   domain.DiagnosticEncoders,
		Name: "Video encoders",
	}

	if resolveErr != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Cannot list encoders without ffmpeg."
		return item
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := c.listEncoders(ctx, exe.Path())
	if err != nil {
		c.log.Warn("encoder listing failed", "ffmpeg", exe.Path(), "error", err)
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Could not list encoders: %v", err)
		return item
	}

	available := parseEncoders(out)
	required := lo.Map(domain.Codecs(), func(codec domain.Codec, _ int) string {
		return codec.Token()
	})
	missing := lo.Filter(required, func(token string, _ int) bool {
		return !available[token]
	})

	if len(missing) > 0 {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Missing encoders: %s", strings.Join(missing, ", "))
		item.Hint = "Jobs using these codecs will fail. Install an ffmpeg build with the missing libraries."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Available: %s", strings.Join(required, ", "))
	return item
}

// samePath compares a configured path with a resolved absolute one.
func samePath(configured, resolved string) bool {
	abs, err := filepath.Abs(configured)
	if err != nil {
		abs = filepath.Clean(configured)
	}
	return abs == resolved
}

// parseEncoders extracts encoder names from `ffmpeg -encoders` output. Rows
// look like " V....D libx264   libx264 H.264 / AVC".
func parseEncoders(out string) map[string]bool {
	names := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || len(fields[0]) != 6 || fields[1] == "=" {
			continue
		}
		names[fields[1]] = true
	}
	return names
}

// execListEncoders runs `ffmpeg -hide_banner -encoders`.
func execListEncoders(ctx context.Context, ffmpegPath string) (string, error) {
	out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
