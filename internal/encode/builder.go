// Package encode turns encoding options into an ffmpeg command line, runs it
// and classifies the outcome.
package encode

import (
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"video-encoder/internal/domain"
	"video-encoder/internal/locator"
)

const (
	// atempo accepts factors in [atempoMin, atempoMax] only.
	atempoMin = 0.5
	atempoMax = 2.0

	tempoEpsilon = 1e-4

	outputSuffix = "_encoded.mp4"
)

// CommandLine is an executable plus its ordered arguments.
type CommandLine struct {
	Executable string
	Args       []string
}

// String renders the command shell-quoted, for logs and dry runs.
func (c CommandLine) String() string {
	return shellquote.Join(append([]string{c.Executable}, c.Args...)...)
}

// OutputPath derives <dir>/<stem>_encoded.mp4 from the input path.
func OutputPath(inputPath string) string {
	dir := filepath.Dir(inputPath)
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "output"
	}
	return filepath.Join(dir, stem+outputSuffix)
}

// Build constructs the ffmpeg invocation for one encode. It performs no I/O
// and returns a fresh argument slice on every call.
func Build(exe locator.Executable, inputPath, outputPath string, opts domain.EncodingOptions) (CommandLine, error) {
	if exe.IsZero() {
		return CommandLine{}, invalidOptions("ffmpeg executable is not resolved")
	}
	if strings.TrimSpace(inputPath) == "" {
		return CommandLine{}, invalidOptions("input path is required")
	}
	if strings.TrimSpace(outputPath) == "" {
		return CommandLine{}, invalidOptions("output path is required")
	}
	if err := Validate(opts); err != nil {
		return CommandLine{}, err
	}
	kbps, _ := opts.BitrateKbps()

	args := make([]string, 0, 24)

	// --- Input ---
	args = append(args, "-i", inputPath)

	// --- Video codec ---
	args = append(args,
		"-c:v", opts.Codec.Token(),
		"-preset", opts.Preset.Token(),
		"-b:v", strconv.Itoa(kbps)+"k",
	)

	// --- Filters ---
	if vf := videoFilterGraph(opts); vf != "" {
		args = append(args, "-filter:v", vf)
	}
	if af := AudioTempoChain(float64(opts.Speed)); af != "" {
		args = append(args, "-filter:a", af)
	}

	// --- Frame rate ---
	if opts.FrameRate != domain.FrameRateKeep {
		args = append(args, "-r", opts.FrameRate.Token())
	}

	// --- Custom passthrough ---
	args = append(args, strings.Fields(opts.CustomArgs)...)

	// --- Output ---
	args = append(args, "-y", outputPath)

	return CommandLine{Executable: exe.Path(), Args: args}, nil
}

// Validate rejects option combinations that cannot produce a valid command.
func Validate(opts domain.EncodingOptions) error {
	if !opts.Codec.Valid() {
		return invalidOptions("unsupported codec %d", int(opts.Codec))
	}
	if !opts.Preset.Valid() {
		return invalidOptions("unsupported preset %d", int(opts.Preset))
	}
	if opts.FrameRate < 0 {
		return invalidOptions("frame rate %d must be positive", int(opts.FrameRate))
	}
	if !opts.Speed.Valid() {
		return invalidOptions("speed %v must be a positive number", float64(opts.Speed))
	}
	if _, ok := opts.BitrateKbps(); !ok {
		return invalidOptions("target bitrate %q must be a positive integer (kbps)", opts.TargetBitrate)
	}
	if opts.Crop != nil {
		if err := opts.Crop.Validate(); err != nil {
			return invalidOptions("%v", err)
		}
	}
	return nil
}

// videoFilterGraph joins crop and speed into a single -filter:v graph.
func videoFilterGraph(opts domain.EncodingOptions) string {
	var filters []string
	if opts.Crop != nil {
		filters = append(filters, opts.Crop.Filter())
	}
	if speed := float64(opts.Speed); !isUnitSpeed(speed) {
		filters = append(filters, "setpts="+formatFactor(1/speed)+"*PTS")
	}
	return strings.Join(filters, ",")
}

// AudioTempoChain returns the comma-joined atempo stages that change audio
// tempo by speed, splitting factors outside atempo's accepted range. It
// returns "" for unit speed.
func AudioTempoChain(speed float64) string {
	if isUnitSpeed(speed) || speed <= 0 || math.IsInf(speed, 0) || math.IsNaN(speed) {
		return ""
	}

	var stages []string
	remaining := speed
	for remaining > atempoMax {
		stages = append(stages, "atempo="+formatFactor(atempoMax))
		remaining /= 2
	}
	for remaining < atempoMin {
		stages = append(stages, "atempo="+formatFactor(atempoMin))
		remaining *= 2
	}
	if math.Abs(remaining-1) > tempoEpsilon {
		stages = append(stages, "atempo="+formatFactor(remaining))
	}
	return strings.Join(stages, ",")
}

func isUnitSpeed(speed float64) bool {
	return speed == 1
}

// formatFactor prints a filter factor with at most six decimals and at least
// one ("2.0", "1.5", "1.333333").
func formatFactor(v float64) string {
	s := strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
