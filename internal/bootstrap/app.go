package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"video-encoder/internal/config"
	"video-encoder/internal/diagnostics"
	"video-encoder/internal/domain"
	"video-encoder/internal/encode"
	"video-encoder/internal/jobs"
	"video-encoder/internal/locator"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// jobEventName is the runtime event carrying jobs.Event payloads.
const jobEventName = "job:event"

var videoDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Video files",
		Pattern:     "*.mp4;*.mov;*.m4v;*.mkv;*.avi;*.webm;*.mpg;*.mpeg;*.wmv;*.flv;*.ts",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// InputInfo describes a selected source file.
type InputInfo struct {
	Path            string  `json:"path"`
	Name            string  `json:"name"`
	Size            int64   `json:"size"`
	SizeLabel       string  `json:"sizeLabel"`
	DurationSeconds float64 `json:"durationSeconds"`
	OutputPath      string  `json:"outputPath"`
}

// SizeEstimate is the predicted output size; Known is false when it cannot
// be estimated.
type SizeEstimate struct {
	Bytes int64  `json:"bytes"`
	Known bool   `json:"known"`
	Label string `json:"label"`
}

// diagnosticsRunner produces a diagnostics report.
type diagnosticsRunner interface {
	Run(ctx context.Context, settings domain.Settings) domain.DiagnosticReport
}

// durationProber reads the source duration of an input file.
type durationProber interface {
	ProbeDuration(ctx context.Context, exe locator.Executable, inputPath string) (time.Duration, error)
}

// probedSource is a cached duration, valid while the file is unchanged.
type probedSource struct {
	size     int64
	modTime  time.Time
	duration time.Duration
}

// App wires configuration, ffmpeg discovery, jobs and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Locator     *locator.Locator
	Runner      *jobs.Runner
	Diagnostics domain.DiagnosticReport

	log       hclog.Logger
	assets    fs.FS
	checker   diagnosticsRunner
	prober    durationProber
	installer *installer
	emit      func(ctx context.Context, name string, data ...interface{})
	clipboard func(ctx context.Context, text string) error

	mu          sync.Mutex
	runtimeCtx  context.Context
	lastStderr  string
	unsubscribe func()
	durations   map[string]probedSource
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	store := config.NewYAMLStore(config.DefaultPath())
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	log := NewLogger(settings.LogLevel)
	loc := locator.New(log, settings.FFmpegPath)
	encoder := encode.NewRunner(log)
	checker := diagnostics.NewChecker(log, loc)

	app := &App{
		Settings:  settings,
		Store:     store,
		Locator:   loc,
		Runner:    jobs.NewRunner(log, encoder),
		log:       log,
		assets:    assets,
		checker:   checker,
		prober:    encoder,
		installer: newInstaller(log),
		emit:      wailsruntime.EventsEmit,
		clipboard: wailsruntime.ClipboardSetText,
	}
	app.Diagnostics = checker.Run(context.Background(), settings)
	app.subscribe()
	return app, nil
}

// NewLogger builds the application logger at the named level, info when unknown.
func NewLogger(level string) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:  "video-encoder",
		Level: lvl,
	})
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Video Encoder",
		Width:       980,
		Height:      760,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown stops a running encode and detaches from the runtime.
func (a *App) Shutdown(ctx context.Context) {
	if err := a.Runner.Cancel(); err != nil && !errors.Is(err, jobs.ErrNoRunningJob) {
		a.log.Warn("cancel on shutdown", "error", err)
	}
	a.mu.Lock()
	a.runtimeCtx = nil
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then re-resolves ffmpeg.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	previous := a.Settings.FFmpegPath
	a.Settings = normalized
	a.mu.Unlock()
	a.log.SetLevel(hclog.LevelFromString(normalized.LogLevel))

	if normalized.FFmpegPath != previous {
		a.refresh(normalized)
	}
	return normalized, nil
}

// GetOptionCatalog returns picker entries for every encoding option.
func (a *App) GetOptionCatalog() domain.OptionCatalog {
	return domain.Catalog()
}

// PickInputFile opens a native file dialog for video selection.
func (a *App) PickInputFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select video file",
		Filters: videoDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// DescribeInput reports size, duration and output location of a source file.
// Duration is zero when ffmpeg is missing or cannot read it.
func (a *App) DescribeInput(path string) (InputInfo, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return InputInfo{}, fmt.Errorf("input path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return InputInfo{}, fmt.Errorf("input file: %w", err)
	}
	if info.IsDir() {
		return InputInfo{}, fmt.Errorf("input file: %s is a directory", path)
	}

	out := InputInfo{
		Path:       path,
		Name:       filepath.Base(path),
		Size:       info.Size(),
		SizeLabel:  humanize.Bytes(uint64(info.Size())),
		OutputPath: encode.OutputPath(path),
	}
	if d, ok := a.sourceDuration(path, info); ok {
		out.DurationSeconds = d.Seconds()
	}
	return out, nil
}

// EstimateSize predicts the output size for durationSeconds of source.
func (a *App) EstimateSize(durationSeconds float64, opts domain.EncodingOptions) SizeEstimate {
	n, ok := encode.Estimate(durationSeconds, opts.TargetBitrate, float64(opts.Speed))
	if !ok {
		return SizeEstimate{}
	}
	return SizeEstimate{Bytes: n, Known: true, Label: humanize.Bytes(uint64(n))}
}

// RefreshFFmpeg re-runs ffmpeg discovery and diagnostics.
func (a *App) RefreshFFmpeg() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refresh(settings), nil
}

// InstallFFmpeg installs ffmpeg with the platform package manager and
// refreshes diagnostics. The report is returned even when install fails.
func (a *App) InstallFFmpeg() (domain.DiagnosticReport, error) {
	installErr := a.installer.Install(context.Background())
	if installErr != nil {
		a.log.Error("ffmpeg install failed", "error", installErr)
	}

	report, err := a.RefreshFFmpeg()
	if err != nil {
		return report, err
	}
	if installErr != nil {
		return report, fmt.Errorf("install ffmpeg: %w", installErr)
	}
	return report, nil
}

// CopyInstallCommand puts the suggested install command on the clipboard and
// returns it.
func (a *App) CopyInstallCommand() (string, error) {
	command := a.installer.SuggestedCommand()
	if command == "" {
		return "", fmt.Errorf("no install command for %s", goruntime.GOOS)
	}
	if err := a.copyToClipboard(command); err != nil {
		return command, err
	}
	return command, nil
}

// CopyLastLog puts the stderr of the last failed job on the clipboard.
func (a *App) CopyLastLog() (string, error) {
	a.mu.Lock()
	text := a.lastStderr
	a.mu.Unlock()
	if text == "" {
		return "", fmt.Errorf("no ffmpeg log available")
	}
	return text, a.copyToClipboard(text)
}

// StartEncoding encodes inputPath with opts using the resolved ffmpeg.
func (a *App) StartEncoding(inputPath string, opts domain.EncodingOptions) (domain.Job, error) {
	exe, ok := a.Locator.Current()
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: install ffmpeg or refresh", locator.ErrExecutableNotFound)
	}

	inputPath = strings.TrimSpace(inputPath)
	var duration time.Duration
	if info, err := os.Stat(inputPath); err == nil && !info.IsDir() {
		duration, _ = a.sourceDuration(inputPath, info)
	}

	job, err := a.Runner.Start(exe, inputPath, opts, duration)
	if err != nil {
		return domain.Job{}, err
	}

	a.rememberOptions(opts)
	return job, nil
}

// CancelEncoding cancels the currently running job, if any.
func (a *App) CancelEncoding() error {
	return a.Runner.Cancel()
}

// ResetJob clears a completed, failed or cancelled job so the UI returns to
// its initial state.
func (a *App) ResetJob() error {
	return a.Runner.Reset()
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Runner.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.Runner.Events().Since(sinceSeq)
}

// OpenOutputFolder opens the given path (or the current job output) in the file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		target = a.Runner.Current().OutputPath
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// subscribe forwards job events to the runtime.
func (a *App) subscribe() {
	unsubscribe := a.Runner.Events().Subscribe(a.forwardEvent)
	a.mu.Lock()
	a.unsubscribe = unsubscribe
	a.mu.Unlock()
}

// forwardEvent records failure logs and emits runtime push notifications.
func (a *App) forwardEvent(event jobs.Event) {
	a.mu.Lock()
	if event.Stderr != "" {
		a.lastStderr = event.Stderr
	}
	ctx := a.runtimeCtx
	emit := a.emit
	a.mu.Unlock()

	if ctx != nil && emit != nil {
		emit(ctx, jobEventName, event)
	}
}

// refresh applies the configured override, resolves ffmpeg and reruns diagnostics.
func (a *App) refresh(settings domain.Settings) domain.DiagnosticReport {
	a.Locator.SetOverride(settings.FFmpegPath)
	report := a.checker.Run(context.Background(), settings)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	a.Diagnostics = report
	return report
}

// sourceDuration returns the input duration, probing ffmpeg only when the
// file is new or changed since the last probe. It reports false when unknown.
func (a *App) sourceDuration(path string, info os.FileInfo) (time.Duration, bool) {
	a.mu.Lock()
	cached, ok := a.durations[path]
	a.mu.Unlock()
	if ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.duration, true
	}

	exe, ok := a.Locator.Current()
	if !ok || a.prober == nil {
		return 0, false
	}
	d, err := a.prober.ProbeDuration(context.Background(), exe, path)
	if err != nil {
		a.log.Debug("duration probe failed", "input", path, "error", err)
		return 0, false
	}

	a.mu.Lock()
	if a.durations == nil {
		a.durations = make(map[string]probedSource)
	}
	a.durations[path] = probedSource{size: info.Size(), modTime: info.ModTime(), duration: d}
	a.mu.Unlock()
	return d, true
}

// rememberOptions persists the last used options for the next launch.
func (a *App) rememberOptions(opts domain.EncodingOptions) {
	a.mu.Lock()
	settings := a.Settings
	a.mu.Unlock()

	settings.Options = opts.Clone()
	settings = config.Normalize(settings)
	if err := a.Store.Save(settings); err != nil {
		a.log.Warn("could not save last used options", "error", err)
		return
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()
}

func (a *App) copyToClipboard(text string) error {
	ctx, err := a.runtimeContext()
	if err != nil {
		return err
	}
	if err := a.clipboard(ctx, text); err != nil {
		return fmt.Errorf("copy to clipboard: %w", err)
	}
	return nil
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
