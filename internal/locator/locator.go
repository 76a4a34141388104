// Package locator finds a working ffmpeg binary. Bundled copies win over
// system installs, and every candidate must answer -version with exit 0
// before it is handed out.
package locator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

// ErrExecutableNotFound is returned when no candidate exists and verifies.
var ErrExecutableNotFound = errors.New("ffmpeg executable not found")

// SystemPaths are the fixed install locations tried after bundled copies.
var SystemPaths = []string{
	"/opt/homebrew/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
	"/usr/bin/ffmpeg",
}

const versionTimeout = 15 * time.Second

// Executable is a verified ffmpeg binary. The zero value is not usable.
type Executable struct {
	path    string
	version string
}

// Path returns the absolute path of the binary.
func (e Executable) Path() string { return e.path }

// Version returns the first line printed by -version.
func (e Executable) Version() string { return e.version }

// IsZero reports whether e was never verified.
func (e Executable) IsZero() bool { return e.path == "" }

// NewExecutableForTests builds an Executable without running verification.
func NewExecutableForTests(path, version string) Executable {
	return Executable{path: path, version: version}
}

// versionFunc runs path -version and returns its first output line.
type versionFunc func(ctx context.Context, path string) (string, error)

// Locator resolves and caches the ffmpeg executable.
type Locator struct {
	log         hclog.Logger
	bundleDirs  func() []string
	systemPaths []string
	lookPath    func(string) (string, error)
	stat        func(string) (os.FileInfo, error)
	version     versionFunc

	group singleflight.Group

	mu       sync.RWMutex
	override string
	current  Executable
}

// New builds a locator using the running binary's directory and the OS.
// override, when non-empty, is tried before every other candidate.
func New(log hclog.Logger, override string) *Locator {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Locator{
		log:         log.Named("locator"),
		bundleDirs:  bundleDirs,
		systemPaths: SystemPaths,
		lookPath:    exec.LookPath,
		stat:        os.Stat,
		version:     runVersion,
		override:    absOverride(override),
	}
}

// NewForTests builds a locator with injectable dependencies.
func NewForTests(
	log hclog.Logger,
	bundled []string,
	systemPaths []string,
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	version func(ctx context.Context, path string) (string, error),
) *Locator {
	if lookPath == nil {
		lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	}
	if stat == nil {
		stat = os.Stat
	}
	if version == nil {
		version = runVersion
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Locator{
		log:         log,
		bundleDirs:  func() []string { return bundled },
		systemPaths: systemPaths,
		lookPath:    lookPath,
		stat:        stat,
		version:     version,
	}
}

// SetOverride changes the user-configured path tried first on the next Resolve.
func (l *Locator) SetOverride(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.override = absOverride(path)
}

// absOverride resolves a configured path against the working directory so
// every verified Executable carries an absolute path.
func absOverride(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// Current returns the last verified executable, if any.
func (l *Locator) Current() (Executable, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current, !l.current.IsZero()
}

// Candidates returns the search order for the next Resolve.
func (l *Locator) Candidates() []string {
	l.mu.RLock()
	override := l.override
	l.mu.RUnlock()

	var out []string
	if override != "" {
		out = append(out, override)
	}
	for _, dir := range l.bundleDirs() {
		out = append(out, filepath.Join(dir, binaryName()))
	}
	out = append(out, l.systemPaths...)
	if p, err := l.lookPath("ffmpeg"); err == nil {
		out = append(out, p)
	}

	out = lo.Map(out, func(p string, _ int) string { return filepath.Clean(p) })
	return lo.Uniq(out)
}

// Resolve searches the candidates in order and caches the first one that
// verifies. Concurrent callers share a single search.
func (l *Locator) Resolve(ctx context.Context) (Executable, error) {
	v, err, _ := l.group.Do("resolve", func() (interface{}, error) {
		return l.resolve(ctx)
	})
	if err != nil {
		return Executable{}, err
	}
	return v.(Executable), nil
}

func (l *Locator) resolve(ctx context.Context) (Executable, error) {
	for _, candidate := range l.Candidates() {
		if err := ctx.Err(); err != nil {
			return Executable{}, err
		}

		info, err := l.stat(candidate)
		if err != nil {
			l.log.Trace("candidate missing", "path", candidate)
			continue
		}
		if !isExecutable(info) {
			l.log.Debug("candidate not executable", "path", candidate, "mode", info.Mode().String())
			continue
		}

		version, err := l.version(ctx, candidate)
		if err != nil {
			l.log.Warn("candidate failed verification", "path", candidate, "error", err)
			continue
		}

		exe := Executable{path: candidate, version: version}
		l.mu.Lock()
		l.current = exe
		l.mu.Unlock()
		l.log.Info("ffmpeg resolved", "path", candidate, "version", version)
		return exe, nil
	}

	l.mu.Lock()
	l.current = Executable{}
	l.mu.Unlock()
	l.log.Warn("no usable ffmpeg found")
	return Executable{}, ErrExecutableNotFound
}

// runVersion executes path -version and returns its first stdout line.
func runVersion(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-version")
	cmd.Stdout = &stdout
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s -version: %w", path, err)
	}

	line, _, _ := strings.Cut(strings.TrimSpace(stdout.String()), "\n")
	return strings.TrimSpace(line), nil
}

// bundleDirs lists directories that may hold a copy shipped with the app:
// next to the binary and the macOS bundle's Resources directory.
func bundleDirs() []string {
	self, err := os.Executable()
	if err != nil {
		return nil
	}
	if resolved, err := filepath.EvalSymlinks(self); err == nil {
		self = resolved
	}
	dir := filepath.Dir(self)
	return []string{dir, filepath.Join(dir, "..", "Resources")}
}

func binaryName() string {
	if goruntime.GOOS == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

func isExecutable(info os.FileInfo) bool {
	if info.IsDir() {
		return false
	}
	if goruntime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
