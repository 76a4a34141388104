package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/kballard/go-shellquote"
	"github.com/samber/lo"
)

const installCommandTimeout = 45 * time.Minute

type installOption struct {
	manager  string
	commands [][]string
}

// installer runs the platform package manager to install ffmpeg.
type installer struct {
	log      hclog.Logger
	goos     string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
}

func newInstaller(log hclog.Logger) *installer {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &installer{
		log:      log.Named("install"),
		goos:     goruntime.GOOS,
		lookPath: exec.LookPath,
		run:      runCommand,
	}
}

// options lists package manager recipes for the installer's OS, preferred first.
func (i *installer) options() []installOption {
	switch i.goos {
	case "windows":
		return []installOption{
			{
				manager: "winget",
				commands: [][]string{
					{"winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
				},
			},
			{manager: "choco", commands: [][]string{{"choco", "install", "ffmpeg", "-y"}}},
			{manager: "scoop", commands: [][]string{{"scoop", "install", "ffmpeg"}}},
		}
	case "darwin":
		return []installOption{
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
			{manager: "port", commands: [][]string{{"port", "install", "ffmpeg"}}},
		}
	default:
		return []installOption{
			{
				manager: "apt-get",
				commands: [][]string{
					{"apt-get", "update"},
					{"apt-get", "install", "-y", "ffmpeg"},
				},
			},
			{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "ffmpeg"}}},
			{manager: "pacman", commands: [][]string{{"pacman", "-Sy", "--noconfirm", "ffmpeg"}}},
			{manager: "zypper", commands: [][]string{{"zypper", "install", "-y", "ffmpeg"}}},
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	}
}

// Install runs the first available package manager recipe that succeeds.
func (i *installer) Install(ctx context.Context) error {
	options := i.options()
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", i.goos)
	}

	errorsByManager := make([]string, 0, len(options))
	atLeastOneManager := false

	for _, option := range options {
		if !i.available(option.manager) {
			continue
		}
		atLeastOneManager = true
		i.log.Info("installing ffmpeg", "manager", option.manager)
		if err := i.runCommands(ctx, option.commands); err == nil {
			return nil
		} else {
			errorsByManager = append(errorsByManager, fmt.Sprintf("%s: %v", option.manager, err))
		}
		if ctx.Err() != nil {
			break
		}
	}

	if !atLeastOneManager {
		return fmt.Errorf("no supported package manager found for %s", i.goos)
	}
	return errors.New(strings.Join(errorsByManager, " | "))
}

// SuggestedCommand returns a shell command line a user can paste to install
// ffmpeg, using the first package manager present on this machine.
func (i *installer) SuggestedCommand() string {
	options := i.options()
	if len(options) == 0 {
		return ""
	}
	option, ok := lo.Find(options, func(o installOption) bool {
		return i.available(o.manager)
	})
	if !ok {
		option = options[0]
	}

	lines := lo.Map(option.commands, func(command []string, _ int) string {
		if i.goos == "linux" && requiresElevation(command[0]) {
			command = append([]string{"sudo"}, command...)
		}
		return shellquote.Join(command...)
	})
	return strings.Join(lines, " && ")
}

func (i *installer) runCommands(ctx context.Context, commands [][]string) error {
	for _, command := range commands {
		if err := i.runWithPossibleElevation(ctx, command); err != nil {
			return err
		}
	}
	return nil
}

func (i *installer) runWithPossibleElevation(ctx context.Context, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if i.goos == "linux" && requiresElevation(command[0]) {
		if i.available("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if i.available("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	attemptErrors := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if err := i.run(ctx, candidate[0], candidate[1:]...); err == nil {
			return nil
		} else {
			attemptErrors = append(attemptErrors, err.Error())
		}
	}

	return errors.New(strings.Join(attemptErrors, " | "))
}

func (i *installer) available(name string) bool {
	_, err := i.lookPath(name)
	return err == nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, installCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", shellquote.Join(append([]string{name}, args...)...), installCommandTimeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	command := shellquote.Join(append([]string{name}, args...)...)
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", command, err)
	}
	return fmt.Errorf("%s failed: %w (%s)", command, err, trimmed)
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}
