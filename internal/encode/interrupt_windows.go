//go:build windows

package encode

import "os"

// interruptProcess kills ffmpeg; console interrupts cannot target a single child on windows.
func interruptProcess(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Kill()
}
