//go:build !windows

package encode

import "os"

// interruptProcess asks ffmpeg to stop; it finalizes the output on SIGINT.
func interruptProcess(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Signal(os.Interrupt)
}
