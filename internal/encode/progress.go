package encode

import (
	"bytes"
	"math"
	"regexp"
	"strconv"
	"sync"
	"time"
)

const (
	// maxStderrBytes bounds the diagnostic tail kept for failed jobs.
	maxStderrBytes = 256 << 10
	// maxRunningProgress holds the bar short of 100% until the process exits.
	maxRunningProgress = 0.99
)

// statsTime extracts the output timestamp from ffmpeg's stats line, e.g.
// "frame=  240 fps= 60 q=28.0 size=  1024kB time=00:00:08.00 bitrate=...".
var statsTime = regexp.MustCompile(`time=\s*(-?\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// stderrCapture keeps the tail of ffmpeg's stderr and reports progress
// parsed from its stats lines.
type stderrCapture struct {
	mu         sync.Mutex
	tail       []byte
	partial    []byte
	expected   time.Duration
	onProgress func(float64)
	last       float64
}

// newStderrCapture reports progress against expected output duration; a
// non-positive duration disables progress reporting.
func newStderrCapture(expected time.Duration, onProgress func(float64)) *stderrCapture {
	return &stderrCapture{expected: expected, onProgress: onProgress}
}

// Write implements io.Writer.
func (c *stderrCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.tail = append(c.tail, p...)
	if over := len(c.tail) - maxStderrBytes; over > 0 {
		c.tail = append(c.tail[:0:0], c.tail[over:]...)
	}

	var updates []float64
	data := append(c.partial, p...)
	for {
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			break
		}
		if v, ok := c.progressFrom(data[:i]); ok {
			updates = append(updates, v)
		}
		data = data[i+1:]
	}
	c.partial = append(c.partial[:0:0], data...)
	cb := c.onProgress
	c.mu.Unlock()

	if cb != nil {
		for _, v := range updates {
			cb(v)
		}
	}
	return len(p), nil
}

// progressFrom must be called with c.mu held.
func (c *stderrCapture) progressFrom(line []byte) (float64, bool) {
	if c.expected <= 0 {
		return 0, false
	}
	t, ok := parseStatsTime(line)
	if !ok {
		return 0, false
	}
	v := float64(t) / float64(c.expected)
	if v < 0 {
		v = 0
	}
	if v > maxRunningProgress {
		v = maxRunningProgress
	}
	if v <= c.last {
		return 0, false
	}
	c.last = v
	return v, true
}

// String returns the captured stderr tail.
func (c *stderrCapture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(bytes.TrimSpace(c.tail))
}

// parseStatsTime returns the last time= value in line.
func parseStatsTime(line []byte) (time.Duration, bool) {
	matches := statsTime.FindAllSubmatch(line, -1)
	if len(matches) == 0 {
		return 0, false
	}
	return clockDuration(matches[len(matches)-1][1:])
}

// clockDuration converts hours, minutes and fractional seconds captures.
func clockDuration(parts [][]byte) (time.Duration, bool) {
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(string(parts[0]))
	if err != nil {
		return 0, false
	}
	min, err := strconv.Atoi(string(parts[1]))
	if err != nil {
		return 0, false
	}
	sec, err := strconv.ParseFloat(string(parts[2]), 64)
	if err != nil {
		return 0, false
	}
	d := time.Duration(h)*time.Hour + time.Duration(min)*time.Minute + time.Duration(math.Round(sec*float64(time.Second)))
	return d, true
}

// expectedOutput scales the source duration by the playback speed.
func expectedOutput(source time.Duration, speed float64) time.Duration {
	if source <= 0 || speed <= 0 {
		return 0
	}
	return time.Duration(float64(source) / speed)
}
