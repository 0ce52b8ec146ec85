package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// writerIsTTY returns true if the given writer exposes an Fd() method
// (e.g. *os.File) and that fd is a terminal. Falls back to false for
// plain io.Writer values such as *bytes.Buffer.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd())
	}
	return false
}

// ProgressBar counts finished items of a batch on stderr, e.g.
// "[=====>    ]  50% Uninstalling jq". Non-TTY writers get a single line
// once the batch completes.
type ProgressBar struct {
	mu          sync.Mutex
	writer      io.Writer
	total       int
	current     int
	width       int
	description string
}

// NewProgress returns a bar for total items.
func NewProgress(total int, description string) *ProgressBar {
	return &ProgressBar{total: total, width: 40, description: description, writer: os.Stderr}
}

// SetDescription changes the text shown after the bar, typically to the
// item being worked on.
func (p *ProgressBar) SetDescription(description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.description = description
}

// SetWidth sets the bar width in characters.
func (p *ProgressBar) SetWidth(width int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width = width
}

// SetWriter redirects the bar, e.g. to a command's stderr.
func (p *ProgressBar) SetWriter(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writer = w
}

// Increment marks one more item done and redraws.
func (p *ProgressBar) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current < p.total {
		p.current++
	}
	p.render()
}

// Finish fills the bar and ends its line. Items that failed or were
// skipped still count as done.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	complete := p.current == p.total
	p.current = p.total
	if writerIsTTY(p.writer) {
		p.render()
		fmt.Fprintln(p.writer)
		return
	}
	if !complete {
		p.render()
	}
}

// render must be called with the lock held.
func (p *ProgressBar) render() {
	percent, filled := 0, 0
	if p.total > 0 {
		percent = p.current * 100 / p.total
		filled = p.current * p.width / p.total
	}

	var bar strings.Builder
	bar.WriteByte('[')
	for i := 0; i < p.width; i++ {
		switch {
		case i < filled-1:
			bar.WriteByte('=')
		case i == filled-1:
			bar.WriteByte('>')
		default:
			bar.WriteByte(' ')
		}
	}
	bar.WriteByte(']')

	line := fmt.Sprintf("%s %3d%% %s", bar.String(), percent, p.description)
	switch {
	case writerIsTTY(p.writer):
		fmt.Fprintf(p.writer, "\r%s", line)
	case p.current == p.total:
		fmt.Fprintln(p.writer, line)
	}
}

// Spinner displays an animated spinner with a message.
// Example: |  Resolving dependencies...
type Spinner struct {
	message    string
	running    bool
	chars      []string
	mu         sync.Mutex
	writer     io.Writer
	ticker     *time.Ticker
	done       chan struct{}
	timeout    time.Duration
	startTime  time.Time
	showTiming bool
}

// NewSpinner creates a new spinner with a message, writing to stderr.
// If the writer is not a TTY, the animation goroutine is skipped and the
// message is printed once so that log output is not cluttered.
func NewSpinner(message string) *Spinner {
	s := &Spinner{
		message:    message,
		running:    false,
		chars:      []string{"|", "/", "-", "\\"},
		writer:     os.Stderr,
		done:       make(chan struct{}),
		showTiming: false,
	}
	return s
}

// WithTimeout configures the spinner to show elapsed time and optionally
// a timeout duration. If timeout is > 0, displays remaining time format
// "message (Xs remaining)"; otherwise displays elapsed time format
// "message (Xs elapsed)".
//
// This method must be called before Start(). It returns the spinner for chaining.
func (s *Spinner) WithTimeout(timeout time.Duration) *Spinner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
	s.showTiming = true
	return s
}

// SetWriter sets the output writer (useful for testing).
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// Start begins the spinner animation.
// On a non-TTY writer the animation goroutine is not started; the message
// is printed once instead so that non-interactive output stays clean.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.running = true
	s.startTime = time.Now()

	if !writerIsTTY(s.writer) {
		// Non-TTY: print message once and return; no goroutine needed.
		fmt.Fprintf(s.writer, "%s...\n", s.message)
		return
	}

	s.ticker = time.NewTicker(100 * time.Millisecond)

	go func() {
		idx := 0
		for {
			select {
			case <-s.ticker.C:
				s.mu.Lock()
				if !s.running {
					s.mu.Unlock()
					return
				}
				msg := s.formatMessage()
				fmt.Fprintf(s.writer, "\r%s  %s", s.chars[idx], msg)
				idx = (idx + 1) % len(s.chars)
				s.mu.Unlock()

			case <-s.done:
				return
			}
		}
	}()
}

// formatMessage returns the spinner message with optional timing information.
// Must be called with lock held.
func (s *Spinner) formatMessage() string {
	if !s.showTiming {
		return s.message
	}

	elapsed := time.Since(s.startTime)
	if s.timeout > 0 {
		// Show remaining time format: "message (12s remaining)"
		remaining := s.timeout - elapsed
		if remaining < 0 {
			remaining = 0
		}
		return fmt.Sprintf("%s (%ds remaining)", s.message, int(remaining.Seconds()))
	}

	// Show elapsed time format: "message (5s elapsed)"
	return fmt.Sprintf("%s (%ds elapsed)", s.message, int(elapsed.Seconds()))
}

// Stop stops the spinner animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.done)

	// Clear the line only on a TTY; elsewhere \r does not overwrite.
	if writerIsTTY(s.writer) {
		fmt.Fprintf(s.writer, "\r%s\r", strings.Repeat(" ", len(s.message)+4))
	}
}

// UpdateMessage updates the spinner message while it's running.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// StopWithMessage stops the spinner and displays a final message.
func (s *Spinner) StopWithMessage(message string) {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.writer, message)
}

// DownloadProgress renders the state of concurrent bottle downloads on a
// single line. Update matches bottle.ProgressFunc.
type DownloadProgress struct {
	mu      sync.Mutex
	writer  io.Writer
	written map[string]int64
	totals  map[string]int64
	done    map[string]bool
	last    time.Time
	now     func() time.Time
}

// NewDownloadProgress creates a download progress line writing to stderr.
func NewDownloadProgress() *DownloadProgress {
	return &DownloadProgress{
		writer:  os.Stderr,
		written: map[string]int64{},
		totals:  map[string]int64{},
		done:    map[string]bool{},
		now:     time.Now,
	}
}

// SetWriter sets the output writer (useful for testing).
func (d *DownloadProgress) SetWriter(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writer = w
}

// Update records progress for one download. Redraws are throttled to ten
// per second on a TTY; elsewhere only completed downloads are printed.
func (d *DownloadProgress) Update(name string, written, total int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.written[name] = written
	d.totals[name] = total
	finished := total > 0 && written >= total

	if !writerIsTTY(d.writer) {
		if finished && !d.done[name] {
			d.done[name] = true
			fmt.Fprintf(d.writer, "Downloaded %s (%s)\n", name, FormatSize(total))
		}
		return
	}

	now := d.now()
	if !finished && now.Sub(d.last) < 100*time.Millisecond {
		return
	}
	d.last = now
	fmt.Fprintf(d.writer, "\r%s", d.line())
}

// Finish ends the progress line.
func (d *DownloadProgress) Finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if writerIsTTY(d.writer) && len(d.written) > 0 {
		fmt.Fprintf(d.writer, "\r%s\n", d.line())
	}
}

// line summarises all downloads (must be called with lock held).
func (d *DownloadProgress) line() string {
	var written, total int64
	complete := 0
	for name, w := range d.written {
		written += w
		if t := d.totals[name]; t > 0 {
			total += t
			if w >= t {
				complete++
			}
		}
	}
	if total > 0 {
		return fmt.Sprintf("Downloading %d/%d bottles: %s / %s", complete, len(d.written), FormatSize(written), FormatSize(total))
	}
	return fmt.Sprintf("Downloading %d bottles: %s", len(d.written), FormatSize(written))
}
