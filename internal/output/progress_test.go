package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestProgressBar_NonTTYEmitsOnCompletion(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(3, "Uninstalling")
	p.SetWriter(buf)

	p.Increment()
	p.SetDescription("Uninstalling jq")
	p.Increment()
	if buf.Len() != 0 {
		t.Errorf("non-TTY progress should stay silent until complete, got: %q", buf.String())
	}

	p.Increment()
	out := buf.String()
	if !strings.Contains(out, "100%") || !strings.Contains(out, "Uninstalling jq") {
		t.Errorf("completed bar should show 100%% and the latest description, got: %q", out)
	}

	p.Finish()
	if strings.Count(buf.String(), "100%") != 1 {
		t.Errorf("Finish after completion should not print again, got: %q", buf.String())
	}
}

func TestProgressBar_FinishEarly(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(10, "Linking")
	p.SetWriter(buf)

	p.Increment()
	p.Finish()
	if !strings.Contains(buf.String(), "100%") {
		t.Errorf("Finish should complete the bar, got: %q", buf.String())
	}
}

func TestProgressBar_OverLimit(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(2, "Clamped")
	p.SetWriter(buf)

	for i := 0; i < 5; i++ {
		p.Increment()
	}
	if p.current != 2 {
		t.Errorf("current should clamp to total, got %d", p.current)
	}
	if strings.Contains(buf.String(), "250%") {
		t.Errorf("percentage should not exceed 100, got: %q", buf.String())
	}
}

func TestProgressBar_Width(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(2, "Narrow")
	p.SetWriter(buf)
	p.SetWidth(10)

	p.Increment()
	p.Increment()
	if !strings.Contains(buf.String(), "[=========>]") {
		t.Errorf("expected a full 10-wide bar, got: %q", buf.String())
	}
}

func TestProgressBar_Concurrent(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(1000, "Concurrent test")
	p.SetWriter(buf)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Increment()
			}
		}()
	}
	wg.Wait()

	if !strings.Contains(buf.String(), "100%") {
		t.Errorf("After concurrent increments, should be at 100%%, got: %q", buf.String())
	}
}

func TestSpinner_NonTTY(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner("Resolving dependencies")
	s.SetWriter(buf)

	s.Start()
	if !s.running {
		t.Error("Spinner should be running after Start()")
	}
	s.Start() // second start is a no-op
	if strings.Count(buf.String(), "Resolving dependencies...") != 1 {
		t.Errorf("non-TTY spinner should print its message once, got: %q", buf.String())
	}

	s.StopWithMessage("Resolved 3 formulae")
	if s.running {
		t.Error("Spinner should not be running after Stop()")
	}
	if !strings.Contains(buf.String(), "Resolved 3 formulae") {
		t.Errorf("final message missing, got: %q", buf.String())
	}

	// Multiple stops should not panic
	s.Stop()
	s.Stop()
}

func TestSpinner_WithTimeout(t *testing.T) {
	s := NewSpinner("Searching").WithTimeout(30 * time.Second)
	s.startTime = time.Now()
	if got := s.formatMessage(); got != "Searching (30s remaining)" && got != "Searching (29s remaining)" {
		t.Errorf("formatMessage() = %q, want remaining time", got)
	}

	s = NewSpinner("Waiting").WithTimeout(0)
	s.startTime = time.Now()
	if got := s.formatMessage(); got != "Waiting (0s elapsed)" {
		t.Errorf("formatMessage() = %q, want elapsed time", got)
	}
}

func TestSpinner_UpdateMessage(t *testing.T) {
	s := NewSpinner("Initial")
	s.UpdateMessage("Updated")
	if s.formatMessage() != "Updated" {
		t.Errorf("formatMessage() = %q, want Updated", s.formatMessage())
	}
}

func TestDownloadProgress_NonTTY(t *testing.T) {
	buf := &bytes.Buffer{}
	d := NewDownloadProgress()
	d.SetWriter(buf)

	d.Update("jq", 400, 1000)
	d.Update("oniguruma", 10, -1)
	if buf.Len() != 0 {
		t.Errorf("partial downloads should not print on non-TTY, got: %q", buf.String())
	}

	d.Update("jq", 1000, 1000)
	d.Update("jq", 1000, 1000)
	d.Finish()
	if got := buf.String(); got != "Downloaded jq (1.0 kB)\n" {
		t.Errorf("unexpected output: %q", got)
	}
}

func TestDownloadProgress_Line(t *testing.T) {
	d := NewDownloadProgress()
	d.written["a"], d.totals["a"] = 1000, 1000
	d.written["b"], d.totals["b"] = 500, 2000

	if got := d.line(); got != "Downloading 1/2 bottles: 1.5 kB / 3.0 kB" {
		t.Errorf("line() = %q", got)
	}
}

func BenchmarkProgressBar_Increment(b *testing.B) {
	buf := &bytes.Buffer{}
	p := NewProgress(b.N, "Benchmark")
	p.SetWriter(buf)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Increment()
	}
}
