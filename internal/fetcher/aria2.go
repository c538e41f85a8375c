package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const (
	TaskDownload = "download"
	TaskUnpack   = "unpack"
)

var (
	progressLineRegexp = regexp.MustCompile(`\[#[a-f0-9]+ (\d+)B/(\d+)B(?:\((\d+)%\))? CN:(\d+) DL:(\d+)B(?: ETA:(?:(\d+)m)?(\d+)s)?]`)
	statusLineRegexp   = regexp.MustCompile(`\] (.+)$`)
)

// Event is one progress notification of the pipeline.
type Event struct {
	Task     string
	Message  string
	Received int64
	Total    int64
	Speed    float64
	ETA      string
}

// Percent is the completed share of Total, 0 when the total is unknown.
func (e Event) Percent() float64 {
	if e.Total <= 0 {
		return 0
	}
	return float64(e.Received) * 100 / float64(e.Total)
}

type ProgressFunc func(Event)

// Downloader fetches a url into dir/name.
type Downloader interface {
	Download(ctx context.Context, url, dir, name string, fn ProgressFunc) error
}

// Aria2 drives the aria2c binary.
type Aria2 struct {
	binary      string
	connections int
}

func NewAria2(binary string, connections int) *Aria2 {
	if binary == "" {
		binary = "aria2c"
	}
	if connections <= 0 {
		connections = 4
	}
	return &Aria2{binary: binary, connections: connections}
}

func (a *Aria2) args(url, dir, name string) []string {
	return []string{
		"--continue",
		"--max-connection-per-server=" + strconv.Itoa(a.connections),
		"--human-readable=false",
		"--console-log-level=notice",
		"--file-allocation=none",
		"--dir=" + dir,
		"--out=" + name,
		url,
	}
}

// Download runs aria2c to completion. Any line written to stderr or a
// nonzero exit status fails the download.
func (a *Aria2) Download(ctx context.Context, url, dir, name string, fn ProgressFunc) error {
	logger := logutil.GetLogger(ctx)
	cmd := exec.CommandContext(ctx, a.binary, a.args(url, dir, name)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("aria2c stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("aria2c stderr: %w", err)
	}
	logger.Debug("start aria2c", zap.String("binary", a.binary), zap.String("url", url), zap.String("dir", dir), zap.String("out", name))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start aria2c: %w", err)
	}

	var (
		wg       sync.WaitGroup
		errLines []string
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanLines(stderr, func(line string) {
			errLines = append(errLines, line)
		})
	}()
	scanLines(stdout, func(line string) {
		ev := ParseLine(line)
		ev.Task = TaskDownload
		if fn != nil {
			fn(ev)
		}
	})
	wg.Wait()
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var exitErr *exec.ExitError
	exited := errors.As(waitErr, &exitErr)
	stderrText := strings.Join(errLines, "; ")
	switch {
	case exited && stderrText != "":
		return fmt.Errorf("aria2c exited with code %d: %s", exitErr.ExitCode(), stderrText)
	case exited:
		return fmt.Errorf("aria2c exited with code %d", exitErr.ExitCode())
	case waitErr != nil:
		return fmt.Errorf("wait aria2c: %w", waitErr)
	case stderrText != "":
		return fmt.Errorf("error downloading file: %s", stderrText)
	}
	return nil
}

// ParseLine turns one aria2c console line into an event. Progress readouts
// fill the byte counters; any other line becomes the status message.
func ParseLine(line string) Event {
	line = strings.TrimSpace(line)
	if m := progressLineRegexp.FindStringSubmatch(line); m != nil {
		ev := Event{}
		ev.Received, _ = strconv.ParseInt(m[1], 10, 64)
		ev.Total, _ = strconv.ParseInt(m[2], 10, 64)
		speed, _ := strconv.ParseInt(m[5], 10, 64)
		ev.Speed = float64(speed)
		if m[7] != "" {
			minutes := m[6]
			if minutes == "" {
				minutes = "0"
			}
			ev.ETA = minutes + "m" + m[7] + "s"
		}
		return ev
	}
	if m := statusLineRegexp.FindStringSubmatch(line); m != nil {
		return Event{Message: m[1]}
	}
	return Event{Message: line}
}

// scanLines calls fn for every non-empty line; aria2c separates readouts
// with carriage returns when attached to a console.
func scanLines(r io.Reader, fn func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(splitLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
}

func splitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
