package logstream

import (
	"bufio"
	"io"
	"strings"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
)

// ParseRunLog reads a run-output.log artifact back into log lines. Workers
// write one "[stdout] " or "[stderr] " prefixed line per entry; anything
// unprefixed is treated as stdout. Sequences are synthetic and 1-based, so the
// fallback path orders exactly like the durable rows would have.
func ParseRunLog(runID string, r io.Reader) ([]domain.LogLine, error) {
	var lines []domain.LogLine
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	seq := 0
	for scanner.Scan() {
		seq++
		text := scanner.Text()
		stream := domain.StreamStdout
		switch {
		case strings.HasPrefix(text, "[stdout] "):
			text = strings.TrimPrefix(text, "[stdout] ")
		case strings.HasPrefix(text, "[stderr] "):
			stream = domain.StreamStderr
			text = strings.TrimPrefix(text, "[stderr] ")
		}
		lines = append(lines, domain.LogLine{
			RunID:    runID,
			Stream:   stream,
			Line:     text,
			Sequence: seq,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// FormatRunLog renders lines in the artifact format, newest sequence last.
func FormatRunLog(w io.Writer, lines []domain.LogLine) error {
	bw := bufio.NewWriter(w)
	for _, l := range lines {
		if _, err := bw.WriteString("[" + string(l.Stream) + "] " + l.Line + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
