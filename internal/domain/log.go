package domain

type LogStream string

const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
)

// LogLine is one line of run output. Sequence is assigned by the producing
// worker and strictly increases within a run; the server treats duplicate
// sequences as last-writer-wins.
type LogLine struct {
	RunID    string
	Stream   LogStream
	Line     string
	Sequence int
}
