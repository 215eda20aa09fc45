// Package common provides the logging infrastructure shared by optrack
// commands. Error-level output is routed to stderr and everything else to
// stdout so container log collectors can treat the streams differently.
package common

import (
	"bytes"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines by severity. Lines at error level
// or above, in either text or JSON format, go to Stderr; the rest go to Stdout.
// Nil writers default to the process streams.
type OutputSplitter struct {
	Stdout io.Writer
	Stderr io.Writer
}

var errorMarkers = [][]byte{
	[]byte("level=error"),
	[]byte("level=fatal"),
	[]byte("level=panic"),
	[]byte(`"level":"error"`),
	[]byte(`"level":"fatal"`),
	[]byte(`"level":"panic"`),
}

// Write implements io.Writer.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	for _, marker := range errorMarkers {
		if bytes.Contains(p, marker) {
			return splitter.stderr().Write(p)
		}
	}
	return splitter.stdout().Write(p)
}

func (splitter *OutputSplitter) stdout() io.Writer {
	if splitter.Stdout != nil {
		return splitter.Stdout
	}
	return os.Stdout
}

func (splitter *OutputSplitter) stderr() io.Writer {
	if splitter.Stderr != nil {
		return splitter.Stderr
	}
	return os.Stderr
}

// Logger is the process-wide logger. Commands reconfigure it from the
// logging section of the configuration before doing any work.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
