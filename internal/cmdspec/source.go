package cmdspec

import (
	"bufio"
	"errors"
	"fmt"
	"runtime"

	"github.com/spf13/afero"
)

// Default commands file locations.
const (
	DefaultPathUnix    = "/tmp/commands.txt"
	DefaultPathWindows = `C:\tmp\commands.txt`
)

// DefaultPath returns the platform default commands file location.
func DefaultPath() string {
	if runtime.GOOS == "windows" {
		return DefaultPathWindows
	}
	return DefaultPathUnix
}

// Line is one raw input line with its 1-based line number.
type Line struct {
	Number int
	Text   string
}

// Entry is a parsed command together with the line it came from.
type Entry struct {
	Line    int
	Command Command
}

// LineError is a rejected line.
type LineError struct {
	Line int
	Err  *ParseError
}

// ParseResult holds the outcome of parsing a whole file.
type ParseResult struct {
	Commands []Entry
	Errors   []LineError
}

// ReadLines reads every line of path from fs.
func ReadLines(fs afero.Fs, path string) ([]Line, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open commands file %s: %w", path, err)
	}
	defer f.Close()

	var lines []Line
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		lines = append(lines, Line{Number: n, Text: sc.Text()})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read commands file %s: %w", path, err)
	}
	return lines, nil
}

// ParseLines parses every line independently. Blank lines are dropped;
// a rejected line never affects the others.
func ParseLines(lines []Line) ParseResult {
	var res ParseResult
	for _, l := range lines {
		cmd, err := ParseLine(l.Text)
		if err != nil {
			var pe *ParseError
			if !errors.As(err, &pe) {
				pe = &ParseError{Kind: ErrMalformedOneTime, Line: l.Text, Err: err}
			}
			res.Errors = append(res.Errors, LineError{Line: l.Number, Err: pe})
			continue
		}
		if cmd == nil {
			continue
		}
		res.Commands = append(res.Commands, Entry{Line: l.Number, Command: cmd})
	}
	return res
}
