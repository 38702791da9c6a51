package aria2

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

// UnknownETA is reported when a summary line carries no ETA token.
const UnknownETA = "Unknown"

var (
	ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

	// [#2089b0 400.0KiB/33.0MiB(1%) CN:1 DL:115.0KiB ETA:4m51s]
	progressPattern = regexp.MustCompile(`\((\d+(?:\.\d+)?)%\).*DL:([\w.]+)(?:.*ETA:([\w.]+))?`)
)

// Progress is one parsed aria2 summary line.
type Progress struct {
	Percent float64
	Speed   string
	ETA     string
}

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// ParseProgressLine extracts percent, speed and ETA from an aria2c console line.
// Lines that do not look like a progress summary return ok == false.
func ParseProgressLine(line string) (Progress, bool) {
	line = strings.TrimSpace(StripANSI(line))
	if line == "" {
		return Progress{}, false
	}

	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}

	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Progress{}, false
	}

	eta := m[3]
	if eta == "" {
		eta = UnknownETA
	}

	return Progress{Percent: percent, Speed: m[2], ETA: eta}, true
}

// scanLines splits console output on \n or \r so carriage-return redraws become lines.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, bytes.TrimSpace(data[:i]), nil
		}
	}

	if atEOF && len(data) > 0 {
		return len(data), bytes.TrimSpace(data), nil
	}

	return 0, nil, nil
}
