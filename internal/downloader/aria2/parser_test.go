package aria2

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   Progress
		wantOK bool
	}{
		{
			name:   "minimal summary",
			line:   "(42%)... DL:500KiB ETA:1m30s",
			want:   Progress{Percent: 42, Speed: "500KiB", ETA: "1m30s"},
			wantOK: true,
		},
		{
			name:   "full aria2 summary",
			line:   "[#2089b0 400.0KiB/33.0MiB(1%) CN:1 DL:115.0KiB ETA:4m51s]",
			want:   Progress{Percent: 1, Speed: "115.0KiB", ETA: "4m51s"},
			wantOK: true,
		},
		{
			name:   "coloured output",
			line:   "\x1b[1;32m[#2089b0 10MiB/20MiB(50%) CN:4 DL:2.1MiB ETA:5s]\x1b[0m",
			want:   Progress{Percent: 50, Speed: "2.1MiB", ETA: "5s"},
			wantOK: true,
		},
		{
			name:   "missing ETA",
			line:   "[#2089b0 33.0MiB/33.0MiB(99%) CN:1 DL:4.0MiB]",
			want:   Progress{Percent: 99, Speed: "4.0MiB", ETA: UnknownETA},
			wantOK: true,
		},
		{
			name:   "seeding line without percentage",
			line:   "[#2089b0 SEED(0.0) CN:0 SD:0B]",
			wantOK: false,
		},
		{
			name:   "download results banner",
			line:   "Download Results:",
			wantOK: false,
		},
		{
			name:   "blank",
			line:   "   ",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseProgressLine(tt.line)
			assert.Equal(t, tt.wantOK, ok)

			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "plain", StripANSI("\x1b[31mplain\x1b[0m"))
	assert.Equal(t, "no codes", StripANSI("no codes"))
}

func TestScanLines_SplitsOnCarriageReturn(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("one\rtwo\nthree"))
	scanner.Split(scanLines)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	assert.Equal(t, []string{"one", "two", "three"}, lines)
}
