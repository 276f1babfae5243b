package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mega-go/pkg/mega"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"kilobytes", 1536, "1.5 KB"},
		{"megabytes", 5242880, "5.0 MB"},
		{"gigabytes", 1610612736, "1.5 GB"},
		{"terabytes", 1099511627776, "1.0 TB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Now()
	sameYear := time.Date(now.Year(), time.March, 15, 10, 30, 0, 0, time.UTC)
	diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.UTC)

	t.Run("same year", func(t *testing.T) {
		result := formatTime(sameYear)
		assert.Contains(t, result, "Mar")
		assert.Contains(t, result, "15")
		assert.Contains(t, result, "10:30")
	})

	t.Run("different year", func(t *testing.T) {
		result := formatTime(diffYear)
		assert.Contains(t, result, "Dec")
		assert.Contains(t, result, "25")
		assert.Contains(t, result, "2020")
	})

	t.Run("zero", func(t *testing.T) {
		assert.Equal(t, "-", formatTime(time.Time{}))
	})
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"NAME", "SIZE", "MODIFIED"}
	rows := [][]string{
		{"file.txt", "1.2 MB", "Jan 15 10:30"},
		{"folder/", "0 B", "Feb  1 09:00"},
	}

	printTable(&buf, headers, rows)
	output := buf.String()

	assert.Contains(t, output, "NAME")
	assert.Contains(t, output, "SIZE")
	assert.Contains(t, output, "MODIFIED")
	assert.Contains(t, output, "file.txt")
	assert.Contains(t, output, "folder/")
}

func TestPrintTable_AlignsAndTrims(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"A", "B"}, [][]string{{"long-cell", ""}, {"x", "y"}})

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "A          B", lines[0])
	assert.Equal(t, "long-cell", lines[1])
	assert.Equal(t, "x          y", lines[2])
}

func TestPrintJSON_Indents(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printJSON(&buf, map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer

	p := newProgressPrinter(&buf)
	ev := mega.JobEvent{
		JobID:      "j1",
		Direction:  mega.DirUpload,
		Status:     mega.StatusActive,
		RemotePath: "/Root/a.bin",
		Size:       2048,
		ChunkCount: 4,
	}

	p.JobChanged(ev)

	ev.ChunksDone = 1
	p.JobChanged(ev)
	// Same percentage again is not redrawn.
	p.JobChanged(ev)

	ev.Status = mega.StatusCompleted
	ev.ChunksDone = 4
	p.JobChanged(ev)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "25%"))
	assert.Contains(t, out, "upload /Root/a.bin:   0% of 2.0 KB")
	assert.True(t, strings.HasSuffix(out, "\n"))

	// A job that never reported progress gets no trailing newline.
	buf.Reset()
	p.JobChanged(mega.JobEvent{JobID: "j2", Status: mega.StatusFailed, Err: errors.New("boom")})
	assert.Empty(t, buf.String())
}
