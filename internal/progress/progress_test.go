package progress

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(0, 10))
	assert.Equal(t, 50.0, Percent(5, 10))
	assert.Equal(t, 100.0, Percent(10, 10))
	assert.Equal(t, 100.0, Percent(12, 10))
	assert.Equal(t, 100.0, Percent(0, 0))
	assert.Equal(t, 0.0, Percent(-1, 10))
}

func TestBar_Report(t *testing.T) {
	var buf bytes.Buffer
	bar := NewBar(&buf, "ingest", 10)

	bar.Report(1, 4)
	bar.Report(2, 4)
	assert.NotContains(t, buf.String(), "\n")
	assert.Contains(t, buf.String(), " 50.0% (2/4)")

	bar.Report(4, 4)
	out := buf.String()
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.Contains(t, out, "ingest [██████████] 100.0% (4/4)")

	// Updates after completion are ignored
	bar.Report(4, 4)
	assert.Equal(t, out, buf.String())
}

func TestBar_RedrawsInPlace(t *testing.T) {
	var buf bytes.Buffer
	bar := NewBar(&buf, "", 4)

	bar.Report(1, 2)
	bar.Report(2, 2)

	assert.Equal(t, 2, strings.Count(buf.String(), "\r"))
	assert.Contains(t, buf.String(), "[██░░]  50.0% (1/2)")
}

func TestFunc(t *testing.T) {
	var got []int64
	var r Reporter = Func(func(current, total int64) {
		got = append(got, current, total)
	})

	r.Report(3, 7)
	Nop{}.Report(1, 1)

	assert.Equal(t, []int64{3, 7}, got)
}

func TestSteps_LogsEachTenth(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	r := Steps("fetch")
	for i := int64(0); i <= 40; i++ {
		r.Report(i, 40)
	}

	entries := hook.AllEntries()
	assert.Len(t, entries, 11)
	assert.Equal(t, "fetch 0%", entries[0].Message)
	assert.Equal(t, "fetch 50%", entries[5].Message)
	assert.Equal(t, "fetch 100%", entries[10].Message)
	assert.Equal(t, logrus.InfoLevel, entries[10].Level)
	assert.Equal(t, int64(40), entries[10].Data["total"])

	// Completed reporters stay quiet
	r.Report(40, 40)
	assert.Len(t, hook.AllEntries(), 11)
}
