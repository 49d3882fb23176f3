package histogram

import (
	"bytes"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pahproject/catalogdb/pkg/types"
)

func TestCompute(t *testing.T) {
	h := Compute([]float64{0, 1, 2, 3, 10, 100000, 250000}, Options{Threshold: 100000, Bins: 5})

	assert.Equal(t, int64(100000), h.Threshold)
	assert.Equal(t, 7, h.Total)
	assert.Equal(t, 5, h.Kept)
	require.Len(t, h.Bins, 5)

	assert.Equal(t, 0.0, h.Bins[0].Lower)
	assert.Equal(t, 2.0, h.Bins[0].Upper)
	assert.Equal(t, 10.0, h.Bins[4].Upper)

	counts := make([]int, len(h.Bins))
	for i, b := range h.Bins {
		counts[i] = b.Count
	}
	// The maximum falls into the closed last bin
	assert.Equal(t, []int{2, 2, 0, 0, 1}, counts)
}

func TestCompute_Empty(t *testing.T) {
	h := Compute(nil, Options{Threshold: 100000, Bins: 10})
	assert.Equal(t, 0, h.Total)
	assert.Equal(t, 0, h.Kept)
	assert.Empty(t, h.Bins)

	h = Compute([]float64{100000, 200000}, Options{Threshold: 100000, Bins: 10})
	assert.Equal(t, 2, h.Total)
	assert.Equal(t, 0, h.Kept)
	assert.Empty(t, h.Bins)
}

func TestCompute_SingleValue(t *testing.T) {
	h := Compute([]float64{7, 7, 7}, Options{Threshold: 100, Bins: 4})
	require.Len(t, h.Bins, 4)
	assert.Equal(t, 6.5, h.Bins[0].Lower)
	assert.Equal(t, 7.5, h.Bins[3].Upper)

	total := 0
	for _, b := range h.Bins {
		total += b.Count
	}
	assert.Equal(t, 3, total)
}

func TestCompute_FractionalValues(t *testing.T) {
	h := Compute([]float64{0.25, 0.5, 1.75, 2.0, 2.5}, Options{Threshold: 2, Bins: 3})

	assert.Equal(t, 5, h.Total)
	assert.Equal(t, 3, h.Kept)
	require.Len(t, h.Bins, 3)
	assert.Equal(t, 0.25, h.Bins[0].Lower)
	assert.Equal(t, 1.75, h.Bins[2].Upper)
	assert.Equal(t, []int{2, 0, 1}, []int{h.Bins[0].Count, h.Bins[1].Count, h.Bins[2].Count})
}

func TestCompute_ZeroThresholdKeepsEverything(t *testing.T) {
	h := Compute([]float64{-3, 0, 250000}, Options{Bins: 2})
	assert.Equal(t, 3, h.Kept)
	assert.Equal(t, int64(0), h.Threshold)
}

func TestCompute_Defaults(t *testing.T) {
	h := Compute([]float64{1, 2}, Options{})
	assert.Len(t, h.Bins, DefaultBins)
	assert.Equal(t, 2, h.Kept)
}

func TestProperty_ComputeKeepsEveryValue(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("bin counts sum to the kept values", prop.ForAll(
		func(values []float64, bins int) bool {
			h := Compute(values, Options{Threshold: 1000, Bins: bins})
			want := 0
			for _, v := range values {
				if v < 1000 {
					want++
				}
			}
			got := 0
			for _, b := range h.Bins {
				got += b.Count
			}
			return got == want && h.Kept == want
		},
		gen.SliceOf(gen.Float64Range(-500, 1500)),
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}

func TestRender_Text(t *testing.T) {
	h := types.Histogram{
		Threshold: 100,
		Total:     4,
		Kept:      3,
		Bins: []types.HistogramBin{
			{Lower: 0, Upper: 5, Count: 2},
			{Lower: 5, Upper: 10, Count: 0},
			{Lower: 10, Upper: 15, Count: 1},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, h, RenderOptions{Width: 10}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "3 of 4 values below 100")
	assert.Contains(t, lines[1], strings.Repeat("█", 10))
	assert.Contains(t, lines[2], strings.Repeat("█", 5))
	assert.NotContains(t, buf.String(), "5.0 - 10.0")
}

func TestRender_CSV(t *testing.T) {
	h := types.Histogram{Bins: []types.HistogramBin{
		{Lower: 0, Upper: 2.5, Count: 3},
		{Lower: 2.5, Upper: 5, Count: 0},
	}}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, h, RenderOptions{Format: FormatCSV}))
	assert.Equal(t, "lower,upper,count\n0,2.5,3\n2.5,5,0\n", buf.String())
}

func TestRender_UnknownFormat(t *testing.T) {
	err := Render(&bytes.Buffer{}, types.Histogram{}, RenderOptions{Format: "png"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown histogram format")
}
