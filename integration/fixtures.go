//go:build integration
// +build integration

package integration

import (
	"fmt"
	"os"
	"strings"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// frameListing builds a listing of n intensity frames across the four bands,
// interleaved with mask frames that the default filter drops
func frameListing(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		scan := fmt.Sprintf("%05da%03d", i/4, i%1000)
		band := i%4 + 1
		fmt.Fprintf(&b, "/wise/allsky/%s/%s-w%d-int-1b.fits\n", scan[:4], scan, band)
		fmt.Fprintf(&b, "/wise/allsky/%s/%s-w%d-msk-1b.fits\n", scan[:4], scan, band)
	}
	return b.String()
}
