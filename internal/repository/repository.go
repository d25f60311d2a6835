package repository

import (
	"fmt"
	"strings"
)

// chunkSize caps multi-row writes so a single statement never approaches the
// placeholder limits of either backend (999+ on SQLite, 65535 on Postgres).
const chunkSize = 500

// placeholders renders "$start, $start+1, ..." for n values. Numbers are
// always handed out in ascending order of appearance, which keeps ordinal
// binding correct on both supported drivers.
func placeholders(start, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", start+i)
	}
	return b.String()
}
