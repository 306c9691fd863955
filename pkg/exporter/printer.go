package exporter

import (
	"fmt"
	"io"
	"text/tabwriter"

	"selfvault/pkg/core"
)

// PrintDataMap writes a human readable summary of dm, one row per chunk.
func PrintDataMap(dm *core.DataMap, w io.Writer) error {
	fmt.Fprintf(w, "Size:    %s\n", fmtSize(dm.Size))
	if dm.IsInline() {
		fmt.Fprintf(w, "Layout:  inline (%d bytes in map)\n", len(dm.Content))
		return nil
	}
	fmt.Fprintf(w, "Type:    %s\n", dm.Type)
	fmt.Fprintf(w, "Chunks:  %d\n", len(dm.Chunks))
	if len(dm.Content) > 0 {
		fmt.Fprintf(w, "Tail:    %d bytes in map\n", len(dm.Content))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "#\tPLAIN\tSTORED\tPRE_HASH\tCID\n")
	for i, c := range dm.Chunks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i, fmtSize(c.PreSize), fmtSize(c.Size), c.PreHash.Hash.Short(), c.Cid.Hash.Short())
	}
	return tw.Flush()
}

func fmtSize(s int64) string {
	if s < 1024 {
		return fmt.Sprintf("%dB", s)
	} else if s < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(s)/1024)
	}
	return fmt.Sprintf("%.2fMB", float64(s)/1024/1024)
}
