// Command rescuescan walks a rescue directory tree (as written by
// internal/sinkrt.Rescuer) and reports (file_count, line_count,
// size_bytes) per sink. It does not replay records to a live sink — just
// counts them, so an operator can size up a backlog before deciding to
// act on it.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fatih/color"

	"github.com/ssw-labs/flowcore/internal/sinkrt"
)

var (
	warnColor = color.New(color.FgYellow)
	bigColor  = color.New(color.FgRed, color.Bold)
)

// bigBacklog is the record count at or above which a sink's row is highlighted,
// since an operator scanning many sinks cares most about the outliers.
const bigBacklog = 100000

type sinkStats struct {
	FileCount int
	LineCount int
	SizeBytes int64
}

func main() {
	var rescueDir string
	flag.StringVar(&rescueDir, "dir", "", "rescue directory to scan (the configured rescue_dir root)")
	flag.Parse()

	if rescueDir == "" {
		fmt.Fprintln(os.Stderr, "usage: rescuescan -dir <rescue_dir>")
		os.Exit(2)
	}

	stats, err := scanRescueDir(rescueDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rescuescan: %v\n", err)
		os.Exit(1)
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := stats[name]
		line := fmt.Sprintf("%-24s files=%-6d records=%-8d bytes=%d", name, s.FileCount, s.LineCount, s.SizeBytes)
		if s.LineCount >= bigBacklog {
			bigColor.Println(line)
		} else if s.LineCount > 0 {
			warnColor.Println(line)
		} else {
			fmt.Println(line)
		}
	}
}

// scanRescueDir expects <rescueDir>/<sink>/YYYY/MM/DD/*.dat, matching
// internal/sinkrt.Rescuer's layout; the sink name is the first path
// segment under rescueDir.
func scanRescueDir(rescueDir string) (map[string]sinkStats, error) {
	stats := map[string]sinkStats{}

	entries, err := os.ReadDir(rescueDir)
	if err != nil {
		return nil, fmt.Errorf("reading rescue dir: %w", err)
	}

	for _, sinkEntry := range entries {
		if !sinkEntry.IsDir() {
			continue
		}
		sinkName := sinkEntry.Name()
		s := stats[sinkName]

		err := filepath.Walk(filepath.Join(rescueDir, sinkName), func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || filepath.Ext(path) != ".dat" {
				return nil
			}
			entries, err := sinkrt.Scan(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "rescuescan: skipping unreadable file %s: %v\n", path, err)
				return nil
			}
			s.FileCount++
			s.LineCount += len(entries)
			s.SizeBytes += info.Size()
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking sink %s: %w", sinkName, err)
		}
		stats[sinkName] = s
	}

	return stats, nil
}
