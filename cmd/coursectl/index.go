package main

import (
	"context"
	"io"
	"strings"
)

// indexCmd prints rows of the history index: "persists" (default) or
// "archives" of one level.
func indexCmd(args []string, out io.Writer) error {
	fs, common := newFlagSet("index")
	name := fs.String("name", "", "level name")
	limit := fs.Int("limit", 20, "result limit (persists)")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	q := "persists"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if err := checkName(*name); err != nil {
		return err
	}

	rt, err := openRuntime(common)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.Index == nil {
		return usagef("index backend is disabled")
	}

	ctx := context.Background()
	switch q {
	case "persists":
		rows, err := rt.Index.Persists(ctx, *name, *limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			printJSON(out, struct {
				ID          int64  `json:"id"`
				Digest      string `json:"digest"`
				Bytes       int    `json:"bytes"`
				Dims        [3]int `json:"dims"`
				Entities    int    `json:"entities"`
				Replaced    bool   `json:"replaced"`
				Archived    bool   `json:"archived"`
				PersistedAt string `json:"persisted_at"`
			}{r.ID, r.Digest, r.Bytes, r.Dims, r.Entities, r.Replaced, r.Archived, r.PersistedAt})
		}
	case "archives":
		rows, err := rt.Index.Archives(ctx, *name)
		if err != nil {
			return err
		}
		for _, r := range rows {
			printJSON(out, struct {
				Path       string `json:"path"`
				SourcePath string `json:"source_path"`
				Digest     string `json:"digest"`
				ArchivedAt string `json:"archived_at"`
			}{r.Path, r.SourcePath, r.Digest, r.ArchivedAt})
		}
	default:
		return usagef("unknown index query: %s (want persists or archives)", q)
	}
	return nil
}
