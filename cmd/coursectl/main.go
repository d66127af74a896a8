package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"coursekeeper.ai/internal/app"
	"coursekeeper.ai/internal/config"
	"coursekeeper.ai/internal/course"
	"coursekeeper.ai/internal/persistence/snapshot"
	"coursekeeper.ai/internal/persistence/store"
	"coursekeeper.ai/internal/region"
)

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error { return usageError{msg: fmt.Sprintf(format, args...)} }

var commands = map[string]func(args []string, out io.Writer) error{
	"list":     listCmd,
	"create":   createCmd,
	"remove":   removeCmd,
	"history":  historyCmd,
	"inspect":  inspectCmd,
	"verify":   verifyCmd,
	"rollback": rollbackCmd,
	"index":    indexCmd,
	"pull":     pullCmd,
}

func main() {
	name := "list"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintln(os.Stderr, "unknown command:", name)
		os.Exit(2)
	}
	if err := cmd(args, os.Stdout); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, ue.msg)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error %s: %v\n", course.Code(err), err)
		os.Exit(1)
	}
}

type commonFlags struct {
	config          *string
	metricsTextfile *string
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return fs, commonFlags{
		config:          fs.String("config", "", "runtime config yaml (optional; defaults apply)"),
		metricsTextfile: fs.String("metrics_textfile", "", "write prometheus metrics here on exit (optional)"),
	}
}

func openRuntime(c commonFlags) (*app.Runtime, error) {
	cfg, err := config.Load(*c.config)
	if err != nil {
		return nil, err
	}
	logger := log.New(os.Stderr, "[coursectl] ", log.LstdFlags|log.Lmicroseconds)
	return app.Open(cfg, app.Options{Logger: logger, MetricsTextfile: *c.metricsTextfile})
}

func listCmd(args []string, out io.Writer) error {
	fs, common := newFlagSet("list")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	rt, err := openRuntime(common)
	if err != nil {
		return err
	}
	defer rt.Close()

	_, loadErr := rt.Manager.LoadAll(context.Background())
	for _, name := range rt.Manager.Names() {
		l, err := rt.Manager.Get(name)
		if err != nil {
			return err
		}
		r := l.Region()
		row := struct {
			Name     string `json:"name"`
			Region   string `json:"region"`
			Snapshot bool   `json:"snapshot"`
		}{Name: name, Region: r.String(), Snapshot: l.Snapshot() != nil}
		printJSON(out, row)
	}
	return loadErr
}

func createCmd(args []string, out io.Writer) error {
	fs, common := newFlagSet("create")
	name := fs.String("name", "", "level name")
	worldID := fs.String("world", "", "world id")
	minS := fs.String("min", "", "first corner x,y,z")
	maxS := fs.String("max", "", "second corner x,y,z")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	if *name == "" || *worldID == "" || *minS == "" || *maxS == "" {
		return usagef("create requires -name, -world, -min and -max")
	}
	a, err := parseVec3(*minS)
	if err != nil {
		return usagef("bad -min: %v", err)
	}
	b, err := parseVec3(*maxS)
	if err != nil {
		return usagef("bad -max: %v", err)
	}
	r, err := region.FromCorners(*worldID, a, b)
	if err != nil {
		return err
	}

	rt, err := openRuntime(common)
	if err != nil {
		return err
	}
	defer rt.Close()
	if _, err := rt.Manager.LoadAll(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "warning: load levels:", err)
	}
	l, err := rt.Manager.Create(*name, r)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created level=%s region=%s config=%s\n", l.Name(), l.Region(), l.ConfigPath())
	return nil
}

func removeCmd(args []string, out io.Writer) error {
	fs, common := newFlagSet("remove")
	name := fs.String("name", "", "level name")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	if err := checkName(*name); err != nil {
		return err
	}
	rt, err := openRuntime(common)
	if err != nil {
		return err
	}
	defer rt.Close()
	if _, err := rt.Manager.LoadAll(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "warning: load levels:", err)
	}
	if err := rt.Manager.Remove(*name); err != nil {
		return err
	}
	fmt.Fprintf(out, "removed level=%s\n", *name)
	return nil
}

func historyCmd(args []string, out io.Writer) error {
	fs, common := newFlagSet("history")
	name := fs.String("name", "", "level name")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	if err := checkName(*name); err != nil {
		return err
	}
	rt, err := openRuntime(common)
	if err != nil {
		return err
	}
	defer rt.Close()

	entries, err := rt.Store.History(*name)
	if err != nil {
		return err
	}
	for _, e := range entries {
		printJSON(out, struct {
			Name  string `json:"name"`
			Stamp string `json:"stamp"`
			Path  string `json:"path"`
			Size  int64  `json:"size"`
		}{e.Name, e.Stamp, e.Path, e.Size})
	}
	return nil
}

// checkName rejects a -name that is empty or that store.ValidName refuses,
// before the value reaches any path.
func checkName(name string) error {
	if name == "" {
		return usagef("missing -name")
	}
	if !store.ValidName(name) {
		return usagef("invalid -name %q", name)
	}
	return nil
}

func inspectCmd(args []string, out io.Writer) error {
	fs, common := newFlagSet("inspect")
	name := fs.String("name", "", "level name (inspects its canonical snapshot)")
	file := fs.String("file", "", "snapshot file path")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	path := strings.TrimSpace(*file)
	if path == "" {
		if *name == "" {
			return usagef("inspect requires -name or -file")
		}
		if err := checkName(*name); err != nil {
			return err
		}
		cfg, err := config.Load(*common.config)
		if err != nil {
			return err
		}
		path = filepath.Join(cfg.CoursesDir, *name+store.Ext)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	h, f, err := snapshot.Inspect(b)
	if err != nil {
		return err
	}
	printJSON(out, struct {
		Path     string `json:"path"`
		Format   string `json:"format"`
		Version  int    `json:"version"`
		Origin   [3]int `json:"origin"`
		Dims     [3]int `json:"dims"`
		Palette  int    `json:"palette"`
		Entities int    `json:"entities"`
		Bytes    int    `json:"bytes"`
		Digest   string `json:"digest"`
	}{path, f.String(), h.Version, h.Origin, h.Dims, h.Palette, h.Entities, len(b), snapshot.Digest(b).String()})
	return nil
}

// verifyCmd decodes every canonical and history snapshot and reports the
// ones that do not.
func verifyCmd(args []string, out io.Writer) error {
	fs, common := newFlagSet("verify")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	rt, err := openRuntime(common)
	if err != nil {
		return err
	}
	defer rt.Close()

	names, err := rt.Store.Names()
	if err != nil {
		return err
	}
	var bad []error
	checked := 0
	for _, name := range names {
		checked++
		if _, err := rt.Store.Load(name); err != nil {
			bad = append(bad, err)
			fmt.Fprintf(out, "BAD %s: %v\n", rt.Store.CanonicalPath(name), err)
		}
		entries, err := rt.Store.History(name)
		if err != nil {
			bad = append(bad, err)
			continue
		}
		for _, e := range entries {
			checked++
			if _, err := rt.Store.LoadHistory(e); err != nil {
				bad = append(bad, err)
				fmt.Fprintf(out, "BAD %s: %v\n", e.Path, err)
			}
		}
	}
	fmt.Fprintf(out, "verify: checked=%d bad=%d\n", checked, len(bad))
	return errors.Join(bad...)
}

func rollbackCmd(args []string, out io.Writer) error {
	fs, common := newFlagSet("rollback")
	name := fs.String("name", "", "level name")
	stamp := fs.String("stamp", "", "history stamp YYYYMMDDHHMMSS (optional; defaults to latest)")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	if err := checkName(*name); err != nil {
		return err
	}
	rt, err := openRuntime(common)
	if err != nil {
		return err
	}
	defer rt.Close()

	if *stamp == "" {
		entries, err := rt.Store.History(*name)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("no history for %s: %w", *name, course.ErrNoSnapshot)
		}
		*stamp = entries[0].Stamp
	}
	res, err := rt.Store.Rollback(*name, *stamp)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "rollback ok: name=%s stamp=%s digest=%s archived=%v path=%s\n", res.Name, *stamp, res.Digest, res.Archived, res.Path)
	return nil
}

func pullCmd(args []string, out io.Writer) error {
	fs, common := newFlagSet("pull")
	name := fs.String("name", "", "level name")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	if err := checkName(*name); err != nil {
		return err
	}
	rt, err := openRuntime(common)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.Mirror == nil {
		return usagef("pull requires mirror.enabled")
	}

	tmp := rt.Store.CanonicalPath(*name) + ".pull"
	defer os.Remove(tmp)
	if err := rt.Mirror.Pull(context.Background(), *name, tmp); err != nil {
		return err
	}
	b, err := os.ReadFile(tmp)
	if err != nil {
		return err
	}
	snap, err := snapshot.Decode(b)
	if err != nil {
		return err
	}
	res, err := rt.Store.Persist(*name, snap)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pull ok: name=%s digest=%s replaced=%v archived=%v\n", res.Name, res.Digest, res.Replaced, res.Archived)
	return nil
}

func parseVec3(s string) ([3]int, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return [3]int{}, fmt.Errorf("expected x,y,z")
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return [3]int{}, err
		}
		v[i] = n
	}
	return v, nil
}

func printJSON(out io.Writer, v any) {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
