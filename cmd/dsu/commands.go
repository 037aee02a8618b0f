package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/marmos91/dittodsu/pkg/anchoring"
	"github.com/marmos91/dittodsu/pkg/config"
	"github.com/marmos91/dittodsu/pkg/dsu"
	"github.com/marmos91/dittodsu/pkg/identifier"
	"github.com/marmos91/dittodsu/pkg/resolver"
	"github.com/spf13/pflag"
)

// parseArgs parses a command's flags and checks its positional argument
// count. maxArgs < 0 means unbounded.
func parseArgs(name string, args []string, minArgs, maxArgs int, setup func(fs *pflag.FlagSet)) ([]string, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	if setup != nil {
		setup(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dsu %s\n", commands[name].usage)
		fmt.Fprint(os.Stderr, fs.FlagUsages())
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	n := fs.NArg()
	if n < minArgs || (maxArgs >= 0 && n > maxArgs) {
		return nil, fmt.Errorf("usage: dsu %s", commands[name].usage)
	}
	return fs.Args(), nil
}

// load resolves a unit by its identifier string.
func (e *env) load(ctx context.Context, raw string) (*dsu.DSU, error) {
	id, err := identifier.Parse(raw)
	if err != nil {
		return nil, err
	}
	return e.rt.Resolver.LoadDSU(ctx, id, nil)
}

// ============================================================================
// Configuration
// ============================================================================

func runInit(_ context.Context, e *env, args []string) error {
	var force bool
	var path string
	if _, err := parseArgs("init", args, 0, 0, func(fs *pflag.FlagSet) {
		fs.BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")
		fs.StringVar(&path, "path", "", "Destination (default: the --config path or the XDG location)")
	}); err != nil {
		return err
	}

	if path == "" {
		path = e.configPath
	}
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	if err := config.WriteDefaultConfig(path, force); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Configuration written to %s\n", path)
	return nil
}

// ============================================================================
// Units
// ============================================================================

func runNew(ctx context.Context, e *env, args []string) error {
	var typ, domain, key, path string
	var noLog bool
	if _, err := parseArgs("new", args, 0, 0, func(fs *pflag.FlagSet) {
		fs.StringVarP(&typ, "type", "t", string(identifier.TypeSeed), "Identifier type: seed, const or vless")
		fs.StringVarP(&domain, "domain", "d", "default", "Domain of the unit")
		fs.StringVarP(&key, "key", "k", "", "Key material for const units, encryption key for vless units")
		fs.StringVarP(&path, "path", "p", "", "Blob path of a vless unit")
		fs.BoolVar(&noLog, "no-log", false, "Do not write an init entry to the activity log")
	}); err != nil {
		return err
	}

	var id *identifier.KeySSI
	var err error
	switch identifier.Type(typ) {
	case identifier.TypeSeed:
		id, err = identifier.NewSeed(domain)
	case identifier.TypeConst:
		id, err = identifier.NewConst(domain, []byte(key))
	case identifier.TypeVersionless:
		id, err = identifier.NewVersionless(domain, path, []byte(key))
	default:
		return fmt.Errorf("unknown identifier type %q (supported: seed, const, vless)", typ)
	}
	if err != nil {
		return err
	}

	if _, err := e.rt.Resolver.CreateDSU(ctx, id, &resolver.CreateOptions{AddLog: !noLog}); err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, id.String())

	if id.Type() == identifier.TypeSeed {
		sread, err := id.DeriveSRead()
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "read-only: %s\n", sread.String())
	}
	return nil
}

func runExists(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs("exists", args, 1, 1, nil)
	if err != nil {
		return err
	}
	id, err := identifier.Parse(rest[0])
	if err != nil {
		return err
	}
	ok, err := e.rt.Resolver.DSUExists(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, ok)
	return nil
}

func runVersions(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs("versions", args, 1, 1, nil)
	if err != nil {
		return err
	}
	id, err := identifier.Parse(rest[0])
	if err != nil {
		return err
	}
	versions, err := e.rt.Resolver.Anchoring().GetAllVersions(ctx, id, anchoring.GetVersionsOptions{})
	if err != nil {
		return err
	}
	for i, v := range versions {
		fmt.Fprintf(e.stdout, "%d\t%s\n", i+1, v.String())
	}
	return nil
}

func runLog(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs("log", args, 1, 1, nil)
	if err != nil {
		return err
	}
	unit, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	entries, err := unit.ReadLog(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		ts := time.UnixMilli(entry.Time).UTC().Format(time.RFC3339)
		if entry.Details != "" {
			fmt.Fprintf(e.stdout, "%s\t%s\t%s\n", ts, entry.Event, entry.Details)
		} else {
			fmt.Fprintf(e.stdout, "%s\t%s\n", ts, entry.Event)
		}
	}
	return nil
}

// ============================================================================
// Files and folders
// ============================================================================

func runWrite(ctx context.Context, e *env, args []string) error {
	var file, data string
	var appendMode, ignoreMounts bool
	rest, err := parseArgs("write", args, 2, 2, func(fs *pflag.FlagSet) {
		fs.StringVar(&file, "file", "", "Read content from a host file")
		fs.StringVar(&data, "data", "", "Literal content")
		fs.BoolVar(&appendMode, "append", false, "Append instead of replacing")
		fs.BoolVar(&ignoreMounts, "ignore-mounts", false, "Write to the unit itself even under a mount point")
	})
	if err != nil {
		return err
	}
	if file != "" && data != "" {
		return fmt.Errorf("--file and --data are mutually exclusive")
	}

	var body []byte
	switch {
	case file != "":
		body, err = os.ReadFile(file)
	case data != "":
		body = []byte(data)
	default:
		body, err = io.ReadAll(e.stdin)
	}
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	unit, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	opts := &dsu.Options{IgnoreMounts: ignoreMounts}
	if appendMode {
		return unit.AppendToFile(ctx, rest[1], body, opts)
	}
	return unit.WriteFile(ctx, rest[1], body, opts)
}

func runRead(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs("read", args, 2, 2, nil)
	if err != nil {
		return err
	}
	unit, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	body, err := unit.ReadFile(ctx, rest[1], nil)
	if err != nil {
		return err
	}
	_, err = e.stdout.Write(body)
	return err
}

func runList(ctx context.Context, e *env, args []string) error {
	var recursive, ignoreMounts bool
	rest, err := parseArgs("ls", args, 1, 2, func(fs *pflag.FlagSet) {
		fs.BoolVarP(&recursive, "recursive", "r", false, "Descend into sub-folders and mounts")
		fs.BoolVar(&ignoreMounts, "ignore-mounts", false, "Do not resolve mount points")
	})
	if err != nil {
		return err
	}
	folder := "/"
	if len(rest) == 2 {
		folder = rest[1]
	}

	unit, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	opts := &dsu.Options{Recursive: recursive, IgnoreMounts: ignoreMounts}
	folders, err := unit.ListFolders(ctx, folder, opts)
	if err != nil {
		return err
	}
	files, err := unit.ListFiles(ctx, folder, opts)
	if err != nil {
		return err
	}
	for _, f := range folders {
		fmt.Fprintln(e.stdout, strings.TrimSuffix(f, "/")+"/")
	}
	for _, f := range files {
		fmt.Fprintln(e.stdout, f)
	}
	return nil
}

func runStat(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs("stat", args, 2, 2, nil)
	if err != nil {
		return err
	}
	unit, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	st, err := unit.Stat(ctx, rest[1], nil)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func runMkdir(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs("mkdir", args, 2, 2, nil)
	if err != nil {
		return err
	}
	unit, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	return unit.CreateFolder(ctx, rest[1], nil)
}

func runRemove(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs("rm", args, 2, 2, nil)
	if err != nil {
		return err
	}
	unit, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	return unit.Delete(ctx, rest[1], nil)
}

func runMove(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs("mv", args, 3, 3, nil)
	if err != nil {
		return err
	}
	unit, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	return unit.Rename(ctx, rest[1], rest[2], nil)
}

func runClone(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs("cp", args, 3, 3, nil)
	if err != nil {
		return err
	}
	unit, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	return unit.CloneFolder(ctx, rest[1], rest[2], nil)
}

func runAdd(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs("add", args, 3, 3, nil)
	if err != nil {
		return err
	}
	info, err := os.Stat(rest[1])
	if err != nil {
		return err
	}
	unit, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	if info.IsDir() {
		return unit.AddFolder(ctx, rest[1], rest[2], nil)
	}
	return unit.AddFile(ctx, rest[1], rest[2], nil)
}

func runExtract(ctx context.Context, e *env, args []string) error {
	var folder bool
	rest, err := parseArgs("extract", args, 3, 3, func(fs *pflag.FlagSet) {
		fs.BoolVar(&folder, "folder", false, "Extract a folder recursively")
	})
	if err != nil {
		return err
	}
	unit, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	if folder {
		return unit.ExtractFolder(ctx, rest[1], rest[2], nil)
	}
	return unit.ExtractFile(ctx, rest[1], rest[2], nil)
}

// ============================================================================
// Mounts
// ============================================================================

func runMount(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs("mount", args, 3, 3, nil)
	if err != nil {
		return err
	}
	target, err := identifier.Parse(rest[2])
	if err != nil {
		return err
	}
	unit, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	return unit.Mount(ctx, rest[1], target, nil)
}

func runUnmount(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs("unmount", args, 2, 2, nil)
	if err != nil {
		return err
	}
	unit, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	return unit.Unmount(ctx, rest[1])
}

func runMounts(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs("mounts", args, 1, 2, nil)
	if err != nil {
		return err
	}
	folder := "/"
	if len(rest) == 2 {
		folder = rest[1]
	}
	unit, err := e.load(ctx, rest[0])
	if err != nil {
		return err
	}
	mounts, err := unit.GetMountedDSUs(ctx, folder)
	if err != nil {
		return err
	}
	for _, mp := range mounts {
		fmt.Fprintf(e.stdout, "%s\t%s\n", mp.Path, mp.Identifier)
	}
	return nil
}
