package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/config"
	"github.com/spf13/pflag"
)

// command is a dsu subcommand.
type command struct {
	usage   string
	summary string

	// standalone commands run without a runtime
	standalone bool

	run func(ctx context.Context, e *env, args []string) error
}

// env is what a command runs against.
type env struct {
	configPath string
	cfg        *config.Config
	rt         *config.Runtime
	stdin      io.Reader
	stdout     io.Writer
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"serve":    {usage: "serve", summary: "Expose the local backends over HTTP", run: runServe},
		"init":     {usage: "init [--force] [--path file]", summary: "Write a default configuration file", standalone: true, run: runInit},
		"new":      {usage: "new [--type seed|const|vless] [--domain d] [--key k] [--path p]", summary: "Create a storage unit and print its identifier", run: runNew},
		"write":    {usage: "write ID PATH [--file f | --data s] [--append]", summary: "Write a file (stdin when no source is given)", run: runWrite},
		"read":     {usage: "read ID PATH", summary: "Print a file", run: runRead},
		"ls":       {usage: "ls ID [PATH] [-r] [--ignore-mounts]", summary: "List files and folders", run: runList},
		"stat":     {usage: "stat ID PATH", summary: "Show entry metadata", run: runStat},
		"mkdir":    {usage: "mkdir ID PATH", summary: "Create a folder", run: runMkdir},
		"rm":       {usage: "rm ID PATH", summary: "Delete a file or folder", run: runRemove},
		"mv":       {usage: "mv ID SRC DST", summary: "Rename a file or folder", run: runMove},
		"cp":       {usage: "cp ID SRC DST", summary: "Clone a folder", run: runClone},
		"add":      {usage: "add ID HOST_PATH PATH", summary: "Import a host file or folder", run: runAdd},
		"extract":  {usage: "extract ID PATH HOST_PATH [--folder]", summary: "Export a file or folder to the host", run: runExtract},
		"mount":    {usage: "mount ID PATH TARGET", summary: "Mount TARGET at PATH", run: runMount},
		"unmount":  {usage: "unmount ID PATH", summary: "Remove a mount", run: runUnmount},
		"mounts":   {usage: "mounts ID [PATH]", summary: "List mounts", run: runMounts},
		"versions": {usage: "versions ID", summary: "List anchored versions", run: runVersions},
		"log":      {usage: "log ID", summary: "Print the activity log", run: runLog},
		"exists":   {usage: "exists ID", summary: "Report whether a unit exists", run: runExists},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run parses the global flags and dispatches to a command.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := pflag.NewFlagSet("dsu", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.SetInterspersed(false)
	configPath := flags.StringP("config", "c", "", "Path to config file (default: $XDG_CONFIG_HOME/dittodsu/config.yaml)")
	logLevel := flags.String("log-level", "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)")
	flags.Usage = func() { printUsage(stderr, flags) }

	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		printUsage(stderr, flags)
		return fmt.Errorf("no command given")
	}

	name, rest := flags.Arg(0), flags.Args()[1:]
	if name == "help" {
		printUsage(stdout, flags)
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (run 'dsu help')", name)
	}

	e := &env{configPath: *configPath, stdin: stdin, stdout: stdout}
	if cmd.standalone {
		return cmd.run(ctx, e, rest)
	}

	// Step 1: Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Logging.Level = strings.ToUpper(*logLevel)
	}
	// stdout carries command output
	if name != "serve" && strings.EqualFold(cfg.Logging.Output, "stdout") {
		cfg.Logging.Output = "stderr"
	}
	if err := configureLogging(cfg.Logging); err != nil {
		return err
	}
	e.cfg = cfg

	// Step 2: Wire the runtime
	rt, err := config.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("Failed to close backends: %v", err)
		}
	}()
	e.rt = rt

	// Step 3: Run the command
	return cmd.run(ctx, e, rest)
}

func configureLogging(cfg config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	if err := logger.SetOutput(cfg.Output); err != nil {
		return fmt.Errorf("failed to set log output: %w", err)
	}
	return nil
}

func printUsage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintln(w, "Usage: dsu [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := commands[name]
		fmt.Fprintf(w, "  %-58s %s\n", cmd.usage, cmd.summary)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, flags.FlagUsages())
}
