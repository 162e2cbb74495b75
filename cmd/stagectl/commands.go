package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"stagectl/internal/app"
	"stagectl/internal/config"
	"stagectl/internal/infrastructure"
	"stagectl/internal/operations"
)

type command struct {
	name    string
	summary string
	hidden  bool
	run     func(c *cli, ctx context.Context, args []string) int
}

var commands = []command{
	{name: "createdb", summary: "Create all the database structure", run: (*cli).createDB},
	{name: "load", summary: "Execute the loader", run: (*cli).load},
	{name: "run", summary: "Execute the steps in order or the named ones", run: (*cli).runSteps},
	{name: "check-alerts", summary: "Execute the alerts", run: (*cli).checkAlerts},
	{name: "ls-steps", summary: "List all available step classes", run: (*cli).lsSteps},
	{name: "ls-alerts", summary: "List all available alert classes", run: (*cli).lsAlerts},
	{name: "groups", summary: "List all existent groups for steps and alerts", run: (*cli).groups},
	{name: operations.WorkerCommand, hidden: true, run: (*cli).worker},
}

type cli struct {
	stdin      *bufio.Reader
	stdout     io.Writer
	stderr     io.Writer
	configPath string
}

// execute runs one command line and returns the process exit status
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: bufio.NewReader(stdin), stdout: stdout, stderr: stderr}

	global := flag.NewFlagSet("stagectl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.StringVar(&c.configPath, "config", "", "settings file (YAML, or TOML by extension)")
	global.Usage = c.usage
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return operations.ExitSuccess
		}
		return operations.ExitUsage
	}

	rest := global.Args()
	if len(rest) == 0 {
		c.usage()
		return operations.ExitUsage
	}
	if rest[0] == "help" {
		c.usage()
		return operations.ExitSuccess
	}
	for _, cmd := range commands {
		if cmd.name == rest[0] {
			return cmd.run(c, ctx, rest[1:])
		}
	}
	fmt.Fprintf(c.stderr, "stagectl: unknown command %q\n", rest[0])
	c.usage()
	return operations.ExitUsage
}

func (c *cli) usage() {
	fmt.Fprintln(c.stderr, "usage: stagectl [--config file] <command> [flags]")
	fmt.Fprintln(c.stderr, "\ncommands:")
	for _, cmd := range commands {
		if !cmd.hidden {
			fmt.Fprintf(c.stderr, "  %-14s %s\n", cmd.name, cmd.summary)
		}
	}
}

// parse reports whether the command should go on, and the exit status when
// it should not.
func parse(fs *flag.FlagSet, args []string) (bool, int) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return false, operations.ExitSuccess
		}
		return false, operations.ExitUsage
	}
	return true, 0
}

// settingsPath returns --config, or the default settings file when it
// exists in the working directory.
func (c *cli) settingsPath() string {
	if c.configPath != "" {
		return c.configPath
	}
	if _, err := os.Stat(config.DefaultConfigFile); err == nil {
		return config.DefaultConfigFile
	}
	return ""
}

// open loads the settings and wires the application. Worker processes get
// the same settings file.
func (c *cli) open() (*app.Application, error) {
	path := c.settingsPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, operations.NewConfigurationError("config", err.Error())
	}

	var opts []app.Option
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		opts = append(opts, app.WithWorkerArgs("--config", path))
	}
	return app.New(cfg, opts...)
}

// withApp runs fn with a wired application and closes it afterwards
func (c *cli) withApp(ctx context.Context, fn func(a *app.Application) (int, error)) int {
	a, err := c.open()
	if err != nil {
		return c.fail(err)
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			a.Logger.WarnContext(ctx, "shutdown_failed", slog.String("error", err.Error()))
		}
	}()

	status, err := fn(a)
	if err != nil {
		if operations.IsErrorType(err, operations.ErrorTypeAggregate) {
			fmt.Fprintf(c.stderr, "stagectl: %v\n", err)
			return status
		}
		return c.fail(err)
	}
	return status
}

func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "stagectl: %v\n", err)
	return operations.ExitCodeFor(err)
}

func (c *cli) ask(prompt string) (string, bool) {
	fmt.Fprint(c.stdout, prompt)
	line, err := c.stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(line)), true
}

func (c *cli) createDB(ctx context.Context, args []string) int {
	fs := newFlagSet("createdb", c.stderr, "[--noinput]")
	noinput := fs.Bool("noinput", false, "create the database without asking")
	if ok, code := parse(fs, args); !ok {
		return code
	}

	answer := "yes"
	if !*noinput {
		var ok bool
		answer, ok = c.ask("Do you want to create the database [Yes/no]? ")
		for ok && answer != "yes" && answer != "no" {
			answer, ok = c.ask("Please answer 'yes' or 'no': ")
		}
		if !ok {
			fmt.Fprintln(c.stdout)
			return operations.ExitFailure
		}
	}
	if answer != "yes" {
		return operations.ExitSuccess
	}

	return c.withApp(ctx, func(a *app.Application) (int, error) {
		return operations.ExitSuccess, a.CreateDB(ctx)
	})
}

func (c *cli) load(ctx context.Context, args []string) int {
	fs := newFlagSet("load", c.stderr, "")
	if ok, code := parse(fs, args); !ok {
		return code
	}
	ctx = infrastructure.EnsureInvocationID(ctx)
	return c.withApp(ctx, func(a *app.Application) (int, error) {
		return operations.ExitSuccess, a.Load(ctx)
	})
}

func (c *cli) runSteps(ctx context.Context, args []string) int {
	fs := newFlagSet("run", c.stderr, "[-s step...] [-g group...] [--sync] [--status-addr addr]")
	var names, groups stringList
	fs.Var(&names, "s", "step name (repeatable)")
	fs.Var(&names, "steps", "step name (repeatable)")
	fs.Var(&groups, "g", "group to run (repeatable)")
	fs.Var(&groups, "groups", "group to run (repeatable)")
	sync := fs.Bool("sync", false, "execute every step synchronously")
	statusAddr := fs.String("status-addr", "", "serve worker status on this address while running")
	if ok, code := parse(fs, args); !ok {
		return code
	}
	return c.dispatch(ctx, operations.KindStep, names, groups, fs.Args(),
		app.DispatchOptions{Sync: *sync, StatusAddr: *statusAddr})
}

func (c *cli) checkAlerts(ctx context.Context, args []string) int {
	fs := newFlagSet("check-alerts", c.stderr, "[--alerts alert...] [--sync] [--status-addr addr]")
	var names stringList
	fs.Var(&names, "alerts", "alert name (repeatable)")
	sync := fs.Bool("sync", false, "execute every alert synchronously")
	statusAddr := fs.String("status-addr", "", "serve worker status on this address while running")
	if ok, code := parse(fs, args); !ok {
		return code
	}
	return c.dispatch(ctx, operations.KindAlert, names, nil, fs.Args(),
		app.DispatchOptions{Sync: *sync, StatusAddr: *statusAddr})
}

// dispatch selects and runs classes of kind. Positional arguments extend
// whichever list flag was given, so "-s a b" reads like "-s a -s b".
func (c *cli) dispatch(ctx context.Context, kind operations.Kind, names, groups, extra []string, opts app.DispatchOptions) int {
	switch {
	case len(extra) == 0:
	case len(names) > 0:
		names = append(names, extra...)
	case len(groups) > 0:
		groups = append(groups, extra...)
	default:
		return c.fail(operations.NewUsageError(fmt.Sprintf("unexpected arguments %q", extra)))
	}

	ctx = infrastructure.EnsureInvocationID(ctx)
	return c.withApp(ctx, func(a *app.Application) (int, error) {
		set, err := a.Select(kind, names, groups)
		if err != nil {
			return operations.ExitCodeFor(err), err
		}
		return a.Dispatch(ctx, set, opts)
	})
}

func (c *cli) lsSteps(ctx context.Context, args []string) int {
	return c.list(ctx, operations.KindStep, "ls-steps", "Step Class", args)
}

func (c *cli) lsAlerts(ctx context.Context, args []string) int {
	return c.list(ctx, operations.KindAlert, "ls-alerts", "Alert Class", args)
}

func (c *cli) list(ctx context.Context, kind operations.Kind, name, header string, args []string) int {
	fs := newFlagSet(name, c.stderr, "[-g group...]")
	var groups stringList
	fs.Var(&groups, "g", "show only classes in these groups")
	fs.Var(&groups, "groups", "show only classes in these groups")
	if ok, code := parse(fs, args); !ok {
		return code
	}
	groups = append(groups, fs.Args()...)

	return c.withApp(ctx, func(a *app.Application) (int, error) {
		classes, err := a.Candidates(kind)
		if err != nil {
			return operations.ExitFailure, err
		}
		classes = operations.FilterByGroups(classes, groups)
		if len(classes) == 0 {
			fmt.Fprintf(c.stdout, "  NO %sS FOUND\n\n", strings.ToUpper(string(kind)))
			return operations.ExitSuccess, nil
		}
		writeClassTable(c.stdout, header, classes)
		return operations.ExitSuccess, nil
	})
}

func (c *cli) groups(ctx context.Context, args []string) int {
	fs := newFlagSet("groups", c.stderr, "")
	if ok, code := parse(fs, args); !ok {
		return code
	}
	return c.withApp(ctx, func(a *app.Application) (int, error) {
		steps, err := a.Candidates(operations.KindStep)
		if err != nil {
			return operations.ExitFailure, err
		}
		alerts, err := a.Candidates(operations.KindAlert)
		if err != nil {
			return operations.ExitFailure, err
		}
		writeGroupsTable(c.stdout, operations.Groups(steps), operations.Groups(alerts))
		return operations.ExitSuccess, nil
	})
}

func (c *cli) worker(ctx context.Context, args []string) int {
	fs := newFlagSet(operations.WorkerCommand, c.stderr, "--kind k --stage s --replica i --replicas n")
	kind := fs.String("kind", string(operations.KindStep), "stage kind")
	stage := fs.String("stage", "", "stage class name")
	replica := fs.Int("replica", 0, "replica index")
	replicas := fs.Int("replicas", 1, "replica count")
	if ok, code := parse(fs, args); !ok {
		return code
	}
	if *stage == "" || *replicas < 1 || *replica < 0 || *replica >= *replicas {
		fmt.Fprintln(c.stderr, "stagectl worker: invalid --stage/--replica/--replicas")
		return operations.ExitUsage
	}

	a, err := c.open()
	if err != nil {
		return c.fail(err)
	}
	defer a.Close(context.WithoutCancel(ctx))

	return a.RunWorker(ctx, app.WorkerSpec{
		Kind:     operations.Kind(*kind),
		Stage:    *stage,
		Replica:  *replica,
		Replicas: *replicas,
	})
}
