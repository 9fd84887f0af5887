package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/harrisonrobin/dayblock/pkg/config"
)

type command struct {
	usage string
	run   func(ctx context.Context, env *cmdEnv, args []string) error
}

// cmdEnv is shared by every subcommand.
type cmdEnv struct {
	configPath string
	user       string
	in         io.Reader
	out        io.Writer
	errOut     io.Writer
}

var commands = map[string]command{
	"auth":         {"authorize dayblock against Google Calendar", runAuth},
	"set-calendar": {"set the calendar focus blocks are written to", runSetCalendar},
	"task":         {"add, list or import tasks (task add|list|import)", runTask},
	"propose":      {"propose focus blocks for a day", runPropose},
	"confirm":      {"push a proposal's blocks to the calendar", runConfirm},
	"replan":       {"re-propose a day after a change", runReplan},
	"start":        {"start working on a task", runStart},
	"stop":         {"stop working on a task", runStop},
	"done":         {"complete a task and learn its estimate", runDone},
	"insights":     {"daily or weekly report", runInsights},
	"sync":         {"import busy time from calendars and feeds", runSync},
	"sweep":        {"flag ended blocks nobody worked on", runSweep},
	"serve":        {"run the scheduler daemon", runServe},
	"hook":         {"Taskwarrior on-add/on-modify hook", runHook},
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "dayblock: %v\n", err)
		}
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	env := &cmdEnv{in: in, out: out, errOut: errOut}

	global := pflag.NewFlagSet("dayblock", pflag.ContinueOnError)
	global.SetOutput(errOut)
	global.SetInterspersed(false)
	global.StringVar(&env.configPath, "config", "", "config file (default ~/.config/dayblock/config.yaml)")
	global.StringVar(&env.user, "user", "", "user id (overrides config)")
	global.Usage = func() { printUsage(errOut, global) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if env.configPath == "" {
		p, err := config.GetConfigPath()
		if err != nil {
			return fmt.Errorf("could not find path to configuration file: %w", err)
		}
		env.configPath = p
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(errOut, global)
		return pflag.ErrHelp
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		printUsage(errOut, global)
		return fmt.Errorf("unknown command %q", rest[0])
	}
	return cmd.run(ctx, env, rest[1:])
}

func printUsage(w io.Writer, global *pflag.FlagSet) {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "Usage: dayblock [global flags] <command> [flags]\n\nCommands:\n")
	for _, n := range names {
		fmt.Fprintf(w, "  %-13s %s\n", n, commands[n].usage)
	}
	fmt.Fprintf(w, "\nGlobal flags:\n%s", global.FlagUsages())
}

// open loads the config and storage for a command.
func (e *cmdEnv) open() (*app, error) {
	a, err := openApp(e.configPath)
	if err != nil {
		return nil, err
	}
	if e.user != "" {
		a.user = e.user
	}
	return a, nil
}

func newFlags(name string, env *cmdEnv) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(env.errOut)
	return fs
}

func emit(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
