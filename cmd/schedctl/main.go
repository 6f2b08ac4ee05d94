// Package main provides schedctl, the operator CLI for a running procschedd.
//
// Every command is one KernelService call. Structured results are written to
// stdout as JSON; errors go to stderr with a non-zero exit status.
//
// Usage:
//
//	schedctl ps                      # list live processes
//	schedctl info                    # fixed-width process table
//	schedctl chlevel 5 1             # move pid 5 to round robin
//	schedctl setweight 5 3           # MHRRN weight of pid 5
//	schedctl setweight-all 2         # MHRRN weight of every process
//	schedctl kill 5
//	schedctl ppid 5
//	schedctl status
//	schedctl watch                   # stream lifecycle events
//	schedctl -addr host:50061 ps
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/procsched/coreengine/grpc"
	"github.com/jeeves-cluster-organization/procsched/coreengine/kernel"
	"github.com/jeeves-cluster-organization/procsched/coreengine/typeutil"
)

const (
	cmdPs           = "ps"
	cmdInfo         = "info"
	cmdChLevel      = "chlevel"
	cmdSetWeight    = "setweight"
	cmdSetWeightAll = "setweight-all"
	cmdKill         = "kill"
	cmdPpid         = "ppid"
	cmdStatus       = "status"
	cmdWatch        = "watch"
	cmdVersion      = "version"
)

// Version information
const Version = "1.0.0"

// errUsage marks a malformed command line.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
			os.Exit(2)
		}
		if st, ok := status.FromError(err); ok {
			fmt.Fprintf(os.Stderr, "schedctl: %s: %s\n", st.Code(), st.Message())
		} else {
			fmt.Fprintf(os.Stderr, "schedctl: %v\n", err)
		}
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: schedctl [-addr host:port] [-timeout 5s] <command> [args]

Commands:
  ps                      List live processes as JSON
  info                    Print the process table
  chlevel <pid> <level>   Move a process to level 1 (RR), 2 (LCFS) or 3 (MHRRN)
  setweight <pid> <w>     Set the MHRRN weight of a process
  setweight-all <w>       Set the MHRRN weight of every live process
  kill <pid>              Kill a process
  ppid <pid>              Print the parent pid of a process
  status                  Print kernel status as JSON
  watch                   Stream lifecycle events as JSON lines
  version                 Print version information`)
}

// run parses args and executes one command against the server.
func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("schedctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addr := fs.String("addr", "localhost:50061", "procschedd gRPC address")
	timeout := fs.Duration("timeout", 5*time.Second, "per-call timeout (not applied to watch)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() == 0 {
		return errUsage
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	if cmd == cmdVersion {
		return writeJSON(out, map[string]string{"version": Version})
	}

	ints, err := parseArgs(cmd, rest)
	if err != nil {
		return err
	}

	conn, err := grpc.Dial(*addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	client := grpc.NewKernelClient(conn)

	if cmd == cmdWatch {
		return watch(ctx, client, out)
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	switch cmd {
	case cmdPs:
		infos, err := client.ListProcesses(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, infos)
	case cmdInfo:
		table, err := client.PrintInfo(ctx)
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, table)
		return err
	case cmdChLevel:
		return client.ChangeLevel(ctx, ints[0], kernel.QueueLevel(ints[1]))
	case cmdSetWeight:
		return client.SetWeight(ctx, ints[0], ints[1])
	case cmdSetWeightAll:
		n, err := client.SetWeightAll(ctx, ints[0])
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]int{"updated": n})
	case cmdKill:
		return client.Kill(ctx, ints[0])
	case cmdPpid:
		ppid, err := client.ParentPID(ctx, ints[0])
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]int{"pid": ints[0], "parent_pid": ppid})
	case cmdStatus:
		st, err := client.Status(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, summarize(st))
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

// arity is the number of integer arguments each command takes.
var arity = map[string]int{
	cmdPs:           0,
	cmdInfo:         0,
	cmdChLevel:      2,
	cmdSetWeight:    2,
	cmdSetWeightAll: 1,
	cmdKill:         1,
	cmdPpid:         1,
	cmdStatus:       0,
	cmdWatch:        0,
}

// parseArgs checks the command and converts its integer arguments.
func parseArgs(cmd string, rest []string) ([]int, error) {
	n, ok := arity[cmd]
	if !ok {
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	if len(rest) != n {
		return nil, fmt.Errorf("%w: %s takes %d argument(s), got %d", errUsage, cmd, n, len(rest))
	}
	ints := make([]int, n)
	for i, s := range rest {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %q is not an integer", errUsage, cmd, s)
		}
		ints[i] = v
	}
	return ints, nil
}

// summarize flattens the status payload, whose numbers arrive as float64.
func summarize(st map[string]any) map[string]any {
	out := map[string]any{
		"boot_id": typeutil.SafeStringDefault(st["boot_id"], ""),
	}
	for _, path := range []string{"num_cpu", "ticks", "aging_threshold", "processes.total", "processes.capacity"} {
		if v, ok := typeutil.GetNestedInt(st, path); ok {
			out[path] = v
		}
	}
	if up, ok := typeutil.GetNestedFloat64(st, "uptime_seconds"); ok {
		out["uptime_seconds"] = up
	}
	if byState, ok := typeutil.GetNestedValue(st, "processes.by_state"); ok {
		out["by_state"] = byState
	}
	if byLevel, ok := typeutil.GetNestedValue(st, "processes.by_level"); ok {
		out["by_level"] = byLevel
	}
	return out
}

// watch prints events until ctx is cancelled or the server closes the stream.
func watch(ctx context.Context, client *grpc.KernelClient, out io.Writer) error {
	watcher, err := client.WatchEvents(ctx)
	if err != nil {
		return err
	}
	for {
		e, err := watcher.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := writeJSON(out, e); err != nil {
			return err
		}
	}
}

// writeJSON writes v as one JSON line.
func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
