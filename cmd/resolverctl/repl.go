package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/kvresolve/resolver"
)

// repl is the interactive "resolverctl repl" command: a small readline loop
// over one scope's Resolver, for ad-hoc exploration.
//
// Grounded in cmd/sloty's liner-based REPL: a *liner.State, a command
// history file in the user's home directory, and a switch over the first
// whitespace-delimited token of each line.
type repl struct {
	r     *resolver.Resolver
	scope string
	liner *liner.State
}

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".resolverctl_history")
}

func (p *repl) run() error {
	p.liner = liner.NewLiner()
	defer p.liner.Close()

	p.liner.SetCtrlCAborts(true)

	if f, err := os.Open(historyFilePath()); err == nil {
		_, _ = p.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("resolverctl repl - scope %q. Type 'help' for commands.\n", p.scope)

	for {
		line, err := p.liner.Prompt("resolverctl> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println()

				break
			}

			return fmt.Errorf("resolverctl: read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		p.liner.AppendHistory(line)

		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]

		if !p.dispatch(cmd, args) {
			break
		}
	}

	p.saveHistory()

	return nil
}

// dispatch runs one command, returning false if the REPL should exit.
func (p *repl) dispatch(cmd string, args []string) bool {
	ctx := context.Background()

	switch strings.ToLower(cmd) {
	case "exit", "quit", "q":
		return false

	case "help", "?":
		p.printHelp()

	case "resolve":
		p.cmdResolve(ctx, args)

	case "read":
		p.cmdRead(ctx, args)

	case "reverse":
		p.cmdReverse(ctx, args)

	case "version":
		p.cmdVersion(ctx)

	default:
		fmt.Printf("unknown command: %s (type 'help' for commands)\n", cmd)
	}

	return true
}

func (p *repl) printHelp() {
	fmt.Println(`commands:
  resolve <key>     resolve key, creating it if absent
  read <key>        look up key without creating it
  reverse <value>   reverse lookup an integer value
  version           print the scope's current state version
  help              show this help
  exit, quit, q     leave the repl`)
}

func (p *repl) cmdResolve(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: resolve <key>")

		return
	}

	result, err := p.r.Resolve(ctx, args[0])
	if err != nil {
		fmt.Println("error:", err)

		return
	}

	fmt.Printf("%s -> %d\n", args[0], result.Value)
}

func (p *repl) cmdRead(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: read <key>")

		return
	}

	result, ok, err := p.r.Read(ctx, args[0])
	if err != nil {
		fmt.Println("error:", err)

		return
	}

	if !ok {
		fmt.Println("not found")

		return
	}

	fmt.Printf("%s -> %d\n", args[0], result.Value)
}

func (p *repl) cmdReverse(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: reverse <value>")

		return
	}

	value, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Println("error: value must be a non-negative integer")

		return
	}

	key, err := p.r.ReverseLookup(ctx, value)
	if err != nil {
		fmt.Println("error:", err)

		return
	}

	fmt.Printf("%d -> %s\n", value, key)
}

func (p *repl) cmdVersion(ctx context.Context) {
	version, err := p.r.GetVersion(ctx)
	if err != nil {
		fmt.Println("error:", err)

		return
	}

	fmt.Println(version)
}

func (p *repl) saveHistory() {
	path := historyFilePath()
	if path == "" {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()

	_, _ = p.liner.WriteHistory(f)
}
