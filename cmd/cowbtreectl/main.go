// cmd/cowbtreectl/main.go
//
// cowbtreectl is an interactive shell over the cowbtree engine: a single
// process holds one Engine and a set of named trees, and commands exercise
// insert/lookup/remove/range/clone/validate against them.
//
// Usage:
//
//	cowbtreectl
//
// Type .help at the prompt for the command list.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ohad-rodeh/cowbtree"
	"github.com/ohad-rodeh/cowbtree/internal/telemetry"
)

func main() {
	shell := newShell(os.Stdin, os.Stdout, os.Stderr)
	shell.run()
}

type shell struct {
	engine  *cowbtree.Engine
	trees   map[string]*cowbtree.Tree
	current string

	in  *bufio.Scanner
	out *bufio.Writer
	err *bufio.Writer
}

func newShell(in io.Reader, out, errOut io.Writer) *shell {
	s := &shell{
		engine: cowbtree.NewEngine(),
		trees:  make(map[string]*cowbtree.Tree),
		in:     bufio.NewScanner(in),
		out:    bufio.NewWriter(out),
		err:    bufio.NewWriter(errOut),
	}
	t, err := s.engine.Create(cowbtree.DefaultConfig())
	if err != nil {
		telemetry.Fatalf(nil, "cowbtreectl: failed to create default tree: %v", err)
	}
	s.trees["default"] = t
	s.current = "default"
	return s
}

func (s *shell) run() {
	defer s.out.Flush()
	defer s.err.Flush()

	fmt.Fprintln(s.out, "cowbtreectl — type .help for commands")
	for {
		fmt.Fprintf(s.out, "%s> ", s.current)
		s.out.Flush()
		if !s.in.Scan() {
			break
		}
		line := s.in.Text()
		if line == "" {
			continue
		}
		if !s.dispatch(line) {
			break
		}
	}
}

func (s *shell) tree() *cowbtree.Tree {
	return s.trees[s.current]
}

func (s *shell) dispatch(line string) (keepRunning bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case ".exit", ".quit":
		return false
	case ".help":
		s.printHelp()
	case ".use":
		s.cmdUse(args)
	case ".create":
		s.cmdCreate(args)
	case ".clone":
		s.cmdClone(args)
	case ".destroy":
		s.cmdDestroy(args)
	case ".validate":
		s.cmdValidate(args)
	case ".stats":
		s.cmdStats(args)
	case "insert":
		s.cmdInsert(args)
	case "lookup":
		s.cmdLookup(args)
	case "remove":
		s.cmdRemove(args)
	case "range":
		s.cmdRange(args)
	default:
		fmt.Fprintf(s.err, "unknown command: %s (try .help)\n", cmd)
		s.err.Flush()
	}
	return true
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, `commands:
  insert <key> <value>     insert or replace a key
  lookup <key>             look up a key
  remove <key>             remove a key
  range <lo> <hi> [max_n]  list keys in [lo, hi]
  .create <name>           create a new empty tree
  .clone <name>            clone the current tree as <name>
  .destroy <name>          destroy a tree
  .use <name>              switch the current tree
  .validate                validate the current tree's structure
  .stats                   print the current tree's operation counters
  .exit                    quit`)
}

func (s *shell) cmdUse(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.err, "usage: .use <name>")
		return
	}
	if _, ok := s.trees[args[0]]; !ok {
		fmt.Fprintf(s.err, "no such tree: %s\n", args[0])
		return
	}
	s.current = args[0]
}

func (s *shell) cmdCreate(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.err, "usage: .create <name>")
		return
	}
	t, err := s.engine.Create(cowbtree.DefaultConfig())
	if err != nil {
		fmt.Fprintf(s.err, "create: %v\n", err)
		return
	}
	s.trees[args[0]] = t
	s.current = args[0]
}

func (s *shell) cmdClone(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.err, "usage: .clone <new-name>")
		return
	}
	t, err := s.engine.Clone(s.tree())
	if err != nil {
		fmt.Fprintf(s.err, "clone: %v\n", err)
		return
	}
	s.trees[args[0]] = t
	fmt.Fprintf(s.out, "cloned %s -> %s\n", s.current, args[0])
}

func (s *shell) cmdDestroy(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.err, "usage: .destroy <name>")
		return
	}
	t, ok := s.trees[args[0]]
	if !ok {
		fmt.Fprintf(s.err, "no such tree: %s\n", args[0])
		return
	}
	if err := s.engine.Destroy(t); err != nil {
		fmt.Fprintf(s.err, "destroy: %v\n", err)
		return
	}
	delete(s.trees, args[0])
	if s.current == args[0] {
		s.current = "default"
	}
}

func (s *shell) cmdValidate(args []string) {
	ok, err := s.engine.Validate(s.tree())
	if err != nil {
		fmt.Fprintf(s.err, "validate: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "valid: %v\n", ok)
}

func (s *shell) cmdStats(args []string) {
	st := s.tree().Stats()
	fmt.Fprintf(s.out, "keys=%d inserts=%d deletes=%d lookups=%d splits=%d merges=%d rotates=%d cow_forks=%d clones=%d\n",
		st.KeyCount, st.InsertCount, st.DeleteCount, st.LookupCount, st.SplitCount, st.MergeCount, st.RotateCount, st.CowForkCount, st.CloneCount)
}

func (s *shell) cmdInsert(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.err, "usage: insert <key> <value>")
		return
	}
	replaced, err := s.tree().Insert([]byte(args[0]), []byte(args[1]))
	if err != nil {
		fmt.Fprintf(s.err, "insert: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "replaced=%v\n", replaced)
}

func (s *shell) cmdLookup(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.err, "usage: lookup <key>")
		return
	}
	v, ok, err := s.tree().Lookup([]byte(args[0]))
	if err != nil {
		fmt.Fprintf(s.err, "lookup: %v\n", err)
		return
	}
	if !ok {
		fmt.Fprintln(s.out, "(not found)")
		return
	}
	fmt.Fprintf(s.out, "%s\n", v)
}

func (s *shell) cmdRemove(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.err, "usage: remove <key>")
		return
	}
	removed, err := s.tree().Remove([]byte(args[0]))
	if err != nil {
		fmt.Fprintf(s.err, "remove: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "removed=%v\n", removed)
}

func (s *shell) cmdRange(args []string) {
	if len(args) < 2 || len(args) > 3 {
		fmt.Fprintln(s.err, "usage: range <lo> <hi> [max_n]")
		return
	}
	maxN := 0
	if len(args) == 3 {
		fmt.Sscanf(args[2], "%d", &maxN)
	}
	keys, values, n, err := s.tree().LookupRange([]byte(args[0]), []byte(args[1]), maxN)
	if err != nil {
		fmt.Fprintf(s.err, "range: %v\n", err)
		return
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(s.out, "%s = %s\n", keys[i], values[i])
	}
	fmt.Fprintf(s.out, "(%d entries)\n", n)
}
