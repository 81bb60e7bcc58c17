// Bobbin CLI - compile, inspect, and play dialogue scripts
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/bobbin/compiler"
	"github.com/chazu/bobbin/manifest"
	"github.com/chazu/bobbin/pkg/bytecode"
	"github.com/chazu/bobbin/pkg/runtime"
	"github.com/chazu/bobbin/pkg/storage"
)

func main() {
	compileMode := flag.Bool("c", false, "Compile to bytecode instead of running")
	disasmMode := flag.Bool("d", false, "Print a bytecode listing instead of running")
	output := flag.String("o", "", "Output path for -c (default: input with .bbc extension)")
	preludePath := flag.String("prelude", "", "Prelude file with save/extern declarations")
	dbPath := flag.String("db", "", "SQLite database for save variables (default: in-memory)")
	profile := flag.String("profile", "default", "Save profile name within the database")
	verbose := flag.Bool("v", false, "Verbose output")
	externs := externFlags{}
	flag.Var(externs, "e", "Extern value as name=literal (repeatable)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bobbin [options] script.bobbin\n\n")
		fmt.Fprintf(os.Stderr, "Runs a dialogue script interactively, or compiles it with -c.\n")
		fmt.Fprintf(os.Stderr, "A bobbin.toml in the script's directory tree supplies defaults.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  bobbin intro.bobbin                      # Play a script\n")
		fmt.Fprintf(os.Stderr, "  bobbin -prelude vars.bobbin intro.bobbin # Play with shared declarations\n")
		fmt.Fprintf(os.Stderr, "  bobbin -db saves.db intro.bobbin         # Persist save variables\n")
		fmt.Fprintf(os.Stderr, "  bobbin -e player_name=Ida intro.bobbin   # Supply an extern value\n")
		fmt.Fprintf(os.Stderr, "  bobbin -c intro.bobbin                   # Compile to intro.bbc\n")
		fmt.Fprintf(os.Stderr, "  bobbin -d intro.bobbin                   # Show the bytecode listing\n")
	}
	flag.Parse()

	if *verbose {
		commonlog.Configure(1, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	scriptPath := flag.Arg(0)

	// Project manifest fills in whatever the flags left unset.
	if m, err := manifest.FindAndLoad(scriptPath); err == nil && m != nil {
		if *preludePath == "" {
			*preludePath = m.PreludePath()
		}
		if *dbPath == "" {
			*dbPath = m.DatabasePath()
		}
		if *profile == "default" && m.Storage.Profile != "" {
			*profile = m.Storage.Profile
		}
	}

	switch {
	case *compileMode:
		if err := compileScript(scriptPath, *output, *preludePath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *disasmMode:
		if err := disasmScript(scriptPath, *preludePath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		if err := runScript(scriptPath, *preludePath, *dbPath, *profile, externs); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

// compileChunk runs the pipeline on a script file, with an optional
// prelude supplying shared declarations.
func compileChunk(scriptPath, preludePath string) (*bytecode.Chunk, error) {
	src, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, err
	}

	var globals *compiler.Globals
	if preludePath != "" {
		preludeSrc, err := os.ReadFile(preludePath)
		if err != nil {
			return nil, err
		}
		globals, err = compiler.CompilePrelude(string(preludeSrc))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", preludePath, err)
		}
	}

	chunk, err := compiler.CompileWithGlobals(string(src), globals)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", scriptPath, err)
	}
	return chunk, nil
}

func compileScript(scriptPath, output, preludePath string) error {
	chunk, err := compileChunk(scriptPath, preludePath)
	if err != nil {
		return err
	}
	data, err := chunk.Serialize()
	if err != nil {
		return err
	}
	if output == "" {
		output = strings.TrimSuffix(scriptPath, ".bobbin") + ".bbc"
	}
	return os.WriteFile(output, data, 0o644)
}

func disasmScript(scriptPath, preludePath string) error {
	var chunk *bytecode.Chunk
	if strings.HasSuffix(scriptPath, ".bbc") {
		data, err := os.ReadFile(scriptPath)
		if err != nil {
			return err
		}
		chunk, err = bytecode.Deserialize(data)
		if err != nil {
			return err
		}
	} else {
		var err error
		chunk, err = compileChunk(scriptPath, preludePath)
		if err != nil {
			return err
		}
	}
	fmt.Print(chunk.DisassembleWithName(scriptPath))
	return nil
}

// externFlags collects repeated -e name=literal flags into host values.
type externFlags map[string]bytecode.Value

func (e externFlags) String() string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	return strings.Join(names, ",")
}

// Set parses one name=literal pair. The literal follows script syntax:
// true/false, integers, floats, anything else is a string.
func (e externFlags) Set(arg string) error {
	name, lit, ok := strings.Cut(arg, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", arg)
	}
	e[name] = parseExternLiteral(lit)
	return nil
}

func parseExternLiteral(lit string) bytecode.Value {
	switch lit {
	case "true":
		return bytecode.BoolValue(true)
	case "false":
		return bytecode.BoolValue(false)
	}
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return bytecode.IntValue(i)
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil {
		return bytecode.FloatValue(f)
	}
	return bytecode.StringValue(lit)
}

// runScript plays a script on stdin/stdout: lines advance on Enter,
// choices are picked by number.
func runScript(scriptPath, preludePath, dbPath, profile string, externs externFlags) error {
	opts := runtime.Options{}

	if preludePath != "" {
		preludeSrc, err := os.ReadFile(preludePath)
		if err != nil {
			return err
		}
		opts.Prelude = string(preludeSrc)
	}

	if dbPath != "" {
		store, err := storage.NewSQLiteStorage(dbPath, profile)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Storage = store
	}

	if len(externs) > 0 {
		host := storage.NewMapHostState()
		for name, value := range externs {
			host.Set(name, value)
		}
		opts.Host = host
	}

	session, err := runtime.NewSession(opts)
	if err != nil {
		return err
	}
	if err := session.LoadFile(scriptPath); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	for session.HasMore() {
		// A runtime error here (say, a missing extern) will not clear up
		// on its own; bail out instead of spinning on it.
		if err := session.Advance(); err != nil {
			return err
		}
		// A choice point leaves the previous line in place; only print
		// after an advance that produced a fresh one.
		if !session.IsWaitingForChoice() {
			if line := session.CurrentLine(); line != "" {
				fmt.Println(line)
			}
		}

		for session.IsWaitingForChoice() {
			choices := session.CurrentChoices()
			for i, choice := range choices {
				fmt.Printf("  %d) %s\n", i+1, choice)
			}
			fmt.Print("> ")
			input, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			pick, err := strconv.Atoi(strings.TrimSpace(input))
			if err != nil || pick < 1 || pick > len(choices) {
				fmt.Fprintf(os.Stderr, "pick a number between 1 and %d\n", len(choices))
				continue
			}
			if err := session.SelectChoice(pick - 1); err != nil {
				return err
			}
			if !session.IsWaitingForChoice() {
				if line := session.CurrentLine(); line != "" {
					fmt.Println(line)
				}
			}
		}
	}
	return nil
}
