package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/packedfunc/engine"
	"github.com/wippyai/packedfunc/packed"
)

func main() {
	var (
		configFile  = flag.String("config", "", "TOML config file")
		load        = flag.String("load", "", "Module files to load (comma-separated)")
		funcName    = flag.String("func", "", "Function to call (default: entry function of the first module)")
		list        = flag.Bool("list", false, "List callable functions and exit")
		cacheDir    = flag.String("cache-dir", "", "wazero compilation cache directory")
		memPages    = flag.Uint("mem-pages", 0, "Memory limit per wasm instance in 64KB pages")
		maxArgs     = flag.Int("max-args", 0, "Maximum arguments per call")
		verbose     = flag.Bool("v", false, "Debug logging to stderr")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		version     = flag.Bool("version", false, "Print the runtime version and exit")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: pfrun [-load a.wasm,b.wasm] [-func name] [args...]")
		fmt.Fprintln(os.Stderr, "       pfrun -load a.wasm -list")
		fmt.Fprintln(os.Stderr, "       pfrun -load a.wasm -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "\nArguments: 42, 2.5, text, null, or kind:value with kind in")
		fmt.Fprintln(os.Stderr, "int, uint, float, bool, str, bytes, dtype, dev (e.g. dev:gpu:0)")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Println("pfrun", engine.Version)
		return
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fail(err)
	}

	// flags override the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "load":
			cfg.Preload = append(cfg.Preload, splitList(*load)...)
		case "cache-dir":
			cfg.Engine.CompilationCacheDir = *cacheDir
		case "mem-pages":
			cfg.Engine.MemoryLimitPages = uint32(*memPages)
		case "max-args":
			cfg.Engine.MaxArgs = *maxArgs
		case "v":
			cfg.Verbose = *verbose
		}
	})

	log := zap.NewNop()
	if cfg.Verbose {
		if log, err = zap.NewDevelopment(); err != nil {
			fail(err)
		}
		defer log.Sync()
	}
	engine.SetLogger(log)
	packed.SetLogger(log)
	cfg.Engine.Logger = log

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fail(fmt.Errorf("interactive mode requires a terminal"))
		}
		if err := runInteractive(cfg, log); err != nil {
			fail(err)
		}
		return
	}

	if err := run(os.Stdout, cfg, log, *funcName, flag.Args(), *list); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func run(w io.Writer, cfg *fileConfig, log *zap.Logger, funcName string, rawArgs []string, listOnly bool) error {
	args, err := parseArgs(rawArgs)
	if err != nil {
		return err
	}

	s, err := openSession(&cfg.Engine, log, cfg.Preload)
	if err != nil {
		return err
	}
	defer s.close()

	if listOnly || (funcName == "" && len(s.modules) == 0) {
		fmt.Fprintln(w, "Functions:")
		for _, e := range s.functions() {
			fmt.Fprintf(w, "  %s\n", e.label())
		}
		return nil
	}

	result, err := s.call(funcName, args)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, result)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
