package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wast-runtime/codegen"
	"github.com/wippyai/wast-runtime/intrinsics"
	"github.com/wippyai/wast-runtime/runtime"
	"github.com/wippyai/wast-runtime/wast"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: run [-v] [-asserts] -text in.wast functionname")
	fmt.Fprintln(os.Stderr, "       run [-v] -binary in.wasm in.mem functionname")
	fmt.Fprintln(os.Stderr, "       run -i -text in.wast  (interactive mode)")
}

type options struct {
	verbose     bool
	interactive bool
	asserts     bool
	mode        string
	moduleFile  string
	memFile     string
	function    string
}

func parseArgs(args []string) (*options, bool) {
	opts := &options{}
	var positional []string
	for _, arg := range args {
		switch arg {
		case "-v":
			opts.verbose = true
		case "-i":
			opts.interactive = true
		case "-asserts":
			opts.asserts = true
		case "-text", "-binary":
			if opts.mode != "" {
				return nil, false
			}
			opts.mode = arg
		default:
			positional = append(positional, arg)
		}
	}
	switch opts.mode {
	case "-text":
		if len(positional) < 1 || len(positional) > 2 {
			return nil, false
		}
		opts.moduleFile = positional[0]
		if len(positional) == 2 {
			opts.function = positional[1]
		}
	case "-binary":
		if len(positional) != 3 {
			return nil, false
		}
		opts.moduleFile = positional[0]
		opts.memFile = positional[1]
		opts.function = positional[2]
	default:
		return nil, false
	}
	if opts.function == "" && !opts.interactive && !opts.asserts {
		return nil, false
	}
	return opts, true
}

func main() {
	opts, ok := parseArgs(os.Args[1:])
	if !ok {
		usage()
		os.Exit(1)
	}

	if opts.verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			codegen.SetLogger(logger)
			runtime.SetLogger(logger)
		}
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	ctx := context.Background()

	rt, err := runtime.New(ctx)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	intrinsics.RegisterStdlib(rt.Registry(), os.Stdout)

	var inst *runtime.Instance
	var file *wast.File

	switch opts.mode {
	case "-text":
		source, err := os.ReadFile(opts.moduleFile)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		file = wast.Parse(string(source))
		if len(file.Errors) > 0 {
			for _, rec := range file.Errors {
				fmt.Fprintln(os.Stderr, rec.Message)
			}
			return fmt.Errorf("%d parse errors", len(file.Errors))
		}
		if len(file.Modules) == 0 {
			return fmt.Errorf("%s contains no module", opts.moduleFile)
		}
		module := file.Modules[0]
		fmt.Printf("Loaded module uses %dKB\n", module.Arena.TotalAllocatedBytes()/1024)
		inst, err = rt.LoadModule(ctx, module)
		if err != nil {
			return err
		}

	case "-binary":
		binary, err := os.ReadFile(opts.moduleFile)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		memImage, err := os.ReadFile(opts.memFile)
		if err != nil {
			return fmt.Errorf("read memory image: %w", err)
		}
		inst, err = rt.LoadBinary(ctx, binary, memImage)
		if err != nil {
			return err
		}
	}
	defer inst.Close(ctx)

	if opts.interactive {
		return runInteractive(inst)
	}

	if opts.asserts && file != nil {
		failed := 0
		for _, result := range runtime.RunAssertions(ctx, inst, file) {
			if result.Passed {
				fmt.Printf("PASS %s\n", result.Locus)
			} else {
				failed++
				fmt.Printf("FAIL %s: %s\n", result.Locus, result.Detail)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d assertions failed", failed)
		}
		if opts.function == "" {
			return nil
		}
	}

	start := time.Now()
	result, err := inst.Invoke(ctx, opts.function)
	elapsed := time.Since(start)
	if err != nil {
		return err
	}

	fmt.Printf("Program returned: %d\n", result)
	fmt.Printf("Execution time: %dms\n", elapsed.Milliseconds())
	return nil
}
