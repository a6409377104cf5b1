// Command cjit is the CLI driver spec ss1 lists as deliberately "out of
// scope" for the core compiler: it wires the cjit package's Compile/
// Emit/Finalize facade to argv, a file on disk, and the process's own
// exit code, the way tinyrange-rtg/std/compiler/main.go wires its own
// ResolveModule/CompileModule/GenerateELF pipeline to its flag loop.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cjit-project/cjit"
	"github.com/cjit-project/cjit/internal/diag"
)

var (
	debug      bool
	entry      string
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "cjit <file.c>",
		Short: "Compile a C source file to in-memory machine code and run its main()",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	root.Flags().BoolVar(&debug, "debug", false, "log each pipeline stage to stderr")
	root.Flags().StringVar(&entry, "entry", "", `function to run after loading (default "main", or config's entry)`)
	root.Flags().StringVar(&configPath, "config", "cjit.toml", "optional TOML config file (entry, debug)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Debug {
		debug = true
	}
	if entry == "" {
		entry = cfg.Entry
	}
	if entry == "" {
		entry = "main"
	}

	path := args[0]
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	logger := diag.New(os.Stderr)

	logStage("compiling %s", path)
	mod, err := cjit.Compile(src, path, logger)
	if err != nil {
		return err
	}

	logStage("emitting machine code")
	img, err := cjit.Emit(mod, entry)
	if err != nil {
		return err
	}

	logStage("loading into executable memory")
	prog, err := cjit.Finalize(img, resolveLibcSymbol)
	if err != nil {
		return err
	}
	defer prog.Close()

	logStage("running main()")
	code := prog.Run()
	if code != 0 {
		os.Exit(int(code))
	}
	return nil
}

func logStage(format string, args ...any) {
	if debug {
		fmt.Fprintf(os.Stderr, "cjit: "+format+"\n", args...)
	}
}
