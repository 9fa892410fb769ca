package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/BaSui01/pipeflow/graph"
)

// errValidation is returned when at least one definition failed.
var errValidation = errors.New("validation failed")

// runValidate compiles every definition named by args (files or doublestar
// patterns) and reports defects and lint warnings.
func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(out)
	strict := fs.Bool("strict", false, "Treat lint warnings as errors")
	asJSON := fs.Bool("json", false, "Print the normalized definition as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("validate: at least one file or pattern is required")
	}

	paths, err := expandPaths(fs.Args())
	if err != nil {
		return err
	}

	failed := 0
	for _, p := range paths {
		g, err := graph.LoadFile(p)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s\n", p)
			defects := graph.Errors(err)
			if len(defects) == 0 {
				fmt.Fprintf(out, "  %v\n", err)
			}
			for _, d := range defects {
				fmt.Fprintf(out, "  %v\n", d)
			}
			continue
		}

		warnings := g.Lint()
		status := "ok"
		if *strict && len(warnings) > 0 {
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(out, "%s %s (graph %q: %d steps, %d transitions)\n",
			status, p, g.ID(), g.NumSteps(), g.NumTransitions())
		for _, w := range warnings {
			fmt.Fprintf(out, "  warning: %s\n", w)
		}

		if *asJSON {
			def := g.Definition()
			data, err := def.ToJSON()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n", data)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d definitions", errValidation, failed, len(paths))
	}
	return nil
}

// expandPaths resolves patterns; plain paths are kept even when missing so
// the read error is reported against them.
func expandPaths(args []string) ([]string, error) {
	var paths []string
	for _, a := range args {
		if !hasMeta(a) {
			paths = append(paths, a)
			continue
		}
		matches, err := doublestar.FilepathGlob(a)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", a, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("pattern %q matched no files", a)
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

func hasMeta(p string) bool {
	for _, c := range p {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
