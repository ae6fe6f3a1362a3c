package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/joho/godotenv"

	"github.com/go-authgate/lease-cli/tui"
)

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// debugRequested reports whether debug logging or span output is on. Both
// are written straight to stderr and would tear the TUI, so they force plain
// output.
func debugRequested(args []string) bool {
	return slices.Contains(args, "--debug") || slices.Contains(args, "--trace") ||
		envBool("DEBUG") || envBool("TRACE")
}

func main() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	args := os.Args[1:]

	if isTTY() && !debugRequested(args) {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		runErr := run(d, args, os.Stdout, os.Stdin, os.Stderr)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			os.Exit(1)
		}
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		if err := run(d, args, os.Stdout, os.Stdin, os.Stderr); err != nil {
			os.Exit(1)
		}
	}
}

func run(d tui.Displayer, args []string, stdout io.Writer, stdin io.Reader, stderr io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(d, stdout, stdin, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		d.Fatal(err)
		return err
	}
	return nil
}
