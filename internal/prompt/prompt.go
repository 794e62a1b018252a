// Package prompt abstracts the installer's interactive questions behind a
// provider interface so the reconciler can be driven by a terminal, by
// flags, or by a scripted source in tests. Non-interactive sessions resolve
// every question to its non-destructive default.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Provider answers the installer's interactive questions.
type Provider interface {
	// ChooseTargets selects the CLI targets: "codex", "gemini" or "all".
	ChooseTargets() (string, error)
	// ChooseMode resolves a conflict between an existing installation and
	// the incoming one: "backup", "skip", "update" or "quit".
	ChooseMode(conflicts []string) (string, error)
	// ConfirmRulesOverwrite asks whether the existing rules subtree should
	// be replaced.
	ConfirmRulesOverwrite() (bool, error)
	// ConfirmUninstall asks whether the listed paths should be deleted.
	ConfirmUninstall(paths []string) (bool, error)
}

// Non-destructive defaults used when standard input is not a terminal.
const (
	DefaultTargets = "all"
	DefaultMode    = "skip"
)

// Interactive reports whether standard input is attached to a terminal.
func Interactive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// Terminal implements Provider by reading line-based answers.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminal creates a provider reading from in and writing prompts to out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

// ChooseTargets prompts for the CLI target set.
func (t *Terminal) ChooseTargets() (string, error) {
	fmt.Fprintln(t.out, "Which CLI should this workspace be set up for?")
	fmt.Fprintln(t.out, "  [1] codex")
	fmt.Fprintln(t.out, "  [2] gemini")
	fmt.Fprintln(t.out, "  [3] all (default)")
	answer, err := t.readLine("Choice [1/2/3]: ")
	if err != nil {
		return DefaultTargets, nil
	}
	switch answer {
	case "1", "codex":
		return "codex", nil
	case "2", "gemini":
		return "gemini", nil
	case "", "3", "all":
		return "all", nil
	}
	fmt.Fprintf(t.out, "Unrecognized choice %q, using all.\n", answer)
	return DefaultTargets, nil
}

// ChooseMode prompts for the conflict-resolution mode.
func (t *Terminal) ChooseMode(conflicts []string) (string, error) {
	fmt.Fprintln(t.out, "An existing installation was found:")
	for _, p := range conflicts {
		fmt.Fprintf(t.out, "  %s\n", p)
	}
	fmt.Fprintln(t.out, "  [b] back up existing files, then install")
	fmt.Fprintln(t.out, "  [s] skip existing files, install only what is missing (default)")
	fmt.Fprintln(t.out, "  [u] update the local-search tool only")
	fmt.Fprintln(t.out, "  [q] quit without changes")
	answer, err := t.readLine("Choice [b/s/u/q]: ")
	if err != nil {
		return DefaultMode, nil
	}
	switch answer {
	case "b", "backup":
		return "backup", nil
	case "", "s", "skip":
		return "skip", nil
	case "u", "update":
		return "update", nil
	case "q", "quit":
		return "quit", nil
	}
	fmt.Fprintf(t.out, "Unrecognized choice %q, using skip.\n", answer)
	return DefaultMode, nil
}

// ConfirmRulesOverwrite asks whether to replace the existing rules subtree.
func (t *Terminal) ConfirmRulesOverwrite() (bool, error) {
	return t.confirm("Overwrite the existing rules directory? [y/N]: ", false)
}

// ConfirmUninstall asks whether the listed paths should be deleted.
func (t *Terminal) ConfirmUninstall(paths []string) (bool, error) {
	fmt.Fprintln(t.out, "The following will be deleted:")
	for _, p := range paths {
		fmt.Fprintf(t.out, "  %s\n", p)
	}
	return t.confirm("Continue? [y/N]: ", false)
}

func (t *Terminal) confirm(question string, def bool) (bool, error) {
	answer, err := t.readLine(question)
	if err != nil {
		return def, nil
	}
	switch answer {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	case "":
		return def, nil
	}
	return def, nil
}

func (t *Terminal) readLine(question string) (string, error) {
	fmt.Fprint(t.out, question)
	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(line)), nil
}

// Scripted implements Provider with fixed answers. It backs both tests and
// non-interactive sessions.
type Scripted struct {
	Targets        string
	Mode           string
	RulesOverwrite bool
	Uninstall      bool
}

// NonInteractive returns the provider used when stdin is not a terminal:
// every answer is the safe, non-destructive default.
func NonInteractive() *Scripted {
	return &Scripted{Targets: DefaultTargets, Mode: DefaultMode}
}

func (s *Scripted) ChooseTargets() (string, error) {
	if s.Targets == "" {
		return DefaultTargets, nil
	}
	return s.Targets, nil
}

func (s *Scripted) ChooseMode([]string) (string, error) {
	if s.Mode == "" {
		return DefaultMode, nil
	}
	return s.Mode, nil
}

func (s *Scripted) ConfirmRulesOverwrite() (bool, error) {
	return s.RulesOverwrite, nil
}

func (s *Scripted) ConfirmUninstall([]string) (bool, error) {
	return s.Uninstall, nil
}
