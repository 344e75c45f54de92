package deploy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Confirmer is the injected confirmation capability. Selected once at
// request-construction time: interactive runs prompt, unattended runs
// always affirm.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// AutoApprove affirms every prompt. Used with --yes.
type AutoApprove struct{}

// Confirm implements Confirmer.
func (AutoApprove) Confirm(string) (bool, error) { return true, nil }

// Interactive prompts on the controlling terminal.
type Interactive struct {
	in  io.Reader
	out io.Writer
}

// NewInteractive returns a terminal-backed Confirmer, or an error when
// stdin is not a terminal (unattended runs must pass --yes instead).
func NewInteractive() (*Interactive, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("deploy: stdin is not a terminal, use --yes for unattended runs")
	}
	return &Interactive{in: os.Stdin, out: os.Stderr}, nil
}

// Confirm asks prompt and accepts y/yes.
func (i *Interactive) Confirm(prompt string) (bool, error) {
	fmt.Fprintf(i.out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(i.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
