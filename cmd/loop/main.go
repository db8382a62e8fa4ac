package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"loop/internal/cli"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code, err := cli.Execute(ctx, os.Args[1:], cli.StdStreams())
	stop()

	if err != nil {
		prefix := "error:"
		if term.IsTerminal(int(os.Stderr.Fd())) {
			prefix = errorStyle.Render(prefix)
		}
		fmt.Fprintf(os.Stderr, "%s %v\n", prefix, err)
	}
	os.Exit(code.Int())
}
