package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	demo := newDemoState()
	defer demo.Close()

	p := tea.NewProgram(newModel(demo), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "coreinspect: %v\n", err)
		os.Exit(1)
	}
}
