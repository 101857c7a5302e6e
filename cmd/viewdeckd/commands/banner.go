package commands

import (
	"github.com/pterm/pterm"

	"github.com/viewdeck/viewdeck/config"
)

// printStartupBanner prints the console startup summary, grounded on
// the teacher's cmd/qntx/commands/banner.go layout but built on
// pterm's header/color helpers instead of hand-rolled ANSI escapes —
// pterm is already part of this stack (see DESIGN.md).
func printStartupBanner(addr string, settings *config.Settings) {
	pterm.DefaultHeader.WithFullWidth().Printf("viewdeckd")

	pterm.Printf("  %s %s\n", pterm.Cyan("Listening:"), addr)
	pterm.Printf("  %s %d\n", pterm.Cyan("Max workers:"), settings.MaxWorkers)
	pterm.Printf("  %s %d\n", pterm.Cyan("Middlewares:"), len(settings.Middlewares))
	pterm.Printf("  %s %d\n", pterm.Cyan("View priority:"), settings.DefaultViewPriority)

	pterm.Info.Println("Press Ctrl+C to stop")
}
