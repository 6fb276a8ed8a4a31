package observability

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorNeonCyan = "\033[96m"
	colorPurple   = "\033[35m"
)

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// PrintBanner clears the screen and prints the startup banner, centered
// to the terminal width. It does nothing when stdout is not a terminal.
func PrintBanner(version string) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return
	}
	fmt.Print("\033[2J\033[H")

	banner := `
   ____ ___  _   _  ____ ___ _____ ____   ____ _____
  / ___/ _ \| \ | |/ ___|_ _| ____|  _ \ / ___| ____|
 | |  | | | |  \| | |    | ||  _| | |_) | |  _|  _|
 | |__| |_| | |\  | |___ | || |___|  _ <| |_| | |___
  \____\___/|_| \_|\____|___|_____|_| \_\\____|_____|

        >> your calendar, one message away <<
`

	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan, l, colorReset)
	}
	if version != "" {
		line := "v" + version
		padding := (width - len(line)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s%s\n", strings.Repeat(" ", padding), colorPurple, line, colorReset)
	}
	fmt.Println()
}
