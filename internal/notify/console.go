package notify

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Console prints notifications to a terminal, coloured by level.
type Console struct {
	w io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Notify(n Notification) {
	var paint func(format string, a ...interface{}) string
	switch n.Level {
	case LevelSuccess:
		paint = color.GreenString
	case LevelWarning:
		paint = color.YellowString
	case LevelError:
		paint = color.RedString
	default:
		paint = color.CyanString
	}
	line := paint("[%s] %s", n.Level, n.Message)
	if n.Action != "" {
		line += color.New(color.Faint).Sprintf(" (%s)", n.Action)
	}
	fmt.Fprintln(c.w, line)
}
