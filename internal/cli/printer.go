package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/aretw0/labrun/pkg/domain"
	"github.com/aretw0/labrun/pkg/program"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Printer renders root events, one line each, followed by their diagnostics.
type Printer struct {
	w       io.Writer
	profile termenv.Profile
}

// NewPrinter writes to w using profile. termenv.Ascii disables colour.
func NewPrinter(w io.Writer, profile termenv.Profile) *Printer {
	return &Printer{w: w, profile: profile}
}

// ProfileFor returns the colour profile of f, or Ascii when f is not a
// terminal.
func ProfileFor(f *os.File) termenv.Profile {
	if !term.IsTerminal(int(f.Fd())) {
		return termenv.Ascii
	}
	return termenv.EnvColorProfile()
}

// Event prints ev.
func (p *Printer) Event(ev domain.Event) {
	status, color := "running", "#818cf8"
	switch {
	case ev.Terminated && domain.HasErrors(ev.Diagnostics):
		status, color = "failed", "#fb7185"
	case ev.Terminated:
		status, color = "done", "#34d399"
	case ev.Stopped:
		status, color = "stopped", "#fbbf24"
	}

	fmt.Fprintf(p.w, "%s %s %s\n",
		ev.Timestamp.Local().Format("15:04:05"),
		p.profile.String(fmt.Sprintf("%-8s", status)).Foreground(p.profile.Color(color)),
		DescribeLocation(ev.Location),
	)
	for _, d := range ev.Diagnostics {
		line := fmt.Sprintf("  ! %s", sanitize(d.Message))
		if d.ID != "" {
			line = fmt.Sprintf("  ! %s: %s", d.ID, sanitize(d.Message))
		}
		c := "#fbbf24"
		if d.Kind == domain.DiagnosticError {
			c = "#fb7185"
		}
		fmt.Fprintln(p.w, p.profile.String(line).Foreground(p.profile.Color(c)))
	}
}

// System prints an out-of-band message.
func (p *Printer) System(format string, args ...any) {
	fmt.Fprintf(p.w, ">>> %s\n", fmt.Sprintf(format, args...))
}

// DescribeLocation flattens a root location into "sequence[1]:normal > wait:paused".
func DescribeLocation(loc any) string {
	var parts []string
	for loc != nil {
		switch l := loc.(type) {
		case program.SequenceLocation:
			parts = append(parts, fmt.Sprintf("sequence[%d]:%s", l.Index, l.Mode))
			loc = l.Child
		case program.StateLocation:
			parts = append(parts, "state:"+l.Mode)
			loc = l.Child
		case program.ProcessLocation:
			parts = append(parts, l.Name+":"+l.Mode)
			loc = nil
		default:
			parts = append(parts, fmt.Sprint(l))
			loc = nil
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " > ")
}

// sanitize strips control characters other than tab, so process and device
// messages cannot move the cursor or inject escape sequences.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' {
			return -1
		}
		return r
	}, s)
}
