package commands

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"vinochat/internal/chatclient"
	"vinochat/internal/models"
)

var (
	colorWine  = lipgloss.Color("#9b2d4f")
	colorGold  = lipgloss.Color("#d4a373")
	colorDim   = lipgloss.Color("#6c7086")
	colorError = lipgloss.Color("#f38ba8")

	userLabelStyle      = lipgloss.NewStyle().Foreground(colorGold).Bold(true)
	assistantLabelStyle = lipgloss.NewStyle().Foreground(colorWine).Bold(true)
	errorStyle          = lipgloss.NewStyle().Foreground(colorError)
	dimStyle            = lipgloss.NewStyle().Foreground(colorDim).Italic(true)
)

var anchorTag = regexp.MustCompile(`<a href="([^"]*)" target="_blank" rel="noopener noreferrer">(.*?)</a>`)

// markupToText reverses bubble markup into markdown for the terminal.
func markupToText(markup string) string {
	text := anchorTag.ReplaceAllString(markup, "[$2]($1)")
	text = strings.ReplaceAll(text, "<br>", "\n")
	return html.UnescapeString(text)
}

// terminalView renders a chat session to a terminal. Assistant replies are
// markdown rendered through glamour.
type terminalView struct {
	mu       sync.Mutex
	out      io.Writer
	errOut   io.Writer
	renderer *glamour.TermRenderer
}

func newTerminalView(out, errOut io.Writer, style string, width int) (*terminalView, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithWordWrap(width),
		glamour.WithEmoji(),
	)
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	return &terminalView{out: out, errOut: errOut, renderer: renderer}, nil
}

func (v *terminalView) AppendMessage(role models.Role, markup string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	text := markupToText(markup)
	if role == models.RoleUser {
		fmt.Fprintf(v.out, "%s %s\n", userLabelStyle.Render("You:"), text)
		return
	}
	rendered, err := v.renderer.Render(text)
	if err != nil {
		rendered = text + "\n"
	}
	fmt.Fprintf(v.out, "%s\n%s", assistantLabelStyle.Render("Concierge:"), rendered)
}

func (v *terminalView) ShowError(markup string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.errOut, errorStyle.Render(markupToText(markup)))
}

func (v *terminalView) SetLoading(on bool) {
	if !on {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, dimStyle.Render("The concierge is thinking..."))
}

func (v *terminalView) SetSubmitEnabled(bool) {}

func (v *terminalView) SetInput(string) {}

func (v *terminalView) SetWeather(icon chatclient.Icon, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "%s %s\n", icon.Emoji(), text)
}

func (v *terminalView) ShowSearchResults(results []models.SearchResult, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		fmt.Fprintln(v.errOut, errorStyle.Render("Search failed: "+err.Error()))
		return
	}
	if len(results) == 0 {
		fmt.Fprintln(v.out, "No results found.")
		return
	}
	for i, r := range results {
		fmt.Fprintf(v.out, "%d. %s\n   %s\n", i+1, assistantLabelStyle.Render(r.Title), dimStyle.Render(r.Link))
		if r.Snippet != "" {
			fmt.Fprintf(v.out, "   %s\n", r.Snippet)
		}
	}
}
