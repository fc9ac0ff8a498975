package report

import (
	"github.com/charmbracelet/glamour"
)

// GlamourRenderer renders post-install notes as styled terminal markdown.
type GlamourRenderer struct {
	Style string // "dark", "light", "notty", "auto" or a style file path
	Width int    // word wrap; 0 keeps glamour's default
}

// NewGlamourRenderer returns a renderer that picks its style from the
// terminal background.
func NewGlamourRenderer() *GlamourRenderer {
	return &GlamourRenderer{Style: "auto"}
}

// Render returns content rendered as markdown, or content unchanged when
// glamour cannot render it.
func (g *GlamourRenderer) Render(content string) string {
	var opts []glamour.TermRendererOption
	if g.Style != "" && g.Style != "auto" {
		opts = append(opts, glamour.WithStylePath(g.Style))
	} else {
		opts = append(opts, glamour.WithAutoStyle())
	}
	if g.Width > 0 {
		opts = append(opts, glamour.WithWordWrap(g.Width))
	}

	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return out
}
