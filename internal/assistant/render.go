package assistant

import (
	"fmt"
	"io"
	"time"

	g "maragu.dev/gomponents"
	h "maragu.dev/gomponents/html"

	"libraai/internal/domain"
)

// RenderHTML writes the transcript as a standalone HTML page.
func RenderHTML(w io.Writer, title string, turns []domain.Turn) error {
	return transcriptPage(title, turns).Render(w)
}

func transcriptPage(title string, turns []domain.Turn) g.Node {
	return h.HTML(
		h.Lang("en"),
		h.Head(
			h.Meta(h.Charset("utf-8")),
			h.TitleEl(g.Text(title)),
		),
		h.Body(
			h.H1(g.Text(title)),
			h.Ol(h.Class("transcript"), g.Map(turns, turnItem)),
		),
	)
}

func turnItem(t domain.Turn) g.Node {
	return h.Li(
		h.Class("turn turn-"+string(t.Speaker)),
		g.If(t.Synthetic, g.Attr("data-synthetic", "true")),
		h.P(h.Class("meta"),
			h.Strong(g.Text(speakerLabel(t.Speaker))),
			g.Text(" "),
			h.Span(h.Class("at"), g.Attr("datetime", t.At.UTC().Format(time.RFC3339)), g.Text(t.At.Format("15:04"))),
		),
		h.P(h.Class("text"), g.Text(t.Text)),
		g.If(len(t.Sources) > 0,
			h.Ul(h.Class("sources"), g.Map(t.Sources, func(c domain.Citation) g.Node {
				return h.Li(g.Text(fmt.Sprintf("%s (segment %d)", c.Filename, c.ChunkIndex)))
			})),
		),
	)
}

func speakerLabel(s domain.Speaker) string {
	if s == domain.SpeakerUser {
		return "You"
	}
	return "LibraAI"
}
