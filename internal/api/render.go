package api

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/kalambet/socq/internal/conversation"
)

var transcriptPage = template.Must(template.New("transcript").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>SOC Knowledge Assistant</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
h3 { margin-bottom: .25rem; color: #444; font-size: .95rem; }
.state { color: #888; font-size: .85rem; }
</style>
</head>
<body>
<p class="state">state: {{.State}}</p>
{{.Body}}
</body>
</html>
`))

// TranscriptMarkdown renders the conversation as Markdown.
func TranscriptMarkdown(snap conversation.Snapshot) []byte {
	var md bytes.Buffer
	md.WriteString("# SOC Knowledge Assistant\n\n")

	for _, m := range snap.Messages {
		who := "Assistant"
		if m.Role == conversation.RoleUser {
			who = "You"
		}
		fmt.Fprintf(&md, "### %s · %s\n\n%s\n\n", who, m.Time, m.Text)
	}

	if len(snap.References) > 0 {
		md.WriteString("## References\n\n")
		for _, r := range snap.References {
			fmt.Fprintf(&md, "- **%s** (%.2f): %s\n", r.Label, r.Score, strings.ReplaceAll(r.Content, "\n", " "))
		}
		md.WriteString("\n")
	}
	if snap.LatencyMs != nil {
		fmt.Fprintf(&md, "_Last response: %d ms_\n", *snap.LatencyMs)
	}
	return md.Bytes()
}

// RenderTranscript renders the conversation as a standalone HTML page.
// Raw HTML inside messages is dropped by the Markdown renderer.
func RenderTranscript(snap conversation.Snapshot) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert(TranscriptMarkdown(snap), &body); err != nil {
		return nil, fmt.Errorf("converting markdown: %w", err)
	}

	var page bytes.Buffer
	err := transcriptPage.Execute(&page, struct {
		State string
		Body  template.HTML
	}{
		State: snap.State.String(),
		Body:  template.HTML(body.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("executing template: %w", err)
	}
	return page.Bytes(), nil
}
