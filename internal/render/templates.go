package render

import (
	"bytes"
	"embed"
	"html/template"

	"readingroom/api/internal/comments"
)

// EmptyText is shown in place of the list when a page has no comments.
const EmptyText = "No comments yet. Be the first to share your thoughts!"

// ConfirmText is the prompt a client shows before deleting a comment.
const ConfirmText = "Are you sure you want to delete this comment?"

//go:embed templates/*.html
var templateFS embed.FS

var commentsTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"emptyText":   func() string { return EmptyText },
		"confirmText": func() string { return ConfirmText },
	}

	templateContent, err := templateFS.ReadFile("templates/comments.html")
	if err != nil {
		commentsTemplate = template.Must(template.New("comments").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	commentsTemplate = template.Must(template.New("comments").Funcs(funcMap).Parse(string(templateContent)))
}

// NewView builds template data for a forest. Count covers every depth.
func NewView(title, page string, forest comments.Forest) View {
	if title == "" {
		title = "Comments"
	}
	return View{
		Title:    title,
		Page:     page,
		Count:    comments.Count(forest),
		Comments: comments.Normalize(forest),
	}
}

// RenderHTML renders the comments template. Every user supplied string goes
// through html/template's contextual escaping.
func RenderHTML(view View) (string, error) {
	var buf bytes.Buffer
	if err := commentsTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body>
  <h1>{{.Title}} <span id="comments-count">({{.Count}})</span></h1>
  <div id="comments-list">
  {{if .Comments}}{{range .Comments}}{{template "comment" .}}{{end}}{{else}}<p class="no-comments">{{emptyText}}</p>{{end}}
  </div>
</body>
</html>
{{define "comment"}}<div class="comment-card" data-comment-id="{{.ID}}"><strong>{{.Author}}</strong> {{.CreatedAt}}<p>{{.Body}}</p><button data-reply-to="{{.ID}}">Reply</button><button data-delete-id="{{.ID}}" data-confirm="{{confirmText}}">Delete</button>{{range .Replies}}{{template "comment" .}}{{end}}</div>{{end}}`
