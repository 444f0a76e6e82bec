package ui

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/url"

	"github.com/a-h/templ"
)

// DownloadURL returns the link that downloads the named object. The name is
// percent-encoded as a single path segment so reserved characters survive.
func DownloadURL(name string) string {
	return "/download/" + url.PathEscape(name)
}

// DeleteURL returns the form action that deletes the named object.
func DeleteURL(name string) string {
	return "/delete/" + url.PathEscape(name)
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\">")
		if err != nil {
			return err
		}

		// Head
		_, err = io.WriteString(w, "<head><meta charset=\"utf-8\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<title>"+html.EscapeString(title)+"</title>")
		if err != nil {
			return err
		}
		// Minimal modern CSS framework (Pico.css) via CDN.
		_, err = io.WriteString(w, "<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "</head>")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<body><main class=\"container\">")
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</main></body></html>")
		return err
	})
}

// UploadForm renders the multipart form that posts a single file to /upload.
func UploadForm() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<form method=\"post\" action=\"/upload\" enctype=\"multipart/form-data\">"+
			"<fieldset role=\"group\"><input type=\"file\" name=\"file\" required>"+
			"<button type=\"submit\">Upload</button></fieldset></form>")
		return err
	})
}

// ObjectList renders one row per name, in the given order, each with a
// download link and a delete button.
func ObjectList(names []string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if len(names) == 0 {
			_, err := io.WriteString(w, "<p>No objects in this container.</p>")
			return err
		}

		_, err := io.WriteString(w, "<table><thead><tr><th>Name</th><th></th><th></th></tr></thead><tbody>")
		if err != nil {
			return err
		}

		for _, name := range names {
			row := fmt.Sprintf("<tr><td>%s</td>"+
				"<td><a href=\"%s\" download>Download</a></td>"+
				"<td><form method=\"post\" action=\"%s\"><button type=\"submit\" class=\"secondary\">Delete</button></form></td></tr>",
				html.EscapeString(name),
				html.EscapeString(DownloadURL(name)),
				html.EscapeString(DeleteURL(name)),
			)
			_, err = io.WriteString(w, row)
			if err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, "</tbody></table>")
		return err
	})
}

// IndexPage renders the upload form above the listing of container.
func IndexPage(container string, names []string) templ.Component {
	return Layout("Blobshelf - "+container, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := fmt.Sprintf("<section><header><h1>Container: %s</h1></header>", html.EscapeString(container))
		_, err := io.WriteString(w, title)
		if err != nil {
			return err
		}

		if err := UploadForm().Render(ctx, w); err != nil {
			return err
		}
		if err := ObjectList(names).Render(ctx, w); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</section>")
		return err
	}))
}
