package render

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Layout names and the context keys they read.
const (
	LayoutPage  = "page"
	LayoutIndex = "index"

	KeyTitle      = "title"
	KeyContent    = "content"
	KeySiteTitle  = "site_title"
	KeyPages      = "pages"
	KeyLiveReload = "live_reload"
)

// LiveReloadPath is the websocket endpoint the client script connects to.
const LiveReloadPath = "/live_reload"

// LiveReloadScript reloads the page whenever the dev server pushes "reload".
const LiveReloadScript = `(function() {
    var proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
    function connect() {
        var ws = new WebSocket(proto + '//' + location.host + '` + LiveReloadPath + `');
        ws.onmessage = function(e) {
            if (e.data === 'reload') {
                location.reload();
            }
        };
        ws.onclose = function() {
            setTimeout(connect, 1000);
        };
    }
    connect();
})();`

// PageLink is one entry of the generated index.
type PageLink struct {
	Title string
	Slug  string
	Date  string
}

// PageLayout wraps rendered page content in a full HTML document.
func PageLayout(ctx Context) templ.Component {
	return templ.ComponentFunc(func(c context.Context, w io.Writer) error {
		if err := writeHead(w, ctx.String(KeyTitle), ctx.String(KeySiteTitle)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<article>\n"); err != nil {
			return err
		}
		if err := templ.Raw(ctx.String(KeyContent)).Render(c, w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "</article>\n"); err != nil {
			return err
		}
		return writeTail(w, ctx.Bool(KeyLiveReload))
	})
}

// IndexLayout lists every page of the site.
func IndexLayout(ctx Context) templ.Component {
	return templ.ComponentFunc(func(c context.Context, w io.Writer) error {
		siteTitle := ctx.String(KeySiteTitle)
		if err := writeHead(w, siteTitle, ""); err != nil {
			return err
		}

		pages, _ := ctx[KeyPages].([]PageLink)
		if _, err := io.WriteString(w, "<h1>"+templ.EscapeString(siteTitle)+"</h1>\n<ul>\n"); err != nil {
			return err
		}
		for _, p := range pages {
			line := `<li><a href="/` + templ.EscapeString(p.Slug) + `">` + templ.EscapeString(p.Title) + "</a>"
			if p.Date != "" {
				line += " <time>" + templ.EscapeString(p.Date) + "</time>"
			}
			if _, err := io.WriteString(w, line+"</li>\n"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "</ul>\n"); err != nil {
			return err
		}
		return writeTail(w, ctx.Bool(KeyLiveReload))
	})
}

func writeHead(w io.Writer, title, siteTitle string) error {
	full := title
	if siteTitle != "" && siteTitle != title {
		full = title + " | " + siteTitle
	}
	_, err := io.WriteString(w, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>"+
		templ.EscapeString(full)+"</title>\n</head>\n<body>\n")
	return err
}

func writeTail(w io.Writer, liveReload bool) error {
	if liveReload {
		if _, err := io.WriteString(w, "<script>"+LiveReloadScript+"</script>\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "</body>\n</html>\n")
	return err
}
