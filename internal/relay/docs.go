package relay

import (
	"bytes"
	"embed"
	"html/template"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	mhtml "github.com/tdewolff/minify/v2/html"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

//go:embed docs/*.md
var docsFS embed.FS

//go:embed assets/docs.html
var docsHTML string

var docsTmpl = template.Must(template.New("docs").Parse(docsHTML))

// DocPage is one rendered protocol reference page.
type DocPage struct {
	Slug  string
	Title string
	HTML  template.HTML
}

// DocSite holds the protocol reference, rendered and minified once at
// startup. Pages are ordered by their file name prefix ("01-overview.md"
// first).
type DocSite struct {
	Pages  []DocPage
	bySlug map[string]int
	served [][]byte
}

func newDocSite() *DocSite {
	md := goldmark.New(
		goldmark.WithExtensions(extension.Table),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
	site := &DocSite{bySlug: map[string]int{}}

	// ReadDir returns entries sorted by name.
	entries, err := docsFS.ReadDir("docs")
	if err != nil {
		return site
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := docsFS.ReadFile(path.Join("docs", e.Name()))
		if err != nil {
			continue
		}

		slug := strings.TrimSuffix(e.Name(), ".md")
		if _, rest, ok := strings.Cut(slug, "-"); ok {
			slug = rest
		}
		title := slug
		for _, line := range strings.Split(string(data), "\n") {
			if t, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
				title = t
				break
			}
		}

		var buf bytes.Buffer
		if err := md.Convert(data, &buf); err != nil {
			continue
		}
		site.bySlug[slug] = len(site.Pages)
		site.Pages = append(site.Pages, DocPage{Slug: slug, Title: title, HTML: template.HTML(buf.String())})
	}

	m := minify.New()
	m.Add("text/html", &mhtml.Minifier{KeepEndTags: true, KeepDocumentTags: true, KeepQuotes: true})
	m.AddFunc("text/css", css.Minify)
	for i := range site.Pages {
		site.served = append(site.served, site.render(m, i))
	}
	return site
}

func (d *DocSite) render(m *minify.M, i int) []byte {
	vm := docsVM{Title: d.Pages[i].Title, Pages: d.Pages, Current: &d.Pages[i]}
	if i > 0 {
		vm.Prev = &d.Pages[i-1]
	}
	if i < len(d.Pages)-1 {
		vm.Next = &d.Pages[i+1]
	}
	var raw bytes.Buffer
	if err := docsTmpl.Execute(&raw, vm); err != nil {
		log.Printf("RELAY: docs page %s: %v", d.Pages[i].Slug, err)
		return nil
	}
	out, err := m.Bytes("text/html", raw.Bytes())
	if err != nil {
		log.Printf("RELAY: docs minify warning: %s: %v (using original)", d.Pages[i].Slug, err)
		return raw.Bytes()
	}
	return out
}

type docsVM struct {
	Title   string
	Pages   []DocPage
	Current *DocPage
	Prev    *DocPage
	Next    *DocPage
}

func (d *DocSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if len(d.Pages) == 0 {
		http.NotFound(w, r)
		return
	}
	slug := strings.Trim(strings.TrimPrefix(r.URL.Path, "/docs"), "/")
	if slug == "" {
		http.Redirect(w, r, "/docs/"+d.Pages[0].Slug, http.StatusFound)
		return
	}
	i, ok := d.bySlug[slug]
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("content-type", "text/html; charset=utf-8")
	_, _ = w.Write(d.served[i])
}
