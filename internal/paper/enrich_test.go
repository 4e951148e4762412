package paper

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lectern-audio/lectern/internal/config"
)

const lookupText = "A paper. doi:10.1234/abc.5678. Indexed as PMID: 34123456."

func newTestEnricher(t *testing.T) *Enricher {
	t.Helper()
	e := NewEnricher(config.PaperConfig{LookupTimeoutMS: 2000}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(down.Close)
	e.crossrefBase = down.URL
	e.pubmedBase = down.URL
	e.unpaywallBase = down.URL
	return e
}

func TestLookupUsesCrossRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/works/10.1234/abc.5678" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"message":{
			"title":["Sleep and Memory"],
			"container-title":["Nature Sleep"],
			"publisher":"Nature",
			"abstract":"<jats:p>We studied sleep.</jats:p>",
			"author":[{"given":"Jane","family":"Smith"},{"given":"Bob","family":"Jones"}],
			"issued":{"date-parts":[[2021,3,14]]}
		}}`)
	}))
	defer srv.Close()

	e := newTestEnricher(t)
	e.crossrefBase = srv.URL

	bib := e.Lookup(context.Background(), lookupText, Meta{})
	if bib.Source != "crossref" {
		t.Fatalf("source = %q", bib.Source)
	}
	if bib.Title != "Sleep and Memory" || bib.Journal != "Nature Sleep" || bib.Year != 2021 {
		t.Fatalf("bibliography = %+v", bib)
	}
	if len(bib.Authors) != 2 || bib.Authors[0] != "Jane Smith" {
		t.Fatalf("authors = %v", bib.Authors)
	}
	if bib.Abstract != "We studied sleep." {
		t.Fatalf("abstract = %q", bib.Abstract)
	}
	if bib.DOI != "10.1234/abc.5678" {
		t.Fatalf("doi = %q", bib.DOI)
	}
	if bib.Citation != "Smith et al.; Nature Sleep; 2021" {
		t.Fatalf("citation = %q", bib.Citation)
	}
}

func TestLookupFallsBackToPubMed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/efetch.fcgi" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if q := r.URL.Query(); q.Get("db") != "pubmed" || q.Get("id") != "34123456" || q.Get("retmode") != "xml" {
			t.Errorf("unexpected query %v", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/xml")
		io.WriteString(w, `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <Article>
        <Journal>
          <JournalIssue>
            <Volume>12</Volume>
            <PubDate><Year>2021</Year></PubDate>
          </JournalIssue>
          <Title>Nature Sleep</Title>
        </Journal>
        <ArticleTitle>Sleep and Memory</ArticleTitle>
        <Pagination><MedlinePgn>100-10</MedlinePgn></Pagination>
        <AuthorList>
          <Author><LastName>Smith</LastName><ForeName>Jane</ForeName></Author>
          <Author><LastName>Jones</LastName><ForeName>Bob</ForeName></Author>
        </AuthorList>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
</PubmedArticleSet>`)
	}))
	defer srv.Close()

	e := newTestEnricher(t)
	e.pubmedBase = srv.URL

	text := "A paper without a registered object identifier. PMID: 34123456."
	bib := e.Lookup(context.Background(), text, Meta{})
	if bib.Source != "pubmed" {
		t.Fatalf("source = %q", bib.Source)
	}
	if bib.Title != "Sleep and Memory" || bib.Journal != "Nature Sleep" {
		t.Fatalf("bibliography = %+v", bib)
	}
	if bib.Citation != "Smith et al.; Nature Sleep; 2021; 12; 100-10" {
		t.Fatalf("citation = %q", bib.Citation)
	}
	if bib.PMID != "34123456" {
		t.Fatalf("pmid = %q", bib.PMID)
	}
}

func TestLookupDegradesToLocal(t *testing.T) {
	e := newTestEnricher(t)

	local := Meta{Title: "Local Title", Author: "Jane Smith; Bob Jones"}
	bib := e.Lookup(context.Background(), lookupText, local)
	if bib.Source != "local" {
		t.Fatalf("source = %q", bib.Source)
	}
	if bib.Title != "Local Title" {
		t.Fatalf("title = %q", bib.Title)
	}
	if len(bib.Authors) != 2 || bib.Authors[0] != "Jane Smith" {
		t.Fatalf("authors = %v", bib.Authors)
	}
	if bib.DOI != "10.1234/abc.5678" {
		t.Fatalf("doi = %q", bib.DOI)
	}
}

func TestLookupKeepsLocalPriority(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"message":{"title":["Registry Title"],"issued":{"date-parts":[[2020]]}}}`)
	}))
	defer srv.Close()

	e := newTestEnricher(t)
	e.crossrefBase = srv.URL

	bib := e.Lookup(context.Background(), lookupText, Meta{Title: "Local Title"})
	if bib.Source != "crossref" {
		t.Fatalf("source = %q", bib.Source)
	}
	if bib.Title != "Local Title" {
		t.Fatalf("local title overwritten: %q", bib.Title)
	}
	if bib.Year != 2020 {
		t.Fatalf("missing field not filled: %+v", bib)
	}
}

func TestLookupChecksUnpaywall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("email"); got != "alerts@example.org" {
			t.Errorf("email = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"is_oa":true,"best_oa_location":{"url_for_pdf":"https://repo.example.org/p.pdf","url":"https://repo.example.org/p"}}`)
	}))
	defer srv.Close()

	e := NewEnricher(config.PaperConfig{LookupTimeoutMS: 2000, UnpaywallEmail: "alerts@example.org"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer down.Close()
	e.crossrefBase = down.URL
	e.pubmedBase = down.URL
	e.unpaywallBase = srv.URL

	bib := e.Lookup(context.Background(), "doi:10.1234/abc.5678 text", Meta{Title: "T"})
	if !bib.OpenAccess {
		t.Fatal("expected open access flag")
	}
	if bib.OpenAccessURL != "https://repo.example.org/p.pdf" {
		t.Fatalf("oa url = %q", bib.OpenAccessURL)
	}
}

func TestShortCitationSkipsUnknownParts(t *testing.T) {
	got := shortCitation([]string{"Jane Smith"}, "", 2021, "", "")
	if got != "Smith et al.; 2021" {
		t.Fatalf("citation = %q", got)
	}
	if got := shortCitation(nil, "", 0, "", ""); got != "" {
		t.Fatalf("expected empty citation, got %q", got)
	}
}
