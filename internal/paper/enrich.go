package paper

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lectern-audio/lectern/internal/config"
)

const defaultUnpaywallEmail = "noreply@example.com"

var markupTags = regexp.MustCompile(`<[^>]+>`)

// Bibliography is the resolved citation record for a paper. Source names
// the registry that supplied it: crossref, pubmed, or local when every
// remote lookup failed or nothing identified the paper.
type Bibliography struct {
	Title         string   `json:"title,omitempty"`
	Authors       []string `json:"authors,omitempty"`
	Journal       string   `json:"journal,omitempty"`
	Year          int      `json:"year,omitempty"`
	Abstract      string   `json:"abstract,omitempty"`
	Citation      string   `json:"citation,omitempty"`
	DOI           string   `json:"doi,omitempty"`
	PMID          string   `json:"pmid,omitempty"`
	OpenAccess    bool     `json:"open_access,omitempty"`
	OpenAccessURL string   `json:"open_access_url,omitempty"`
	Source        string   `json:"source"`
}

// Lead returns the first listed author.
func (b Bibliography) Lead() string {
	if len(b.Authors) == 0 {
		return ""
	}
	return b.Authors[0]
}

// Enricher resolves bibliographic metadata from public registries.
type Enricher struct {
	email  string
	client *http.Client
	logger *slog.Logger

	crossrefBase  string
	pubmedBase    string
	unpaywallBase string
}

func NewEnricher(cfg config.PaperConfig, logger *slog.Logger) *Enricher {
	timeout := time.Duration(cfg.LookupTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	email := cfg.UnpaywallEmail
	if email == "" {
		email = defaultUnpaywallEmail
	}
	return &Enricher{
		email:         email,
		client:        &http.Client{Timeout: timeout},
		logger:        logger.With(slog.String("component", "enrich")),
		crossrefBase:  "https://api.crossref.org",
		pubmedBase:    "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
		unpaywallBase: "https://api.unpaywall.org",
	}
}

// Lookup resolves the best available bibliography for the given paper text.
// A DOI in the text goes to CrossRef, a PMID falls back to PubMed, and any
// DOI is also checked against Unpaywall for an open-access link. Locally
// extracted metadata keeps priority; registries only fill the gaps. Lookup
// never fails: when no registry answers, the local record comes back as-is.
func (e *Enricher) Lookup(ctx context.Context, text string, local Meta) Bibliography {
	bib := localBibliography(local)
	doi := ExtractDOI(text)
	pmid := ExtractPMID(text)
	bib.DOI = doi
	bib.PMID = pmid

	if doi != "" {
		if ref, err := e.crossref(ctx, doi); err != nil {
			e.logger.Warn("crossref lookup failed", slog.String("doi", doi), slogError(err))
		} else {
			fillMissing(&bib, ref)
			bib.Source = "crossref"
		}
	}
	if bib.Source == "local" && pmid != "" {
		if ref, err := e.pubmed(ctx, pmid); err != nil {
			e.logger.Warn("pubmed lookup failed", slog.String("pmid", pmid), slogError(err))
		} else {
			fillMissing(&bib, ref)
			bib.Source = "pubmed"
		}
	}
	if doi != "" {
		if oa, link, err := e.unpaywall(ctx, doi); err != nil {
			e.logger.Warn("unpaywall lookup failed", slog.String("doi", doi), slogError(err))
		} else {
			bib.OpenAccess = oa
			bib.OpenAccessURL = link
		}
	}
	return bib
}

func localBibliography(local Meta) Bibliography {
	bib := Bibliography{Title: local.Title, Source: "local"}
	for _, a := range strings.Split(local.Author, ";") {
		if a = strings.TrimSpace(a); a != "" {
			bib.Authors = append(bib.Authors, a)
		}
	}
	return bib
}

func fillMissing(dst *Bibliography, src Bibliography) {
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if len(dst.Authors) == 0 {
		dst.Authors = src.Authors
	}
	if dst.Journal == "" {
		dst.Journal = src.Journal
	}
	if dst.Year == 0 {
		dst.Year = src.Year
	}
	if dst.Abstract == "" {
		dst.Abstract = src.Abstract
	}
	if dst.Citation == "" {
		dst.Citation = src.Citation
	}
}

type crossrefEnvelope struct {
	Message struct {
		Title          []string `json:"title"`
		ContainerTitle []string `json:"container-title"`
		Publisher      string   `json:"publisher"`
		Abstract       string   `json:"abstract"`
		Author         []struct {
			Given  string `json:"given"`
			Family string `json:"family"`
		} `json:"author"`
		Issued struct {
			DateParts [][]int `json:"date-parts"`
		} `json:"issued"`
	} `json:"message"`
}

func (e *Enricher) crossref(ctx context.Context, doi string) (Bibliography, error) {
	var env crossrefEnvelope
	if err := e.getJSON(ctx, e.crossrefBase+"/works/"+url.PathEscape(doi), &env); err != nil {
		return Bibliography{}, err
	}
	item := env.Message

	var bib Bibliography
	if len(item.Title) > 0 {
		bib.Title = strings.TrimSpace(item.Title[0])
	}
	for _, a := range item.Author {
		if name := strings.TrimSpace(a.Given + " " + a.Family); name != "" {
			bib.Authors = append(bib.Authors, name)
		}
	}
	if len(item.ContainerTitle) > 0 {
		bib.Journal = strings.TrimSpace(item.ContainerTitle[0])
	} else {
		bib.Journal = strings.TrimSpace(item.Publisher)
	}
	if len(item.Issued.DateParts) > 0 && len(item.Issued.DateParts[0]) > 0 {
		bib.Year = item.Issued.DateParts[0][0]
	}
	// CrossRef abstracts arrive as JATS markup.
	bib.Abstract = strings.TrimSpace(markupTags.ReplaceAllString(item.Abstract, ""))
	bib.Citation = shortCitation(bib.Authors, bib.Journal, bib.Year, "", "")
	return bib, nil
}

type pubmedSet struct {
	Articles []struct {
		Title   string `xml:"MedlineCitation>Article>ArticleTitle"`
		Journal string `xml:"MedlineCitation>Article>Journal>Title"`
		Year    string `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>Year"`
		Volume  string `xml:"MedlineCitation>Article>Journal>JournalIssue>Volume"`
		Pages   string `xml:"MedlineCitation>Article>Pagination>MedlinePgn"`
		Authors []struct {
			LastName string `xml:"LastName"`
			ForeName string `xml:"ForeName"`
		} `xml:"MedlineCitation>Article>AuthorList>Author"`
	} `xml:"PubmedArticle"`
}

func (e *Enricher) pubmed(ctx context.Context, pmid string) (Bibliography, error) {
	rawURL := fmt.Sprintf("%s/efetch.fcgi?db=pubmed&id=%s&retmode=xml", e.pubmedBase, url.QueryEscape(pmid))
	body, err := e.get(ctx, rawURL)
	if err != nil {
		return Bibliography{}, err
	}
	var set pubmedSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return Bibliography{}, fmt.Errorf("decode pubmed response: %w", err)
	}
	if len(set.Articles) == 0 {
		return Bibliography{}, fmt.Errorf("pubmed returned no article for %s", pmid)
	}
	art := set.Articles[0]

	bib := Bibliography{
		Title:   strings.TrimSpace(art.Title),
		Journal: strings.TrimSpace(art.Journal),
		PMID:    pmid,
	}
	for _, a := range art.Authors {
		if name := strings.TrimSpace(a.ForeName + " " + a.LastName); name != "" {
			bib.Authors = append(bib.Authors, name)
		}
	}
	if y, err := strconv.Atoi(strings.TrimSpace(art.Year)); err == nil {
		bib.Year = y
	}
	bib.Citation = shortCitation(bib.Authors, bib.Journal, bib.Year, strings.TrimSpace(art.Volume), strings.TrimSpace(art.Pages))
	return bib, nil
}

type unpaywallResponse struct {
	IsOA           bool `json:"is_oa"`
	BestOALocation struct {
		URLForPDF string `json:"url_for_pdf"`
		URL       string `json:"url"`
	} `json:"best_oa_location"`
}

func (e *Enricher) unpaywall(ctx context.Context, doi string) (bool, string, error) {
	rawURL := fmt.Sprintf("%s/v2/%s?email=%s", e.unpaywallBase, doi, url.QueryEscape(e.email))
	var resp unpaywallResponse
	if err := e.getJSON(ctx, rawURL, &resp); err != nil {
		return false, "", err
	}
	link := resp.BestOALocation.URLForPDF
	if link == "" {
		link = resp.BestOALocation.URL
	}
	return resp.IsOA, link, nil
}

// shortCitation builds the compact "Lead et al.; Journal; year; vol; pages"
// line, skipping whatever is unknown.
func shortCitation(authors []string, journal string, year int, volume, pages string) string {
	var parts []string
	if len(authors) > 0 {
		if fields := strings.Fields(authors[0]); len(fields) > 0 {
			parts = append(parts, fields[len(fields)-1]+" et al.")
		}
	}
	if journal != "" {
		parts = append(parts, journal)
	}
	if year > 0 {
		parts = append(parts, strconv.Itoa(year))
	}
	if volume != "" {
		parts = append(parts, volume)
	}
	if pages != "" {
		parts = append(parts, pages)
	}
	return strings.Join(parts, "; ")
}

func (e *Enricher) getJSON(ctx context.Context, rawURL string, out any) error {
	body, err := e.get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode lookup response: %w", err)
	}
	return nil
}

func (e *Enricher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("lookup returned status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
