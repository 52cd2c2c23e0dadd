package domain

import (
	"strings"
	"time"
)

// SiteSourceForm - настройки web и news источников, они одинаковые
type SiteSourceForm struct {
	Enabled    bool
	Country    string
	SafeSearch bool
	// Excluded - сырой ввод, один домен на строку
	Excluded string
}

type XSourceForm struct {
	Enabled bool
	Handles string
}

type RSSSourceForm struct {
	Enabled bool
	Link    string
}

// Form - то, что оператор заполнил в чате. Build превращает её в тело запроса.
type Form struct {
	APIKey   string
	Endpoint string
	Model    string
	Message  string

	Mode            SearchMode
	FromDate        time.Time
	ToDate          time.Time
	ReturnCitations bool
	// MaxResults == 0 значит "не задано", как и DefaultMaxResults
	MaxResults int

	Web  SiteSourceForm
	News SiteSourceForm
	X    XSourceForm
	RSS  RSSSourceForm
}

// NewForm возвращает форму в том виде, в каком её видит новый пользователь.
func NewForm(endpoint, model string) Form {
	return Form{
		Endpoint:        endpoint,
		Model:           model,
		Mode:            ModeAuto,
		ReturnCitations: true,
		MaxResults:      DefaultMaxResults,
		Web:             SiteSourceForm{Enabled: true, SafeSearch: true},
		News:            SiteSourceForm{Enabled: true, SafeSearch: true},
		X:               XSourceForm{Enabled: true},
	}
}

func (f *Form) Validate() error {
	if strings.TrimSpace(f.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if strings.TrimSpace(f.Message) == "" {
		return ErrMissingMessage
	}
	return nil
}

// Build собирает RequestPayload. Всё, что осталось в значении по умолчанию,
// в payload не попадает.
func (f *Form) Build() (*RequestPayload, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	mode := f.Mode
	if mode == "" {
		mode = ModeAuto
	}

	params := SearchParameters{
		Mode:    mode,
		Sources: f.buildSources(),
	}

	if f.ReturnCitations {
		params.ReturnCitations = true
	}
	if f.MaxResults != 0 && f.MaxResults != DefaultMaxResults {
		params.MaxSearchResults = f.MaxResults
	}
	if !f.FromDate.IsZero() {
		params.FromDate = f.FromDate.Format(DateLayout)
	}
	if !f.ToDate.IsZero() {
		params.ToDate = f.ToDate.Format(DateLayout)
	}

	return &RequestPayload{
		Messages:         []Message{{Role: "user", Content: f.Message}},
		SearchParameters: params,
		Model:            f.Model,
	}, nil
}

func (f *Form) buildSources() []SearchSource {
	var sources []SearchSource

	if f.Web.Enabled {
		sources = append(sources, buildSiteSource(SourceWeb, f.Web))
	}
	if f.News.Enabled {
		sources = append(sources, buildSiteSource(SourceNews, f.News))
	}
	if f.X.Enabled {
		src := SearchSource{Type: SourceX}
		if handles := SplitLines(f.X.Handles); len(handles) > 0 {
			src.XHandles = handles
		}
		sources = append(sources, src)
	}
	// rss без ссылки бессмысленен, пропускаем
	if f.RSS.Enabled && strings.TrimSpace(f.RSS.Link) != "" {
		sources = append(sources, SearchSource{
			Type:  SourceRSS,
			Links: []string{strings.TrimSpace(f.RSS.Link)},
		})
	}

	return sources
}

func buildSiteSource(typ SourceType, sf SiteSourceForm) SearchSource {
	src := SearchSource{Type: typ}
	if sf.Country != "" {
		src.Country = sf.Country
	}
	if !sf.SafeSearch {
		off := false
		src.SafeSearch = &off
	}
	if sites := SplitLines(sf.Excluded); len(sites) > 0 {
		if len(sites) > MaxExcludedWebsites {
			sites = sites[:MaxExcludedWebsites]
		}
		src.ExcludedWebsites = sites
	}
	return src
}
