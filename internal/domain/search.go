package domain

import (
	"net/url"
	"strings"
	"time"
)

const (
	DefaultMaxResults = 20
	MinMaxResults     = 1
	MaxMaxResults     = 50

	// MaxExcludedWebsites - больше API не принимает, лишнее молча отбрасываем
	MaxExcludedWebsites = 5

	DateLayout = "2006-01-02"
)

type SearchMode string

const (
	ModeAuto SearchMode = "auto"
	ModeOn   SearchMode = "on"
	ModeOff  SearchMode = "off"
)

func (m SearchMode) IsValid() bool {
	switch m {
	case ModeAuto, ModeOn, ModeOff:
		return true
	}
	return false
}

func (m SearchMode) String() string { return string(m) }

func ParseSearchMode(s string) (SearchMode, error) {
	m := SearchMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", ErrInvalidMode
	}
	return m, nil
}

type SourceType string

const (
	SourceWeb  SourceType = "web"
	SourceNews SourceType = "news"
	SourceX    SourceType = "x"
	SourceRSS  SourceType = "rss"
)

// SearchSource - один источник поиска. Пустые поля не сериализуются,
// чтобы сервер применял свои значения по умолчанию.
type SearchSource struct {
	Type             SourceType `json:"type"`
	Country          string     `json:"country,omitempty"`
	SafeSearch       *bool      `json:"safe_search,omitempty"`
	ExcludedWebsites []string   `json:"excluded_websites,omitempty"`
	XHandles         []string   `json:"x_handles,omitempty"`
	Links            []string   `json:"links,omitempty"`
}

type SearchParameters struct {
	Mode             SearchMode     `json:"mode"`
	Sources          []SearchSource `json:"sources,omitempty"`
	ReturnCitations  bool           `json:"return_citations,omitempty"`
	MaxSearchResults int            `json:"max_search_results,omitempty"`
	FromDate         string         `json:"from_date,omitempty"`
	ToDate           string         `json:"to_date,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type RequestPayload struct {
	Messages         []Message        `json:"messages"`
	SearchParameters SearchParameters `json:"search_parameters"`
	Model            string           `json:"model"`
}

// SplitLines режет многострочный ввод: по строке на элемент, пробелы по краям
// обрезаются, пустые строки выкидываются, порядок сохраняется.
func SplitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func ValidateMaxResults(n int) error {
	if n < MinMaxResults || n > MaxMaxResults {
		return ErrInvalidMaxResults
	}
	return nil
}

func ValidateCountry(code string) error {
	if len(code) != 2 {
		return ErrInvalidCountry
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return ErrInvalidCountry
		}
	}
	return nil
}

func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	if u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}
