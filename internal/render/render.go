// Package render готовит ответ API к показу: JSON как есть плюс,
// если получится, текст ответа и список цитат.
package render

import (
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/kitbuilder587/livesearch-bot/internal/domain"
)

var (
	ErrMissingContent     = errors.New("choices[0].message.content not found")
	ErrMalformedCitations = errors.New("citations is not a list")
	ErrInvalidJSON        = errors.New("response is not valid json")
)

const (
	pathChoices           = "choices"
	pathContent           = "choices.0.message.content"
	pathMessageCitations  = "choices.0.message.citations"
	pathTopLevelCitations = "citations"
)

// Result - то, что показываем оператору. Raw заполнен всегда, когда ответ
// вообще JSON; Err не мешает показу Raw.
type Result struct {
	Raw        string
	Content    string
	HasContent bool
	Citations  []string
	Err        error
}

var prettyOptions = &pretty.Options{
	Width:    80,
	Prefix:   "",
	Indent:   "  ",
	SortKeys: false,
}

// JSON форматирует тело без изменения порядка ключей.
func JSON(body []byte) string {
	return string(pretty.PrettyOptions(body, prettyOptions))
}

func Payload(p *domain.RequestPayload) string {
	if p == nil {
		return ""
	}
	body, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return JSON(body)
}

func Response(body []byte) Result {
	if !gjson.ValidBytes(body) {
		return Result{Raw: string(body), Err: ErrInvalidJSON}
	}

	res := Result{Raw: JSON(body)}

	choices := gjson.GetBytes(body, pathChoices)
	if !choices.IsArray() || len(choices.Array()) == 0 {
		// ответ без choices - показываем только сырой JSON
		return res
	}

	content := gjson.GetBytes(body, pathContent)
	if !content.Exists() || content.Type == gjson.Null {
		res.Err = ErrMissingContent
		return res
	}
	res.Content = content.String()
	res.HasContent = true

	citations := gjson.GetBytes(body, pathMessageCitations)
	if !citations.Exists() {
		citations = gjson.GetBytes(body, pathTopLevelCitations)
	}
	if !citations.Exists() || citations.Type == gjson.Null {
		return res
	}
	if !citations.IsArray() {
		res.Err = ErrMalformedCitations
		return res
	}

	for _, c := range citations.Array() {
		if s := c.String(); s != "" {
			res.Citations = append(res.Citations, s)
		}
	}

	return res
}
