package telegram

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/kitbuilder587/livesearch-bot/internal/domain"
	"github.com/kitbuilder587/livesearch-bot/internal/render"
)

const (
	MaxMessageLength = 4096 // лимит телеграма

	codeOpen  = `<pre><code class="language-json">`
	codeClose = `</code></pre>`
)

func FormatForm(f domain.Form) string {
	var sb strings.Builder
	sb.WriteString("<b>Параметры запроса</b>\n\n")

	sb.WriteString(fmt.Sprintf("API ключ: %s\n", maskKey(f.APIKey)))
	sb.WriteString(fmt.Sprintf("Endpoint: %s\n", html.EscapeString(f.Endpoint)))
	sb.WriteString(fmt.Sprintf("Модель: %s\n", html.EscapeString(f.Model)))
	sb.WriteString(fmt.Sprintf("Режим поиска: %s\n", html.EscapeString(string(f.Mode))))
	sb.WriteString(fmt.Sprintf("Период: с %s по %s\n", formatDate(f.FromDate.IsZero(), f.FromDate.Format(domain.DateLayout)), formatDate(f.ToDate.IsZero(), f.ToDate.Format(domain.DateLayout))))
	sb.WriteString(fmt.Sprintf("Цитаты: %s\n", onOff(f.ReturnCitations)))
	sb.WriteString(fmt.Sprintf("Макс. результатов: %d\n", maxResultsOrDefault(f.MaxResults)))

	sb.WriteString("\n<b>Источники</b>\n")
	writeSiteSource(&sb, "Web", f.Web)
	writeSiteSource(&sb, "News", f.News)

	sb.WriteString(fmt.Sprintf("X: %s", onOff(f.X.Enabled)))
	if handles := domain.SplitLines(f.X.Handles); f.X.Enabled && len(handles) > 0 {
		sb.WriteString(fmt.Sprintf(", хэндлы: %s", html.EscapeString(strings.Join(handles, ", "))))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("RSS: %s", onOff(f.RSS.Enabled)))
	if f.RSS.Enabled && f.RSS.Link != "" {
		sb.WriteString(fmt.Sprintf(", %s", html.EscapeString(f.RSS.Link)))
	}
	sb.WriteString("\n")

	sb.WriteString("\n<b>Сообщение</b>\n")
	if strings.TrimSpace(f.Message) == "" {
		sb.WriteString("<i>не задано, просто отправьте текст</i>")
	} else {
		sb.WriteString(html.EscapeString(truncate(f.Message, 500)))
	}

	return sb.String()
}

func writeSiteSource(sb *strings.Builder, name string, sf domain.SiteSourceForm) {
	sb.WriteString(fmt.Sprintf("%s: %s", name, onOff(sf.Enabled)))
	if sf.Enabled {
		if sf.Country != "" {
			sb.WriteString(fmt.Sprintf(", страна %s", html.EscapeString(sf.Country)))
		}
		if !sf.SafeSearch {
			sb.WriteString(", safe search выкл")
		}
		if sites := domain.SplitLines(sf.Excluded); len(sites) > 0 {
			sb.WriteString(fmt.Sprintf(", исключены: %s", html.EscapeString(strings.Join(sites, ", "))))
		}
	}
	sb.WriteString("\n")
}

// FormatResult готовит результат последнего запроса к отправке.
// Возвращает уже порезанные под лимит телеграма сообщения.
func FormatResult(sess domain.Session) []string {
	res := render.Response(sess.LastResponse)

	var sections []string

	header := fmt.Sprintf("✅ Запрос отправлен %s", html.EscapeString(sess.Timestamp()))
	if sess.StatusCode != 0 && sess.StatusCode != 200 {
		header += fmt.Sprintf("\n⚠️ HTTP %d", sess.StatusCode)
	}
	sections = append(sections, header)

	if sess.LastPayload != nil {
		sections = append(sections, "<b>Payload запроса</b>")
		sections = append(sections, codeBlocks(render.Payload(sess.LastPayload), MaxMessageLength)...)
	}

	sections = append(sections, "<b>Ответ</b>")
	sections = append(sections, codeBlocks(res.Raw, MaxMessageLength)...)

	if res.HasContent {
		sections = append(sections, "<b>Содержимое ответа</b>")
		sections = append(sections, SplitMessage(html.EscapeString(res.Content), MaxMessageLength)...)
	}

	if len(res.Citations) > 0 {
		lines := []string{"<b>Цитаты</b>"}
		for i, c := range res.Citations {
			escaped := html.EscapeString(c)
			lines = append(lines, fmt.Sprintf("%d. <a href=\"%s\">%s</a>", i+1, escaped, html.EscapeString(truncateURL(c, 80))))
		}
		sections = append(sections, packLines(lines, MaxMessageLength)...)
	}

	if res.Err != nil {
		sections = append(sections, fmt.Sprintf("⚠️ Не удалось разобрать содержимое ответа: %s\nВыше показан исходный JSON.", html.EscapeString(res.Err.Error())))
	}

	return packSections(sections, MaxMessageLength)
}

// codeBlocks режет JSON по строкам так, чтобы каждый кусок вместе с тегами
// влезал в maxLen. Экранирование учитывается, теги не разрываются.
func codeBlocks(text string, maxLen int) []string {
	budget := maxLen - len(codeOpen) - len(codeClose)

	var (
		blocks []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			blocks = append(blocks, codeOpen+cur.String()+codeClose)
			cur.Reset()
		}
	}

	for _, line := range strings.SplitAfter(strings.TrimRight(text, "\n"), "\n") {
		esc := html.EscapeString(line)
		for len(esc) > budget {
			flush()
			head, rest := splitEscaped(line, budget)
			blocks = append(blocks, codeOpen+head+codeClose)
			line = rest
			esc = html.EscapeString(line)
		}
		if cur.Len()+len(esc) > budget {
			flush()
		}
		cur.WriteString(esc)
	}
	flush()

	return blocks
}

// splitEscaped отрезает от s максимальный префикс, который после
// экранирования влезает в budget. Руны не режутся.
func splitEscaped(s string, budget int) (string, string) {
	var b strings.Builder
	for i, r := range s {
		e := html.EscapeString(string(r))
		if b.Len()+len(e) > budget && b.Len() > 0 {
			return b.String(), s[i:]
		}
		b.WriteString(e)
	}
	return b.String(), ""
}

// packLines собирает строки в сообщения, не разрывая ни одну строку.
func packLines(lines []string, maxLen int) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, l := range lines {
		if cur.Len() > 0 && cur.Len()+1+len(l) > maxLen {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(l)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// packSections склеивает соседние секции, пока влезают в одно сообщение.
func packSections(sections []string, maxLen int) []string {
	var (
		out []string
		cur string
	)
	for _, s := range sections {
		if cur == "" {
			cur = s
			continue
		}
		if len(cur)+2+len(s) > maxLen {
			out = append(out, cur)
			cur = s
			continue
		}
		cur += "\n\n" + s
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func FormatModels(models []string, current string) string {
	var sb strings.Builder
	sb.WriteString("<b>Доступные модели:</b>\n")
	for _, m := range models {
		marker := "○"
		if m == current {
			marker = "●"
		}
		sb.WriteString(fmt.Sprintf("%s %s\n", marker, html.EscapeString(m)))
	}
	sb.WriteString("\nВыбор: /model название")
	return sb.String()
}

func SplitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var messages []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			messages = append(messages, text)
			break
		}

		splitPoint := findSafeSplitPoint(text, maxLen)
		if splitPoint <= 0 || splitPoint > len(text) {
			splitPoint = maxLen
		}

		messages = append(messages, text[:splitPoint])
		text = text[splitPoint:]
	}

	return messages
}

func findSafeSplitPoint(text string, maxLen int) int {
	// ищем перевод строки или пробел, не ломая HTML-сущности
	for i := maxLen - 1; i > maxLen/2; i-- {
		if i >= len(text) {
			continue
		}
		if isInsideEntity(text, i) {
			continue
		}
		if text[i] == '\n' || text[i] == ' ' {
			return i + 1
		}
	}

	// пробелов нет - режем по границе руны вне сущности
	for i := maxLen; i > 0; i-- {
		if isRuneStart(text[i]) && !isInsideEntity(text, i) {
			return i
		}
	}

	return maxLen
}

// isInsideEntity - позиция внутри &...; после html.EscapeString
func isInsideEntity(text string, pos int) bool {
	if pos >= len(text) || pos < 0 {
		return false
	}
	for i := pos - 1; i >= 0 && i >= pos-8; i-- {
		if text[i] == ';' {
			return false
		}
		if text[i] == '&' {
			return true
		}
	}
	return false
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func maskKey(key string) string {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return "<i>не задан</i>"
	case len(key) <= 8:
		return "••••"
	default:
		return html.EscapeString(key[:4]) + "••••" + html.EscapeString(key[len(key)-4:])
	}
}

func onOff(b bool) string {
	if b {
		return "вкл"
	}
	return "выкл"
}

func formatDate(unset bool, s string) string {
	if unset {
		return "…"
	}
	return s
}

func maxResultsOrDefault(n int) int {
	if n == 0 {
		return domain.DefaultMaxResults
	}
	return n
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// truncateURL укорачивает ссылку до maxLen байт, не разрывая руны.
func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(url[cut]) {
		cut--
	}
	return url[:cut] + "..."
}
