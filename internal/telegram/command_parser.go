package telegram

import (
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/kitbuilder587/livesearch-bot/internal/domain"
)

var (
	ErrInvalidToggle = errors.New("expected on or off")
	ErrInvalidNumber = errors.New("expected a number")
)

// clearArg - аргумент, которым очищают необязательное поле
const clearArg = "-"

// ParseCommand разбирает "/cmd@bot аргументы". Аргументы могут быть
// многострочными: "/web_exclude\na.com\nb.com".
func ParseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}

	end := strings.IndexFunc(text, unicode.IsSpace)
	head := text
	if end >= 0 {
		head = text[:end]
		args = strings.TrimSpace(text[end:])
	}

	cmd = strings.ToLower(strings.TrimPrefix(head, "/"))
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd == "" {
		return "", "", false
	}
	return cmd, args, true
}

func ParseToggle(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes", "true", "1", "да", "вкл":
		return true, nil
	case "off", "no", "false", "0", "нет", "выкл":
		return false, nil
	}
	return false, ErrInvalidToggle
}

func ParseMaxResults(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, ErrInvalidNumber
	}
	if err := domain.ValidateMaxResults(n); err != nil {
		return 0, err
	}
	return n, nil
}

// ParseOptionalDate: "-" очищает дату.
func ParseOptionalDate(s string) (time.Time, error) {
	if strings.TrimSpace(s) == clearArg {
		return time.Time{}, nil
	}
	return domain.ParseDate(s)
}

func ParseOptionalCountry(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == clearArg {
		return "", nil
	}
	if err := domain.ValidateCountry(s); err != nil {
		return "", err
	}
	return s, nil
}

// NormalizeHandles убирает @ в начале каждого хэндла, пустые строки выкидывает.
func NormalizeHandles(text string) string {
	lines := domain.SplitLines(text)
	for i, l := range lines {
		lines[i] = strings.TrimLeft(l, "@")
	}
	return strings.Join(lines, "\n")
}

func IsClearArg(s string) bool {
	return strings.TrimSpace(s) == clearArg
}
