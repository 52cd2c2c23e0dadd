package domain

import (
	"encoding/json"
	"time"
)

const TimestampLayout = "2006-01-02 15:04:05 UTC"

// Session - состояние одного чата. Живёт только в памяти, истории нет:
// каждая отправка перезаписывает предыдущий результат.
type Session struct {
	Form Form

	LastPayload  *RequestPayload
	LastResponse json.RawMessage
	StatusCode   int
	RespondedAt  time.Time
	RequestID    string
}

func (s *Session) HasResult() bool {
	return len(s.LastResponse) > 0
}

// Clear сбрасывает результат последнего запроса, форма остаётся.
func (s *Session) Clear() {
	s.LastPayload = nil
	s.LastResponse = nil
	s.StatusCode = 0
	s.RespondedAt = time.Time{}
	s.RequestID = ""
}

func (s *Session) Timestamp() string {
	if s.RespondedAt.IsZero() {
		return ""
	}
	return s.RespondedAt.UTC().Format(TimestampLayout)
}

// Clone возвращает копию, которую можно отдавать наружу без блокировок.
func (s *Session) Clone() Session {
	c := *s
	if s.LastPayload != nil {
		p := *s.LastPayload
		c.LastPayload = &p
	}
	if s.LastResponse != nil {
		c.LastResponse = append(json.RawMessage(nil), s.LastResponse...)
	}
	return c
}
