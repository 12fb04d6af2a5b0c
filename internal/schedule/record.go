package schedule

import (
	"bufio"
	"bytes"
	"sort"
	"strings"
	"time"
)

// On-disk field names. Older files written by the previous console use the
// Portuguese names; both are accepted when reading.
const (
	fieldID        = "id"
	fieldRecipient = "recipient"
	fieldDate      = "date"
	fieldTime      = "time"
	fieldBody      = "body"
	fieldStatus    = "status"
	fieldCreated   = "created"
	fieldSentAt    = "sent_at"
)

var legacyFields = map[string]string{
	"numero":   fieldRecipient,
	"data":     fieldDate,
	"hora":     fieldTime,
	"mensagem": fieldBody,
	"criado":   fieldCreated,
}

var escaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)

func escape(v string) string { return escaper.Replace(v) }

func unescape(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c != '\\' || i+1 == len(v) {
			b.WriteByte(c)
			continue
		}
		i++
		switch v[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

func parseStatus(v string) Status {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "sent", "enviado":
		return StatusSent
	default:
		return StatusPending
	}
}

// encode serialises every field of m, one key=value per line. Values are
// escaped so a newline in the body can never start a new field.
func encode(m Message) []byte {
	var b bytes.Buffer
	line := func(k, v string) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(escape(v))
		b.WriteByte('\n')
	}
	if m.ID != "" {
		line(fieldID, m.ID)
	}
	line(fieldRecipient, m.Recipient)
	line(fieldDate, m.Date)
	line(fieldTime, m.Time)
	line(fieldBody, m.Body)
	line(fieldStatus, string(m.Status))
	if !m.CreatedAt.IsZero() {
		line(fieldCreated, m.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	if m.SentAt != nil {
		line(fieldSentAt, m.SentAt.UTC().Format(time.RFC3339Nano))
	}
	for _, k := range sortedKeys(m.Extra) {
		line(k, m.Extra[k])
	}
	return b.Bytes()
}

// decode reads key=value lines. Lines without '=' are ignored; keys it does
// not know are kept in Extra.
func decode(sc *bufio.Scanner) (Message, error) {
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	m := Message{Status: StatusPending}
	for sc.Scan() {
		l := sc.Text()
		idx := strings.Index(l, "=")
		if idx < 0 {
			continue
		}
		k := strings.TrimSpace(l[:idx])
		v := unescape(strings.TrimSpace(l[idx+1:]))
		if alias, ok := legacyFields[k]; ok {
			k = alias
		}
		switch k {
		case fieldID:
			m.ID = v
		case fieldRecipient:
			m.Recipient = v
		case fieldDate:
			m.Date = v
		case fieldTime:
			m.Time = v
		case fieldBody:
			m.Body = v
		case fieldStatus:
			m.Status = parseStatus(v)
		case fieldCreated:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				m.CreatedAt = t
			}
		case fieldSentAt:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				m.SentAt = &t
			}
		case "":
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]string)
			}
			m.Extra[k] = v
		}
	}
	return m, sc.Err()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
