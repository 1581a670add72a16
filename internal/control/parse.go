package control

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"multiposter/internal/content"
)

// tokenize splits command text into tokens, honouring quotes and
// backslash escapes: /post text "a b" --delay=45
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// parseFlags splits args into positionals and --k=v / --k v flags.
// A flag with no value is recorded as "true".
func parseFlags(args []string) (pos []string, flags map[string]string) {
	flags = map[string]string{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") || a == "-" || isNumber(a) {
			pos = append(pos, a)
			continue
		}
		key := strings.TrimLeft(a, "-")
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			flags[key[:eq]] = key[eq+1:]
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			flags[key] = args[i+1]
			i++
			continue
		}
		flags[key] = "true"
	}
	return pos, flags
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// commandWord extracts the command name from "/name@bot", lowercased.
func commandWord(tok string) (string, bool) {
	if !strings.HasPrefix(tok, "/") {
		return "", false
	}
	w := strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(w, '@'); i >= 0 {
		w = w[:i]
	}
	w = strings.ToLower(w)
	return w, w != ""
}

// parseDelay accepts whole seconds ("45") or a Go duration ("1m30s").
// Empty means def. Negative values are rejected.
func parseDelay(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("delay must be >= 0")
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q (use seconds like 30 or a duration like 1m30s)", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("delay must be >= 0")
	}
	return d, nil
}

// parsePost reads "/post <type> [delay]" arguments. --delay overrides the
// positional delay.
func parsePost(args []string, def time.Duration) (content.Kind, time.Duration, error) {
	pos, flags := parseFlags(args)
	if len(pos) == 0 {
		return "", 0, fmt.Errorf("usage: /post <text|photo|video> [delay]")
	}
	kind, err := content.ParseKind(pos[0])
	if err != nil {
		return "", 0, err
	}
	raw := ""
	if len(pos) > 1 {
		raw = pos[1]
	}
	if v, ok := flags["delay"]; ok {
		raw = v
	}
	delay, err := parseDelay(raw, def)
	if err != nil {
		return "", 0, err
	}
	return kind, delay, nil
}

// parseCount reads an optional positive count, capped at max.
func parseCount(args []string, def, max int) int {
	if len(args) == 0 {
		return def
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return def
	}
	return min(n, max)
}
