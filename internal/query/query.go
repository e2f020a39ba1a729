// Package query turns user search text into an FTS5 MATCH expression.
//
// Supported syntax:
//
//	word          matches the token
//	pre*          matches tokens starting with "pre"
//	"a phrase"    matches the tokens in order
//	a OR b        either side
//	a NOT b       left side without the right side
//	a AND b       both sides (also the default between terms)
//	path:word     restricts a term to the file path
//	content:word  restricts a term to the file content
//
// Everything else is treated as literal text, so user input can never produce
// an FTS5 syntax error.
package query

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/starford/beetle/internal/apperr"
)

// Query is a parsed search.
type Query struct {
	// Match is the FTS5 expression.
	Match string
	// Terms are the lowercased positive words, used for highlighting.
	Terms []string
}

var operators = map[string]struct{}{"AND": {}, "OR": {}, "NOT": {}}

var columns = map[string]struct{}{"path": {}, "content": {}}

type token struct {
	text   string
	op     bool
	phrase bool
}

// Parse converts raw into a Query. Text with no searchable term is an
// apperr.ErrInvalidArgument.
func Parse(raw string) (Query, error) {
	toks := normalize(tokenize(raw))

	var (
		parts   []string
		terms   []string
		negated bool
	)
	for _, t := range toks {
		if t.op {
			parts = append(parts, t.text)
			negated = t.text == "NOT"
			continue
		}
		expr, words := term(t)
		parts = append(parts, expr)
		if !negated {
			terms = append(terms, words...)
		}
		negated = false
	}
	if len(parts) == 0 {
		return Query{}, fmt.Errorf("query: %q has no search terms: %w", raw, apperr.ErrInvalidArgument)
	}
	return Query{Match: strings.Join(parts, " "), Terms: dedupe(terms)}, nil
}

func tokenize(raw string) []token {
	var (
		out []token
		buf strings.Builder
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		w := buf.String()
		buf.Reset()
		if _, ok := operators[w]; ok {
			out = append(out, token{text: w, op: true})
			return
		}
		out = append(out, token{text: w})
	}

	rs := []rune(raw)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '"':
			flush()
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				j++
			}
			if p := strings.TrimSpace(string(rs[i+1 : j])); p != "" {
				out = append(out, token{text: p, phrase: true})
			}
			i = j
		case unicode.IsSpace(r):
			flush()
		default:
			buf.WriteRune(r)
		}
	}
	flush()
	return out
}

// normalize drops operators without a left operand, keeps the last of a run
// of operators and trims trailing ones.
func normalize(toks []token) []token {
	out := make([]token, 0, len(toks))
	for _, t := range toks {
		if t.op {
			if len(out) == 0 {
				continue
			}
			if out[len(out)-1].op {
				out[len(out)-1] = t
				continue
			}
		}
		out = append(out, t)
	}
	for len(out) > 0 && out[len(out)-1].op {
		out = out[:len(out)-1]
	}
	return out
}

func term(t token) (expr string, words []string) {
	text := t.text
	prefix := ""
	if !t.phrase {
		if col, rest, ok := strings.Cut(text, ":"); ok && rest != "" {
			if _, known := columns[strings.ToLower(col)]; known {
				prefix = strings.ToLower(col) + ":"
				text = rest
			}
		}
	}

	star := ""
	if !t.phrase && strings.HasSuffix(text, "*") {
		text = strings.TrimRight(text, "*")
		if text != "" {
			star = "*"
		}
	}
	if text == "" {
		text = t.text
		prefix, star = "", ""
	}

	for _, w := range strings.Fields(strings.ToLower(text)) {
		words = append(words, w)
	}
	return prefix + quote(text) + star, words
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
