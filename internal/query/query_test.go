package query

import (
	"errors"
	"reflect"
	"testing"

	"github.com/starford/beetle/internal/apperr"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in        string
		wantMatch string
		wantTerms []string
	}{
		{"hello", `"hello"`, []string{"hello"}},
		{"Hello World", `"Hello" "World"`, []string{"hello", "world"}},
		{"conf*", `"conf"*`, []string{"conf"}},
		{`"exact phrase" other`, `"exact phrase" "other"`, []string{"exact", "phrase", "other"}},
		{"a OR b", `"a" OR "b"`, []string{"a", "b"}},
		{"keep NOT drop", `"keep" NOT "drop"`, []string{"keep"}},
		{"x AND y", `"x" AND "y"`, []string{"x", "y"}},
		{"OR leading", `"leading"`, []string{"leading"}},
		{"trailing NOT", `"trailing"`, []string{"trailing"}},
		{"a AND NOT b", `"a" NOT "b"`, []string{"a"}},
		{"or and not", `"or" "and" "not"`, []string{"or", "and", "not"}},
		{`say"hi"`, `"say" "hi"`, []string{"say", "hi"}},
		{`fmt.Println("x")`, `"fmt.Println(" "x" ")"`, []string{"fmt.println(", "x", ")"}},
		{"path:main content:func", `path:"main" content:"func"`, []string{"main", "func"}},
		{"other:thing", `"other:thing"`, []string{"other:thing"}},
		{"path:", `"path:"`, []string{"path:"}},
		{`"unterminated phrase`, `"unterminated phrase"`, []string{"unterminated", "phrase"}},
		{"dup dup DUP", `"dup" "dup" "DUP"`, []string{"dup"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			q, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if q.Match != tt.wantMatch {
				t.Errorf("Match = %s, want %s", q.Match, tt.wantMatch)
			}
			if !reflect.DeepEqual(q.Terms, tt.wantTerms) {
				t.Errorf("Terms = %v, want %v", q.Terms, tt.wantTerms)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", `""`, "AND OR NOT"} {
		if _, err := Parse(in); !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Errorf("Parse(%q) err = %v, want ErrInvalidArgument", in, err)
		}
	}
}
