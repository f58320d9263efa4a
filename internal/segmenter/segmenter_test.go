package segmenter

import "testing"

func TestClean(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		inputs := []string{
			"# Header\nSome **bold** and _italic_ text with a [link](http://example.com).",
			"| a | b |\n|---|---|\n| 1 | 2 |",
			"```go\nfmt.Println(1)\n```\nDone.",
			"- item one\n- item two\n",
			"100% done @ 5pm & more + less = result",
		}
		for _, in := range inputs {
			once := Clean(in)
			twice := Clean(once)
			if once != twice {
				t.Errorf("Clean not idempotent for %q: once=%q twice=%q", in, once, twice)
			}
		}
	})

	t.Run("strips markdown", func(t *testing.T) {
		got := Clean("# Title\nHello **world**, see [docs](http://x.com/y).")
		if got == "" {
			t.Fatal("expected non-empty result")
		}
		for _, forbidden := range []string{"#", "**", "[", "]", "(http"} {
			if contains(got, forbidden) {
				t.Errorf("expected %q stripped from %q", forbidden, got)
			}
		}
	})

	t.Run("symbol substitution", func(t *testing.T) {
		got := Clean("cats & dogs")
		if !contains(got, "and") {
			t.Errorf("expected 'and' substitution, got %q", got)
		}
	})
}

func TestExtractCompleteSentenceAbbreviation(t *testing.T) {
	buf := "Dr. Smith went home. He was tired."
	var got []string
	for {
		s, rest, ok := ExtractCompleteSentence(buf)
		if !ok {
			break
		}
		got = append(got, s)
		buf = rest
	}
	want := []string{"Dr. Smith went home.", "He was tired."}
	if len(got) != len(want) {
		t.Fatalf("got %d sentences %q, want %q", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestExtractCompleteSentenceDecimal(t *testing.T) {
	s, rest, ok := ExtractCompleteSentence("The price is 3.50 dollars. Thanks.")
	if !ok {
		t.Fatal("expected a boundary")
	}
	if s != "The price is 3.50 dollars." {
		t.Errorf("got %q", s)
	}
	if rest != "Thanks." {
		t.Errorf("got rest %q", rest)
	}
}

func TestExtractCompleteSentenceForcedBreak(t *testing.T) {
	words := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		words = append(words, "word")
	}
	buf := join(words, " ")

	s, rest, ok := ExtractCompleteSentence(buf)
	if !ok {
		t.Fatal("expected a forced break")
	}
	if wordCountOf(s) != maxWordsPerChunk {
		t.Errorf("expected %d words, got %d (%q)", maxWordsPerChunk, wordCountOf(s), s)
	}
	if wordCountOf(rest) != 5 {
		t.Errorf("expected 5 remaining words, got %d (%q)", wordCountOf(rest), rest)
	}
}

func TestExtractCompleteSentenceNoBoundary(t *testing.T) {
	s, rest, ok := ExtractCompleteSentence("partial sentence no end")
	if ok {
		t.Fatalf("expected no boundary, got sentence %q", s)
	}
	if rest != "partial sentence no end" {
		t.Errorf("expected buffer unchanged, got %q", rest)
	}
}

func TestEndsWithQuestion(t *testing.T) {
	if !EndsWithQuestion("What time is it?  ") {
		t.Error("expected true")
	}
	if EndsWithQuestion("It is noon.") {
		t.Error("expected false")
	}
}

func TestExtractLastQuestion(t *testing.T) {
	if _, ok := ExtractLastQuestion(nil); ok {
		t.Error("expected false for empty slice")
	}
	q, ok := ExtractLastQuestion([]string{"Sure.", "What time?"})
	if !ok || q != "What time?" {
		t.Errorf("got (%q, %v)", q, ok)
	}
	if _, ok := ExtractLastQuestion([]string{"Not a question."}); ok {
		t.Error("expected false")
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func join(words []string, sep string) string {
	out := ""
	for i, w := range words {
		if i > 0 {
			out += sep
		}
		out += w
	}
	return out
}

func wordCountOf(s string) int {
	count := 0
	inWord := false
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\t' {
			if inWord {
				count++
				inWord = false
			}
		} else {
			inWord = true
		}
	}
	if inWord {
		count++
	}
	return count
}
