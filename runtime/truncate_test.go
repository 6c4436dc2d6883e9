package runtime

import (
	"strings"
	"testing"
)

func TestTruncatorShortTextUntouched(t *testing.T) {
	tr := NewTruncator(100)
	out, clipped := tr.Clip("short result")
	if clipped {
		t.Error("short text must not be clipped")
	}
	if out != "short result" {
		t.Errorf("output = %q", out)
	}
}

func TestTruncatorClipsLongText(t *testing.T) {
	tr := NewTruncator(10)
	long := strings.Repeat("alpha beta gamma ", 200)

	out, clipped := tr.Clip(long)
	if !clipped {
		t.Fatal("expected long text to be clipped")
	}
	if len(out) >= len(long) {
		t.Errorf("clipped output not shorter: %d vs %d", len(out), len(long))
	}
	if !strings.HasSuffix(out, truncationNotice) {
		t.Errorf("missing truncation notice: %q", out[len(out)-40:])
	}
}

func TestTruncatorEmptyText(t *testing.T) {
	tr := NewTruncator(10)
	if out, clipped := tr.Clip(""); clipped || out != "" {
		t.Error("empty text must pass through")
	}
}

func TestTruncatorDefaultLimit(t *testing.T) {
	if tr := NewTruncator(0); tr.limit != DefaultResultTokens {
		t.Errorf("limit = %d, want %d", tr.limit, DefaultResultTokens)
	}
	if tr := NewTruncator(-5); tr.limit != DefaultResultTokens {
		t.Errorf("limit = %d, want %d", tr.limit, DefaultResultTokens)
	}
}

func TestTruncatorRuneFallback(t *testing.T) {
	tr := &Truncator{limit: 2}
	out, clipped := tr.clipRunes("abcdefghij")
	if !clipped {
		t.Fatal("expected clipping at 8 runes")
	}
	if !strings.HasPrefix(out, "abcdefgh") {
		t.Errorf("output = %q", out)
	}

	if _, clipped := tr.clipRunes("abc"); clipped {
		t.Error("text within budget must not be clipped")
	}
}
