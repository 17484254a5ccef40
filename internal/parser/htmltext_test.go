package parser

import (
	"strings"
	"testing"
)

func TestHTMLToTextBlocks(t *testing.T) {
	got := htmlToText("<div>one</div><div>two</div>")
	if got != "one\ntwo" {
		t.Errorf("unexpected text: %q", got)
	}
}

func TestHTMLToTextSkipsScriptAndStyle(t *testing.T) {
	got := htmlToText("<style>p{color:red}</style><script>alert(1)</script><p>visible</p>")
	if got != "visible" {
		t.Errorf("unexpected text: %q", got)
	}
}

func TestHTMLToTextEntities(t *testing.T) {
	got := htmlToText("<p>a &amp; b</p>")
	if got != "a & b" {
		t.Errorf("unexpected text: %q", got)
	}
}

func TestHTMLToTextCollapsesWhitespace(t *testing.T) {
	got := htmlToText("<p>  spaced   out  </p>\n\n\n<p>next</p>")
	if strings.Contains(got, "  ") {
		t.Errorf("runs of spaces left in: %q", got)
	}
	if got != "spaced out\nnext" {
		t.Errorf("unexpected text: %q", got)
	}
}

func TestHTMLToTextPlainInput(t *testing.T) {
	if got := htmlToText("no markup at all"); got != "no markup at all" {
		t.Errorf("unexpected text: %q", got)
	}
}
