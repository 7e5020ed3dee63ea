package library

import "testing"

func TestKindForExtension(t *testing.T) {
	cases := []struct {
		ext  string
		kind Kind
		ok   bool
	}{
		{"pptx", KindSlides, true},
		{"ppt", KindSlides, true},
		{"pdf", KindPDF, true},
		{"md", KindMarkdown, true},
		{"markdown", KindMarkdown, true},
		{"docx", KindWord, true},
		{"doc", KindWord, true},
		{"txt", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		kind, ok := KindForExtension(tc.ext)
		if ok != tc.ok || kind != tc.kind {
			t.Errorf("KindForExtension(%q) = (%q, %v), want (%q, %v)",
				tc.ext, kind, ok, tc.kind, tc.ok)
		}
	}
}

func TestNeedsConversion(t *testing.T) {
	if !KindSlides.NeedsConversion() || !KindWord.NeedsConversion() {
		t.Error("office kinds must require conversion")
	}
	if KindPDF.NeedsConversion() || KindMarkdown.NeedsConversion() {
		t.Error("native kinds must not require conversion")
	}
}
