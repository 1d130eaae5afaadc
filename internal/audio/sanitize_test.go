package audio

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		title string
		body  string
		want  string
	}{
		{"plain", "第一章", "正文", "第一章。\n正文"},
		{"tags stripped", "T", "<p>a</p><p>b</p>", "T。\n a b"},
		{"blank lines collapsed", "T", "a\r\n\r\n\nb", "T。\na\nb"},
		{"indent and nbsp", "T", "　　a&nbsp;&nbsp;b", "T。\n a b"},
		{"tabs", "T", "a\t\tb", "T。\na b"},
		{"image lines dropped", "T", "a\n[img]https://p3.example/x.jpg[/img]\nb", "T。\na\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.title, tt.body); got != tt.want {
				t.Errorf("Sanitize() = %q, want %q", got, tt.want)
			}
		})
	}
}
