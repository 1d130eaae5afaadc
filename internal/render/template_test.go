package render

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseTemplate_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown directive", "{{author}}"},
		{"unterminated", "{{title"},
		{"nested loop", "{{#each paragraphs}}{{#each paragraphs}}{{/each}}{{/each}}"},
		{"unclosed loop", "{{#each paragraphs}}{{paragraph}}"},
		{"close without open", "{{/each}}"},
		{"loop var outside loop", "{{paragraph}}"},
		{"loop over other", "{{#each lines}}{{/each}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTemplate(tt.src)
			if !errors.Is(err, ErrTemplate) {
				t.Errorf("ParseTemplate(%q) error = %v, want ErrTemplate", tt.src, err)
			}
		})
	}
}

func TestTemplate_Execute(t *testing.T) {
	data := ChapterData{Title: "Dawn", Index: 3, Content: "first\n\n second \nthird"}

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"plain text", "no directives", "no directives"},
		{"vars", "{{index}}. {{ title }}", "3. Dawn"},
		{"content", "[{{content}}]", "[first\n\n second \nthird]"},
		{"paragraphs", "{{paragraphs}}", "first\nsecond\nthird"},
		{"loop", "{{#each paragraphs}}<p n={{number}}>{{paragraph}}</p>{{/each}}", "<p n=1>first</p><p n=2>second</p><p n=3>third</p>"},
		{"title inside loop", "{{#each paragraphs}}{{title}}{{/each}}", "DawnDawnDawn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := ParseTemplate(tt.src)
			if err != nil {
				t.Fatalf("ParseTemplate() error = %v", err)
			}
			if got := tmpl.Execute(data); got != tt.want {
				t.Errorf("Execute() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTemplate_ImageParagraphs(t *testing.T) {
	tmpl, err := ParseTemplate("{{#each paragraphs}}{{number}}: {{paragraph}}|{{/each}}")
	if err != nil {
		t.Fatalf("ParseTemplate() error = %v", err)
	}
	got := tmpl.Execute(ChapterData{Content: "first\n[img]https://p3.example/a.jpg[/img]\nsecond"})
	want := "1: first|\n[img]https://p3.example/a.jpg[/img]\n2: second|"
	if got != want {
		t.Errorf("Execute() = %q, want %q", got, want)
	}
}

func TestTemplate_EmptyBody(t *testing.T) {
	tmpl, err := ParseTemplate("{{#each paragraphs}}x{{/each}}|{{paragraphs}}")
	if err != nil {
		t.Fatalf("ParseTemplate() error = %v", err)
	}
	if got := tmpl.Execute(ChapterData{}); got != "|" {
		t.Errorf("Execute() = %q, want %q", got, "|")
	}
}

func TestLoadTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chapter.tmpl")
	if err := os.WriteFile(path, []byte("{{title}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTemplate(path); err != nil {
		t.Errorf("LoadTemplate() error = %v", err)
	}
	if _, err := LoadTemplate(path + ".missing"); err == nil {
		t.Error("LoadTemplate() should fail for a missing file")
	}
}
