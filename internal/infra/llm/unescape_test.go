package llm

import "testing"

func TestUnescape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no escapes passthrough", "plain text", "plain text"},
		{"newline", `line one\nline two`, "line one\nline two"},
		{"tab and return", `a\tb\rc`, "a\tb\rc"},
		{"escaped quote", `say \"hi\"`, `say "hi"`},
		{"escaped slash", `a\/b`, "a/b"},
		{"escaped backslash", `c:\\temp`, `c:\temp`},
		{"unicode bmp", `caf\u00e9`, "café"},
		{"unicode surrogate pair", `\ud83d\ude00`, "😀"},
		{"unknown escape kept", `\q`, `\q`},
		{"trailing backslash kept", `end\`, `end\`},
		{"malformed unicode kept", `\u12`, `\u12`},
		{"mixed", `**bold**\n\t- item`, "**bold**\n\t- item"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Unescape(tt.in); got != tt.want {
				t.Errorf("Unescape(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestUnescape_UnpairedSurrogate(t *testing.T) {
	t.Parallel()

	// A lone high surrogate cannot map to a valid rune — it must become the
	// replacement character, never be dropped.
	got := Unescape(`a\ud83db`)
	if got != "a\uFFFDb" {
		t.Errorf("Unescape unpaired surrogate = %q, want %q", got, "a\uFFFDb")
	}
}
