package telegram

import "testing"

func TestStripMention(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		botName string
		want    string
	}{
		{"leading mention", "@taskbot weather please", "taskbot", "weather please"},
		{"case insensitive", "@TaskBot weather", "taskbot", "weather"},
		{"leading whitespace", "  @taskbot hi", "taskbot", "hi"},
		{"mention elsewhere untouched", "tell @taskbot hi", "taskbot", "tell @taskbot hi"},
		{"other mention untouched", "@otherbot hi", "taskbot", "@otherbot hi"},
		{"similar prefix untouched", "@taskbotx hi", "taskbot", "@taskbotx hi"},
		{"no bot name", "@taskbot hi", "", "@taskbot hi"},
		{"mention only", "@taskbot", "taskbot", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := StripMention(tt.text, tt.botName); got != tt.want {
				t.Errorf("StripMention(%q, %q) = %q, want %q", tt.text, tt.botName, got, tt.want)
			}
		})
	}
}
