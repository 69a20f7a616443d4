package himalaya

import "testing"

func TestParseEnvelopeList(t *testing.T) {
	t.Parallel()

	out := "ID\tFLAGS\tFROM\tSUBJECT\n" +
		"42\t*\tana@example.com\tMeeting tomorrow\n" +
		"43\t \tbob@example.com\tRe: invoice\n" +
		"\n" +
		"malformed line without tabs\n" +
		"44\t*\tcarol@example.com\tTabs\tin subject tail\n"

	envelopes := ParseEnvelopeList(out)
	if len(envelopes) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(envelopes), envelopes)
	}

	if envelopes[0].ID != "42" || envelopes[0].From != "ana@example.com" ||
		envelopes[0].Subject != "Meeting tomorrow" {
		t.Errorf("envelopes[0] = %+v", envelopes[0])
	}
	if envelopes[1].ID != "43" || envelopes[1].Subject != "Re: invoice" {
		t.Errorf("envelopes[1] = %+v", envelopes[1])
	}
	// O quarto campo é o começo do assunto; o resto da linha é ignorado.
	if envelopes[2].Subject != "Tabs" {
		t.Errorf("envelopes[2].Subject = %q", envelopes[2].Subject)
	}
}

func TestParseEnvelopeListEmpty(t *testing.T) {
	t.Parallel()

	if got := ParseEnvelopeList(""); len(got) != 0 {
		t.Errorf("empty output should yield no envelopes, got %+v", got)
	}
	if got := ParseEnvelopeList("ID\tFLAGS\tFROM\tSUBJECT\n"); len(got) != 0 {
		t.Errorf("header-only output should yield no envelopes, got %+v", got)
	}
}
