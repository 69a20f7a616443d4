package template

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeMemory serve entradas fixas, a mais recente primeiro.
type fakeMemory struct {
	entries []Entry // index 0 = mais recente
}

func (f *fakeMemory) Recent(alias string, n int) ([]Entry, error) {
	if n > len(f.entries) {
		n = len(f.entries)
	}
	return f.entries[:n], nil
}

func (f *fakeMemory) NthFromEnd(alias string, n int) (Entry, error) {
	if n >= len(f.entries) {
		return Entry{}, fmt.Errorf("not found")
	}
	return f.entries[n], nil
}

type fakeSecrets map[string]string

func (f fakeSecrets) Resolve(name string) (string, error) {
	if v, ok := f[name]; ok {
		return v, nil
	}
	return "", fmt.Errorf("not found")
}

type fakeAgent struct {
	fail bool
}

func (f *fakeAgent) Complete(ctx context.Context, prompt, system string) (string, error) {
	if f.fail {
		return "", fmt.Errorf("backend down")
	}
	return "agent(" + prompt + ")", nil
}

func frozenContext() *Context {
	return &Context{
		Now:        time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Alias:      "job",
		Dictionary: map[string]string{"name": "Ana"},
	}
}

func TestRenderClockTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"plain date", "{% date %}", "2024-03-05"},
		{"date minus day", "{% date minus=1d %}", "2024-03-04"},
		{"date plus day", "{% date plus=2d %}", "2024-03-07"},
		{"date minus hours crosses midnight", "{% date minus=3h %}", "2024-03-04"},
		{"date minus minutes", "{% datetime minus=30m %}", "2024-03-04 23:30"},
		{"datetime", "{% datetime %}", "2024-03-05 00:00"},
		{"datetimeiso", "{% datetimeiso %}", "2024-03-05T00:00:00Z"},
		{"literal around tag", "on {% date %}.", "on 2024-03-05."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Render(context.Background(), tt.tmpl, frozenContext())
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderDictionary(t *testing.T) {
	t.Parallel()

	got, err := Render(context.Background(), "Good morning {% custom:name %}", frozenContext())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Good morning Ana" {
		t.Errorf("Render = %q", got)
	}

	_, err = Render(context.Background(), "{% custom:missing %}", frozenContext())
	assertRenderKind(t, err, KindUndefined)
}

func TestRenderMessageContext(t *testing.T) {
	t.Parallel()

	rc := frozenContext()
	rc.HasMessage = true
	rc.Message = "tell me a joke"
	rc.Sender = "12345"

	got, err := Render(context.Background(), "{% sender %}: {% message %}", rc)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "12345: tell me a joke" {
		t.Errorf("Render = %q", got)
	}

	// Fora de dispatch por canal, message e sender são erros duros.
	for _, tmpl := range []string{"{% message %}", "{% sender %}"} {
		_, err := Render(context.Background(), tmpl, frozenContext())
		assertRenderKind(t, err, KindUndefined)
	}
}

func TestRenderResultContext(t *testing.T) {
	t.Parallel()

	rc := frozenContext()
	rc.HasResult = true
	rc.Result = "Sunny, 18°C"

	got, err := Render(context.Background(), "Good morning {% custom:name %}; {% result %}", rc)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Good morning Ana; Sunny, 18°C" {
		t.Errorf("Render = %q", got)
	}

	_, err = Render(context.Background(), "{% result %}", frozenContext())
	assertRenderKind(t, err, KindUndefined)
}

func TestRenderMemory(t *testing.T) {
	t.Parallel()

	mem := &fakeMemory{entries: []Entry{
		{Result: "latest"},
		{Result: "older"},
		{Result: "oldest"},
	}}

	tests := []struct {
		tmpl    string
		want    string
		wantErr bool
	}{
		{"{% memory %}", "latest", false},
		{"{% memory minus=0 %}", "latest", false},
		{"{% memory minus=1 %}", "older", false},
		{"{% memory minus=2 %}", "oldest", false},
		{"{% memory minus=3 %}", "", true},
	}

	for _, tt := range tests {
		rc := frozenContext()
		rc.Memory = mem
		got, err := Render(context.Background(), tt.tmpl, rc)
		if tt.wantErr {
			assertRenderKind(t, err, KindUndefined)
			continue
		}
		if err != nil {
			t.Fatalf("Render(%q): %v", tt.tmpl, err)
		}
		if got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.tmpl, got, tt.want)
		}
	}
}

func TestRenderMemoriesLoop(t *testing.T) {
	t.Parallel()

	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	rc := frozenContext()
	rc.Memory = &fakeMemory{entries: []Entry{
		{Result: "r2", Summary: "s2", CreatedAt: day(4)},
		{Result: "r1", Summary: "s1", CreatedAt: day(3)},
		{Result: "r0", Summary: "s0", CreatedAt: day(2)},
	}}

	got, err := Render(context.Background(),
		"{% for i in memories limit:2 %}[{% i.date %} {% i.result %} {% i.summary %}]{% endfor %}", rc)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "[2024-03-04 r2 s2][2024-03-03 r1 s1]"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestRenderRangeLoop(t *testing.T) {
	t.Parallel()

	got, err := Render(context.Background(), "{% for i in (0..3) %}{% i %};{% endfor %}", frozenContext())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "0;1;2;" {
		t.Errorf("Render = %q", got)
	}
}

func TestRenderLoopVarOffset(t *testing.T) {
	t.Parallel()

	got, err := Render(context.Background(),
		`{% for i in (1..3) %}{% date minus=i"d" %} {% endfor %}`, frozenContext())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "2024-03-04 2024-03-03 " {
		t.Errorf("Render = %q", got)
	}
}

func TestRenderProxy(t *testing.T) {
	t.Parallel()

	rc := frozenContext()
	rc.Secrets = fakeSecrets{"weather_api": "key-123"}

	got, err := Render(context.Background(), "curl -H 'X-Key: {% proxy:weather_api %}'", rc)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(got, "key-123") {
		t.Errorf("Render = %q, want resolved secret", got)
	}

	_, err = Render(context.Background(), "{% proxy:missing %}", rc)
	assertRenderKind(t, err, KindUndefined)
}

func TestRenderPipe(t *testing.T) {
	t.Parallel()

	rc := frozenContext()
	rc.HasResult = true
	rc.Result = "long text"
	rc.Agent = &fakeAgent{}

	got, err := Render(context.Background(), "{% result | summary %}", rc)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(got, "long text") || !strings.HasPrefix(got, "agent(") {
		t.Errorf("pipe should route value through agent, got %q", got)
	}

	rc.Agent = &fakeAgent{fail: true}
	_, err = Render(context.Background(), "{% result | summary %}", rc)
	assertRenderKind(t, err, KindPipe)

	rc.Agent = &fakeAgent{}
	_, err = Render(context.Background(), "{% result | shout %}", rc)
	assertRenderKind(t, err, KindMalformed)
}

func TestRenderMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tmpl string
	}{
		{"unclosed span", "before {% date"},
		{"empty span", "{%  %}"},
		{"endfor without for", "{% endfor %}"},
		{"for without endfor", "{% for i in (0..2) %}x"},
		{"bad range", "{% for i in (a..b) %}{% endfor %}"},
		{"memories without limit", "{% for i in memories %}{% endfor %}"},
		{"bad offset unit", "{% date minus=1w %}"},
		{"unknown tag", "{% frobnicate %}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Render(context.Background(), tt.tmpl, frozenContext())
			var re *RenderError
			if !errors.As(err, &re) {
				t.Fatalf("Render(%q) err = %v, want RenderError", tt.tmpl, err)
			}
		})
	}
}

func assertRenderKind(t *testing.T, err error, kind string) {
	t.Helper()
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RenderError", err)
	}
	if re.Kind != kind {
		t.Errorf("kind = %q, want %q", re.Kind, kind)
	}
}
