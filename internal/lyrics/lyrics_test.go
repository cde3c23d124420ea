package lyrics

import "testing"

func TestParseLine(t *testing.T) {
	cases := []struct {
		raw    string
		want   Line
		wantOK bool
	}{
		{"[01:02.30]hello", Line{TimeMs: 62300, Text: "hello"}, true},
		{"[00:00.00]  start  ", Line{TimeMs: 0, Text: "start"}, true},
		{"[10:59.99]end\r", Line{TimeMs: 659990, Text: "end"}, true},
		{"[00:05.00]", Line{TimeMs: 5000, Text: ""}, true},
		{"plain text", Line{}, false},
		{"[ar:Someone]", Line{}, false},
		{"[1:02.30]short minute", Line{}, false},
		{"[01:02.300]three digit fraction", Line{}, false},
	}
	for _, c := range cases {
		got, ok := ParseLine(c.raw)
		if ok != c.wantOK || got != c.want {
			t.Errorf("ParseLine(%q) = %+v, %v; want %+v, %v", c.raw, got, ok, c.want, c.wantOK)
		}
	}
}

func TestParse(t *testing.T) {
	payload := "[ti:Song]\n[00:01.00]first\n\n[00:02.50]\nno timestamp\n[00:03.00]second\n"
	lines := Parse(payload)
	want := []Line{{1000, "first"}, {3000, "second"}}
	if len(lines) != len(want) {
		t.Fatalf("Parse returned %d lines, want %d: %+v", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %+v, want %+v", i, lines[i], want[i])
		}
	}
}

func TestParseKeepsSourceOrder(t *testing.T) {
	lines := Parse("[00:05.00]b\n[00:01.00]a")
	if len(lines) != 2 || lines[0].Text != "b" || lines[1].Text != "a" {
		t.Fatalf("Parse reordered lines: %+v", lines)
	}
}

func TestParseEmpty(t *testing.T) {
	if lines := Parse(""); len(lines) != 0 {
		t.Errorf("Parse(\"\") = %+v, want none", lines)
	}
	if lines := Parse("just words\nmore words"); len(lines) != 0 {
		t.Errorf("plain lyrics parsed as synced: %+v", lines)
	}
}

func TestLocate(t *testing.T) {
	lines := []Line{{1000, "a"}, {2000, "b"}, {3000, "c"}}
	cases := []struct {
		elapsed   int
		wantIndex int
	}{
		{0, -1},
		{999, -1},
		{1000, 0},
		{1999, 0},
		{2000, 1},
		{2500, 1},
		{3000, 2},
		{999999, 2},
	}
	for _, c := range cases {
		line, idx := Locate(lines, c.elapsed)
		if idx != c.wantIndex {
			t.Errorf("Locate(%d) index = %d, want %d", c.elapsed, idx, c.wantIndex)
			continue
		}
		if idx >= 0 && line != lines[idx] {
			t.Errorf("Locate(%d) line = %+v, want %+v", c.elapsed, line, lines[idx])
		}
	}
}

func TestLocateFromStart(t *testing.T) {
	lines := []Line{{0, "a"}, {1000, "b"}, {5000, "c"}}
	cases := []struct {
		elapsed   int
		wantIndex int
		wantText  string
	}{
		{500, 0, "a"},
		{1000, 1, "b"},
		{10000, 2, "c"},
		{-1, -1, ""},
	}
	for _, c := range cases {
		line, idx := Locate(lines, c.elapsed)
		if idx != c.wantIndex || line.Text != c.wantText {
			t.Errorf("Locate(%d) = (%q, %d), want (%q, %d)", c.elapsed, line.Text, idx, c.wantText, c.wantIndex)
		}
	}
}

func TestLocateGreatestReachedIndex(t *testing.T) {
	lines := []Line{{0, "a"}, {400, "b"}, {900, "c"}, {1500, "d"}, {2100, "e"}}
	for elapsed := 0; elapsed <= 2500; elapsed += 50 {
		_, idx := Locate(lines, elapsed)
		want := -1
		for i, l := range lines {
			if l.TimeMs <= elapsed {
				want = i
			}
		}
		if idx != want {
			t.Errorf("Locate(%d) = %d, want %d", elapsed, idx, want)
		}
	}
}

func TestLocateDuplicateOffsets(t *testing.T) {
	lines := []Line{{1000, "a"}, {2000, "b"}, {2000, "c"}, {3000, "d"}}
	// 两行时间相同时前一行永远不会成为当前行，
	// 因为后一行的时间也已经到了
	_, idx := Locate(lines, 2000)
	if idx != 2 {
		t.Errorf("Locate on duplicate offset = %d, want 2", idx)
	}
}

func TestLocateOutOfOrder(t *testing.T) {
	lines := []Line{{5000, "late"}, {1000, "early"}, {2000, "mid"}}
	_, idx := Locate(lines, 1500)
	if idx != 1 {
		t.Errorf("Locate(1500) = %d, want 1", idx)
	}
	_, idx = Locate(lines, 6000)
	if idx != 2 {
		t.Errorf("Locate(6000) = %d, want 2", idx)
	}
}

func TestLocateEmpty(t *testing.T) {
	if _, idx := Locate(nil, 1000); idx != -1 {
		t.Errorf("Locate(nil) = %d, want -1", idx)
	}
}

func TestFormatSynced(t *testing.T) {
	raw := "[ar:Artist]\n[00:01.00]one\n[00:02.00]\n[00:03.00]two\nplain line\n[00:05.00]three"
	lines, current := FormatSynced(raw, 3500)
	want := []string{"one", "two", "plain line", "three"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
	if current != 1 {
		t.Errorf("current = %d, want 1", current)
	}

	if _, current := FormatSynced(raw, 500); current != -1 {
		t.Errorf("current before first line = %d, want -1", current)
	}
}
