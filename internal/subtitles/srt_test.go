package subtitles

import (
	"testing"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:03,500
Previously on the show.

2
00:00:04,000 --> 00:00:06,000
<i>We have to go back.</i>

3
00:01:00,000 --> 00:01:02,000
This block has dialogue.

garbage block without timing

4
00:02:00,000 --> 00:02:01,000
`

func TestParseSRTContent(t *testing.T) {
	cues := ParseSRTContent(sampleSRT)
	if len(cues) != 3 {
		t.Fatalf("cue count = %d, want 3 (malformed and empty blocks skipped)", len(cues))
	}
	if cues[0].Start != 1.0 || cues[0].End != 3.5 {
		t.Fatalf("first cue timing = %f..%f", cues[0].Start, cues[0].End)
	}
	if cues[0].Text != "Previously on the show." {
		t.Fatalf("first cue text = %q", cues[0].Text)
	}
}

func TestParseSRTContentCRLF(t *testing.T) {
	crlf := "1\r\n00:00:01,000 --> 00:00:02,000\r\nHello there.\r\n"
	cues := ParseSRTContent(crlf)
	if len(cues) != 1 || cues[0].Text != "Hello there." {
		t.Fatalf("CRLF parse failed: %+v", cues)
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"00:00:01,000", 1.0, false},
		{"01:02:03,450", 3723.45, false},
		{"00:00:05.250", 5.25, false},
		{"garbage", 0, true},
		{"00:01,000", 0, true},
	}
	for _, tc := range cases {
		got, err := parseTimestamp(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseTimestamp(%q) succeeded, want error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseTimestamp(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseTimestamp(%q) = %f, want %f", tc.in, got, tc.want)
		}
	}
}

func TestDialogueWindow(t *testing.T) {
	cues := ParseSRTContent(sampleSRT)
	window := DialogueWindow(cues, 0, 10)
	if window != "Previously on the show.\n<i>We have to go back.</i>" {
		t.Fatalf("window text = %q", window)
	}
	if got := DialogueWindow(cues, 300, 400); got != "" {
		t.Fatalf("out-of-range window = %q, want empty", got)
	}
}

func TestParseEpisodeCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Arrested Development - S03E01.srt", "S03E01"},
		{"show.s1e2.srt", "S01E02"},
		{"Show 3x07 something.srt", "S03E07"},
		{"no code here.srt", ""},
		{"S00E01.srt", ""},
	}
	for _, tc := range cases {
		if got := ParseEpisodeCode(tc.in); got != tc.want {
			t.Errorf("ParseEpisodeCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSplitEpisodeCode(t *testing.T) {
	season, episode, ok := SplitEpisodeCode("S03E07")
	if !ok || season != 3 || episode != 7 {
		t.Fatalf("SplitEpisodeCode = (%d, %d, %v)", season, episode, ok)
	}
	if _, _, ok := SplitEpisodeCode("nope"); ok {
		t.Fatal("expected failure for invalid code")
	}
}
