package policy

import "testing"

func TestContainsBannedScript(t *testing.T) {
	cases := []struct {
		name string
		text string
		want bool
	}{
		{"hangul", "안녕하세요, 가격은 오를 수 있습니다.", false},
		{"english", "price may go up", false},
		{"empty", "", false},
		{"han ideograph", "가격이 上昇 중입니다", true},
		{"extension a", "㐀", true},
		{"compatibility", "豈", true},
		{"hiragana", "これは", true},
		{"katakana", "カタカナ", true},
		{"phonetic extension", "ㇰ", true},
		{"halfwidth katakana", "ｶ", true},
		{"halfwidth edge outside", "ﾞ", false},
		{"cjk punctuation", "「안녕」", false},
	}
	for _, tc := range cases {
		if got := ContainsBannedScript(tc.text); got != tc.want {
			t.Fatalf("%s: ContainsBannedScript(%q) = %v, want %v", tc.name, tc.text, got, tc.want)
		}
	}
}

func TestFirstBannedRune(t *testing.T) {
	r, ok := FirstBannedRune("abc 한국 日本")
	if !ok {
		t.Fatalf("expected banned rune")
	}
	if r != '日' {
		t.Fatalf("rune = %q, want %q", r, '日')
	}
}
