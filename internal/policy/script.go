package policy

import "unicode/utf8"

// DefaultPreamble is the system instruction sent ahead of every conversation.
const DefaultPreamble = "너는 한국어로 답하는 챗봇이다.\n" +
	"아래 규칙은 절대 규칙이다.\n" +
	"1) 중국어(한자)와 일본어(히라가나/가타카나)는 절대 사용하지 않는다.\n" +
	"2) 영어 단어는 필요하면 써도 되지만, 가능한 한국어로 설명을 우선한다.\n" +
	"3) 확신이 없으면 단정하지 말고 불확실성 표현(예: ~일 수 있습니다)을 포함한다.\n"

// CorrectiveInstruction is appended as a system message when an answer
// contains banned script characters.
const CorrectiveInstruction = "방금 답변에 한자/일본어가 섞였다. " +
	"한자(중국어)와 일본어(히라가나/가타카나)를 절대 쓰지 말고 " +
	"한국어 중심으로 다시 답해. 영어 단어는 필요하면 써도 된다."

type runeRange struct {
	lo, hi rune
}

// Chinese and Japanese script blocks. Hangul is deliberately outside all of them.
var bannedScriptRanges = []runeRange{
	{0x3400, 0x4DBF}, // CJK Unified Ideographs Extension A
	{0x4E00, 0x9FFF}, // CJK Unified Ideographs
	{0xF900, 0xFAFF}, // CJK Compatibility Ideographs
	{0x3040, 0x30FF}, // Hiragana, Katakana
	{0x31F0, 0x31FF}, // Katakana Phonetic Extensions
	{0xFF66, 0xFF9D}, // Halfwidth Katakana
}

// ContainsBannedScript reports whether text holds any Chinese or Japanese script rune.
func ContainsBannedScript(text string) bool {
	_, ok := FirstBannedRune(text)
	return ok
}

// FirstBannedRune returns the first banned script rune in text.
func FirstBannedRune(text string) (rune, bool) {
	for len(text) > 0 {
		r, size := utf8.DecodeRuneInString(text)
		text = text[size:]
		if isBanned(r) {
			return r, true
		}
	}
	return 0, false
}

func isBanned(r rune) bool {
	for _, rr := range bannedScriptRanges {
		if r >= rr.lo && r <= rr.hi {
			return true
		}
	}
	return false
}
