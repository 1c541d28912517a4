// Package mgl prepares Mongolian answer text for speech synthesis:
// it strips characters TTS engines mispronounce and spells numbers out
// as Mongolian words.
package mgl

import (
	"regexp"
	"strconv"
	"strings"
)

// Mongolian Cyrillic covers the basic Cyrillic block plus Ёё, Үү and Өө.
const cyrillic = `\x{0410}-\x{044F}\x{0401}\x{0451}\x{04AE}\x{04AF}\x{04E8}\x{04E9}`

var (
	// Characters that are always stripped, punctuation setting or not.
	unwanted = regexp.MustCompile("[,\"\\-\u00B2!]")

	notAllowedWithPunct = regexp.MustCompile(`[^` + cyrillic + `0-9\s.?!]`)
	notAllowedBare      = regexp.MustCompile(`[^` + cyrillic + `0-9\s]`)

	whitespace = regexp.MustCompile(`\s+`)

	number = regexp.MustCompile(`\b\d+\b`)
)

// Sanitize reduces text to Mongolian Cyrillic, digits and spaces.
// With keepPunctuation the terminators . ? ! survive as pause markers.
func Sanitize(text string, keepPunctuation bool) string {
	cleaned := unwanted.ReplaceAllString(text, " ")
	if keepPunctuation {
		cleaned = notAllowedWithPunct.ReplaceAllString(cleaned, " ")
	} else {
		cleaned = notAllowedBare.ReplaceAllString(cleaned, " ")
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(cleaned, " "))
}

var (
	ones         = []string{"", "нэг", "хоёр", "гурав", "дөрөв", "тав", "зургаа", "долоо", "найм", "ес"}
	tensRoot     = []string{"", "арав", "хорь", "гуч", "дөч", "тавь", "жар", "дал", "ная", "ер"}
	tensCompound = []string{"", "арван", "хорин", "гучин", "дөчин", "тавин", "жаран", "далан", "наян", "ерэн"}
	hundreds     = []string{
		"", "нэг зуу", "хоёр зуу", "гурав зуу", "дөрөв зуу", "тав зуу",
		"зургаа зуу", "долоон зуу", "найман зуу", "есөн зуу",
	}
)

// NumberToWords spells a non-negative integer in Mongolian.
func NumberToWords(n int64) string {
	if n == 0 {
		return "тэг"
	}

	var parts []string
	billions := n / 1_000_000_000
	millions := (n / 1_000_000) % 1_000
	thousands := (n / 1_000) % 1_000
	remainder := n % 1_000

	if billions > 0 {
		parts = append(parts, chunkToWords(billions)+" тэрбум")
	}
	if millions > 0 {
		parts = append(parts, chunkToWords(millions)+" сая")
	}
	if thousands > 0 {
		parts = append(parts, chunkToWords(thousands)+" мянга")
	}
	if remainder > 0 {
		parts = append(parts, chunkToWords(remainder))
	}
	return strings.Join(parts, " ")
}

// chunkToWords spells a value in [1, 999].
func chunkToWords(num int64) string {
	h := num / 100
	t := (num % 100) / 10
	o := num % 10

	var parts []string
	if h > 0 {
		parts = append(parts, hundreds[h])
	}
	switch {
	case t == 0 && o > 0:
		parts = append(parts, ones[o])
	case t > 0 && o == 0:
		parts = append(parts, tensRoot[t])
	case t > 0 && o > 0:
		parts = append(parts, tensCompound[t]+" "+ones[o])
	}
	return strings.Join(parts, " ")
}

// ReplaceNumbers rewrites every standalone digit run as Mongolian words.
// Runs too large for int64 are left as digits.
func ReplaceNumbers(text string) string {
	return number.ReplaceAllStringFunc(text, func(match string) string {
		n, err := strconv.ParseInt(match, 10, 64)
		if err != nil {
			return match
		}
		return NumberToWords(n)
	})
}

// ForSpeech is the full voice pipeline: numbers spelled out, then the text
// reduced to speakable characters with sentence terminators kept.
func ForSpeech(text string) string {
	return Sanitize(ReplaceNumbers(text), true)
}
