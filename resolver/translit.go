package resolver

import (
	"strings"
	"unicode"
)

var cyrToLat = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'ґ': "g", 'д': "d", 'е': "e", 'є': "e",
	'ж': "zh", 'з': "z", 'и': "y", 'і': "i", 'ї': "i", 'й': "y", 'к': "k", 'л': "l",
	'м': "m", 'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "h", 'ц': "c", 'ч': "ch", 'ш': "sh", 'щ': "sch", 'ь': "", 'ю': "yu",
	'я': "ya", 'ё': "yo", 'ъ': "",
}

var latToCyr = map[rune]string{
	'a': "а", 'b': "б", 'c': "ц", 'd': "д", 'e': "е", 'f': "ф", 'g': "г", 'h': "х",
	'i': "і", 'j': "й", 'k': "к", 'l': "л", 'm': "м", 'n': "н", 'o': "о", 'p': "п",
	'q': "к", 'r': "р", 's': "с", 't': "т", 'u': "у", 'v': "в", 'w': "в", 'x': "кс",
	'y': "і", 'z': "з",
}

func transliterate(s string, table map[rune]string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if v, ok := table[r]; ok {
			b.WriteString(v)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ToLatin maps Ukrainian and Russian letters to a Latin spelling.
func ToLatin(s string) string {
	return transliterate(s, cyrToLat)
}

// ToCyrillic maps Latin letters to Ukrainian ones.
func ToCyrillic(s string) string {
	return transliterate(s, latToCyr)
}

// Normalize lowercases s, turns punctuation into spaces and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
			continue
		}
		// combining marks belong to the word they modify
		if unicode.Is(unicode.M, r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte(' ')
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
