package phone

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Result is the outcome of normalizing a raw dial string.
type Result struct {
	OK        bool   `json:"ok"`
	Value     string `json:"value"`     // canonical E.164-like number
	Extension string `json:"extension"` // parsed extension digits, if any
}

// Normalizer converts arbitrary user or provider supplied numbers into a
// canonical dialable form. Directory records store numbers inconsistently
// (with or without country code), so every identity match goes through the
// comparison keys derived here instead of raw string equality.
type Normalizer struct {
	countryCode string // e.g. "1"
	trunkDigit  string // domestic trunk prefix, e.g. "1"
	region      string // ISO region for display formatting, e.g. "US"
}

// NewNormalizer creates a normalizer for the given default country.
func NewNormalizer(countryCode, trunkDigit, region string) *Normalizer {
	return &Normalizer{
		countryCode: countryCode,
		trunkDigit:  trunkDigit,
		region:      region,
	}
}

// extMarkerPattern matches an explicit extension suffix: "ext 123", "ext. 123",
// "x123". Matched before keypad letter mapping so extension digits are never
// merged into the callable number.
var extMarkerPattern = regexp.MustCompile(`(?i)[\s,.;]*(?:ext\.?|x)[\s.:]*(\d{1,6})\s*$`)

// trailingGroupPattern matches a bare trailing 3-6 digit group separated by
// whitespace or comma, e.g. "817 663 0380, 4455".
var trailingGroupPattern = regexp.MustCompile(`[\s,]+(\d{3,6})\s*$`)

// keypadLetters maps telephone-keypad letters to digits.
var keypadLetters = map[rune]rune{
	'a': '2', 'b': '2', 'c': '2',
	'd': '3', 'e': '3', 'f': '3',
	'g': '4', 'h': '4', 'i': '4',
	'j': '5', 'k': '5', 'l': '5',
	'm': '6', 'n': '6', 'o': '6',
	'p': '7', 'q': '7', 'r': '7', 's': '7',
	't': '8', 'u': '8', 'v': '8',
	'w': '9', 'x': '9', 'y': '9', 'z': '9',
}

// Normalize converts a raw input into canonical form.
//
// Rules: a leading "+" is preserved verbatim; 10 digits are assumed domestic
// and prefixed with the default country code; 11 digits starting with the
// domestic trunk digit are normalized by replacing it with "+<countrycode>";
// 8-15 digit sequences without a leading "+" are assumed to already include
// a country code and get a "+" prefix; anything else fails.
func (n *Normalizer) Normalize(raw string) Result {
	input := strings.TrimSpace(raw)
	if input == "" {
		return Result{}
	}

	input, extension := splitExtension(input)

	hasPlus := strings.HasPrefix(input, "+")
	digits := mapToDigits(input)

	if hasPlus {
		if len(digits) < 8 || len(digits) > 15 {
			return Result{Extension: extension}
		}
		return Result{OK: true, Value: "+" + digits, Extension: extension}
	}

	switch {
	case len(digits) == 10:
		return Result{OK: true, Value: "+" + n.countryCode + digits, Extension: extension}
	case len(digits) == 11 && strings.HasPrefix(digits, n.trunkDigit):
		return Result{OK: true, Value: "+" + n.countryCode + digits[len(n.trunkDigit):], Extension: extension}
	case len(digits) >= 8 && len(digits) <= 15:
		return Result{OK: true, Value: "+" + digits, Extension: extension}
	default:
		return Result{Extension: extension}
	}
}

// Display formats a canonical number for user-facing notifications. Falls
// back to the input when the number does not parse.
func (n *Normalizer) Display(canonical string) string {
	num, err := phonenumbers.Parse(canonical, n.region)
	if err != nil {
		return canonical
	}
	return phonenumbers.Format(num, phonenumbers.NATIONAL)
}

// Valid reports whether a canonical number is a real, dialable number
// according to the phone number metadata for the configured region.
func (n *Normalizer) Valid(canonical string) bool {
	num, err := phonenumbers.Parse(canonical, n.region)
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(num)
}

// splitExtension removes an extension suffix from the input. An explicit
// "ext"/"x" marker always wins; a bare trailing 3-6 digit group only counts
// as an extension when the remaining main part still carries a full number.
func splitExtension(input string) (string, string) {
	if m := extMarkerPattern.FindStringSubmatch(input); m != nil {
		return strings.TrimSpace(input[:len(input)-len(m[0])]), m[1]
	}

	if m := trailingGroupPattern.FindStringSubmatch(input); m != nil {
		main := strings.TrimSpace(input[:len(input)-len(m[0])])
		if len(mapToDigits(main)) >= 10 {
			return main, m[1]
		}
	}

	return input, ""
}

// mapToDigits applies keypad letter mapping and strips punctuation.
func mapToDigits(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			if d, ok := keypadLetters[r]; ok {
				b.WriteRune(d)
			}
		}
	}
	return b.String()
}

// ComparisonKeys derives the set of keys used everywhere identity matching
// happens: the full digit string and, if longer than 10 digits, its last-10
// suffix.
func ComparisonKeys(number string) []string {
	digits := mapToDigits(number)
	if digits == "" {
		return nil
	}

	keys := []string{digits}
	if len(digits) > 10 {
		keys = append(keys, digits[len(digits)-10:])
	}
	return keys
}

// KeysMatch reports whether two comparison key sets share any key.
func KeysMatch(a, b []string) bool {
	for _, ka := range a {
		for _, kb := range b {
			if ka == kb {
				return true
			}
		}
	}
	return false
}

// NumbersMatch reports whether two raw numbers refer to the same line under
// comparison-key rules.
func NumbersMatch(a, b string) bool {
	return KeysMatch(ComparisonKeys(a), ComparisonKeys(b))
}
