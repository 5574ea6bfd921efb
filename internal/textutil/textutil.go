// Package textutil implements the text-processing building blocks the
// orchestrator runs transcripts and LLM output through: markdown cleanup,
// German-aware sentence tokenization, a sanity filter for STT transcripts,
// and fuzzy conversation-ending detection.
package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

var (
	markdownNewlineRe     = regexp.MustCompile(`\n`)
	doublePunctuationRe   = regexp.MustCompile(`([?:!.,])\.`)
	enumerationFragmentRe = regexp.MustCompile(`\.\d+\.`)
)

// CleanMarkdown strips LLM markdown artifacts from text so it reads as
// plain spoken prose: newlines become ". ", doubled punctuation+period
// collapses to the punctuation alone, a space is inserted after a period
// between non-digit neighbors, and enumeration fragments like ".1." are
// dropped.
func CleanMarkdown(text string) string {
	buf := markdownNewlineRe.ReplaceAllString(text, ". ")
	buf = replaceUntilStable(buf, doublePunctuationRe, "$1")
	buf = missingSpaceAfterDotFix(buf)
	buf = replaceUntilStable(buf, enumerationFragmentRe, ".")
	return buf
}

// replaceUntilStable applies re's replacement repeatedly until the text stops
// changing, so that runs like "..." collapse fully in one CleanMarkdown call
// and a second call is a no-op.
func replaceUntilStable(s string, re *regexp.Regexp, repl string) string {
	for {
		next := re.ReplaceAllString(s, repl)
		if next == s {
			return s
		}
		s = next
	}
}

// missingSpaceAfterDotFix inserts a space after a '.' that sits between two
// non-digit characters, mirroring the Python `(?<!\d)\.(?![\d\s])` lookaround
// that Go's RE2 engine cannot express directly.
func missingSpaceAfterDotFix(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		b.WriteRune(r)
		if r != '.' {
			continue
		}
		if i == 0 || i == len(runes)-1 {
			continue
		}
		prev, next := runes[i-1], runes[i+1]
		if unicode.IsDigit(prev) || unicode.IsDigit(next) || unicode.IsSpace(next) {
			continue
		}
		b.WriteRune(' ')
	}
	return b.String()
}

// sentenceBoundaryRe splits on '.', '!', or '?' followed by whitespace or
// end-of-string. Deliberately minimal for German prose: it does not
// special-case abbreviations beyond what commonAbbreviations below protects
// against a false split.
var sentenceBoundaryRe = regexp.MustCompile(`([.!?])(\s+|$)`)

// commonAbbreviations lists German abbreviations whose trailing period must
// not be treated as a sentence boundary.
var commonAbbreviations = []string{"bzw.", "ca.", "etc.", "z.b.", "d.h.", "u.a.", "usw.", "herr.", "frau.", "dr.", "nr."}

// TokenizeSentences splits text into sentences on '.', '!', or '?' boundaries
// while respecting commonAbbreviations.
func TokenizeSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	words := strings.Fields(text)
	for i, word := range words {
		current.WriteString(word)
		if i < len(words)-1 {
			current.WriteByte(' ')
		}
		if !endsSentence(word) {
			continue
		}
		sentences = append(sentences, strings.TrimSpace(current.String()))
		current.Reset()
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func endsSentence(word string) bool {
	lower := strings.ToLower(word)
	for _, abbr := range commonAbbreviations {
		if lower == abbr {
			return false
		}
	}
	return sentenceBoundaryRe.MatchString(word) && strings.ContainsAny(word[len(word)-1:], ".!?")
}

// HasAlphanumeric reports whether s contains any letter or digit, used to
// discard punctuation-only sentence fragments after tokenization.
func HasAlphanumeric(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// germanSwadeshWords is a bundled Swadesh-style German core vocabulary,
// grounded on the NLTK `swadesh.words('de')` list the original Python
// implementation loaded at startup.
var germanSwadeshWords = map[string]struct{}{
	"ich": {}, "du": {}, "er": {}, "wir": {}, "ihr": {}, "sie": {}, "das": {}, "dies": {}, "jenes": {},
	"hier": {}, "dort": {}, "wer": {}, "was": {}, "wo": {}, "wann": {}, "wie": {}, "nicht": {}, "alle": {},
	"viele": {}, "einige": {}, "wenige": {}, "andere": {}, "eins": {}, "zwei": {}, "drei": {}, "vier": {},
	"fünf": {}, "groß": {}, "lang": {}, "breit": {}, "dick": {}, "schwer": {}, "klein": {}, "kurz": {},
	"schmal": {}, "dünn": {}, "frau": {}, "mann": {}, "mensch": {}, "kind": {}, "ehefrau": {}, "ehemann": {},
	"mutter": {}, "vater": {}, "tier": {}, "fisch": {}, "vogel": {}, "hund": {}, "laus": {}, "schlange": {},
	"wurm": {}, "baum": {}, "wald": {}, "stock": {}, "frucht": {}, "same": {}, "blatt": {}, "wurzel": {},
	"rinde": {}, "blume": {}, "gras": {}, "seil": {}, "haut": {}, "fleisch": {}, "blut": {}, "knochen": {},
	"fett": {}, "ei": {}, "horn": {}, "schwanz": {}, "feder": {}, "haar": {}, "kopf": {}, "ohr": {}, "auge": {},
	"nase": {}, "mund": {}, "zahn": {}, "zunge": {}, "nagel": {}, "fuß": {}, "bein": {}, "knie": {}, "hand": {},
	"flügel": {}, "bauch": {}, "eingeweide": {}, "hals": {}, "rücken": {}, "brust": {}, "herz": {}, "leber": {},
	"trinken": {}, "essen": {}, "beißen": {}, "saugen": {}, "spucken": {}, "erbrechen": {}, "blasen": {},
	"atmen": {}, "lachen": {}, "sehen": {}, "hören": {}, "wissen": {}, "denken": {}, "riechen": {}, "fürchten": {},
	"schlafen": {}, "leben": {}, "sterben": {}, "töten": {}, "kämpfen": {}, "jagen": {}, "schlagen": {},
	"schneiden": {}, "spalten": {}, "stechen": {}, "kratzen": {}, "graben": {}, "schwimmen": {}, "fliegen": {},
	"gehen": {}, "kommen": {}, "liegen": {}, "sitzen": {}, "stehen": {}, "drehen": {}, "fallen": {}, "geben": {},
	"halten": {}, "drücken": {}, "werfen": {}, "binden": {}, "nähen": {}, "zählen": {}, "sagen": {}, "singen": {},
	"spielen": {}, "fließen": {}, "frieren": {}, "schwellen": {}, "sonne": {}, "mond": {},
	"stern": {}, "wasser": {}, "regen": {}, "fluss": {}, "see": {}, "meer": {}, "salz": {}, "stein": {},
	"sand": {}, "staub": {}, "erde": {}, "wolke": {}, "nebel": {}, "himmel": {}, "wind": {}, "schnee": {},
	"eis": {}, "rauch": {}, "feuer": {}, "asche": {}, "brennen": {}, "straße": {}, "berg": {}, "rot": {},
	"grün": {}, "gelb": {}, "weiß": {}, "schwarz": {}, "nacht": {}, "tag": {}, "jahr": {}, "warm": {},
	"kalt": {}, "voll": {}, "neu": {}, "alt": {}, "gut": {}, "schlecht": {}, "faul": {}, "schmutzig": {},
	"gerade": {}, "rund": {}, "scharf": {}, "stumpf": {}, "glatt": {}, "nass": {}, "trocken": {}, "richtig": {},
	"nahe": {}, "weit": {}, "rechts": {}, "links": {}, "bei": {}, "in": {}, "mit": {}, "und": {}, "wenn": {},
	"weil": {}, "name": {},
}

// commonGermanWords is the curated stoplist of common short German words
// that are legitimate input but may be absent from the Swadesh vocabulary.
var commonGermanWords = map[string]struct{}{
	"wie": {}, "was": {}, "wer": {}, "wo": {}, "wann": {}, "warum": {}, "welche": {}, "welcher": {}, "welches": {},
	"mir": {}, "dir": {}, "uns": {}, "euch": {}, "ihnen": {}, "ihm": {}, "du": {}, "ich": {}, "er": {}, "sie": {},
	"es": {}, "wir": {}, "ihr": {}, "ein": {}, "eine": {}, "einen": {}, "einem": {}, "einer": {}, "eines": {},
	"der": {}, "die": {}, "das": {}, "den": {}, "dem": {}, "des": {}, "ist": {}, "sind": {}, "war": {}, "waren": {},
	"wird": {}, "werden": {}, "würde": {}, "würden": {}, "kann": {}, "können": {}, "könnte": {}, "könnten": {},
	"hat": {}, "haben": {}, "hatte": {}, "hatten": {}, "geht": {}, "gehen": {}, "ging": {}, "gingen": {},
	"über": {}, "unter": {}, "vor": {}, "nach": {}, "bei": {}, "mit": {}, "ohne": {}, "für": {}, "gegen": {},
	"um": {}, "zu": {}, "aus": {}, "von": {}, "auf": {}, "erzähle": {}, "erzähl": {}, "sage": {}, "sag": {},
	"zeige": {}, "zeig": {}, "mache": {}, "mach": {}, "gib": {}, "gebe": {}, "bitte": {}, "danke": {}, "ja": {},
	"nein": {}, "vielleicht": {}, "heute": {}, "morgen": {}, "gestern": {}, "uhr": {}, "zeit": {}, "tag": {},
	"woche": {}, "monat": {}, "jahr": {}, "schön": {}, "gut": {}, "schlecht": {}, "groß": {}, "klein": {},
	"alt": {}, "neu": {}, "kurz": {}, "lang": {}, "witz": {}, "gedicht": {}, "geschichte": {}, "lied": {},
	"musik": {}, "film": {}, "buch": {}, "mal": {}, "einmal": {}, "zweimal": {}, "noch": {}, "schon": {},
	"jetzt": {}, "später": {}, "früher": {}, "hallo": {}, "tschüss": {}, "wiedersehen": {}, "abend": {},
	"mittag": {}, "mein": {}, "dein": {}, "sein": {}, "unser": {}, "euer": {},
}

var germanPrefixes = []string{"ge", "be", "ver", "er", "ent", "zer", "ab", "an", "auf", "aus", "ein", "vor", "zu", "über", "unter", "um"}
var germanSuffixes = []string{"en", "st", "t", "e", "et", "est", "te", "ten", "er", "ung", "keit", "heit", "lich", "bar", "ig", "isch", "sam"}

// defaultSaneThreshold and relaxedSaneThreshold are the proportion
// thresholds [IsSaneInput] applies to inputs above and at-or-below
// shortInputWordLimit tokens, respectively.
const (
	defaultSaneThreshold  = 0.15
	relaxedSaneThreshold  = 0.10
	shortInputWordLimit   = 5
	germanUmlautCharSet   = "äöüß"
	minAlphabeticTokenLen = 2
)

// IsSaneInput reports whether text contains a sufficient proportion of
// recognisable German vocabulary to be worth sending to the LLM, via a
// weighted-credit tokenizer pass. threshold is the minimum proportion of
// credited tokens required; pass 0 to use the documented default (0.15,
// relaxed to 0.10 for inputs of shortInputWordLimit tokens or fewer).
func IsSaneInput(text string, threshold float64) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if threshold <= 0 {
		threshold = defaultSaneThreshold
	}

	tokens := strings.Fields(text)
	var credit float64
	var counted int

	for _, raw := range tokens {
		word := strings.ToLower(strings.Trim(raw, ".,!?;:\"'()[]{}"))
		if !isAlphabetic(word) || len([]rune(word)) < minAlphabeticTokenLen {
			continue
		}
		counted++

		switch {
		case inVocab(word, germanSwadeshWords) || inVocab(word, commonGermanWords):
			credit += 1.0
		case hasPrefix(word) && hasSuffix(word):
			credit += 0.9
		case hasSuffix(word):
			credit += 0.7
		case hasPrefix(word):
			credit += 0.5
		case strings.ContainsAny(word, germanUmlautCharSet):
			credit += 0.8
		}
	}

	if counted == 0 {
		return false
	}

	effectiveThreshold := threshold
	if counted <= shortInputWordLimit {
		effectiveThreshold = relaxedSaneThreshold
	}
	return credit/float64(counted) >= effectiveThreshold
}

func isAlphabetic(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func inVocab(word string, vocab map[string]struct{}) bool {
	_, ok := vocab[word]
	return ok
}

func hasPrefix(word string) bool {
	for _, p := range germanPrefixes {
		if strings.HasPrefix(word, p) {
			return true
		}
	}
	return false
}

func hasSuffix(word string) bool {
	for _, suf := range germanSuffixes {
		if strings.HasSuffix(word, suf) {
			return true
		}
	}
	return false
}

// conversationEndingThreshold is the Jaro-Winkler score (×100) at or above
// which a sentence is treated as a conversation-ending utterance.
const conversationEndingThreshold = 80.0

// conversationEndingPhrases is the fixed goodbye/abort phrase list, German
// and English, matched fuzzily against the user's utterance.
var conversationEndingPhrases = []string{
	"stop chat", "exit", "bye", "finish",
	"halt stoppen", "chat beenden", "auf wiedersehen", "tschüss", "ende", "schluss",
}

// IsConversationEnding fuzzy-matches sentence against conversationEndingPhrases
// using Jaro-Winkler similarity and reports whether the best match scores at
// or above conversationEndingThreshold.
func IsConversationEnding(sentence string) bool {
	lower := strings.ToLower(strings.TrimSpace(sentence))
	if lower == "" {
		return false
	}
	best := 0.0
	for _, phrase := range conversationEndingPhrases {
		score := matchr.JaroWinkler(lower, phrase, false) * 100
		if score > best {
			best = score
		}
	}
	return best >= conversationEndingThreshold
}
