package language

import "strings"

type entry struct {
	iso2    string
	iso3    []string
	display string
}

var known = []entry{
	{"en", []string{"eng"}, "English"},
	{"es", []string{"spa"}, "Spanish"},
	{"fr", []string{"fra", "fre"}, "French"},
	{"de", []string{"deu", "ger"}, "German"},
	{"it", []string{"ita"}, "Italian"},
	{"pt", []string{"por"}, "Portuguese"},
	{"ja", []string{"jpn"}, "Japanese"},
	{"ko", []string{"kor"}, "Korean"},
	{"zh", []string{"zho", "chi"}, "Chinese"},
	{"ru", []string{"rus"}, "Russian"},
	{"ar", []string{"ara"}, "Arabic"},
	{"hi", []string{"hin"}, "Hindi"},
	{"vi", []string{"vie"}, "Vietnamese"},
	{"th", []string{"tha"}, "Thai"},
	{"id", []string{"ind"}, "Indonesian"},
	{"tr", []string{"tur"}, "Turkish"},
	{"nl", []string{"nld", "dut"}, "Dutch"},
	{"pl", []string{"pol"}, "Polish"},
}

var index = buildIndex()

func buildIndex() map[string]*entry {
	idx := make(map[string]*entry, len(known)*3)
	for i := range known {
		e := &known[i]
		idx[e.iso2] = e
		for _, code := range e.iso3 {
			idx[code] = e
		}
		idx[strings.ToLower(e.display)] = e
	}
	return idx
}

// Normalize maps a code or English language name to ISO 639-1. Unknown
// two-letter codes pass through; anything else unrecognized returns ""
// and false.
func Normalize(value string) (string, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", true
	}
	if e, ok := index[value]; ok {
		return e.iso2, true
	}
	if len(value) == 2 {
		return value, true
	}
	return "", false
}

// DisplayName returns a readable name for a code, or "auto-detect" when
// no language is pinned.
func DisplayName(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "auto-detect"
	}
	if e, ok := index[code]; ok {
		return e.display
	}
	return strings.ToUpper(code)
}
