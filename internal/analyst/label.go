package analyst

import (
	"regexp"
	"strconv"
	"strings"

	"engram/internal/textutil"
)

// ParsedLabel is what a volume label yields after parsing. Zero fields mean
// the label carried no such information.
type ParsedLabel struct {
	Name   string
	Season int
	Disc   int
	Year   int
}

// genericLabels are volume labels burned in by authoring tools. They carry
// no content identity and parse to an empty result.
var genericLabels = map[string]bool{
	"logical_volume_id": true,
	"video_ts":          true,
	"bdmv":              true,
	"disc":              true,
	"dvd":               true,
	"bluray":            true,
	"bd":                true,
	"no_label":          true,
	"untitled":          true,
	"volume":            true,
	"new_volume":        true,
}

var (
	seasonDiscPattern    = regexp.MustCompile(`(?i)^(.+?)[_\- ]S(\d{1,2})[_\- ]?D(\d{1,2})$`)
	seasonEpisodePattern = regexp.MustCompile(`(?i)^(.+?)[_\- ]S(\d{1,2})E(\d{1,2})$`)
	seasonWordPattern    = regexp.MustCompile(`(?i)^(.+?)[_\- ]SEASON[_\- ]?(\d{1,2})$`)
	seasonOnlyPattern    = regexp.MustCompile(`(?i)^(.+?)[_\- ]S(\d{1,2})$`)
	trailingDigitsSuffix = regexp.MustCompile(`^(.+?)[_\- ](\d{1,4})$`)
	genericTrimPattern   = regexp.MustCompile(`(?i)[_\- ]*(disc|disk)?[_\- ]*\d*$`)
	suffixWordPattern    = regexp.MustCompile(`(?i)[ ](disc|disk|bluray|blu ray|bd25|bd50|bd|dvd)$`)
)

// IsGenericLabel reports whether the label is one of the authoring-tool
// defaults, ignoring trailing digits and disc suffixes ("DVD_1", "DISC 2").
func IsGenericLabel(label string) bool {
	trimmed := genericTrimPattern.ReplaceAllString(strings.TrimSpace(label), "")
	if trimmed == "" {
		return true
	}
	key := strings.ToLower(trimmed)
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return genericLabels[key]
}

// ParseLabel extracts a show or movie name, season, and disc number from a
// raw volume label. Trailing digits 1..99 read as a season; 100..9999 read
// as a year, never a season.
func ParseLabel(label string) ParsedLabel {
	label = strings.TrimSpace(label)
	if label == "" || IsGenericLabel(label) {
		return ParsedLabel{}
	}

	if m := seasonDiscPattern.FindStringSubmatch(label); m != nil {
		season, _ := strconv.Atoi(m[2])
		disc, _ := strconv.Atoi(m[3])
		return ParsedLabel{Name: normalizeName(m[1]), Season: season, Disc: disc}
	}
	if m := seasonEpisodePattern.FindStringSubmatch(label); m != nil {
		season, _ := strconv.Atoi(m[2])
		return ParsedLabel{Name: normalizeName(m[1]), Season: season}
	}
	if m := seasonWordPattern.FindStringSubmatch(label); m != nil {
		season, _ := strconv.Atoi(m[2])
		return ParsedLabel{Name: normalizeName(m[1]), Season: season}
	}
	if m := seasonOnlyPattern.FindStringSubmatch(label); m != nil {
		season, _ := strconv.Atoi(m[2])
		return ParsedLabel{Name: normalizeName(m[1]), Season: season}
	}
	if m := trailingDigitsSuffix.FindStringSubmatch(label); m != nil {
		digits, _ := strconv.Atoi(m[2])
		switch {
		case digits >= 1 && digits <= 99:
			return ParsedLabel{Name: normalizeName(m[1]), Season: digits}
		case digits >= 1900 && digits <= 2099:
			return ParsedLabel{Name: normalizeName(m[1]), Year: digits}
		}
	}
	return ParsedLabel{Name: normalizeName(label)}
}

// normalizeName turns an underscore-separated label fragment into a display
// name: separators become spaces, volume suffix words drop off the end, and
// the result is title-cased with English small-word exceptions.
func normalizeName(raw string) string {
	name := strings.NewReplacer("_", " ", "-", " ").Replace(raw)
	name = strings.Join(strings.Fields(name), " ")
	for {
		stripped := suffixWordPattern.ReplaceAllString(name, "")
		if stripped == name {
			break
		}
		name = strings.TrimSpace(stripped)
	}
	return textutil.TitleCase(strings.ToLower(name))
}
