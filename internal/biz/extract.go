package biz

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ParseGUIDs reads "provider://id" cross references. Unknown providers and malformed ids are ignored.
func ParseGUIDs(guids []string) ProviderIDs {
	var ids ProviderIDs
	for _, g := range guids {
		scheme, value, ok := strings.Cut(strings.TrimSpace(g), "://")
		if !ok || value == "" {
			continue
		}
		// some agents append a query or language suffix
		if i := strings.IndexAny(value, "?/"); i >= 0 {
			value = value[:i]
		}
		switch strings.ToLower(scheme) {
		case "tmdb", "themoviedb":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil && ids.TMDB == nil {
				ids.TMDB = &n
			}
		case "tvdb", "thetvdb":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil && ids.TVDB == nil {
				ids.TVDB = &n
			}
		case "imdb":
			if strings.HasPrefix(value, "tt") || strings.HasPrefix(value, "nm") {
				v := value
				if ids.IMDB == nil {
					ids.IMDB = &v
				}
			}
		}
	}
	return ids
}

// NormalizeName folds case and whitespace for exact-match comparisons.
func NormalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// SplitCreditTag separates "Actor Name as Character Name".
func SplitCreditTag(tag string) (name, character string) {
	name, character, ok := strings.Cut(tag, " as ")
	if !ok {
		return strings.TrimSpace(tag), ""
	}
	return strings.TrimSpace(name), strings.TrimSpace(character)
}

// SplitName splits a full name on its first whitespace run. A single token gets an empty last name.
func SplitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	i := strings.IndexFunc(full, unicode.IsSpace)
	if i < 0 {
		return full, ""
	}
	return full[:i], strings.TrimLeftFunc(full[i:], unicode.IsSpace)
}

// ExtractMedia converts a catalog record into a media item payload. The studio id and, for
// episodes, the show id are resolved by the caller.
func ExtractMedia(kind MediaKind, raw *RawMedia) (*MediaItem, error) {
	title := strings.TrimSpace(raw.Title)
	key := strings.TrimSpace(raw.StableKey)
	if key == "" {
		return nil, &ExtractionError{Kind: kind, Title: title, Field: "stable key"}
	}
	if title == "" {
		return nil, &ExtractionError{Kind: kind, StableKey: key, Field: "title"}
	}

	item := &MediaItem{
		Kind:                  kind,
		StableKey:             key,
		GUID:                  optString(raw.GUID),
		Title:                 title,
		TitleKey:              NormalizeName(title),
		OriginalTitle:         optString(raw.OriginalTitle),
		Summary:               optString(raw.Summary),
		Tagline:               optString(raw.Tagline),
		ContentRating:         optString(raw.ContentRating),
		AudienceRatingIcon:    optString(raw.AudienceRatingIcon),
		PosterURL:             optString(raw.Thumb),
		ArtURL:                optString(raw.Art),
		IDs:                   ParseGUIDs(raw.GUIDs),
		OriginallyAvailableAt: normalizeTime(raw.OriginallyAvailableAt),
		AddedAt:               normalizeTime(raw.AddedAt),
		SourceUpdatedAt:       normalizeTime(raw.UpdatedAt),
		LastViewedAt:          normalizeTime(raw.LastViewedAt),
	}
	if raw.Year > 0 {
		y := raw.Year
		item.Year = &y
	}
	if raw.DurationMS > 0 {
		d := raw.DurationMS
		item.DurationMS = &d
	}
	if raw.ViewCount > 0 {
		v := raw.ViewCount
		item.ViewCount = &v
	}
	if raw.Rating > 0 {
		r := NormalizeRating(raw.Rating)
		item.Rating = &r
	}
	if raw.AudienceRating > 0 {
		r := NormalizeRating(raw.AudienceRating)
		item.AudienceRating = &r
	}

	if kind == KindEpisode {
		if raw.SeasonNumber == nil {
			return nil, &ExtractionError{Kind: kind, StableKey: key, Title: title, Field: "season number"}
		}
		if raw.EpisodeNumber == nil {
			return nil, &ExtractionError{Kind: kind, StableKey: key, Title: title, Field: "episode number"}
		}
		item.SeasonNumber = *raw.SeasonNumber
		item.EpisodeNumber = *raw.EpisodeNumber
		item.HasIntroMarker = raw.HasIntroMarker
		item.HasCreditsMarker = raw.HasCreditsMarker
		item.HasCommercialMarker = raw.HasCommercialMarker
	}
	return item, nil
}

// NormalizeRating maps a 0-10 catalog rating onto the local 0-100 scale.
func NormalizeRating(r float64) float64 {
	return math.Round(r*10*100) / 100
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC().Truncate(time.Second)
	return &v
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func idKey(ids ProviderIDs) string {
	var b strings.Builder
	if ids.TMDB != nil {
		b.WriteString("tmdb=" + strconv.FormatInt(*ids.TMDB, 10))
	}
	if ids.TVDB != nil {
		b.WriteString(";tvdb=" + strconv.FormatInt(*ids.TVDB, 10))
	}
	if ids.IMDB != nil {
		b.WriteString(";imdb=" + *ids.IMDB)
	}
	return b.String()
}
