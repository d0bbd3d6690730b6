package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSceneStyle(t *testing.T) {
	f := New("{title}.{year}.{quality}.{source}.WEB-DL.{hdr?}.{video}-{tag}")

	got := f.Format(map[string]string{
		"title":   "The Example Show",
		"year":    "2024",
		"quality": "1080p",
		"source":  "ESVC",
		"video":   "H.264",
		"tag":     "GROUP",
	})
	assert.Equal(t, "The.Example.Show.2024.1080p.ESVC.WEB-DL.H.264-GROUP", got)
}

func TestFormatOptionalPresent(t *testing.T) {
	f := New("{title}.{year}.{hdr?}.{video}-{tag}")

	got := f.Format(map[string]string{
		"title": "Movie",
		"year":  "2023",
		"hdr":   "HDR",
		"video": "H.265",
		"tag":   "GROUP",
	})
	assert.Equal(t, "Movie.2023.HDR.H.265-GROUP", got)
}

func TestFormatPlexFriendly(t *testing.T) {
	f := New("{title} ({year}) {quality}")

	got := f.Format(map[string]string{
		"title":   "An Example Movie",
		"year":    "2022",
		"quality": "2160p",
	})
	// Parentheses are not considered filename safe and are stripped.
	assert.Equal(t, "An Example Movie 2022 2160p", got)
}

func TestFormatMissingOptionalCollapsesSeparators(t *testing.T) {
	f := New("{title} {season_episode} {episode_name?}")

	got := f.Format(map[string]string{
		"title":          "Series",
		"season_episode": "S01E02",
	})
	assert.Equal(t, "Series S01E02", got)
}

func TestFormatEmptyYearInParens(t *testing.T) {
	f := New("{title} ({year?}) {quality}")

	got := f.Format(map[string]string{"title": "Movie", "quality": "720p"})
	// Empty parens are stripped by the unsafe-char cleanup.
	assert.Equal(t, "Movie 720p", got)
}

func TestFormatSanitizesUnsafeCharacters(t *testing.T) {
	f := New("{title} ({year}) {quality}")

	got := f.Format(map[string]string{
		"title":   "What's Up? Doc: The Movie",
		"year":    "1999",
		"quality": "480p",
	})
	assert.NotContains(t, got, "?")
	assert.NotContains(t, got, "'")
	assert.NotContains(t, got, ":")
}

func TestFormatAsciiFolding(t *testing.T) {
	f := New("{title}.{year}")
	got := f.Format(map[string]string{"title": "Amélie", "year": "2001"})
	assert.Equal(t, "Amelie.2001", got)
}

func TestSanitizeMultiEpisodeSlash(t *testing.T) {
	got := SanitizeFilename("Part 1/Part 2", ".")
	assert.Equal(t, "Part.1.&.Part.2", got)
}

func TestValidate(t *testing.T) {
	f := New("{title}.{year}.{quality?}-{tag}")

	assert.NoError(t, f.Validate(map[string]string{"title": "t", "year": "y", "tag": "g"}))

	err := f.Validate(map[string]string{"title": "t"})
	assert.ErrorContains(t, err, "year")
	assert.ErrorContains(t, err, "tag")
	assert.NotContains(t, err.Error(), "quality")
}

func TestRequiredOptional(t *testing.T) {
	f := New("{title}.{year?}.{quality}")
	assert.Equal(t, []string{"title", "quality"}, f.Required())
	assert.Equal(t, []string{"year"}, f.Optional())
}
