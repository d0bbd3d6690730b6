package download

import (
	"fmt"
	"strconv"

	"github.com/sternforth/vantage/internal/config"
	"github.com/sternforth/vantage/internal/models"
	"github.com/sternforth/vantage/internal/template"
)

// OutputName renders the configured filename template for a title, using
// the best video and audio track for quality variables.
func OutputName(templates config.OutputTemplateConfig, releaseTag, source string,
	title models.Title, tracks models.Tracks) string {

	vars := map[string]string{
		"source": source,
		"tag":    releaseTag,
	}

	var pattern string
	switch t := title.(type) {
	case models.Movie:
		pattern = templates.Movies
		vars["title"] = t.Name
		if t.Year > 0 {
			vars["year"] = strconv.Itoa(t.Year)
		}
	case models.Episode:
		pattern = templates.Series
		vars["title"] = t.SeriesTitle
		vars["season"] = fmt.Sprintf("%02d", t.Season)
		vars["episode"] = fmt.Sprintf("%02d", t.Number)
		vars["season_episode"] = t.Label()
		vars["episode_name"] = t.DisplayName()
		if t.Year > 0 {
			vars["year"] = strconv.Itoa(t.Year)
		}
	case models.Song:
		pattern = templates.Songs
		vars["title"] = t.Name
		vars["artist"] = t.Artist
		vars["album"] = t.Album
		vars["track_number"] = fmt.Sprintf("%02d", t.Track)
		vars["disc"] = strconv.Itoa(t.Disc)
		if t.Year > 0 {
			vars["year"] = strconv.Itoa(t.Year)
		}
	default:
		pattern = "{title}"
		vars["title"] = title.TitleName()
	}

	if len(tracks.Video) > 0 {
		// Tracks sort best first.
		best := tracks.Video[0]
		if best.Height > 0 {
			vars["quality"] = fmt.Sprintf("%dp", best.Height)
		}
		vars["resolution"] = best.Resolution()
		vars["video"] = best.VideoDisplay()
		if best.Range != "" && best.Range != models.RangeSDR {
			vars["hdr"] = best.RangeDisplay()
		}
		if best.FPS > 30 {
			vars["hfr"] = "HFR"
		}
	}
	if len(tracks.Audio) > 0 {
		best := tracks.Audio[0]
		vars["audio"] = best.AudioDisplay()
		if best.Channels > 0 {
			vars["audio_channels"] = formatChannels(best.Channels)
			vars["audio_full"] = best.AudioDisplay() + formatChannels(best.Channels)
		} else {
			vars["audio_full"] = best.AudioDisplay()
		}
		if best.Atmos {
			vars["atmos"] = "Atmos"
		}
		languages := map[string]bool{}
		for _, a := range tracks.Audio {
			if a.Language != "" {
				languages[a.Language] = true
			}
		}
		if len(languages) == 2 {
			vars["dual"] = "DUAL"
		} else if len(languages) > 2 {
			vars["multi"] = "MULTi"
		}
	}

	return template.New(pattern).Format(vars)
}

// formatChannels renders a channel count like 5.1 or 2.0.
func formatChannels(channels float64) string {
	return strconv.FormatFloat(channels, 'f', 1, 64)
}
