package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// TitleType discriminates the Title sum type on the wire.
type TitleType string

const (
	TypeMovie   TitleType = "movie"
	TypeEpisode TitleType = "episode"
	TypeSong    TitleType = "song"
)

// Title is one playable entry in a service catalog. Identity for caching is
// (service tag, ID).
type Title interface {
	Type() TitleType
	TitleID() string
	TitleName() string
	String() string
}

// Movie is a standalone feature.
type Movie struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Year     int             `json:"year,omitempty"`
	Language string          `json:"language,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func (m Movie) Type() TitleType   { return TypeMovie }
func (m Movie) TitleID() string   { return m.ID }
func (m Movie) TitleName() string { return m.Name }

func (m Movie) String() string {
	if m.Year > 0 {
		return fmt.Sprintf("%s (%d)", m.Name, m.Year)
	}
	return m.Name
}

// episodeNumberName matches generated episode names like "Episode 4" or
// "Episode #12" which carry no information beyond the number.
var episodeNumberName = regexp.MustCompile(`(?i)^Episode ?#?\d+$`)

// Episode is one entry of a series. Season 0 marks specials.
type Episode struct {
	ID          string          `json:"id"`
	SeriesTitle string          `json:"series_title"`
	Season      int             `json:"season"`
	Number      int             `json:"number"`
	Name        string          `json:"name,omitempty"`
	Year        int             `json:"year,omitempty"`
	Language    string          `json:"language,omitempty"`
	Description string          `json:"description,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

func (e Episode) Type() TitleType   { return TypeEpisode }
func (e Episode) TitleID() string   { return e.ID }
func (e Episode) TitleName() string { return e.SeriesTitle }

// DisplayName returns the episode name, dropping names that merely repeat
// the episode number or the series title.
func (e Episode) DisplayName() string {
	name := strings.TrimSpace(e.Name)
	if name == "" || episodeNumberName.MatchString(name) || strings.EqualFold(name, e.SeriesTitle) {
		return fmt.Sprintf("Episode %02d", e.Number)
	}
	return name
}

// Label formats the season/episode position as S01E02.
func (e Episode) Label() string {
	return fmt.Sprintf("S%02dE%02d", e.Season, e.Number)
}

func (e Episode) String() string {
	year := ""
	if e.Year > 0 {
		year = fmt.Sprintf(" %d", e.Year)
	}
	s := fmt.Sprintf("%s%s S%02dE%02d", e.SeriesTitle, year, e.Season, e.Number)
	if name := strings.TrimSpace(e.Name); name != "" {
		s += " " + name
	}
	return s
}

// Song is one track of an album.
type Song struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Artist   string          `json:"artist"`
	Album    string          `json:"album"`
	Track    int             `json:"track"`
	Disc     int             `json:"disc"`
	Year     int             `json:"year,omitempty"`
	Language string          `json:"language,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func (s Song) Type() TitleType   { return TypeSong }
func (s Song) TitleID() string   { return s.ID }
func (s Song) TitleName() string { return s.Name }

func (s Song) String() string {
	return fmt.Sprintf("%s - %s (%d) / %02d. %s", s.Artist, s.Album, s.Year, s.Track, s.Name)
}

// Titles is an ordered title list.
type Titles []Title

// Sort orders episodes by (season, number), songs by (album, disc, track),
// and movies by (year, name).
func (t Titles) Sort() {
	sort.SliceStable(t, func(i, j int) bool {
		switch a := t[i].(type) {
		case Episode:
			b, ok := t[j].(Episode)
			if !ok {
				return false
			}
			if a.Season != b.Season {
				return a.Season < b.Season
			}
			return a.Number < b.Number
		case Song:
			b, ok := t[j].(Song)
			if !ok {
				return false
			}
			if a.Album != b.Album {
				return a.Album < b.Album
			}
			if a.Disc != b.Disc {
				return a.Disc < b.Disc
			}
			return a.Track < b.Track
		case Movie:
			b, ok := t[j].(Movie)
			if !ok {
				return false
			}
			if a.Year != b.Year {
				return a.Year < b.Year
			}
			return a.Name < b.Name
		default:
			return false
		}
	})
}

// Episodes returns the subset of episode titles, preserving order.
func (t Titles) Episodes() []Episode {
	var out []Episode
	for _, title := range t {
		if ep, ok := title.(Episode); ok {
			out = append(out, ep)
		}
	}
	return out
}

// titleJSON is the wire form of a Title, discriminated by "type".
type titleJSON struct {
	Type        TitleType       `json:"type"`
	ID          string          `json:"id"`
	Name        string          `json:"name,omitempty"`
	SeriesTitle string          `json:"series_title,omitempty"`
	Season      *int            `json:"season,omitempty"`
	Number      *int            `json:"number,omitempty"`
	Year        int             `json:"year,omitempty"`
	Language    string          `json:"language,omitempty"`
	Description string          `json:"description,omitempty"`
	Artist      string          `json:"artist,omitempty"`
	Album       string          `json:"album,omitempty"`
	Track       int             `json:"track,omitempty"`
	Disc        int             `json:"disc,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// MarshalTitle serializes a Title to its wire form.
func MarshalTitle(title Title) ([]byte, error) {
	var wire titleJSON
	switch t := title.(type) {
	case Movie:
		wire = titleJSON{Type: TypeMovie, ID: t.ID, Name: t.Name, Year: t.Year, Language: t.Language, Data: t.Data}
	case Episode:
		season, number := t.Season, t.Number
		wire = titleJSON{
			Type: TypeEpisode, ID: t.ID, Name: t.DisplayName(), SeriesTitle: t.SeriesTitle,
			Season: &season, Number: &number, Year: t.Year, Language: t.Language,
			Description: t.Description, Data: t.Data,
		}
	case Song:
		wire = titleJSON{
			Type: TypeSong, ID: t.ID, Name: t.Name, Artist: t.Artist, Album: t.Album,
			Track: t.Track, Disc: t.Disc, Year: t.Year, Language: t.Language, Data: t.Data,
		}
	default:
		return nil, fmt.Errorf("unknown title type %T", title)
	}
	return json.Marshal(wire)
}

// UnmarshalTitle parses a wire-form title back into its sum type.
func UnmarshalTitle(data []byte) (Title, error) {
	var wire titleJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parsing title: %w", err)
	}
	switch wire.Type {
	case TypeMovie:
		return Movie{ID: wire.ID, Name: wire.Name, Year: wire.Year, Language: wire.Language, Data: wire.Data}, nil
	case TypeEpisode:
		ep := Episode{
			ID: wire.ID, SeriesTitle: wire.SeriesTitle, Name: wire.Name, Year: wire.Year,
			Language: wire.Language, Description: wire.Description, Data: wire.Data,
		}
		if wire.Season != nil {
			ep.Season = *wire.Season
		}
		if wire.Number != nil {
			ep.Number = *wire.Number
		}
		return ep, nil
	case TypeSong:
		return Song{
			ID: wire.ID, Name: wire.Name, Artist: wire.Artist, Album: wire.Album,
			Track: wire.Track, Disc: wire.Disc, Year: wire.Year, Language: wire.Language, Data: wire.Data,
		}, nil
	default:
		return nil, fmt.Errorf("unknown title type %q", wire.Type)
	}
}

// MarshalTitles serializes a title list to a JSON array.
func MarshalTitles(titles Titles) ([]byte, error) {
	parts := make([]json.RawMessage, len(titles))
	for i, title := range titles {
		b, err := MarshalTitle(title)
		if err != nil {
			return nil, err
		}
		parts[i] = b
	}
	return json.Marshal(parts)
}

// UnmarshalTitles parses a JSON array of wire-form titles.
func UnmarshalTitles(data []byte) (Titles, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("parsing titles: %w", err)
	}
	titles := make(Titles, 0, len(parts))
	for _, part := range parts {
		title, err := UnmarshalTitle(part)
		if err != nil {
			return nil, err
		}
		titles = append(titles, title)
	}
	return titles, nil
}

// SearchResult is one entry of a service search.
type SearchResult struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Label       string `json:"label,omitempty"`
	URL         string `json:"url,omitempty"`
}
