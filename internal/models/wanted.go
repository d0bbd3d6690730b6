package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Wanted filters episodes by user-supplied tokens. Tokens are season-episode
// points of the form "SxE" ("2x7"), inclusive ranges ("1x1-1x3"), or bare
// season numbers ("3"), joined by commas.
type Wanted []wantedRange

type wantedRange struct {
	fromSeason, fromNumber int
	toSeason, toNumber     int
	wholeSeason            bool
}

// ParseWanted parses a wanted expression. An empty expression returns a nil
// filter, which matches everything.
func ParseWanted(expr string) (Wanted, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	var wanted Wanted
	for _, token := range strings.Split(expr, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		if from, to, ok := strings.Cut(token, "-"); ok {
			fs, fn, err := parsePoint(from)
			if err != nil {
				return nil, fmt.Errorf("wanted token %q: %w", token, err)
			}
			ts, tn, err := parsePoint(to)
			if err != nil {
				return nil, fmt.Errorf("wanted token %q: %w", token, err)
			}
			if ts < fs || (ts == fs && tn < fn) {
				return nil, fmt.Errorf("wanted range %q is reversed", token)
			}
			wanted = append(wanted, wantedRange{fromSeason: fs, fromNumber: fn, toSeason: ts, toNumber: tn})
			continue
		}

		if !strings.ContainsAny(token, "xX") {
			season, err := strconv.Atoi(token)
			if err != nil {
				return nil, fmt.Errorf("wanted token %q is not a season or SxE point", token)
			}
			wanted = append(wanted, wantedRange{fromSeason: season, toSeason: season, wholeSeason: true})
			continue
		}

		season, number, err := parsePoint(token)
		if err != nil {
			return nil, fmt.Errorf("wanted token %q: %w", token, err)
		}
		wanted = append(wanted, wantedRange{fromSeason: season, fromNumber: number, toSeason: season, toNumber: number})
	}
	return wanted, nil
}

func parsePoint(token string) (season, number int, err error) {
	token = strings.TrimSpace(token)
	s, n, ok := strings.Cut(strings.ToLower(token), "x")
	if !ok {
		return 0, 0, fmt.Errorf("expected SxE")
	}
	season, err = strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid season %q", s)
	}
	number, err = strconv.Atoi(strings.TrimSpace(n))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid episode %q", n)
	}
	return season, number, nil
}

// Matches reports whether the episode position passes the filter. A nil or
// empty filter matches everything.
func (w Wanted) Matches(season, number int) bool {
	if len(w) == 0 {
		return true
	}
	for _, r := range w {
		if r.wholeSeason {
			if season == r.fromSeason {
				return true
			}
			continue
		}
		after := season > r.fromSeason || (season == r.fromSeason && number >= r.fromNumber)
		before := season < r.toSeason || (season == r.toSeason && number <= r.toNumber)
		if after && before {
			return true
		}
	}
	return false
}

// Filter returns the episodes matching the filter, preserving order.
func (w Wanted) Filter(episodes []Episode) []Episode {
	if len(w) == 0 {
		return episodes
	}
	var out []Episode
	for _, ep := range episodes {
		if w.Matches(ep.Season, ep.Number) {
			out = append(out, ep)
		}
	}
	return out
}
