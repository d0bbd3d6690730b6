package session

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParseCookieFile parses Netscape cookie-file text (the format written by
// browser exporters and curl) into recorded cookies keyed by name.
func ParseCookieFile(text string) (map[string]Cookie, error) {
	cookies := make(map[string]Cookie)
	scanner := bufio.NewScanner(strings.NewReader(text))
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		fields := strings.Split(raw, "\t")
		if len(fields) != 7 {
			return nil, fmt.Errorf("cookie file line %d: expected 7 fields, got %d", line, len(fields))
		}
		expires, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cookie file line %d: invalid expiry %q", line, fields[4])
		}
		cookies[fields[5]] = Cookie{
			Domain:  fields[0],
			Path:    fields[2],
			Secure:  strings.EqualFold(fields[3], "TRUE"),
			Expires: expires,
			Value:   fields[6],
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cookies, nil
}

// FormatCookieFile renders recorded cookies as Netscape cookie-file text.
func FormatCookieFile(cookies map[string]Cookie) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("# Netscape HTTP Cookie File\n")
	for _, name := range names {
		c := cookies[name]
		domain := c.Domain
		if domain == "" {
			domain = "."
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		includeSub := "FALSE"
		if strings.HasPrefix(domain, ".") {
			includeSub = "TRUE"
		}
		secure := "FALSE"
		if c.Secure {
			secure = "TRUE"
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", domain, includeSub, path, secure, c.Expires, name, c.Value)
	}
	return b.String()
}
