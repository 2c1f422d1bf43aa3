package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

func nullableString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(raw sql.NullString) time.Time {
	if !raw.Valid || raw.String == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw.String); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func encodeSpectrum(peaks []Peak) (string, error) {
	pairs := make([][2]float64, 0, len(peaks))
	for _, peak := range peaks {
		pairs = append(pairs, [2]float64{peak.MZ, peak.Intensity})
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeSpectrum(raw string) []Peak {
	var pairs [][2]float64
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil
	}
	peaks := make([]Peak, 0, len(pairs))
	for _, pair := range pairs {
		peaks = append(peaks, Peak{MZ: pair[0], Intensity: pair[1]})
	}
	return peaks
}

type rowScanner interface {
	Scan(dest ...any) error
}
