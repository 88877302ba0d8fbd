package storage

import (
	"fmt"
	"math"
	"strings"
)

// Segment is one published chunk of a playlist.
type Segment struct {
	Location        string
	DurationSeconds float64
}

// BuildManifest renders an M3U8 playlist for the given segments. While a
// stream is still generating, the playlist omits the end marker so players
// keep polling; once final is true, #EXT-X-ENDLIST closes it.
func BuildManifest(segments []Segment, final bool) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration(segments)))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	if final {
		b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	} else {
		b.WriteString("#EXT-X-PLAYLIST-TYPE:EVENT\n")
	}
	for _, s := range segments {
		b.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", s.DurationSeconds))
		b.WriteString(s.Location)
		b.WriteString("\n")
	}
	if final {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// targetDuration is the longest segment rounded up, minimum 1.
func targetDuration(segments []Segment) int {
	longest := 1.0
	for _, s := range segments {
		if s.DurationSeconds > longest {
			longest = s.DurationSeconds
		}
	}
	return int(math.Ceil(longest))
}
