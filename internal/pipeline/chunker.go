package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"meeting-ai-pipeline/internal/domain/model"
)

// PlanWindows lays fixed-length windows with a fixed overlap over an input
// of the given duration (seconds). The last window always ends at the end of
// the audio; a tail that would add no more new audio than the overlap is
// folded into the previous window. An unknown or non-positive duration yields
// a single window covering the whole file with End == 0.
func PlanWindows(duration, window, overlap float64) []model.ChunkDescriptor {
	if duration <= 0 || window <= 0 {
		return []model.ChunkDescriptor{{Index: 0, Start: 0, End: max(duration, 0)}}
	}
	if overlap < 0 || overlap >= window {
		overlap = 0
	}

	var out []model.ChunkDescriptor
	start := 0.0
	for {
		end := min(start+window, duration)
		out = append(out, model.ChunkDescriptor{Index: len(out), Start: start, End: end})
		if end >= duration {
			return out
		}
		if duration-end <= overlap {
			out[len(out)-1].End = duration
			return out
		}
		start = end - overlap
	}
}

// chunkPath names the extracted file for window idx of src inside dir.
func chunkPath(dir, src string, idx int) string {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	if dir == "" {
		dir = filepath.Dir(src)
	}
	return filepath.Join(dir, fmt.Sprintf("%s_chunk_%03d.wav", base, idx))
}
