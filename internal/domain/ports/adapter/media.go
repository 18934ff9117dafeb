package adapter

import "context"

// MediaTool probes and cuts audio files.
type MediaTool interface {
	// Duration returns the length in seconds; 0 when it cannot be determined.
	Duration(ctx context.Context, path string) (float64, error)
	// Extract writes [start, start+length) of src as 16kHz mono PCM to dst.
	Extract(ctx context.Context, src, dst string, start, length float64) error
}
