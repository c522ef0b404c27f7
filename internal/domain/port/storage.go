package port

import "context"

// SourceFetcher materializes object-store video references as local files.
type SourceFetcher interface {
	// Handles reports whether ref is an object-store reference this fetcher owns.
	Handles(ref string) bool
	FetchSource(ctx context.Context, ref string, destPath string) error
}

// FrameStorage keeps a thumbnail of the frame a surface was detected on.
type FrameStorage interface {
	UploadFrame(ctx context.Context, videoID string, timestamp float64, image []byte) (string, error)
}
