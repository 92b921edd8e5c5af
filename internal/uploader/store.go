package uploader

import (
	"context"
	"fmt"
)

// Store persists a finished artifact to remote storage and returns its
// remote URL.
type Store interface {
	Upload(ctx context.Context, objectKey, filePath string) (string, error)
}

// ObjectKey builds the deterministic remote location for a booking's
// artifact. Re-uploading the same booking always targets the same object.
func ObjectKey(userID, bookingID string) string {
	return fmt.Sprintf("recordings/%s/booking_%s.mp4", userID, bookingID)
}
