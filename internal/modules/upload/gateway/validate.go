package gateway

import "fmt"

const (
	MaxImageSize    int64 = 10 * 1024 * 1024
	MaxDocumentSize int64 = 50 * 1024 * 1024
)

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
}

// ValidateImage rejects images over 10 MiB or outside JPEG, PNG, GIF and WebP.
func ValidateImage(f File) error {
	if f.Size > MaxImageSize {
		return &ValidationError{Message: fmt.Sprintf(
			"Image file size must be less than 10MB. Current size: %.2fMB", megabytes(f.Size))}
	}
	if _, ok := allowedImageTypes[f.ContentType]; !ok {
		return &ValidationError{Message: "Only image files are allowed. (JPEG, PNG, GIF, WebP)"}
	}
	return nil
}

// ValidateDocument only enforces the 50 MiB ceiling.
func ValidateDocument(f File) error {
	if f.Size > MaxDocumentSize {
		return &ValidationError{Message: fmt.Sprintf(
			"File size must be less than 50MB. Current size: %.2fMB", megabytes(f.Size))}
	}
	return nil
}

func megabytes(size int64) float64 {
	return float64(size) / 1024 / 1024
}
