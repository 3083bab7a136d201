package adapter

import "context"

// DocumentRenderer turns an agent screenshot into a PDF file.
type DocumentRenderer interface {
	// ImageToPDF writes a single-page PDF next to imagePath and returns its path.
	ImageToPDF(ctx context.Context, imagePath string) (string, error)
}
