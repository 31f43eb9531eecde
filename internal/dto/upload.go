package dto

import (
	"io"

	"github.com/noah-isme/lms-api/pkg/storage"
)

// FileUpload is a file received from a client, not yet stored.
// Duration is the client-reported length of a video in seconds, when known.
type FileUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
	Duration    float64
	// OwnerID scopes the stored asset to the uploading user.
	OwnerID string
}

// MultiUploadResponse lists the assets stored by a multi-file upload.
type MultiUploadResponse struct {
	Files []storage.Asset `json:"files"`
}
