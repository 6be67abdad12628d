package model

// UploadURLRequest asks for a presigned upload URL
type UploadURLRequest struct {
	FileName    string `json:"fileName" validate:"required,min=1,max=255"`
	ContentType string `json:"contentType" validate:"required,min=1,max=255"`
}

// UploadURLResponse returns a presigned upload URL and the object key
type UploadURLResponse struct {
	Key       string `json:"key"`
	UploadURL string `json:"uploadUrl"`
	ExpiresIn int    `json:"expiresIn"`
}

// FileURLResponse returns a presigned download URL
type FileURLResponse struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expiresIn"`
}
