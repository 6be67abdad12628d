package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/model"
)

func TestUploadURL(t *testing.T) {
	svc := NewUploadService(&fakeStorage{objects: map[string][]byte{}}, 10*time.Minute)

	res, err := svc.UploadURL(context.Background(), "user-1", &model.UploadURLRequest{FileName: "../../Q3 report.docx", ContentType: "application/octet-stream"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Key, "uploads/user-1/"))
	assert.True(t, strings.HasSuffix(res.Key, "/Q3_report.docx"))
	assert.Equal(t, "https://storage.test/put/"+res.Key, res.UploadURL)
	assert.Equal(t, 600, res.ExpiresIn)

	file, err := svc.FileURL(context.Background(), res.Key)
	require.NoError(t, err)
	assert.Equal(t, "https://storage.test/get/"+res.Key, file.URL)
}

func TestFileURLRejectsForeignKeys(t *testing.T) {
	svc := NewUploadService(&fakeStorage{objects: map[string][]byte{}}, 0)

	testCases := []struct {
		name string
		key  string
	}{
		{"outside prefix", "secrets/a.txt"},
		{"traversal", "uploads/../secrets/a.txt"},
		{"empty", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.FileURL(context.Background(), tc.key)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestUploadWithoutStorage(t *testing.T) {
	svc := NewUploadService(nil, 0)
	_, err := svc.UploadURL(context.Background(), "user-1", &model.UploadURLRequest{FileName: "a.txt", ContentType: "text/plain"})
	assert.ErrorIs(t, err, ErrStorageDisabled)
}

func TestSanitizeFileName(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"report.docx", "report.docx"},
		{`C:\docs\notes.txt`, "notes.txt"},
		{"..", ""},
		{"ünïcode name.md", "_n_code_name.md"},
		{".hidden", "hidden"},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, sanitizeFileName(tc.in))
		})
	}
}
