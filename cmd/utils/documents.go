package utils

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxDocumentSize = 5 << 20 // 5 MB
	DocumentPath    = "uploads/documents"
)

var documentExtensions = map[string]string{
	"application/pdf": "pdf",
	"image/jpeg":      "jpg",
	"image/jpg":       "jpg",
	"image/png":       "png",
}

func IsAllowedDocumentMime(mime string) bool {
	_, ok := documentExtensions[strings.ToLower(strings.TrimSpace(mime))]
	return ok
}

// SaveDocumentBase64 decodes and stores one credential document uploaded
// by a doctor or pharmacist, returning its stored path.
func SaveDocumentBase64(mime, data string) (string, error) {
	ext, ok := documentExtensions[strings.ToLower(strings.TrimSpace(mime))]
	if !ok {
		return "", fmt.Errorf("invalid mime_type: %s", mime)
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("invalid document data: %v", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty document")
	}
	if len(raw) > MaxDocumentSize {
		return "", fmt.Errorf("document exceeds maximum size of %d MB", MaxDocumentSize/(1<<20))
	}

	if err := os.MkdirAll(DocumentPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %v", err)
	}

	filename := fmt.Sprintf("%s-%s.%s",
		time.Now().Format("20060102"),
		uuid.New().String(),
		ext,
	)
	filePath := filepath.Join(DocumentPath, filename)

	if err := os.WriteFile(filePath, raw, 0644); err != nil {
		return "", fmt.Errorf("failed to save document: %v", err)
	}

	return filePath, nil
}
