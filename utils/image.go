package utils

import (
	"net/http"
	"strings"
)

// IsValidImageType checks if the content type is a valid image type
func IsValidImageType(contentType string) bool {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp", "image/svg+xml":
		return true
	}
	return false
}

// DetectImageType sniffs the content type of image bytes, falling back to the declared one.
func DetectImageType(data []byte, declared string) string {
	if IsValidImageType(declared) {
		return strings.ToLower(declared)
	}
	if sniffed := http.DetectContentType(data); IsValidImageType(sniffed) {
		return sniffed
	}
	return "image/png"
}

// GetImageExtension returns the file extension for a given content type
func GetImageExtension(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	default:
		return ".png"
	}
}
