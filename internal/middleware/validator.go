package middleware

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/bryanwahyu/snapsense/internal/application/results"
)

// Input validation and sanitization utilities

const MaxSearchLength = 200

var (
	// AllowedImageTypes are the upload content types accepted before normalization.
	AllowedImageTypes = map[string]bool{
		"image/jpeg": true,
		"image/png":  true,
		"image/gif":  true,
		"image/webp": true,
		"image/bmp":  true,
		"image/tiff": true,
	}

	// AllowedAudioTypes are the voice command uploads accepted by the recognizer.
	AllowedAudioTypes = map[string]bool{
		"audio/webm":  true,
		"audio/ogg":   true,
		"audio/mpeg":  true,
		"audio/mp4":   true,
		"audio/wav":   true,
		"audio/x-wav": true,
	}

	verifyCodePattern = regexp.MustCompile(`^[0-9]{6}$`)
)

// ValidateRecordID accepts canonical UUIDs only.
func ValidateRecordID(id string) error {
	if id == "" {
		return fmt.Errorf("record ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid record ID format")
	}
	return nil
}

// ValidateWindow parses an optional window query param. Empty means 3h.
func ValidateWindow(raw string) (results.Window, error) {
	return results.ParseWindow(raw)
}

// ValidateSort parses an optional sort query param. Empty means latest.
func ValidateSort(raw string) (results.SortOrder, error) {
	return results.ParseSort(raw)
}

// ValidateLimit validates the limit parameter; 0 means "use the default".
func ValidateLimit(raw string, maxLimit int) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("limit must be a number")
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be at least 1")
	}
	if limit > maxLimit {
		return 0, fmt.Errorf("limit cannot exceed %d", maxLimit)
	}
	return limit, nil
}

// ValidateSearch trims and bounds free-text search.
func ValidateSearch(raw string) (string, error) {
	s := SanitizeString(raw)
	if len(s) > MaxSearchLength {
		return "", fmt.Errorf("search cannot exceed %d characters", MaxSearchLength)
	}
	return s, nil
}

// ValidateImageContent sniffs the payload and checks it against AllowedImageTypes.
func ValidateImageContent(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("image is empty")
	}
	ct := http.DetectContentType(data)
	if !AllowedImageTypes[ct] {
		return "", fmt.Errorf("unsupported image type: %s", ct)
	}
	return ct, nil
}

// ValidateAudioType checks the declared content type of a voice upload.
func ValidateAudioType(contentType string) error {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if ct == "" || ct == "application/octet-stream" {
		return nil
	}
	if !AllowedAudioTypes[ct] {
		return fmt.Errorf("unsupported audio type: %s", ct)
	}
	return nil
}

// ValidateVerificationCode expects six digits.
func ValidateVerificationCode(code string) error {
	if !verifyCodePattern.MatchString(code) {
		return fmt.Errorf("verification code must be 6 digits")
	}
	return nil
}

// SanitizeString removes control characters and trims whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
