package services

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const (
	defaultImageContentType = "image/jpeg"
	maxScreenshotBytes      = 4 << 20
)

// decodeImageData accepts a base64 data URL or bare base64 payload.
func decodeImageData(imageData string) (contentType string, data []byte, err error) {
	contentType = defaultImageContentType
	payload := imageData

	if strings.HasPrefix(imageData, "data:") {
		comma := strings.IndexByte(imageData, ',')
		if comma < 0 {
			return "", nil, ErrInvalidImage
		}
		header := imageData[len("data:"):comma]
		mediaType, encoding, ok := strings.Cut(header, ";")
		if !ok || encoding != "base64" {
			return "", nil, ErrInvalidImage
		}
		if mediaType != "" {
			if !strings.HasPrefix(mediaType, "image/") {
				return "", nil, ErrInvalidImage
			}
			contentType = mediaType
		}
		payload = imageData[comma+1:]
	}

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) == 0 || len(data) > maxScreenshotBytes {
		return "", nil, ErrInvalidImage
	}
	return contentType, data, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
