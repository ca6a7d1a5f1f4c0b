package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/heic"
)

// transcribePrompt is the shared prompt used by the vision model recognizers
const transcribePrompt = `You are an OCR engine. Transcribe every piece of text printed on this receipt exactly as it appears.

Rules:
- Output one printed line per line of output, top to bottom
- Keep numbers, prices, dates and punctuation exactly as printed (e.g. "$12.50", "03/14/2024")
- Do not summarize, translate, correct or reorder anything
- Do not add commentary, headings or markdown
- If there is no readable text, return nothing`

// imageToPNG converts any supported image format to PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// HEIC/HEIF is what iPhones produce and the standard image package can't read it
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// PrepareImage normalizes an uploaded image to PNG so every recognizer gets
// the same input. PNG data is returned untouched. The returned bool reports
// whether a conversion happened.
func PrepareImage(imageData []byte, contentType string) ([]byte, bool, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	if mimeType == "image/png" && !isHEICFormat(imageData) {
		return imageData, false, nil
	}

	pngData, err := imageToPNG(imageData, mimeType)
	if err != nil {
		return nil, false, fmt.Errorf("converting image to PNG: %w", err)
	}
	return pngData, true, nil
}
