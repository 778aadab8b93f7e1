package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Backend sends one completion request to a model endpoint. Implementations
// make a single attempt; retry and failover belong to the caller.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
	Kind() string
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Images      []Image
	Temperature float64
	MaxTokens   int
}

// Image is an inline image attachment.
type Image struct {
	Name      string
	MediaType string
	Data      []byte
}

// Base64 returns the standard base64 encoding of the image bytes.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL renders the image as a data: URL.
func (i Image) DataURL() string {
	return "data:" + i.MediaType + ";base64," + i.Base64()
}

var imageMediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// LoadImage reads an image from disk and infers its media type from the
// extension, falling back to content sniffing.
func LoadImage(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("load image: %w", err)
	}
	mediaType := imageMediaTypes[strings.ToLower(filepath.Ext(path))]
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	return Image{Name: filepath.Base(path), MediaType: mediaType, Data: data}, nil
}
