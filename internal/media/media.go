package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
	"github.com/vincent-petithory/dataurl"
)

const (
	// maxMediaBytes matches the provider's media size ceiling.
	maxMediaBytes = 16 << 20

	thumbnailEdge    = 320
	thumbnailQuality = 80
)

var allowedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"video/mp4":       true,
	"video/3gpp":      true,
	"audio/aac":       true,
	"audio/mpeg":      true,
	"audio/ogg":       true,
	"application/pdf": true,
}

var mimeExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/3gpp":      ".3gp",
	"audio/aac":       ".aac",
	"audio/mpeg":      ".mp3",
	"audio/ogg":       ".ogg",
	"application/pdf": ".pdf",
}

// Asset is one uploaded media object, plus its thumbnail when the source is
// an image.
type Asset struct {
	URL      string `json:"url"`
	ThumbURL string `json:"thumb_url,omitempty"`
	Mime     string `json:"mime"`
	Size     int    `json:"size"`
}

// UploadDataURL decodes a data URL, checks type and size, uploads the object
// and, for images, a 320px JPEG thumbnail alongside it.
func (s *Store) UploadDataURL(ctx context.Context, campaignID, raw string) (*Asset, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("media store is not configured")
	}

	decoded, err := dataurl.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("could not decode media payload: %w", err)
	}

	mimeType := decoded.MediaType.ContentType()
	if !allowedMimeTypes[mimeType] {
		return nil, fmt.Errorf("unsupported media type %q", mimeType)
	}
	if len(decoded.Data) > maxMediaBytes {
		return nil, fmt.Errorf("media payload of %d bytes exceeds the %d byte limit", len(decoded.Data), maxMediaBytes)
	}
	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("media payload is empty")
	}

	id := uuid.New().String()
	key := objectKey(campaignID, id, mimeExtensions[mimeType])
	url, err := s.Upload(ctx, key, decoded.Data, mimeType)
	if err != nil {
		return nil, err
	}

	asset := &Asset{URL: url, Mime: mimeType, Size: len(decoded.Data)}

	if strings.HasPrefix(mimeType, "image/") {
		thumb, err := makeThumbnail(decoded.Data)
		if err != nil {
			// The full image is already stored; a missing preview is not
			// worth failing the upload over.
			log.Warn().Err(err).Str("campaign_id", campaignID).Msg("Failed to generate media thumbnail")
			return asset, nil
		}
		thumbKey := objectKey(campaignID, id+"-thumb", ".jpg")
		thumbURL, err := s.Upload(ctx, thumbKey, thumb, "image/jpeg")
		if err != nil {
			log.Warn().Err(err).Str("campaign_id", campaignID).Msg("Failed to upload media thumbnail")
			return asset, nil
		}
		asset.ThumbURL = thumbURL
	}

	return asset, nil
}

// makeThumbnail renders a bounded JPEG preview of an image payload.
func makeThumbnail(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	thumb := resize.Thumbnail(thumbnailEdge, thumbnailEdge, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
