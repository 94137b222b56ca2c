package linkedin

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// MediaCategory is the UGC shareMediaCategory.
type MediaCategory string

const (
	MediaNone  MediaCategory = "NONE"
	MediaImage MediaCategory = "IMAGE"
	MediaVideo MediaCategory = "VIDEO"
)

const (
	maxParallelUploads = 3
	uploadURLPath      = `value.uploadMechanism.com\.linkedin\.digitalmedia\.uploading\.MediaUploadHttpRequest.uploadUrl`
)

// MediaRequest is one file attached to a post.
type MediaRequest struct {
	Path        string
	Title       string
	Description string
}

// NewMediaRequests pairs files with optional titles and descriptions by index.
func NewMediaRequests(files, titles, descriptions []string) []MediaRequest {
	media := make([]MediaRequest, 0, len(files))
	for i, f := range files {
		m := MediaRequest{Path: f}
		if i < len(titles) {
			m.Title = titles[i]
		}
		if i < len(descriptions) {
			m.Description = descriptions[i]
		}
		media = append(media, m)
	}
	return media
}

// detectCategory sniffs a file's content type.
func detectCategory(path string) (MediaCategory, string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: cannot read media file %s: %v", ErrInvalidPost, path, err)
	}
	switch {
	case strings.HasPrefix(mt.String(), "image/"):
		return MediaImage, mt.String(), nil
	case strings.HasPrefix(mt.String(), "video/"):
		return MediaVideo, mt.String(), nil
	default:
		return "", "", fmt.Errorf("%w: unsupported media type %s for %s", ErrInvalidPost, mt.String(), filepath.Base(path))
	}
}

// mediaCategory decides the post's category. Images and videos cannot be
// mixed in one share.
func mediaCategory(media []MediaRequest) (MediaCategory, error) {
	if len(media) == 0 {
		return MediaNone, nil
	}
	var category MediaCategory
	for _, m := range media {
		c, _, err := detectCategory(m.Path)
		if err != nil {
			return "", err
		}
		if category != "" && c != category {
			return "", fmt.Errorf("%w: images and videos cannot be mixed in one post", ErrInvalidPost)
		}
		category = c
	}
	return category, nil
}

// uploadMedia registers and uploads every file, returning asset URNs in input
// order.
func (c *Client) uploadMedia(
	ctx context.Context,
	accessToken, owner string,
	category MediaCategory,
	media []MediaRequest,
) ([]string, error) {
	assets := make([]string, len(media))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)
	for i, m := range media {
		g.Go(func() error {
			asset, err := c.uploadOne(gctx, accessToken, owner, category, m)
			if err != nil {
				return fmt.Errorf("failed to upload %s: %w", filepath.Base(m.Path), err)
			}
			assets[i] = asset
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return assets, nil
}

func (c *Client) uploadOne(
	ctx context.Context,
	accessToken, owner string,
	category MediaCategory,
	m MediaRequest,
) (string, error) {
	uploadURL, asset, err := c.registerUpload(ctx, accessToken, owner, category)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(m.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read media file: %w", err)
	}
	_, contentType, err := detectCategory(m.Path)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", contentType)

	resp, body, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", decodeError(resp.StatusCode, body)
	}

	c.logger.WithFields(log.Fields{"asset": asset, "bytes": len(data)}).Debug("Uploaded media")
	return asset, nil
}

// registerUpload asks LinkedIn for an upload URL and the asset URN it will
// become.
func (c *Client) registerUpload(
	ctx context.Context,
	accessToken, owner string,
	category MediaCategory,
) (uploadURL, asset string, err error) {
	recipe := "urn:li:digitalmediaRecipe:feedshare-image"
	if category == MediaVideo {
		recipe = "urn:li:digitalmediaRecipe:feedshare-video"
	}

	p := &payload{buf: []byte(`{}`)}
	p.set("registerUploadRequest.recipes", []string{recipe})
	p.set("registerUploadRequest.owner", owner)
	p.set("registerUploadRequest.serviceRelationships", []map[string]string{{
		"relationshipType": "OWNER",
		"identifier":       "urn:li:userGeneratedContent",
	}})
	if p.err != nil {
		return "", "", fmt.Errorf("failed to build upload registration: %w", p.err)
	}

	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.cfg.AssetsURL+"?action=registerUpload",
		bytes.NewReader(p.buf),
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setAPIHeaders(req, accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, body, err := c.do(ctx, req)
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", "", decodeError(resp.StatusCode, body)
	}

	uploadURL = gjson.GetBytes(body, uploadURLPath).String()
	asset = gjson.GetBytes(body, "value.asset").String()
	if uploadURL == "" || asset == "" {
		return "", "", fmt.Errorf("upload registration response is missing uploadUrl or asset")
	}
	return uploadURL, asset, nil
}

