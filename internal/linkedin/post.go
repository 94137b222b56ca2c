package linkedin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Visibility controls who can see a post.
type Visibility string

const (
	VisibilityPublic      Visibility = "PUBLIC"
	VisibilityConnections Visibility = "CONNECTIONS"
)

// ErrInvalidPost is wrapped by every validation failure of a PostRequest.
var ErrInvalidPost = errors.New("invalid post")

// ParseVisibility accepts PUBLIC or CONNECTIONS in any case; empty means PUBLIC.
func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(strings.ToUpper(strings.TrimSpace(s))) {
	case "", VisibilityPublic:
		return VisibilityPublic, nil
	case VisibilityConnections:
		return VisibilityConnections, nil
	default:
		return "", fmt.Errorf("%w: visibility must be PUBLIC or CONNECTIONS, got %q", ErrInvalidPost, s)
	}
}

// PostRequest describes a share.
type PostRequest struct {
	Text       string
	Visibility Visibility
	Media      []MediaRequest
}

// Paths in a UGC post. LinkedIn's keys contain dots, which sjson needs escaped.
const (
	shareContentPath = `specificContent.com\.linkedin\.ugc\.ShareContent`
	visibilityPath   = `visibility.com\.linkedin\.ugc\.MemberNetworkVisibility`
)

// payload accumulates sjson edits and keeps the first error.
type payload struct {
	buf []byte
	err error
}

func (p *payload) set(path string, value any) {
	if p.err != nil {
		return
	}
	p.buf, p.err = sjson.SetBytes(p.buf, path, value)
}

// CreatePost publishes req as the member identified by personID (the OIDC
// sub) and returns the post id.
func (c *Client) CreatePost(ctx context.Context, accessToken, personID string, req PostRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", fmt.Errorf("%w: text is required", ErrInvalidPost)
	}
	visibility, err := ParseVisibility(string(req.Visibility))
	if err != nil {
		return "", err
	}
	if personID == "" {
		return "", fmt.Errorf("%w: author id is required", ErrInvalidPost)
	}
	author := "urn:li:person:" + personID

	category, err := mediaCategory(req.Media)
	if err != nil {
		return "", err
	}

	var assets []string
	if len(req.Media) > 0 {
		assets, err = c.uploadMedia(ctx, accessToken, author, category, req.Media)
		if err != nil {
			return "", err
		}
	}

	p := &payload{buf: []byte(`{}`)}
	p.set("author", author)
	p.set("lifecycleState", "PUBLISHED")
	p.set(shareContentPath+".shareCommentary.text", req.Text)
	p.set(shareContentPath+".shareMediaCategory", string(category))
	if len(assets) > 0 {
		entries := make([]map[string]any, len(assets))
		for i, asset := range assets {
			entry := map[string]any{
				"status": "READY",
				"media":  asset,
			}
			if t := req.Media[i].Title; t != "" {
				entry["title"] = map[string]string{"text": t}
			}
			if d := req.Media[i].Description; d != "" {
				entry["description"] = map[string]string{"text": d}
			}
			entries[i] = entry
		}
		p.set(shareContentPath+".media", entries)
	}
	p.set(visibilityPath, string(visibility))
	if p.err != nil {
		return "", fmt.Errorf("failed to build post payload: %w", p.err)
	}

	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PostURL, bytes.NewReader(p.buf))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setAPIHeaders(httpReq, accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.WithFields(log.Fields{
		"visibility": visibility,
		"media":      len(assets),
	}).Info("Sending post to LinkedIn")

	resp, body, err := c.do(ctx, httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to create post: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to create post: %w", decodeError(resp.StatusCode, body))
	}

	if id := resp.Header.Get("X-RestLi-Id"); id != "" {
		return id, nil
	}
	if id := gjson.GetBytes(body, "id").String(); id != "" {
		return id, nil
	}
	return "", errors.New("failed to create post: response carried no post id")
}
