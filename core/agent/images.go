package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
)

type uploadImageRequest struct {
	Image string `json:"image"`
}

type uploadImageResponse struct {
	ImageID string `json:"image_id"`
}

// UploadImage stores an encoded image on the agent service and returns the
// reference to attach to the next streamed turn.
func (c *Client) UploadImage(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyImage
	}

	var resp uploadImageResponse
	req := uploadImageRequest{Image: base64.StdEncoding.EncodeToString(image)}
	if err := c.doJSON(ctx, http.MethodPost, "/api/upload_image", nil, req, &resp); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	if resp.ImageID == "" {
		return "", fmt.Errorf("upload image: %w", &StatusError{Endpoint: "/api/upload_image", HTTPStatus: http.StatusOK, Message: "missing image_id"})
	}

	logger.Debug("uploaded image", "image_id", resp.ImageID, "bytes", len(image))
	return resp.ImageID, nil
}

type snapshotResponse struct {
	Image string `json:"image"`
}

// CameraSnapshot grabs a JPEG frame from the camera bridged by the agent
// service.
func (c *Client) CameraSnapshot(ctx context.Context) ([]byte, error) {
	var resp snapshotResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/camera/snapshot", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("camera snapshot: %w", err)
	}

	image, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		return nil, fmt.Errorf("camera snapshot: decode image: %w", err)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("camera snapshot: %w", ErrEmptyImage)
	}
	return image, nil
}
