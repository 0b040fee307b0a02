// Package detect calls the face-detection sidecar service and turns its
// responses into observations the people repository can store.
package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/photo-faces/internal/library"
	"github.com/kozaktomas/photo-faces/internal/paths"
	"github.com/kozaktomas/photo-faces/internal/people"
)

const defaultDetectorURL = "http://localhost:9090"

// ErrUnreadableImage is returned when the detection service cannot decode
// the image at all. Callers record such pictures as broken rather than
// retrying them.
var ErrUnreadableImage = errors.New("detector could not read image")

// Client talks to the face-detection service over HTTP. The service
// detects faces and renders a thumbnail crop and a bounds visualization
// per face; the client materializes both under the cache root so stored
// paths always rebase cleanly.
type Client struct {
	baseURL   string
	cacheRoot paths.Root
	client    *http.Client
}

// NewClient creates a detection client. An empty baseURL falls back to
// the default local service address.
func NewClient(baseURL string, cacheRoot paths.Root) *Client {
	if baseURL == "" {
		baseURL = defaultDetectorURL
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		cacheRoot: cacheRoot,
		client:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// detectionResponse is the service's JSON reply for one image.
type detectionResponse struct {
	Model string          `json:"model"`
	Faces []detectionFace `json:"faces"`
}

type detectionFace struct {
	Bounds struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"bounds"`
	Landmarks   map[string][2]float64 `json:"landmarks"`
	Confidence  float64               `json:"confidence"`
	Thumbnail   string                `json:"thumbnail"`    // base64 PNG
	BoundsImage string                `json:"bounds_image"` // base64 PNG
}

// Detect runs face detection for one picture. It posts the image file to
// the service, writes the returned renderings under the cache root, and
// maps each detected face to an observation. An HTTP 422 from the
// service means the image itself is unreadable and maps to
// ErrUnreadableImage.
func (c *Client) Detect(ctx context.Context, target people.ScanTarget) ([]people.Observation, error) {
	imageData, err := os.ReadFile(target.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}

	body, contentType, err := multipartImage(imageData)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/detect", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, ErrUnreadableImage
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detection service returned %d: %s", resp.StatusCode, payload)
	}

	var decoded detectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	return c.materialize(target.PictureID, decoded)
}

// materialize writes the per-face renderings to the cache and builds the
// observations.
func (c *Client) materialize(pictureID library.PictureID, decoded detectionResponse) ([]people.Observation, error) {
	faceDir := filepath.Join(c.cacheRoot.Base(), "faces", strconv.FormatInt(int64(pictureID), 10))
	if len(decoded.Faces) > 0 {
		if err := os.MkdirAll(faceDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create face cache dir: %w", err)
		}
	}

	observations := make([]people.Observation, 0, len(decoded.Faces))
	for i, face := range decoded.Faces {
		thumbnailPath := filepath.Join(faceDir, fmt.Sprintf("%d_thumb.png", i))
		boundsPath := filepath.Join(faceDir, fmt.Sprintf("%d_bounds.png", i))

		if err := writeBase64File(thumbnailPath, face.Thumbnail); err != nil {
			return nil, fmt.Errorf("face %d thumbnail: %w", i, err)
		}
		if err := writeBase64File(boundsPath, face.BoundsImage); err != nil {
			return nil, fmt.Errorf("face %d bounds image: %w", i, err)
		}

		observations = append(observations, people.Observation{
			ThumbnailPath: thumbnailPath,
			BoundsPath:    boundsPath,
			ModelName:     decoded.Model,
			Bounds: people.Bounds{
				X:      face.Bounds.X,
				Y:      face.Bounds.Y,
				Width:  face.Bounds.Width,
				Height: face.Bounds.Height,
			},
			RightEye:         landmark(face.Landmarks, "right_eye"),
			LeftEye:          landmark(face.Landmarks, "left_eye"),
			Nose:             landmark(face.Landmarks, "nose"),
			RightMouthCorner: landmark(face.Landmarks, "right_mouth_corner"),
			LeftMouthCorner:  landmark(face.Landmarks, "left_mouth_corner"),
			Confidence:       face.Confidence,
		})
	}

	return observations, nil
}

// multipartImage builds the multipart request body for one image.
func multipartImage(imageData []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, "", fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func writeBase64File(path, encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("malformed image data: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func landmark(landmarks map[string][2]float64, name string) *people.Point {
	xy, ok := landmarks[name]
	if !ok {
		return nil
	}
	return &people.Point{X: xy[0], Y: xy[1]}
}
