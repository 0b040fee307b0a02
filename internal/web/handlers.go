package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/photo-faces/internal/library"
	"github.com/kozaktomas/photo-faces/internal/people"
)

// ScanTargetResponse is one entry of the scan queue.
type ScanTargetResponse struct {
	PictureID int64  `json:"picture_id"`
	Path      string `json:"path"`
}

// FaceResponse is one stored face. Person is omitted unless the face is
// linked to a fully populated person.
type FaceResponse struct {
	FaceID        int64           `json:"face_id"`
	ThumbnailPath string          `json:"thumbnail_path"`
	BoundsPath    string          `json:"bounds_path"`
	ModelName     string          `json:"model_name"`
	Bounds        BoundsResponse  `json:"bounds"`
	Confidence    float64         `json:"confidence"`
	Person        *PersonResponse `json:"person,omitempty"`
}

type BoundsResponse struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type PersonResponse struct {
	PersonID      int64  `json:"person_id"`
	Name          string `json:"name"`
	ThumbnailPath string `json:"thumbnail_path"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleScanQueue returns the pictures still waiting for a face scan,
// newest first.
func (s *Server) handleScanQueue(w http.ResponseWriter, r *http.Request) {
	targets, err := s.repo.FindNeedFaceScan()
	if err != nil {
		s.log.Error("failed to read scan queue", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to read scan queue")
		return
	}

	response := make([]ScanTargetResponse, 0, len(targets))
	for _, t := range targets {
		response = append(response, ScanTargetResponse{
			PictureID: int64(t.PictureID),
			Path:      t.Path,
		})
	}

	respondJSON(w, http.StatusOK, response)
}

// handlePictureFaces returns the valid faces of one picture with any
// linked people.
func (s *Server) handlePictureFaces(w http.ResponseWriter, r *http.Request) {
	pictureID, err := strconv.ParseInt(chi.URLParam(r, "pictureID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid picture id")
		return
	}

	faces, err := s.repo.FindFaces(library.PictureID(pictureID))
	if err != nil {
		s.log.Error("failed to read faces",
			zap.Int64("picture_id", pictureID),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "failed to read faces")
		return
	}

	response := make([]FaceResponse, 0, len(faces))
	for _, pf := range faces {
		response = append(response, faceToResponse(pf))
	}

	respondJSON(w, http.StatusOK, response)
}

// handleNotAFace flags one detection as not being a face. Unknown ids
// succeed without changing anything, matching the repository semantics.
func (s *Server) handleNotAFace(w http.ResponseWriter, r *http.Request) {
	faceID, err := strconv.ParseInt(chi.URLParam(r, "faceID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid face id")
		return
	}

	if err := s.repo.MarkNotAFace(people.FaceID(faceID)); err != nil {
		s.log.Error("failed to mark face",
			zap.Int64("face_id", faceID),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "failed to mark face")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func faceToResponse(pf people.PictureFace) FaceResponse {
	response := FaceResponse{
		FaceID:        int64(pf.Face.ID),
		ThumbnailPath: pf.Face.ThumbnailPath,
		BoundsPath:    pf.Face.BoundsPath,
		ModelName:     pf.Face.ModelName,
		Bounds: BoundsResponse{
			X:      pf.Face.Bounds.X,
			Y:      pf.Face.Bounds.Y,
			Width:  pf.Face.Bounds.Width,
			Height: pf.Face.Bounds.Height,
		},
		Confidence: pf.Face.Confidence,
	}
	if pf.Person != nil {
		response.Person = &PersonResponse{
			PersonID:      int64(pf.Person.ID),
			Name:          pf.Person.Name,
			ThumbnailPath: pf.Person.ThumbnailPath,
		}
	}
	return response
}
