package handlers

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lehigh-university-libraries/cxr-annotate/internal/models"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/services/images"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/session"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/utils"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/annotation"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

// maxRenderDim bounds any raster the server draws.
const maxRenderDim = 8192

// handleOverlay serves one image tier with every label's polygons drawn on
// it. Query: size, format, names=1, max, quality.
func (h *Handler) handleOverlay(w http.ResponseWriter, r *http.Request, sess *session.Session, dicomID string) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	size := models.SizeMedium
	if q.Has("size") {
		s, err := models.ParseImageSize(q.Get("size"))
		if err != nil {
			respondWithErr(w, badRequest("%v", err))
			return
		}
		size = s
	}
	format, err := images.ParseFormat(q.Get("format"))
	if err != nil {
		respondWithErr(w, badRequest("%v", err))
		return
	}
	maxDim, _ := strconv.Atoi(q.Get("max"))
	if maxDim < 0 || maxDim > maxRenderDim {
		maxDim = maxRenderDim
	}
	quality, _ := strconv.Atoi(q.Get("quality"))
	withNames := q.Get("names") == "1"

	var meta models.ImageMetadata
	var revision int
	err = sess.View(func(st *session.State) error {
		m, ok := st.Record.Image(dicomID)
		if !ok {
			return fmt.Errorf("%w: %q", session.ErrUnknownImage, dicomID)
		}
		meta = m
		revision = st.OverlayRevision(dicomID)
		return nil
	})
	if err != nil {
		respondWithErr(w, err)
		return
	}
	etag := overlayETag(sess.ID, dicomID, revision, r.URL.RawQuery)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	// Decoding happens outside the session lock.
	img, err := h.images.Load(size, meta, maxDim)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	b := img.Bounds()

	var groups [][][]geometry.PixelPoint
	var names []string
	err = sess.View(func(st *session.State) error {
		groups, names = st.Store.AllPolygonsForImage(dicomID, float64(b.Dx()), float64(b.Dy()), withNames)
		revision = st.OverlayRevision(dicomID)
		return nil
	})
	if err != nil {
		respondWithErr(w, err)
		return
	}

	var buf bytes.Buffer
	if err := images.Encode(&buf, images.RenderOverlay(img, groups, names), format, quality); err != nil {
		respondWithErr(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("ETag", overlayETag(sess.ID, dicomID, revision, r.URL.RawQuery))
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("Unable to write overlay", "dicom_id", dicomID, "err", err)
	}
}

func overlayETag(sessionID, dicomID string, revision int, query string) string {
	key := fmt.Sprintf("%s/%s/%d?%s", sessionID, dicomID, revision, query)
	return `"` + utils.CalculateDataMD5([]byte(key)) + `"`
}

// imageFromPath reads {size}/{part}/{subject}/{study}/{dicom} from the tail of
// an image or marker URL.
func imageFromPath(rest string) (models.ImageSize, models.ImageMetadata, error) {
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 5 {
		return "", models.ImageMetadata{}, badRequest("expected {size}/{part}/{subject}/{study}/{dicom}")
	}
	size, err := models.ParseImageSize(parts[0])
	if err != nil {
		return "", models.ImageMetadata{}, badRequest("%v", err)
	}
	return size, models.ImageMetadata{
		PartID:    parts[1],
		SubjectID: parts[2],
		StudyID:   parts[3],
		DicomID:   strings.TrimSuffix(parts[4], ".jpg"),
	}, nil
}

// HandleImages serves /api/images-{size}/{part}/{subject}/{study}/{dicom}.
func (h *Handler) HandleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" && r.Method != "HEAD" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	size, m, err := imageFromPath(strings.TrimPrefix(r.URL.Path, "/api/images-"))
	if err != nil {
		respondWithErr(w, err)
		return
	}
	path, err := h.images.Path(size, m)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		slog.Debug("Image not found", "path", path, "err", err)
		utils.RespondWithError(w, "Image not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}

// HandleMarkers serves /api/markers/{size}/{part}/{subject}/{study}/{dicom}.
// With method=local the glyphs are located without Vision.
func (h *Handler) HandleMarkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	size, m, err := imageFromPath(strings.TrimPrefix(r.URL.Path, "/api/markers/"))
	if err != nil {
		respondWithErr(w, err)
		return
	}
	var resp models.MarkerResponse
	switch r.URL.Query().Get("method") {
	case "", "vision":
		resp, err = h.markers.Detect(r.Context(), size, m)
	case "local":
		resp, err = h.markers.Locate(r.Context(), size, m)
	default:
		err = badRequest("unknown marker method %q", r.URL.Query().Get("method"))
	}
	if err != nil {
		respondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, resp, http.StatusOK)
}

// HandleDefaultMetadata serves the configured report metadata file.
func (h *Handler) HandleDefaultMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sum, err := utils.CalculateFileMD5(h.cfg.ReportMetadataPath)
	if err != nil {
		respondWithErr(w, fmt.Errorf("read default metadata: %w", err))
		return
	}
	etag := `"` + sum + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	http.ServeFile(w, r, h.cfg.ReportMetadataPath)
}

func (h *Handler) HandleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	utils.RespondWithJSON(w, annotation.SnapshotSchema(), http.StatusOK)
}

func (h *Handler) HandleStatic(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}

	// Prevent directory traversal attacks
	if strings.Contains(path, "..") {
		http.Error(w, "Invalid file path", http.StatusBadRequest)
		return
	}

	switch {
	case strings.HasSuffix(path, ".css"):
		w.Header().Set("Content-Type", "text/css")
	case strings.HasSuffix(path, ".js"):
		w.Header().Set("Content-Type", "application/javascript")
	case strings.HasSuffix(path, ".html"):
		w.Header().Set("Content-Type", "text/html")
	}

	http.ServeFile(w, r, filepath.Join(h.cfg.PublicDir, filepath.FromSlash(path)))
}
