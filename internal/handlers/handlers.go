package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/lehigh-university-libraries/cxr-annotate/internal/config"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/models"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/services/images"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/services/markers"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/session"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/storage"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/utils"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/annotation"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/clustering"
)

// maxMetadataBytes bounds a posted report record.
const maxMetadataBytes = 10 << 20

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type Handler struct {
	cfg          *config.Config
	sessionStore *storage.SessionStore
	images       *images.Source
	markers      *markers.Service
}

func New(cfg *config.Config) *Handler {
	source := images.NewSource(cfg.ImageDirs)
	return &Handler{
		cfg:          cfg,
		sessionStore: storage.New(),
		images:       source,
		markers:      markers.New(cfg.VisionEnabled, source),
	}
}

// Sessions exposes the registry so main can close it on shutdown.
func (h *Handler) Sessions() *storage.SessionStore {
	return h.sessionStore
}

// WithMarkers replaces the marker service.
func (h *Handler) WithMarkers(svc *markers.Service) *Handler {
	h.markers = svc
	return h
}

func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		sessions := h.sessionStore.GetAll()
		sessionList := make([]session.Summary, 0, len(sessions))
		for _, sess := range sessions {
			sum, err := sess.Summary()
			if err != nil {
				continue
			}
			sessionList = append(sessionList, sum)
		}
		utils.RespondWithJSON(w, sessionList, http.StatusOK)
	case "POST":
		rec, err := h.readRecord(r)
		if err != nil {
			slog.Error("Unable to read report metadata", "err", err)
			respondWithErr(w, err)
			return
		}
		sess := session.New(rec, session.Options{
			MinPointDistance: h.cfg.MinPointDistance,
			RepeatInterval:   h.cfg.RepeatInterval,
			ProbeSize:        h.images.Dimensions,
		})
		h.sessionStore.Set(sess)
		h.respondWithSession(w, sess, http.StatusCreated)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// readRecord uses the posted record, or the configured default metadata when
// the body is empty.
func (h *Handler) readRecord(r *http.Request) (*models.ReportRecord, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMetadataBytes))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		rec, err := models.ParseReportRecord(strings.NewReader(string(body)))
		if err != nil {
			return nil, badRequest("%v", err)
		}
		return rec, nil
	}

	f, err := os.Open(h.cfg.ReportMetadataPath)
	if err != nil {
		return nil, fmt.Errorf("open default metadata: %w", err)
	}
	defer f.Close()
	return models.ParseReportRecord(f)
}

func (h *Handler) HandleSessionDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	sessionID, sub, _ := strings.Cut(rest, "/")

	sess, exists := h.sessionStore.Get(sessionID)
	if !exists {
		utils.RespondWithError(w, "Session not found", http.StatusNotFound)
		return
	}

	resource, arg, _ := strings.Cut(sub, "/")
	switch resource {
	case "":
		h.handleSession(w, r, sess)
	case "report":
		h.handleReport(w, r, sess)
	case "labels":
		h.handleLabels(w, r, sess)
	case "custom-labels":
		h.handleCustomLabels(w, r, sess, arg)
	case "polygons":
		h.handlePolygons(w, r, sess)
	case "feedback":
		h.handleFeedback(w, r, sess)
	case "metrics":
		h.handleMetrics(w, r, sess)
	case "hover":
		h.handleHover(w, r, sess)
	case "report-text":
		h.handleReportText(w, r, sess)
	case "annotate":
		h.handleAnnotate(w, r, sess)
	case "capture":
		if arg == "preview" {
			h.handleCapturePreview(w, r, sess)
			return
		}
		h.handleCapture(w, r, sess)
	case "viewport":
		h.handleViewport(w, r, sess)
	case "overlay":
		h.handleOverlay(w, r, sess, arg)
	default:
		utils.RespondWithError(w, "Not found", http.StatusNotFound)
	}
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	switch r.Method {
	case "GET":
		h.respondWithSession(w, sess, http.StatusOK)
	case "DELETE":
		if _, err := h.sessionStore.Delete(sess.ID); err != nil {
			slog.Error("Unable to close session", "session_id", sess.ID, "err", err)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type reportView struct {
	ReportFilepath string `json:"report_filepath"`
	Text           string `json:"text"`
	PartID         string `json:"part_id"`
	SubjectID      string `json:"subject_id"`
	StudyID        string `json:"study_id"`
}

type imageView struct {
	models.ImageMetadata
	URLs map[models.ImageSize]string `json:"urls"`
}

type labelView struct {
	Name    string             `json:"name"`
	Source  string             `json:"source"`
	Cluster int                `json:"cluster"`
	Ranges  []clustering.Range `json:"ranges"`
}

type sessionView struct {
	Session      session.Summary     `json:"session"`
	Report       reportView          `json:"report"`
	Images       []imageView         `json:"images"`
	Labels       []labelView         `json:"labels"`
	Annotations  annotation.Snapshot `json:"annotations"`
	LabelOptions []string            `json:"label_options"`
}

func (h *Handler) respondWithSession(w http.ResponseWriter, sess *session.Session, status int) {
	var view sessionView
	err := sess.View(func(st *session.State) error {
		rec := st.Record
		view = sessionView{
			Session: sess.SummaryFrom(st),
			Report: reportView{
				ReportFilepath: rec.ReportFilepath,
				Text:           rec.OriginalReport,
				PartID:         string(rec.PartID),
				SubjectID:      string(rec.SubjectID),
				StudyID:        string(rec.StudyID),
			},
			Images:       make([]imageView, 0, len(rec.DicomIDViewPosPairs)),
			Labels:       make([]labelView, 0, len(st.Clusters)),
			Annotations:  st.Store.Snapshot(),
			LabelOptions: st.Store.CustomLabelOptions(),
		}
		for _, m := range rec.Images() {
			urls := make(map[models.ImageSize]string, len(models.ImageSizes))
			for _, size := range models.ImageSizes {
				urls[size] = models.ImageURL(size, m)
			}
			view.Images = append(view.Images, imageView{ImageMetadata: m, URLs: urls})
		}
		for _, e := range st.Clusters {
			ranges := e.Ranges
			if ranges == nil {
				ranges = []clustering.Range{}
			}
			view.Labels = append(view.Labels, labelView{Name: e.Name, Source: e.Source, Cluster: e.Cluster, Ranges: ranges})
		}
		return nil
	})
	if err != nil {
		respondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, view, status)
}

// labelRef identifies a label in a request body: a ground-truth label by
// name or a custom label by id.
type labelRef struct {
	Label    *string `json:"label,omitempty"`
	CustomID *int    `json:"custom_id,omitempty"`
}

func (l labelRef) key() (annotation.LabelKey, error) {
	switch {
	case l.Label != nil && l.CustomID != nil:
		return annotation.LabelKey{}, badRequest("give either label or custom_id, not both")
	case l.Label != nil:
		return annotation.GroundTruth(*l.Label), nil
	case l.CustomID != nil:
		return annotation.Custom(*l.CustomID), nil
	}
	return annotation.LabelKey{}, badRequest("label or custom_id is required")
}

func (l labelRef) given() bool {
	return l.Label != nil || l.CustomID != nil
}

func labelRefFromQuery(q url.Values) (labelRef, error) {
	var ref labelRef
	if q.Has("label") {
		name := q.Get("label")
		ref.Label = &name
	}
	if q.Has("custom_id") {
		id, err := strconv.Atoi(q.Get("custom_id"))
		if err != nil {
			return ref, badRequest("custom_id must be an integer")
		}
		ref.CustomID = &id
	}
	return ref, nil
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid JSON: %v", err)
	}
	return nil
}

// respondWithErr maps domain errors onto HTTP status codes.
func respondWithErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, annotation.ErrInvalidTarget),
		errors.Is(err, annotation.ErrInvalidPolygon),
		errors.Is(err, annotation.ErrUnknownReportField),
		errors.Is(err, images.ErrInvalidPath):
		status = http.StatusBadRequest
	case errors.Is(err, annotation.ErrUnknownCustomLabel),
		errors.Is(err, session.ErrUnknownLabel),
		errors.Is(err, session.ErrUnknownImage),
		errors.Is(err, session.ErrClosed),
		errors.Is(err, images.ErrNotConfigured),
		errors.Is(err, os.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, markers.ErrDisabled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "err", err)
	}
	utils.RespondWithError(w, err.Error(), status)
}
