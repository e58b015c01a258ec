package handlers

import (
	"bytes"
	"image"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lehigh-university-libraries/cxr-annotate/internal/models"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/services/images"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/session"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/utils"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/annotation"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/capture"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/clustering"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/highlight"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/viewport"
)

func (h *Handler) handleHover(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var request struct {
		labelRef
		Enter bool `json:"enter"`
	}
	if err := decodeJSON(r, &request); err != nil {
		respondWithErr(w, err)
		return
	}
	key, err := request.key()
	if err != nil {
		respondWithErr(w, err)
		return
	}

	var view reportTextView
	err = sess.Update(func(st *session.State) error {
		if err := st.Hover(key, request.Enter); err != nil {
			return err
		}
		view = newReportTextView(st)
		return nil
	})
	if err != nil {
		respondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, view, http.StatusOK)
}

type reportTextView struct {
	Segments  []highlight.Segment `json:"segments"`
	Active    []clustering.Range  `json:"active"`
	Uncovered []clustering.Range  `json:"uncovered"`
}

func newReportTextView(st *session.State) reportTextView {
	view := reportTextView{
		Segments:  st.Text.Segments(),
		Active:    st.Text.Active(),
		Uncovered: highlight.Uncovered(st.Record.OriginalReport, st.Record.AllRanges()),
	}
	if view.Active == nil {
		view.Active = []clustering.Range{}
	}
	if view.Uncovered == nil {
		view.Uncovered = []clustering.Range{}
	}
	return view
}

func (h *Handler) handleReportText(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var view reportTextView
	switch r.Method {
	case "GET":
		if err := sess.View(func(st *session.State) error {
			view = newReportTextView(st)
			return nil
		}); err != nil {
			respondWithErr(w, err)
			return
		}
	case "POST":
		var request struct {
			HighlightUnused bool `json:"highlight_unused"`
		}
		if err := decodeJSON(r, &request); err != nil {
			respondWithErr(w, err)
			return
		}
		if err := sess.Update(func(st *session.State) error {
			st.HighlightUnused(request.HighlightUnused)
			view = newReportTextView(st)
			return nil
		}); err != nil {
			respondWithErr(w, err)
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	utils.RespondWithJSON(w, view, http.StatusOK)
}

type annotateView struct {
	Label    annotation.LabelKey  `json:"label"`
	Image    models.ImageMetadata `json:"image"`
	Viewport viewport.State       `json:"viewport"`
	Capture  captureView          `json:"capture"`
}

func (h *Handler) handleAnnotate(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	switch r.Method {
	case "GET":
		var view *annotateView
		err := sess.Update(func(st *session.State) error {
			target, ok := st.Annotating()
			if !ok {
				return nil
			}
			v, err := newAnnotateView(st, target.Label, target.DicomID)
			view = &v
			return err
		})
		if err != nil {
			respondWithErr(w, err)
			return
		}
		if view == nil {
			utils.RespondWithError(w, "No image is being annotated", http.StatusNotFound)
			return
		}
		utils.RespondWithJSON(w, view, http.StatusOK)
	case "POST":
		var request struct {
			labelRef
			DicomID string `json:"dicom_id"`
		}
		if err := decodeJSON(r, &request); err != nil {
			respondWithErr(w, err)
			return
		}
		key, err := request.key()
		if err != nil {
			respondWithErr(w, err)
			return
		}
		var view annotateView
		err = sess.Update(func(st *session.State) error {
			if err := st.Annotate(key, request.DicomID); err != nil {
				return err
			}
			var err error
			view, err = newAnnotateView(st, key, request.DicomID)
			return err
		})
		if err != nil {
			respondWithErr(w, err)
			return
		}
		utils.RespondWithJSON(w, view, http.StatusOK)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func newAnnotateView(st *session.State, key annotation.LabelKey, dicomID string) (annotateView, error) {
	m, _ := st.Record.Image(dicomID)
	if !m.HasSize() {
		w, h, err := st.OriginalSize(dicomID)
		if err != nil {
			return annotateView{}, err
		}
		m.Width, m.Height = int(w), int(h)
	}
	vp, err := st.Viewport(dicomID)
	if err != nil {
		return annotateView{}, err
	}
	machine, err := st.Machine(key, dicomID)
	if err != nil {
		return annotateView{}, err
	}
	return annotateView{
		Label:    key,
		Image:    m,
		Viewport: vp.State(),
		Capture:  newCaptureView(st, key, dicomID, machine, ""),
	}, nil
}

// Capture actions accepted by POST /capture.
const (
	captureDown          = "down"
	captureMove          = "move"
	captureUndo          = "undo"
	captureCancel        = "cancel"
	captureUndoCommitted = "undo_committed"
)

type captureView struct {
	Label     annotation.LabelKey `json:"label"`
	DicomID   string              `json:"dicom_id"`
	Result    string              `json:"result,omitempty"`
	State     string              `json:"state"`
	Points    geometry.Polygon    `json:"points"`
	Committed []geometry.Polygon  `json:"committed"`
	Revision  int                 `json:"revision"`
}

func newCaptureView(st *session.State, key annotation.LabelKey, dicomID string, m *capture.Machine, result string) captureView {
	frame := m.Frame()
	committed := frame.Committed
	if committed == nil {
		committed = []geometry.Polygon{}
	}
	points := frame.InProgress
	if points == nil {
		points = geometry.Polygon{}
	}
	return captureView{
		Label:     key,
		DicomID:   dicomID,
		Result:    result,
		State:     m.State().String(),
		Points:    points,
		Committed: committed,
		Revision:  st.FrameRevision(key, dicomID),
	}
}

// captureTarget resolves the label and image a capture request addresses,
// defaulting to the active annotation target.
func captureTarget(st *session.State, ref labelRef, dicomID string) (annotation.LabelKey, string, error) {
	active, hasActive := st.Annotating()
	var key annotation.LabelKey
	switch {
	case ref.given():
		k, err := ref.key()
		if err != nil {
			return key, "", err
		}
		key = k
	case hasActive:
		key = active.Label
	default:
		return key, "", badRequest("no label is being annotated")
	}
	if dicomID == "" {
		if !hasActive {
			return key, "", badRequest("dicom_id is required")
		}
		dicomID = active.DicomID
	}
	if err := checkTarget(st, key, dicomID); err != nil {
		return key, "", err
	}
	return key, dicomID, nil
}

func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var request struct {
		labelRef
		DicomID string   `json:"dicom_id"`
		Action  string   `json:"action"`
		X       *float64 `json:"x"`
		Y       *float64 `json:"y"`
		ScreenX *float64 `json:"screen_x"`
		ScreenY *float64 `json:"screen_y"`
	}
	if err := decodeJSON(r, &request); err != nil {
		respondWithErr(w, err)
		return
	}

	var view captureView
	err := sess.Update(func(st *session.State) error {
		key, dicomID, err := captureTarget(st, request.labelRef, request.DicomID)
		if err != nil {
			return err
		}
		m, err := st.Machine(key, dicomID)
		if err != nil {
			return err
		}

		// point reports whether a screen position fell over the image.
		// Normalized positions always count as over it.
		point := func() (geometry.Point, bool, error) {
			switch {
			case request.ScreenX != nil && request.ScreenY != nil:
				vp, err := st.Viewport(dicomID)
				if err != nil {
					return geometry.Point{}, false, err
				}
				sp := geometry.ScreenPoint{X: *request.ScreenX, Y: *request.ScreenY}
				vp.SetPointer(sp)
				p, inside := vp.ScreenToNormalized(sp)
				return p, inside, nil
			case request.X != nil && request.Y != nil:
				return geometry.Point{X: *request.X, Y: *request.Y}, true, nil
			}
			return geometry.Point{}, false, badRequest("x and y, or screen_x and screen_y, are required")
		}

		var result string
		switch request.Action {
		case captureDown:
			p, inside, err := point()
			if err != nil {
				return err
			}
			if !inside {
				result = capture.Rejected.String()
				break
			}
			res, err := m.PointerDown(p)
			if err != nil {
				return err
			}
			result = res.String()
		case captureMove:
			p, _, err := point()
			if err != nil {
				return err
			}
			m.PointerMove(p)
		case captureUndo:
			m.Undo()
		case captureCancel:
			m.Cancel()
		case captureUndoCommitted:
			poly, err := m.UndoCommitted()
			if err != nil {
				return err
			}
			result = "none"
			if poly != nil {
				result = "removed"
			}
		default:
			return badRequest("unknown capture action %q", request.Action)
		}
		view = newCaptureView(st, key, dicomID, m, result)
		return nil
	})
	if err != nil {
		respondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, view, http.StatusOK)
}

// handleCapturePreview renders the capture canvas of one label on one image
// as a transparent PNG sized to the image box, or to width x height.
func (h *Handler) handleCapturePreview(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	ref, err := labelRefFromQuery(q)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	width, _ := strconv.Atoi(q.Get("width"))
	height, _ := strconv.Atoi(q.Get("height"))

	var frame capture.Frame
	err = sess.Update(func(st *session.State) error {
		key, dicomID, err := captureTarget(st, ref, q.Get("dicom_id"))
		if err != nil {
			return err
		}
		m, err := st.Machine(key, dicomID)
		if err != nil {
			return err
		}
		frame = m.Frame()
		if width <= 0 || height <= 0 {
			vp, err := st.Viewport(dicomID)
			if err != nil {
				return err
			}
			size := vp.ImageSize()
			width, height = int(size.Width), int(size.Height)
		}
		return nil
	})
	if err != nil {
		respondWithErr(w, err)
		return
	}
	if width <= 0 || height <= 0 || width > maxRenderDim || height > maxRenderDim {
		utils.RespondWithError(w, "width and height must be between 1 and "+strconv.Itoa(maxRenderDim), http.StatusBadRequest)
		return
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	capture.DrawFrame(canvas, frame, geometry.CommittedColor)

	var buf bytes.Buffer
	if err := images.Encode(&buf, canvas, images.FormatPNG, 0); err != nil {
		respondWithErr(w, err)
		return
	}
	w.Header().Set("Content-Type", images.FormatPNG.ContentType())
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("Unable to write capture preview", "err", err)
	}
}

// Viewport actions accepted by POST /viewport.
const (
	viewZoomIn  = "zoom_in"
	viewZoomOut = "zoom_out"
	viewPan     = "pan"
	viewReset   = "reset"
	viewKey     = "key"
	viewWheel   = "wheel"
	viewPointer = "pointer"
	viewResize  = "resize"
	viewPress   = "press"
	viewRelease = "release"
)

type viewportRequest struct {
	DicomID string  `json:"dicom_id"`
	Action  string  `json:"action"`
	DX      float64 `json:"dx"`
	DY      float64 `json:"dy"`
	Key     string  `json:"key"`
	DeltaY  float64 `json:"delta_y"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	// Hold is the action repeated while pressed: zoom_in, zoom_out or pan.
	Hold string `json:"hold"`
}

type viewportView struct {
	DicomID string `json:"dicom_id"`
	viewport.State
	Viewport  viewport.Size `json:"viewport"`
	ImageBox  viewport.Size `json:"image_box"`
	Applied   bool          `json:"applied"`
	Repeating bool          `json:"repeating"`
}

// heldAction returns the viewport step a press-and-hold repeats. Held zoom
// buttons zoom about the viewport centre.
func heldAction(req viewportRequest) (func(*viewport.Controller), error) {
	switch req.Hold {
	case viewZoomIn:
		return func(vp *viewport.Controller) { vp.Zoom(viewport.ButtonZoomFactor, false) }, nil
	case viewZoomOut:
		return func(vp *viewport.Controller) { vp.Zoom(1/viewport.ButtonZoomFactor, false) }, nil
	case viewPan:
		dx, dy := req.DX, req.DY
		return func(vp *viewport.Controller) { vp.Pan(dx, dy) }, nil
	}
	return nil, badRequest("unknown hold action %q", req.Hold)
}

func (h *Handler) handleViewport(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != "GET" && r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req viewportRequest
	if r.Method == "GET" {
		req.DicomID = r.URL.Query().Get("dicom_id")
	} else if err := decodeJSON(r, &req); err != nil {
		respondWithErr(w, err)
		return
	}

	applied := true
	// Press and release run outside the session lock; their ticks take it.
	switch req.Action {
	case viewPress:
		action, err := heldAction(req)
		if err != nil {
			respondWithErr(w, err)
			return
		}
		if err := sess.Press(req.DicomID, action); err != nil {
			respondWithErr(w, err)
			return
		}
	case viewRelease:
		sess.Release(req.DicomID)
	}

	view := viewportView{DicomID: req.DicomID}
	err := sess.Update(func(st *session.State) error {
		vp, err := st.Viewport(req.DicomID)
		if err != nil {
			return err
		}
		if r.Method == "POST" {
			switch req.Action {
			case viewZoomIn:
				applied = vp.Zoom(viewport.ButtonZoomFactor, false)
			case viewZoomOut:
				applied = vp.Zoom(1/viewport.ButtonZoomFactor, false)
			case viewPan:
				dx, dy := vp.Pan(req.DX, req.DY)
				applied = dx != 0 || dy != 0
			case viewReset:
				vp.Reset()
			case viewKey:
				applied = vp.Key(req.Key)
			case viewWheel:
				vp.SetPointer(geometry.ScreenPoint{X: req.X, Y: req.Y})
				vp.Wheel(req.DeltaY)
			case viewPointer:
				vp.SetPointer(geometry.ScreenPoint{X: req.X, Y: req.Y})
			case viewResize:
				if req.Width <= 0 || req.Height <= 0 {
					return badRequest("width and height must be positive")
				}
				if vp, err = st.ResizeViewport(req.DicomID, viewport.Size{Width: req.Width, Height: req.Height}); err != nil {
					return err
				}
			case viewPress, viewRelease:
			default:
				return badRequest("unknown viewport action %q", req.Action)
			}
		}
		view.State = vp.State()
		view.Viewport = vp.Viewport()
		view.ImageBox = vp.ImageSize()
		return nil
	})
	if err != nil {
		respondWithErr(w, err)
		return
	}
	view.Applied = applied
	view.Repeating = sess.Repeating(req.DicomID)
	utils.RespondWithJSON(w, view, http.StatusOK)
}
