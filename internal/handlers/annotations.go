package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/lehigh-university-libraries/cxr-annotate/internal/session"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/utils"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/annotation"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

type reportAnswerView struct {
	Field    string              `json:"field"`
	Value    *string             `json:"value"`
	Feedback annotation.Feedback `json:"feedback"`
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	switch r.Method {
	case "GET":
		var answers []reportAnswerView
		err := sess.View(func(st *session.State) error {
			for _, f := range annotation.ReportFields() {
				answers = append(answers, reportAnswer(st.Store, f))
			}
			return nil
		})
		if err != nil {
			respondWithErr(w, err)
			return
		}
		utils.RespondWithJSON(w, answers, http.StatusOK)
	case "PUT":
		var request struct {
			Field string `json:"field"`
			Value string `json:"value"`
		}
		if err := decodeJSON(r, &request); err != nil {
			respondWithErr(w, err)
			return
		}
		field, err := annotation.ParseReportField(request.Field)
		if err != nil {
			respondWithErr(w, err)
			return
		}
		var answer reportAnswerView
		err = sess.Update(func(st *session.State) error {
			st.Store.SetReportAnswer(field, request.Value)
			answer = reportAnswer(st.Store, field)
			return nil
		})
		if err != nil {
			respondWithErr(w, err)
			return
		}
		utils.RespondWithJSON(w, answer, http.StatusOK)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func reportAnswer(store *annotation.Store, f annotation.ReportField) reportAnswerView {
	view := reportAnswerView{Field: f.String(), Feedback: store.FeedbackForReportField(f)}
	if v, ok := store.ReportAnswer(f); ok {
		view.Value = &v
	}
	return view
}

// Label answer fields accepted by PUT /labels.
const (
	fieldTextAgreement = "text_agreement"
	fieldAgreement     = "agreement"
	fieldLabelSource   = "label_source"
	fieldHasGrounding  = "has_grounding"
)

func (h *Handler) handleLabels(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != "PUT" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var request struct {
		labelRef
		Field   string `json:"field"`
		DicomID string `json:"dicom_id"`
		Value   string `json:"value"`
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

	var fb annotation.Feedback
	err = sess.Update(func(st *session.State) error {
		if err := st.CheckLabel(key); err != nil {
			return err
		}
		var err error
		switch request.Field {
		case fieldTextAgreement:
			if key.Custom {
				return badRequest("custom labels have no text agreement")
			}
			st.Store.SetTextAgreement(key.Name, request.Value)
		case fieldAgreement:
			err = st.Store.SetAgreement(key, request.Value)
		case fieldLabelSource:
			err = st.Store.SetLabelSource(key, request.Value)
		case fieldHasGrounding:
			if err := checkTarget(st, key, request.DicomID); err != nil {
				return err
			}
			err = st.Store.SetHasGrounding(key, request.DicomID, request.Value)
		default:
			return badRequest("unknown label field %q", request.Field)
		}
		if err != nil {
			return err
		}
		fb, err = st.Store.FeedbackForLabel(key)
		return err
	})
	if err != nil {
		respondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, fb, http.StatusOK)
}

type customLabelUpdate struct {
	Name          *string `json:"name"`
	Description   *string `json:"description"`
	Agreement     *string `json:"agreement"`
	FoundInReport *string `json:"found_in_report"`
	LabelSource   *string `json:"label_source"`
}

func (u customLabelUpdate) apply(store *annotation.Store, id int) error {
	if _, err := store.CustomLabel(id); err != nil {
		return err
	}
	if u.Name != nil {
		if err := store.SetCustomLabelName(id, *u.Name); err != nil {
			return err
		}
	}
	if u.Description != nil {
		if err := store.SetCustomLabelDescription(id, *u.Description); err != nil {
			return err
		}
	}
	if u.Agreement != nil {
		if err := store.SetAgreement(annotation.Custom(id), *u.Agreement); err != nil {
			return err
		}
	}
	if u.FoundInReport != nil {
		if err := store.SetFoundInReport(id, *u.FoundInReport); err != nil {
			return err
		}
	}
	if u.LabelSource != nil {
		if err := store.SetLabelSource(annotation.Custom(id), *u.LabelSource); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) handleCustomLabels(w http.ResponseWriter, r *http.Request, sess *session.Session, arg string) {
	if arg != "" {
		id, err := strconv.Atoi(arg)
		if err != nil {
			utils.RespondWithError(w, "Custom label id must be an integer", http.StatusBadRequest)
			return
		}
		h.handleCustomLabel(w, r, sess, id)
		return
	}

	switch r.Method {
	case "GET":
		var labels []annotation.CustomLabel
		if err := sess.View(func(st *session.State) error {
			labels = st.Store.CustomLabels()
			return nil
		}); err != nil {
			respondWithErr(w, err)
			return
		}
		utils.RespondWithJSON(w, labels, http.StatusOK)
	case "POST":
		var label annotation.CustomLabel
		err := sess.Update(func(st *session.State) error {
			label = st.Store.AddCustomLabel()
			return nil
		})
		if err != nil {
			respondWithErr(w, err)
			return
		}
		utils.RespondWithJSON(w, label, http.StatusCreated)
	case "DELETE":
		index, err := strconv.Atoi(r.URL.Query().Get("index"))
		if err != nil {
			utils.RespondWithError(w, "index must be an integer", http.StatusBadRequest)
			return
		}
		var deleted bool
		if err := sess.Update(func(st *session.State) error {
			deleted = st.DeleteCustomLabel(index)
			return nil
		}); err != nil {
			respondWithErr(w, err)
			return
		}
		utils.RespondWithJSON(w, map[string]bool{"deleted": deleted}, http.StatusOK)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCustomLabel(w http.ResponseWriter, r *http.Request, sess *session.Session, id int) {
	switch r.Method {
	case "GET":
		var label annotation.CustomLabel
		err := sess.View(func(st *session.State) error {
			var err error
			label, err = st.Store.CustomLabel(id)
			return err
		})
		if err != nil {
			respondWithErr(w, err)
			return
		}
		utils.RespondWithJSON(w, label, http.StatusOK)
	case "PUT":
		var update customLabelUpdate
		if err := decodeJSON(r, &update); err != nil {
			respondWithErr(w, err)
			return
		}
		var label annotation.CustomLabel
		err := sess.Update(func(st *session.State) error {
			if err := update.apply(st.Store, id); err != nil {
				return err
			}
			var err error
			label, err = st.Store.CustomLabel(id)
			return err
		})
		if err != nil {
			respondWithErr(w, err)
			return
		}
		utils.RespondWithJSON(w, label, http.StatusOK)
	case "DELETE":
		if err := sess.Update(func(st *session.State) error {
			return st.DeleteCustomLabelByID(id)
		}); err != nil {
			respondWithErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type polygonsView struct {
	Label    annotation.LabelKey     `json:"label"`
	DicomID  string                  `json:"dicom_id"`
	Polygons []geometry.Polygon      `json:"polygons"`
	Scaled   [][]geometry.PixelPoint `json:"scaled,omitempty"`
}

func (h *Handler) handlePolygons(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	q := r.URL.Query()
	ref, err := labelRefFromQuery(q)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	key, err := ref.key()
	if err != nil {
		respondWithErr(w, err)
		return
	}
	dicomID := q.Get("dicom_id")

	switch r.Method {
	case "GET":
		width, _ := strconv.ParseFloat(q.Get("width"), 64)
		height, _ := strconv.ParseFloat(q.Get("height"), 64)
		view := polygonsView{Label: key, DicomID: dicomID}
		err := sess.View(func(st *session.State) error {
			if err := checkTarget(st, key, dicomID); err != nil {
				return err
			}
			polys, err := st.Store.Polygons(key, dicomID)
			if err != nil {
				return err
			}
			view.Polygons = polys
			if width > 0 && height > 0 {
				view.Scaled, err = st.Store.PolygonsForLabel(key, dicomID, width, height)
			}
			return err
		})
		if err != nil {
			respondWithErr(w, err)
			return
		}
		utils.RespondWithJSON(w, view, http.StatusOK)
	case "DELETE":
		index, err := strconv.Atoi(q.Get("index"))
		if err != nil {
			utils.RespondWithError(w, "index must be an integer", http.StatusBadRequest)
			return
		}
		view := polygonsView{Label: key, DicomID: dicomID}
		err = sess.Update(func(st *session.State) error {
			if err := checkTarget(st, key, dicomID); err != nil {
				return err
			}
			if err := st.Store.DeletePolygon(key, dicomID, index); err != nil {
				return err
			}
			view.Polygons, err = st.Store.Polygons(key, dicomID)
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

func checkTarget(st *session.State, key annotation.LabelKey, dicomID string) error {
	if err := st.CheckLabel(key); err != nil {
		return err
	}
	if _, ok := st.Record.Image(dicomID); !ok {
		return fmt.Errorf("%w: %q", session.ErrUnknownImage, dicomID)
	}
	return nil
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request, sess *session.Session) {
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
	target := annotation.FeedbackTarget{Label: ref.Label, CustomID: ref.CustomID}
	if q.Has("report_field") {
		f, err := annotation.ParseReportField(q.Get("report_field"))
		if err != nil {
			respondWithErr(w, err)
			return
		}
		target.ReportField = &f
	}

	var fb annotation.Feedback
	err = sess.View(func(st *session.State) error {
		if target.Label != nil && target.CustomID == nil && target.ReportField == nil {
			if err := st.CheckLabel(annotation.GroundTruth(*target.Label)); err != nil {
				return err
			}
		}
		var err error
		fb, err = st.Store.FeedbackFor(target)
		return err
	})
	if err != nil {
		respondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, fb, http.StatusOK)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var progress any
	if err := sess.View(func(st *session.State) error {
		progress = st.Progress()
		return nil
	}); err != nil {
		respondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, progress, http.StatusOK)
}
