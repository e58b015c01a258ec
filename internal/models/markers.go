package models

import "github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"

// MarkerRegion is a block of text burned into an image (side markers,
// technologist annotations), located in normalized coordinates.
type MarkerRegion struct {
	Text       string           `json:"text"`
	Box        geometry.Polygon `json:"box"`
	Confidence float32          `json:"confidence"`
}

type MarkerResponse struct {
	DicomID string         `json:"dicom_id"`
	Size    ImageSize      `json:"size"`
	Width   int            `json:"width"`
	Height  int            `json:"height"`
	Regions []MarkerRegion `json:"regions"`
}
