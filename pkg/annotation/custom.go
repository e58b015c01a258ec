package annotation

import (
	"fmt"
	"sort"

	"github.com/lehigh-university-libraries/cxr-annotate/pkg/events"
)

type customLabel struct {
	id            int
	name          string
	description   string
	foundInReport *string
	annotation    *labelAnnotation
}

// CustomLabel is a read-only copy of an annotator-added label.
type CustomLabel struct {
	ID            int     `json:"id"`
	Index         int     `json:"index"`
	Name          string  `json:"name"`
	DisplayName   string  `json:"display_name"`
	Description   string  `json:"description,omitempty"`
	FoundInReport *string `json:"found_in_report,omitempty"`
	Agreement     *string `json:"agreement,omitempty"`
	LabelSource   *string `json:"label_source,omitempty"`
}

func (c CustomLabel) Key() LabelKey {
	return Custom(c.ID)
}

// DisplayName is the label's name, or a positional placeholder while it has
// none.
func DisplayName(name string, index int) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("Custom Label %d", index+1)
}

func (s *Store) customByID(id int) (*customLabel, int, error) {
	for i, c := range s.custom {
		if c.id == id {
			return c, i, nil
		}
	}
	return nil, -1, fmt.Errorf("custom label %d: %w", id, ErrUnknownCustomLabel)
}

func (s *Store) copyCustom(c *customLabel, index int) CustomLabel {
	out := CustomLabel{
		ID:          c.id,
		Index:       index,
		Name:        c.name,
		DisplayName: DisplayName(c.name, index),
		Description: c.description,
	}
	if c.foundInReport != nil {
		out.FoundInReport = ptr(*c.foundInReport)
	}
	if c.annotation.agreement != nil {
		out.Agreement = ptr(*c.annotation.agreement)
	}
	if c.annotation.labelSource != nil {
		out.LabelSource = ptr(*c.annotation.labelSource)
	}
	return out
}

// AddCustomLabel appends a blank custom label with the next id. Ids are never
// reused, even after deletion.
func (s *Store) AddCustomLabel() CustomLabel {
	c := &customLabel{id: s.nextID, annotation: newLabelAnnotation()}
	s.nextID++
	s.custom = append(s.custom, c)
	s.touch()
	return s.copyCustom(c, len(s.custom)-1)
}

func (s *Store) CustomLabels() []CustomLabel {
	out := make([]CustomLabel, len(s.custom))
	for i, c := range s.custom {
		out[i] = s.copyCustom(c, i)
	}
	return out
}

func (s *Store) CustomLabelCount() int {
	return len(s.custom)
}

func (s *Store) CustomLabelAt(index int) (CustomLabel, bool) {
	if index < 0 || index >= len(s.custom) {
		return CustomLabel{}, false
	}
	return s.copyCustom(s.custom[index], index), true
}

func (s *Store) CustomLabel(id int) (CustomLabel, error) {
	c, i, err := s.customByID(id)
	if err != nil {
		return CustomLabel{}, err
	}
	return s.copyCustom(c, i), nil
}

// CustomLabelIndex returns the current position of the label with id.
func (s *Store) CustomLabelIndex(id int) (int, error) {
	_, i, err := s.customByID(id)
	return i, err
}

// CustomKeyAt resolves a position to the key of the label currently there. A
// stale position is logged, counted and reported as false.
func (s *Store) CustomKeyAt(index int) (LabelKey, bool) {
	if index < 0 || index >= len(s.custom) {
		s.staleIndex("custom_key_at", index, len(s.custom))
		return LabelKey{}, false
	}
	return Custom(s.custom[index].id), true
}

// DeleteCustomLabel removes the label at index. Later labels shift down one
// position and keep their ids. A stale index is a no-op.
func (s *Store) DeleteCustomLabel(index int) bool {
	if index < 0 || index >= len(s.custom) {
		s.staleIndex("delete_custom_label", index, len(s.custom))
		return false
	}
	s.custom = append(s.custom[:index], s.custom[index+1:]...)
	s.touch()
	return true
}

func (s *Store) DeleteCustomLabelByID(id int) error {
	_, i, err := s.customByID(id)
	if err != nil {
		return err
	}
	s.custom = append(s.custom[:i], s.custom[i+1:]...)
	s.touch()
	return nil
}

// SetCustomLabelName renames a custom label and publishes CustomLabelRenamed.
func (s *Store) SetCustomLabelName(id int, name string) error {
	c, _, err := s.customByID(id)
	if err != nil {
		return err
	}
	c.name = name
	s.touch()
	s.hub.CustomLabelRenamed.Publish(events.CustomLabelRenamed{ID: id, Name: name})
	return nil
}

func (s *Store) SetCustomLabelDescription(id int, description string) error {
	c, _, err := s.customByID(id)
	if err != nil {
		return err
	}
	c.description = description
	s.touch()
	return nil
}

// FoundInReport is whether the report mentions a custom label the automatic
// labelers missed.
func (s *Store) FoundInReport(id int) (string, bool, error) {
	c, _, err := s.customByID(id)
	if err != nil {
		return "", false, err
	}
	v, ok := get(c.foundInReport)
	return v, ok, nil
}

func (s *Store) SetFoundInReport(id int, value string) error {
	c, _, err := s.customByID(id)
	if err != nil {
		return err
	}
	c.foundInReport = ptr(value)
	s.touch()
	return nil
}

// SetCustomLabelNameAt renames the label currently at index. A stale index is
// a no-op.
func (s *Store) SetCustomLabelNameAt(index int, name string) bool {
	key, ok := s.CustomKeyAt(index)
	if !ok {
		return false
	}
	return s.SetCustomLabelName(key.CustomID, name) == nil
}

// CustomLabelOptions is the name picker list: every ground-truth label name and
// every name already given to a custom label, sorted and de-duplicated.
func (s *Store) CustomLabelOptions() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, name := range s.gtNames {
		add(name)
	}
	for _, c := range s.custom {
		add(c.name)
	}
	sort.Strings(out)
	return out
}
