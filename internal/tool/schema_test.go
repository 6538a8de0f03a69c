package tool

import "testing"

func TestValidateObjectRequiredField(t *testing.T) {
	s := &Schema{
		Type:     TypeObject,
		Required: []string{"path"},
		Properties: map[string]*Schema{
			"path": {Type: TypeString},
		},
	}

	if err := s.Validate(map[string]any{}); err == nil {
		t.Fatal("expected missing_field error")
	}
	if err := s.Validate(map[string]any{"path": "x"}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if err := s.Validate(map[string]any{"path": 1}); err == nil {
		t.Fatal("expected invalid_field_type error")
	}
}

func TestValidateArrayItems(t *testing.T) {
	s := &Schema{Type: TypeArray, Items: &Schema{Type: TypeNumber}}
	if err := s.Validate([]any{1, 2, 3}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if err := s.Validate([]any{1, "two"}); err == nil {
		t.Fatal("expected invalid_field_type error")
	}
}

func TestValidateNestedObject(t *testing.T) {
	s := &Schema{
		Type:     TypeObject,
		Required: []string{"user"},
		Properties: map[string]*Schema{
			"user": {
				Type:     TypeObject,
				Required: []string{"name"},
				Properties: map[string]*Schema{
					"name": {Type: TypeString},
				},
			},
		},
	}
	err := s.Validate(map[string]any{"user": map[string]any{}})
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Issues) != 1 || ve.Issues[0].Constraint != "missing_field" {
		t.Fatalf("unexpected issues: %+v", ve.Issues)
	}
}
