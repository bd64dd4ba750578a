package models

import (
	"errors"
	"reflect"
	"testing"
)

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		record  Record
		wantErr error
	}{
		{"valid", Record{ID: "1", PromptText: "a cat"}, nil},
		{"missing id", Record{PromptText: "a cat"}, ErrMissingID},
		{"blank id", Record{ID: "  ", PromptText: "a cat"}, ErrMissingID},
		{"empty prompt", Record{ID: "1"}, ErrEmptyPrompt},
		{"whitespace prompt", Record{ID: "1", PromptText: " \n\t"}, ErrEmptyPrompt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeCategories(t *testing.T) {
	got := NormalizeCategories([]string{"style", " mood", "style", "", "lighting"})
	want := []string{"lighting", "mood", "style"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeCategories() = %v, want %v", got, want)
	}
	if got := NormalizeCategories(nil); len(got) != 0 {
		t.Errorf("NormalizeCategories(nil) = %v, want empty", got)
	}
}

func TestRecord_AddCategories(t *testing.T) {
	r := &Record{ID: "1", PromptText: "x"}
	if r.Categorized() {
		t.Fatal("new record should not be categorized")
	}
	r.SetCategories([]string{"style"})
	r.AddCategories("cluster:2", "style")
	want := []string{"cluster:2", "style"}
	if !reflect.DeepEqual(r.Categories, want) {
		t.Errorf("Categories = %v, want %v", r.Categories, want)
	}
}

func TestNoiseAssignment(t *testing.T) {
	a := NoiseAssignment(3)
	if len(a.Labels) != 3 {
		t.Fatalf("len(Labels) = %d", len(a.Labels))
	}
	for i, l := range a.Labels {
		if l != NoiseLabel {
			t.Errorf("Labels[%d] = %d, want noise", i, l)
		}
	}
	if a.Summary[NoiseLabel] != "noise" {
		t.Errorf("Summary = %v", a.Summary)
	}
	if ClusterTag(NoiseLabel) != "" || ClusterTag(2) != "cluster:2" {
		t.Error("ClusterTag mismatch")
	}
}
