package models

import "testing"

func TestSearchRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     *SearchRequest
		wantErr bool
	}{
		{"empty", &SearchRequest{}, true},
		{"text", &SearchRequest{QueryText: "sunset"}, false},
		{"image", &SearchRequest{QueryImagePath: "photos/a.jpg"}, false},
		{"both", &SearchRequest{QueryText: "sunset", QueryImagePath: "photos/a.jpg"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIndexRequest_ApplyDefaults(t *testing.T) {
	r := &IndexRequest{}
	r.ApplyDefaults("images")
	if r.FolderPath != DefaultIndexFolder || r.CollectionName != "images" {
		t.Errorf("got %+v", r)
	}
	r = &IndexRequest{FolderPath: "holiday", CollectionName: "trips"}
	r.ApplyDefaults("images")
	if r.FolderPath != "holiday" || r.CollectionName != "trips" {
		t.Errorf("explicit values overwritten: %+v", r)
	}
}

func TestClampTopK(t *testing.T) {
	tests := []struct{ k, max, want int }{
		{0, 100, 1},
		{-3, 100, 1},
		{5, 100, 5},
		{500, 100, 100},
		{60, 50, 50},
	}
	for _, tt := range tests {
		if got := ClampTopK(tt.k, tt.max); got != tt.want {
			t.Errorf("ClampTopK(%d, %d) = %d, want %d", tt.k, tt.max, got, tt.want)
		}
	}
}

func TestTopKOrDefault(t *testing.T) {
	zero, five := 0, 5
	tests := []struct {
		name string
		k    *int
		want int
	}{
		{"absent uses default", nil, 10},
		{"explicit zero kept", &zero, 0},
		{"explicit value kept", &five, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TopKOrDefault(tt.k, 10); got != tt.want {
				t.Errorf("TopKOrDefault() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIndexOutcome_FailureSample(t *testing.T) {
	o := &IndexOutcome{}
	for i := 0; i < 8; i++ {
		o.Failures = append(o.Failures, PathFailure{Path: "p", Error: "e"})
	}
	sample, rest := o.FailureSample(5)
	if len(sample) != 5 || rest != 3 {
		t.Errorf("got %d sample, %d rest", len(sample), rest)
	}
	o.Failures = o.Failures[:2]
	sample, rest = o.FailureSample(5)
	if len(sample) != 2 || rest != 0 {
		t.Errorf("got %d sample, %d rest", len(sample), rest)
	}
}
