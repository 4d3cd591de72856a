package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func TestQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *Query
		wantErr bool
	}{
		{"nil query", nil, true},
		{"missing owner", &Query{}, true},
		{"valid", &Query{OwnerID: "u1"}, false},
		{"zero limit means default", &Query{OwnerID: "u1", Limit: 0}, false},
		{"negative limit", &Query{OwnerID: "u1", Limit: -1}, true},
		{"threshold too high", &Query{OwnerID: "u1", Threshold: ptr(1.5)}, true},
		{"threshold zero", &Query{OwnerID: "u1", Threshold: ptr(0.0)}, false},
		{"unknown platform", &Query{OwnerID: "u1", Platforms: []Platform{"fax"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("expected ErrInvalidQuery, got %v", err)
			}
		})
	}
}

func TestTimeRange_Contains(t *testing.T) {
	now := time.Now()
	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)
	tr := &TimeRange{Start: &start, End: &end}

	if !tr.Contains(start) || !tr.Contains(end) {
		t.Error("bounds should be inclusive")
	}
	if tr.Contains(start.Add(-time.Nanosecond)) {
		t.Error("before start should be excluded")
	}
	if tr.Contains(end.Add(time.Nanosecond)) {
		t.Error("after end should be excluded")
	}
	var open *TimeRange
	if !open.Contains(now) {
		t.Error("nil range should contain everything")
	}
	if !(&TimeRange{Start: &start}).Contains(now.Add(1000 * time.Hour)) {
		t.Error("missing end should impose no constraint")
	}
}

func TestSlotForDimension(t *testing.T) {
	for _, n := range []int{384, 768, 1024, 1536} {
		if s, ok := SlotForDimension(n); !ok || s.Dimensions() != n {
			t.Errorf("SlotForDimension(%d) = %v, %v", n, s, ok)
		}
	}
	if _, ok := SlotForDimension(4); ok {
		t.Error("4 is not a supported slot")
	}
}

func TestRecordInput_Validate(t *testing.T) {
	in := &RecordInput{OwnerID: "u1", Platform: PlatformWeb, Content: "hi"}
	if err := in.Validate(); err != nil {
		t.Fatal(err)
	}
	in.Platform = "fax"
	if err := in.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord, got %v", err)
	}
	in.Platform = PlatformWeb
	in.Importance = ptr(math.NaN())
	if err := in.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("NaN importance: expected ErrInvalidRecord, got %v", err)
	}
}

func TestRecord_QueryPlatform(t *testing.T) {
	r := &Record{Platform: PlatformWeb, Metadata: map[string]interface{}{MetadataQueryPlatform: "web"}}
	p, ok := r.QueryPlatform()
	if !ok || p != PlatformWeb {
		t.Errorf("QueryPlatform() = %q, %v", p, ok)
	}
	if _, ok := (&Record{}).QueryPlatform(); ok {
		t.Error("record without metadata has no platform hint")
	}
}
