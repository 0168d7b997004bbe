package record

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{
			name: "valid record",
			rec: Record{
				ID:   "opp-1",
				Name: "Acme renewal",
			},
			wantErr: false,
		},
		{
			name:    "missing id",
			rec:     Record{Name: "no id"},
			wantErr: true,
		},
		{
			name: "valid extensions",
			rec: Record{
				ID: "opp-2",
				Extensions: map[string]FieldValue{
					"imported_region": String("EMEA"),
					"deal_score":      Number(72),
				},
			},
			wantErr: false,
		},
		{
			name: "extension collides with named field",
			rec: Record{
				ID: "opp-3",
				Extensions: map[string]FieldValue{
					"revenue": Number(1000),
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClone_DeepCopiesExtensions(t *testing.T) {
	orig := &Record{
		ID:      "c-1",
		Name:    "Jordan",
		Revenue: 500,
		Extensions: map[string]FieldValue{
			"source": String("import"),
		},
	}

	cp := orig.Clone()
	if !cp.Equal(orig) {
		t.Fatal("Clone should be equal to original")
	}

	cp.Extensions["source"] = String("manual")
	cp.Revenue = 900

	if orig.Extensions["source"].Str != "import" {
		t.Error("Mutating clone extensions leaked into original")
	}
	if orig.Revenue != 500 {
		t.Error("Mutating clone fields leaked into original")
	}
}

func TestClone_Nil(t *testing.T) {
	var r *Record
	if r.Clone() != nil {
		t.Error("Clone of nil record should be nil")
	}
}

func TestEqual(t *testing.T) {
	now := time.Now()
	base := &Record{
		ID:        "c-1",
		Name:      "Jordan",
		Status:    StatusQualified,
		Revenue:   500,
		CreatedAt: now,
		Extensions: map[string]FieldValue{
			"score": Number(10),
		},
	}

	tests := []struct {
		name     string
		other    *Record
		expected bool
	}{
		{"identical", base.Clone(), true},
		{"different revenue", func() *Record { r := base.Clone(); r.Revenue = 600; return r }(), false},
		{"different status", func() *Record { r := base.Clone(); r.Status = StatusLost; return r }(), false},
		{"different extension", func() *Record { r := base.Clone(); r.Extensions["score"] = Number(11); return r }(), false},
		{"extra extension", func() *Record { r := base.Clone(); r.Extensions["new"] = Bool(true); return r }(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.Equal(tt.other); got != tt.expected {
				t.Errorf("Equal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFieldValue_JSONRoundTrip(t *testing.T) {
	ts := time.Date(2026, 5, 17, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value FieldValue
		json  string
	}{
		{"string", String("EMEA"), `"EMEA"`},
		{"number", Number(72.5), `72.5`},
		{"bool", Bool(true), `true`},
		{"time", Time(ts), `"2026-05-17T10:30:00Z"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.value)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(data) != tt.json {
				t.Errorf("Marshal = %s, want %s", data, tt.json)
			}

			var back FieldValue
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if !back.Equal(tt.value) {
				t.Errorf("Round trip = %+v, want %+v", back, tt.value)
			}
		})
	}
}

func TestFieldValue_UnmarshalRejectsComposite(t *testing.T) {
	var v FieldValue
	if err := json.Unmarshal([]byte(`{"nested": true}`), &v); err == nil {
		t.Error("Expected error for composite extension value")
	}
	if err := json.Unmarshal([]byte(`[1,2]`), &v); err == nil {
		t.Error("Expected error for array extension value")
	}
}
