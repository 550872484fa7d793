package capability

import (
	"encoding/json"
	"testing"
)

func TestRequestID_MarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		id   RequestID
		want string
	}{
		{"string", StringID("req-1"), `"req-1"`},
		{"numeric string", StringID("42"), `"42"`},
		{"integer", NumberID("1000000"), `1000000`},
		{"epoch millis", NumberID("1718000000000"), `1718000000000`},
		{"fraction", NumberID("3.25"), `3.25`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(map[string]RequestID{"id": tt.id})
			if err != nil {
				t.Fatalf("capability:request_id_test - marshal failed: %v", err)
			}
			if want := `{"id":` + tt.want + `}`; string(got) != want {
				t.Errorf("capability:request_id_test - got %s, want %s", got, want)
			}
		})
	}
}

func TestRequestID_Zero(t *testing.T) {
	var id RequestID
	if !id.IsZero() || id.IsNumber() {
		t.Errorf("capability:request_id_test - zero id = %+v", id)
	}
	if StringID("x").IsZero() || !NumberID("7").IsNumber() {
		t.Error("capability:request_id_test - supplied ids must not be zero")
	}
}
