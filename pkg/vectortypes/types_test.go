package vectortypes

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		vec      F32
		distType DistanceType
		wantErr  error
	}{
		{
			name:     "Valid Vector",
			vec:      F32{1, 2, 3},
			distType: Euclidean,
			wantErr:  nil,
		},
		{
			name:     "Empty Vector",
			vec:      F32{},
			distType: Euclidean,
			wantErr:  ErrEmptyVector,
		},
		{
			name:     "NaN Component",
			vec:      F32{1, float32(math.NaN()), 3},
			distType: Euclidean,
			wantErr:  ErrNonFiniteVector,
		},
		{
			name:     "Infinite Component",
			vec:      F32{1, float32(math.Inf(1))},
			distType: Euclidean,
			wantErr:  ErrNonFiniteVector,
		},
		{
			name:     "Zero Vector Under Euclidean",
			vec:      F32{0, 0, 0},
			distType: Euclidean,
			wantErr:  nil,
		},
		{
			name:     "Zero Vector Under Cosine",
			vec:      F32{0, 0, 0},
			distType: Cosine,
			wantErr:  ErrZeroVector,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.vec, tt.distType)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate(%v, %s) = %v, want %v", tt.vec, tt.distType, err, tt.wantErr)
			}
		})
	}
}

func TestParseDistanceType(t *testing.T) {
	tests := []struct {
		input   string
		want    DistanceType
		wantErr bool
	}{
		{"euclidean", Euclidean, false},
		{"l2", Euclidean, false},
		{"Cosine", Cosine, false},
		{"dot", DotProduct, false},
		{"dot_product", DotProduct, false},
		{"manhattan", "", true},
	}

	for _, tt := range tests {
		got, err := ParseDistanceType(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDistanceType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDistanceType(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseF32(t *testing.T) {
	v, err := ParseF32("1.0, 2.0,3")
	if err != nil {
		t.Fatalf("ParseF32 returned error: %v", err)
	}
	if !reflect.DeepEqual(v, F32{1, 2, 3}) {
		t.Errorf("ParseF32 = %v, want [1 2 3]", v)
	}

	if _, err := ParseF32("1.0,abc"); err == nil {
		t.Error("expected error for non-numeric component")
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize(F32{3, 4})
	if !floatEquals(Norm(v), 1, 1e-6) {
		t.Errorf("normalized norm = %v, want 1", Norm(v))
	}
	if !floatEquals(v[0], 0.6, 1e-6) || !floatEquals(v[1], 0.8, 1e-6) {
		t.Errorf("Normalize(3,4) = %v, want [0.6 0.8]", v)
	}

	// Zero vector passes through unchanged.
	z := Normalize(F32{0, 0})
	if !reflect.DeepEqual(z, F32{0, 0}) {
		t.Errorf("Normalize(zero) = %v", z)
	}
}

func TestClone(t *testing.T) {
	v := F32{1, 2, 3}
	c := Clone(v)
	c[0] = 9

	if v[0] != 1 {
		t.Error("Clone did not produce an independent copy")
	}
}
