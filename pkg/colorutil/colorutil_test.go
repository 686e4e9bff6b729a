package colorutil

import "testing"

func TestDeltaE2000(t *testing.T) {
	tests := []struct {
		name     string
		a, b     [3]uint8 // BGR
		min, max float64
	}{
		{"identical", [3]uint8{40, 120, 200}, [3]uint8{40, 120, 200}, 0, 1e-9},
		{"black vs white", [3]uint8{0, 0, 0}, [3]uint8{255, 255, 255}, 99, 101},
		{"slight shift", [3]uint8{100, 100, 100}, [3]uint8{102, 100, 100}, 0.1, 3},
		{"red vs green", [3]uint8{0, 0, 255}, [3]uint8{0, 255, 0}, 60, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c1 := FromBGR(tt.a[0], tt.a[1], tt.a[2])
			c2 := FromBGR(tt.b[0], tt.b[1], tt.b[2])
			got := DeltaE2000(c1, c2)
			if got < tt.min || got > tt.max {
				t.Errorf("DeltaE2000 = %.3f, want in [%v, %v]", got, tt.min, tt.max)
			}
			if sym := DeltaE2000(c2, c1); sym-got > 1e-9 || got-sym > 1e-9 {
				t.Errorf("DeltaE2000 not symmetric: %v vs %v", got, sym)
			}
		})
	}
}
