package geometry

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestHomographyInverseRoundTrip(t *testing.T) {
	h := Homography{
		1.02, 0.05, 12,
		-0.03, 0.97, -7,
		1e-4, -2e-4, 1,
	}
	inv, ok := h.Inverse()
	if !ok {
		t.Fatal("expected invertible homography")
	}

	for _, p := range []Point2D{{0, 0}, {100, 50}, {320, 240}, {-15, 80}} {
		q, ok := h.Apply(p)
		if !ok {
			t.Fatalf("forward mapping of %v went to infinity", p)
		}
		back, ok := inv.Apply(q)
		if !ok {
			t.Fatalf("inverse mapping of %v went to infinity", q)
		}
		if back.Distance(p) > 1e-6 {
			t.Errorf("round trip of %v gave %v", p, back)
		}
	}
}

func TestHomographyComposeOrder(t *testing.T) {
	translate := Homography{1, 0, 10, 0, 1, 0, 0, 0, 1}
	scale := Homography{2, 0, 0, 0, 2, 0, 0, 0, 1}

	// scale first, then translate
	h := translate.Compose(scale)
	got, _ := h.Apply(Point2D{X: 1, Y: 1})
	if got != (Point2D{X: 12, Y: 2}) {
		t.Errorf("expected (12,2), got %v", got)
	}
}

func TestHomographySingular(t *testing.T) {
	var zero Homography
	if _, ok := zero.Inverse(); ok {
		t.Error("zero matrix must not be invertible")
	}
	if _, ok := zero.Apply(Point2D{X: 1, Y: 1}); ok {
		t.Error("zero matrix must map points to infinity")
	}
}

func TestHomographyNormalized(t *testing.T) {
	h := Homography{2, 0, 4, 0, 2, 6, 0, 0, 2}.Normalized()
	if h[8] != 1 || h[0] != 1 || h[2] != 2 || h[5] != 3 {
		t.Errorf("unexpected normalized matrix %v", h)
	}
}

func TestRectNormalizeAndClip(t *testing.T) {
	r := NewRect(-10, 20, 120, 50).Clip(100, 200)
	if r != (Rect{X: 0, Y: 20, Width: 100, Height: 50}) {
		t.Fatalf("unexpected clip %v", r)
	}

	n := r.Normalize(100, 200)
	if !almostEqual(n.X, 0, 1e-12) || !almostEqual(n.Width, 1, 1e-12) ||
		!almostEqual(n.Y, 0.1, 1e-12) || !almostEqual(n.Height, 0.25, 1e-12) {
		t.Errorf("unexpected normalized rect %v", n)
	}

	outside := NewRect(150, 0, 10, 10).Clip(100, 100)
	if !outside.Empty() {
		t.Errorf("rect outside the frame should clip to empty, got %v", outside)
	}
}

func TestBoundingBox(t *testing.T) {
	box := BoundingBox([]Point2D{{3, 4}, {10, 1}, {5, 9}})
	if box != (Rect{X: 3, Y: 1, Width: 7, Height: 8}) {
		t.Errorf("unexpected bounding box %v", box)
	}
	if !BoundingBox(nil).Empty() {
		t.Error("bounding box of no points should be empty")
	}
}

func TestPolygonHelpers(t *testing.T) {
	square := NewRect(0, 0, 10, 10).Corners()

	if a := math.Abs(PolygonArea(square)); !almostEqual(a, 100, 1e-9) {
		t.Errorf("expected area 100, got %v", a)
	}
	if !IsStrictlyConvex(square) {
		t.Error("square should be convex")
	}

	bowtie := []Point2D{{0, 0}, {10, 10}, {10, 0}, {0, 10}}
	if IsStrictlyConvex(bowtie) {
		t.Error("self-intersecting quad must not be convex")
	}

	if !Collinear(Point2D{0, 0}, Point2D{5, 5}, Point2D{10, 10}, 1e-6) {
		t.Error("diagonal points should be collinear")
	}
}

func TestIntersectPolygons(t *testing.T) {
	a := NewRect(0, 0, 10, 10).Corners()
	b := NewRect(5, 5, 10, 10).Corners()

	overlap := IntersectPolygons(a, b)
	if overlap == nil {
		t.Fatal("expected overlap")
	}
	if area := math.Abs(PolygonArea(overlap)); !almostEqual(area, 25, 1e-9) {
		t.Errorf("expected overlap area 25, got %v", area)
	}

	// reversed winding on the clip polygon gives the same answer
	reversed := []Point2D{b[3], b[2], b[1], b[0]}
	if area := math.Abs(PolygonArea(IntersectPolygons(a, reversed))); !almostEqual(area, 25, 1e-9) {
		t.Errorf("expected overlap area 25 with reversed clip, got %v", area)
	}

	far := NewRect(50, 50, 5, 5).Corners()
	if IntersectPolygons(a, far) != nil {
		t.Error("disjoint polygons should not intersect")
	}
}
