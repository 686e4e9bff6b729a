package geometry

import "math"

// PolygonArea returns the signed area of a simple polygon (shoelace formula).
// The sign follows the vertex winding in a y-up frame.
func PolygonArea(polygon []Point2D) float64 {
	if len(polygon) < 3 {
		return 0
	}
	var area float64
	n := len(polygon)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += polygon[i].X*polygon[j].Y - polygon[j].X*polygon[i].Y
	}
	return area / 2
}

// IsStrictlyConvex reports whether every consecutive vertex triple turns the
// same way. Collinear triples and self-intersecting quads fail.
func IsStrictlyConvex(polygon []Point2D) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}

	var sign int
	for i := 0; i < n; i++ {
		cross := crossProduct(polygon[i], polygon[(i+1)%n], polygon[(i+2)%n])
		if cross == 0 || math.IsNaN(cross) {
			return false
		}
		s := 1
		if cross < 0 {
			s = -1
		}
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
	}
	return true
}

// Collinear reports whether the triangle a, b, c has an area below tol.
func Collinear(a, b, c Point2D, tol float64) bool {
	return math.Abs(crossProduct(a, b, c))/2 < tol
}

// IntersectPolygons clips subject against a convex clip polygon
// (Sutherland-Hodgman). Either winding is accepted for clip.
// Returns nil when the intersection has no area.
func IntersectPolygons(subject, clip []Point2D) []Point2D {
	if len(subject) < 3 || len(clip) < 3 {
		return nil
	}

	orientation := 1.0
	if PolygonArea(clip) < 0 {
		orientation = -1.0
	}

	output := make([]Point2D, len(subject))
	copy(output, subject)

	for i := 0; i < len(clip); i++ {
		if len(output) == 0 {
			return nil
		}
		output = clipPolygonByEdge(output, clip[i], clip[(i+1)%len(clip)], orientation)
	}

	if len(output) < 3 {
		return nil
	}
	return output
}

func clipPolygonByEdge(polygon []Point2D, edgeStart, edgeEnd Point2D, orientation float64) []Point2D {
	var clipped []Point2D

	for i := 0; i < len(polygon); i++ {
		current := polygon[i]
		next := polygon[(i+1)%len(polygon)]

		currentInside := orientation*crossProduct(edgeStart, edgeEnd, current) >= 0
		nextInside := orientation*crossProduct(edgeStart, edgeEnd, next) >= 0

		switch {
		case currentInside && nextInside:
			clipped = append(clipped, current)
		case currentInside:
			clipped = append(clipped, current)
			if p, ok := lineIntersection(current, next, edgeStart, edgeEnd); ok {
				clipped = append(clipped, p)
			}
		case nextInside:
			if p, ok := lineIntersection(current, next, edgeStart, edgeEnd); ok {
				clipped = append(clipped, p)
			}
		}
	}

	return clipped
}

// lineIntersection intersects the segment p1-p2 with the infinite line
// through e1-e2.
func lineIntersection(p1, p2, e1, e2 Point2D) (Point2D, bool) {
	denom := (p1.X-p2.X)*(e1.Y-e2.Y) - (p1.Y-p2.Y)*(e1.X-e2.X)
	if math.Abs(denom) < 1e-10 {
		return Point2D{}, false
	}

	t := ((p1.X-e1.X)*(e1.Y-e2.Y) - (p1.Y-e1.Y)*(e1.X-e2.X)) / denom
	return Point2D{
		X: p1.X + t*(p2.X-p1.X),
		Y: p1.Y + t*(p2.Y-p1.Y),
	}, true
}

// crossProduct computes the z component of OA x OB.
func crossProduct(o, a, b Point2D) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}
