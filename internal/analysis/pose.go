package analysis

import "math"

// epsilon guards the angle denominator against zero-length vectors from
// degenerate landmarks.
const epsilon = 1e-6

// Landmark is a detected body keypoint in normalized image coordinates.
// Z carries relative depth when the detector provides it, zero otherwise.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Pose holds the upper-body landmarks the analysis consumes. Nil fields mean
// the detector did not report that keypoint.
type Pose struct {
	LeftShoulder  *Landmark
	LeftElbow     *Landmark
	LeftWrist     *Landmark
	RightShoulder *Landmark
	RightElbow    *Landmark
	RightWrist    *Landmark
}

// Angle returns the joint angle at p2 between the p2→p1 and p2→p3 vectors,
// in degrees within [0,180]. Degenerate inputs (coincident points) yield a
// finite value rather than NaN.
func Angle(p1, p2, p3 Landmark) float64 {
	v1x, v1y, v1z := p1.X-p2.X, p1.Y-p2.Y, p1.Z-p2.Z
	v2x, v2y, v2z := p3.X-p2.X, p3.Y-p2.Y, p3.Z-p2.Z

	dot := v1x*v2x + v1y*v2y + v1z*v2z
	n1 := math.Sqrt(v1x*v1x + v1y*v1y + v1z*v1z)
	n2 := math.Sqrt(v2x*v2x + v2y*v2y + v2z*v2z)

	cos := dot / (n1*n2 + epsilon)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}

// ArmAngle returns the elbow angle of the pose. With both arms visible it is
// the mean of the two sides; with one arm visible that side alone is used.
// ok is false when neither arm has a full shoulder-elbow-wrist triple.
func (p *Pose) ArmAngle() (angle float64, ok bool) {
	var sum float64
	var n int
	if p.LeftShoulder != nil && p.LeftElbow != nil && p.LeftWrist != nil {
		sum += Angle(*p.LeftShoulder, *p.LeftElbow, *p.LeftWrist)
		n++
	}
	if p.RightShoulder != nil && p.RightElbow != nil && p.RightWrist != nil {
		sum += Angle(*p.RightShoulder, *p.RightElbow, *p.RightWrist)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// HandCentroid returns the midpoint of the two wrists in normalized image
// fractions. With one wrist visible that wrist is the centroid; with none,
// ok is false.
func (p *Pose) HandCentroid() (x, y float64, ok bool) {
	switch {
	case p.LeftWrist != nil && p.RightWrist != nil:
		return (p.LeftWrist.X + p.RightWrist.X) / 2, (p.LeftWrist.Y + p.RightWrist.Y) / 2, true
	case p.LeftWrist != nil:
		return p.LeftWrist.X, p.LeftWrist.Y, true
	case p.RightWrist != nil:
		return p.RightWrist.X, p.RightWrist.Y, true
	}
	return 0, 0, false
}
