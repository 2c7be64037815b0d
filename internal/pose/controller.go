package pose

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/example/go-avatar-perf/internal/emotion"
)

// MaxFrameDelta caps dt so a stalled frame cannot overshoot.
const MaxFrameDelta = 0.25

// Rates are exponential smoothing rates in 1/s for each transform property.
type Rates struct {
	Position float64
	Rotation float64
	Scale    float64
	Opacity  float64
}

func uniform(r float64) Rates { return Rates{r, r, r, r} }

var nodeRates = [NodeCount]Rates{
	Head:          {Position: 4, Rotation: 6, Scale: 6, Opacity: 6},
	Mouth:         uniform(18),
	BrowLeft:      uniform(10),
	BrowRight:     uniform(10),
	PupilLeft:     uniform(12),
	PupilRight:    uniform(12),
	HandLeft:      uniform(5),
	HandRight:     uniform(5),
	Torso:         uniform(3),
	PortraitPlane: uniform(4),
	PortraitMouth: uniform(18),
}

// RatesFor returns the smoothing rates of n.
func RatesFor(n Node) Rates {
	if n < 0 || n >= NodeCount {
		return Rates{}
	}
	return nodeRates[n]
}

type slot struct {
	primed bool
	actual Transform
}

// Controller smooths procedural targets over time. Each slot is primed
// with its idle target the first time its mode is used. A Controller is
// not safe for concurrent use.
type Controller struct {
	slots [NodeCount]slot
}

// NewController returns a controller with every slot unprimed.
func NewController() *Controller { return &Controller{} }

// Reset returns every slot to unprimed.
func (c *Controller) Reset() {
	c.slots = [NodeCount]slot{}
}

// ComputePose advances the smoothed pose by dt seconds toward the targets
// at elapsed time t and returns it. Inputs are clamped; it never fails.
func (c *Controller) ComputePose(t, dt, excitation float64, p emotion.Profile, mode Mode) Pose {
	dt = emotion.Clamp(finite(dt), 0, MaxFrameDelta)
	target := Targets(t, excitation, p, mode)

	var (
		idle     Pose
		haveIdle bool
	)
	out := NewPose(mode)
	for _, n := range mode.Nodes() {
		tgt, _ := target.Get(n)
		s := &c.slots[n]
		if !s.primed {
			if !haveIdle {
				idle, haveIdle = Targets(t, 0, p, mode), true
			}
			s.actual, _ = idle.Get(n)
			s.primed = true
		}

		r := nodeRates[n]
		s.actual.Position = approachVec(s.actual.Position, tgt.Position, dt*r.Position)
		s.actual.Rotation = approachVec(s.actual.Rotation, tgt.Rotation, dt*r.Rotation)
		s.actual.Scale = approachVec(s.actual.Scale, tgt.Scale, dt*r.Scale)
		s.actual.Opacity = approach(s.actual.Opacity, tgt.Opacity, dt*r.Opacity)
		out.Set(n, s.actual)
	}
	return out
}

func approach(a, target, k float64) float64 {
	return a + (target-a)*math.Min(1, k)
}

func approachVec(a, target mgl64.Vec3, k float64) mgl64.Vec3 {
	return a.Add(target.Sub(a).Mul(math.Min(1, k)))
}
