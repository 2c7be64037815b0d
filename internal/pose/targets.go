package pose

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/example/go-avatar-perf/internal/emotion"
)

// Hand sway phase offsets keep the hands from moving in lockstep.
const (
	handLeftPhase  = 0.0
	handRightPhase = 1.7
)

// Targets computes the unsmoothed procedural pose at elapsed time t. Every
// node combines an idle term scaled by gesture intensity with a term scaled
// by excitation, so excitation 0 yields the idle-only pose.
func Targets(t, excitation float64, p emotion.Profile, mode Mode) Pose {
	p = p.Clamped()
	t = finite(t)
	e := unitExcitation(excitation)

	out := NewPose(mode)
	if mode == ModePortrait {
		out.Set(PortraitPlane, planeTarget(t, e, p))
		out.Set(PortraitMouth, portraitMouthTarget(e, p))
		return out
	}

	out.Set(Head, headTarget(t, e, p))
	out.Set(Mouth, mouthTarget(e, p))
	out.Set(BrowLeft, browTarget(t, e, p, 1))
	out.Set(BrowRight, browTarget(t, e, p, -1))
	out.Set(PupilLeft, pupilTarget(t, e, p, -1))
	out.Set(PupilRight, pupilTarget(t, e, p, 1))
	out.Set(HandLeft, handTarget(t, e, p, -1, handLeftPhase))
	out.Set(HandRight, handTarget(t, e, p, 1, handRightPhase))
	out.Set(Torso, torsoTarget(t, e, p))
	return out
}

func headTarget(t, e float64, p emotion.Profile) Transform {
	g := p.GestureIntensity
	tr := Identity()
	tr.Rotation = mgl64.Vec3{
		math.Sin(t*0.9)*0.05*g + e*0.12,
		math.Sin(t*0.6)*0.08*g + math.Sin(t*3.1)*0.05*e,
		math.Cos(t*0.7) * 0.03 * g,
	}
	tr.Position = mgl64.Vec3{0, math.Sin(t*1.3)*0.01*g + e*0.03, 0}
	return tr
}

// MouthOpen is the vertical mouth scale for excitation e and mouth weight m.
func MouthOpen(e, m float64) float64 {
	return 0.2 + e*(0.8+m*0.4)
}

func mouthTarget(e float64, p emotion.Profile) Transform {
	tr := Identity()
	tr.Scale = mgl64.Vec3{1 + e*0.15, MouthOpen(e, p.MouthIntensity), 1}
	return tr
}

// browTarget mirrors excitation lift and tilt through side (+1 left, -1 right).
func browTarget(t, e float64, p emotion.Profile, side float64) Transform {
	g, b := p.GestureIntensity, p.BrowLift
	tr := Identity()
	tr.Position = mgl64.Vec3{0, 0.55 + b*0.18 + side*e*0.6*0.15 + math.Sin(t*1.7)*0.005*g, 0}
	tr.Rotation = mgl64.Vec3{0, 0, side * (b*0.08 + e*0.1)}
	return tr
}

func pupilTarget(t, e float64, p emotion.Profile, side float64) Transform {
	g := p.GestureIntensity
	tr := Identity()
	tr.Position = mgl64.Vec3{
		math.Sin(t*0.8)*0.012*g + side*e*0.01,
		math.Cos(t*1.1)*0.006*g + e*0.012,
		0,
	}
	return tr
}

func handTarget(t, e float64, p emotion.Profile, side, phase float64) Transform {
	g := p.GestureIntensity
	tr := Identity()
	tr.Position = mgl64.Vec3{
		math.Sin(t*0.7+phase)*0.02*g + side*e*0.08,
		math.Sin(t*0.9+phase)*0.025*g + e*0.12,
		math.Sin(t*0.5+phase) * 0.015 * g,
	}
	tr.Rotation = mgl64.Vec3{
		math.Sin(t*0.6+phase) * 0.1 * g,
		math.Cos(t*0.4+phase) * 0.08 * g,
		side * (math.Sin(t*0.8+phase)*0.06*g + e*0.15),
	}
	return tr
}

func torsoTarget(t, e float64, p emotion.Profile) Transform {
	g := p.GestureIntensity
	tr := Identity()
	tr.Rotation = mgl64.Vec3{0, math.Sin(t*0.35)*0.04*g + e*0.05, math.Sin(t*0.45) * 0.02 * g}
	tr.Position = mgl64.Vec3{0, math.Sin(t*1.2) * 0.006 * g, 0}
	return tr
}

func planeTarget(t, e float64, p emotion.Profile) Transform {
	g := p.GestureIntensity
	tr := Identity()
	tr.Position = mgl64.Vec3{math.Sin(t*0.4) * 0.01 * g, math.Sin(t*0.9)*0.008*g + e*0.01, 0}
	tr.Rotation = mgl64.Vec3{0, 0, math.Sin(t*0.5)*0.015*g + math.Sin(t*3.1)*0.01*e}
	tr.Scale = mgl64.Vec3{1 + e*0.01, 1 + e*0.01, 1}
	return tr
}

func portraitMouthTarget(e float64, p emotion.Profile) Transform {
	tr := Identity()
	tr.Scale = mgl64.Vec3{1 + e*0.15, MouthOpen(e, p.MouthIntensity), 1}
	tr.Opacity = emotion.Clamp(0.15+e*0.85, 0, 1)
	return tr
}

// unitExcitation clamps e to [0, 1]. NaN and -Inf are silence; +Inf is
// as loud as it gets.
func unitExcitation(e float64) float64 {
	if math.IsNaN(e) {
		return 0
	}
	return emotion.Clamp(e, 0, 1)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
