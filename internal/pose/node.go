// Package pose generates per-frame rig poses for the avatar from elapsed
// time, audio excitation and an emotion profile.
//
// Nodes live in a fixed arena indexed by Node. The controller owns the
// smoothed state; renderers receive plain Pose values and never share it.
package pose

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// Node identifies one animatable slot of the rig.
type Node int

const (
	Head Node = iota
	Mouth
	BrowLeft
	BrowRight
	PupilLeft
	PupilRight
	HandLeft
	HandRight
	Torso
	PortraitPlane
	PortraitMouth

	NodeCount
)

var nodeNames = [NodeCount]string{
	Head:          "head",
	Mouth:         "mouth",
	BrowLeft:      "browLeft",
	BrowRight:     "browRight",
	PupilLeft:     "pupilLeft",
	PupilRight:    "pupilRight",
	HandLeft:      "handLeft",
	HandRight:     "handRight",
	Torso:         "torso",
	PortraitPlane: "portraitPlane",
	PortraitMouth: "portraitMouth",
}

func (n Node) String() string {
	if n < 0 || n >= NodeCount {
		return fmt.Sprintf("node(%d)", int(n))
	}
	return nodeNames[n]
}

// ParseNode resolves a node by its wire name.
func ParseNode(s string) (Node, bool) {
	for i, name := range nodeNames {
		if name == s {
			return Node(i), true
		}
	}
	return 0, false
}

// Mode selects the rig variant.
type Mode int

const (
	Mode3D Mode = iota
	ModePortrait
)

var (
	nodes3D       = []Node{Head, Mouth, BrowLeft, BrowRight, PupilLeft, PupilRight, HandLeft, HandRight, Torso}
	nodesPortrait = []Node{PortraitPlane, PortraitMouth}
)

// Nodes returns the nodes animated in mode m.
func (m Mode) Nodes() []Node {
	if m == ModePortrait {
		return append([]Node(nil), nodesPortrait...)
	}
	return append([]Node(nil), nodes3D...)
}

func (m Mode) String() string {
	if m == ModePortrait {
		return "portrait"
	}
	return "3d"
}

// ParseMode accepts "3d" and "portrait" plus the aliases "2d" and "image".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "3d":
		return Mode3D, nil
	case "portrait", "2d", "image":
		return ModePortrait, nil
	default:
		return Mode3D, fmt.Errorf("unknown avatar mode %q (want 3d|portrait)", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Transform is a target delta for one node. Scale is multiplicative and
// Opacity is only meaningful for the portrait mouth.
type Transform struct {
	Position mgl64.Vec3 `json:"position"`
	Rotation mgl64.Vec3 `json:"rotation"`
	Scale    mgl64.Vec3 `json:"scale"`
	Opacity  float64    `json:"opacity"`
}

// Identity is the rest transform: no offset, unit scale, fully opaque.
func Identity() Transform {
	return Transform{Scale: mgl64.Vec3{1, 1, 1}, Opacity: 1}
}

// Matrix composes translation, XYZ Euler rotation and scale.
func (t Transform) Matrix() mgl64.Mat4 {
	rot := mgl64.HomogRotate3DZ(t.Rotation.Z()).
		Mul4(mgl64.HomogRotate3DY(t.Rotation.Y())).
		Mul4(mgl64.HomogRotate3DX(t.Rotation.X()))
	return mgl64.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z()).
		Mul4(rot).
		Mul4(mgl64.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z()))
}

// Distance is the summed component-wise distance between two transforms.
func (t Transform) Distance(o Transform) float64 {
	return t.Position.Sub(o.Position).Len() +
		t.Rotation.Sub(o.Rotation).Len() +
		t.Scale.Sub(o.Scale).Len() +
		abs(t.Opacity-o.Opacity)
}

// Pose is one frame of node transforms for a mode.
type Pose struct {
	Mode    Mode
	nodes   [NodeCount]Transform
	present [NodeCount]bool
}

// NewPose returns an empty pose for mode m.
func NewPose(m Mode) Pose { return Pose{Mode: m} }

// Set stores tr for n.
func (p *Pose) Set(n Node, tr Transform) {
	if n < 0 || n >= NodeCount {
		return
	}
	p.nodes[n] = tr
	p.present[n] = true
}

// Get returns the transform of n and whether the pose carries it.
func (p Pose) Get(n Node) (Transform, bool) {
	if n < 0 || n >= NodeCount || !p.present[n] {
		return Transform{}, false
	}
	return p.nodes[n], true
}

// Nodes lists the nodes present in the pose in arena order.
func (p Pose) Nodes() []Node {
	var out []Node
	for i, ok := range p.present {
		if ok {
			out = append(out, Node(i))
		}
	}
	return out
}

// Distance sums node distances over the nodes present in both poses.
func (p Pose) Distance(o Pose) float64 {
	var d float64
	for i := range p.nodes {
		if p.present[i] && o.present[i] {
			d += p.nodes[i].Distance(o.nodes[i])
		}
	}
	return d
}

type poseJSON struct {
	Mode  Mode                 `json:"mode"`
	Nodes map[string]Transform `json:"nodes"`
}

func (p Pose) MarshalJSON() ([]byte, error) {
	out := poseJSON{Mode: p.Mode, Nodes: make(map[string]Transform, NodeCount)}
	for i, ok := range p.present {
		if ok {
			out.Nodes[nodeNames[i]] = p.nodes[i]
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON ignores node names it does not know, so renderers built
// against a newer rig keep working.
func (p *Pose) UnmarshalJSON(b []byte) error {
	var in poseJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*p = NewPose(in.Mode)
	for name, tr := range in.Nodes {
		if n, ok := ParseNode(name); ok {
			p.Set(n, tr)
		}
	}
	return nil
}

// Sink receives one pose per rendered frame.
type Sink interface {
	ApplyPose(Pose)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Pose)

func (f SinkFunc) ApplyPose(p Pose) { f(p) }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
