package host

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrComponentNotFound is returned for ids that are not in the scene.
var ErrComponentNotFound = errors.New("component not found")

// Vec3 is an x, y, z triple.
type Vec3 [3]float64

// Component kinds.
const (
	KindBox      = "box"
	KindCylinder = "cylinder"
	KindSphere   = "sphere"
	KindCone     = "cone"
	KindGroup    = "group"
	KindBoolean  = "boolean"
)

var primitiveKinds = map[string]bool{
	KindBox:      true,
	KindCylinder: true,
	KindSphere:   true,
	KindCone:     true,
}

// Boolean operations.
const (
	BooleanUnion        = "union"
	BooleanDifference   = "difference"
	BooleanIntersection = "intersection"
)

// Component is one entity in the scene.
type Component struct {
	ID         string   `json:"id" yaml:"id"`
	Name       string   `json:"name" yaml:"name"`
	Kind       string   `json:"kind" yaml:"kind"`
	Position   Vec3     `json:"position" yaml:"position,flow"`
	Dimensions Vec3     `json:"dimensions" yaml:"dimensions,flow"`
	Rotation   Vec3     `json:"rotation" yaml:"rotation,flow"`
	Scale      Vec3     `json:"scale" yaml:"scale,flow"`
	Material   string   `json:"material,omitempty" yaml:"material,omitempty"`
	Children   []string `json:"children,omitempty" yaml:"children,omitempty,flow"`
}

func (c *Component) clone() *Component {
	cp := *c
	cp.Children = append([]string(nil), c.Children...)
	return &cp
}

// ComponentSpec describes a component to create.
type ComponentSpec struct {
	Kind       string
	Name       string
	Position   Vec3
	Dimensions Vec3
	Rotation   Vec3
	Material   string
}

// TransformSpec describes a relative or absolute transform. Nil fields are
// left untouched.
type TransformSpec struct {
	Position  *Vec3 // absolute
	Translate *Vec3
	Rotate    *Vec3 // degrees, added
	Scale     *Vec3 // multiplied
}

// Scene is the in-memory model mutated by tasks. It is not safe for
// concurrent use; the host runs on the scheduler goroutine.
type Scene struct {
	components map[string]*Component
	order      []string
	selection  []string
	nextID     int
	limit      int
}

// NewScene returns an empty scene holding at most limit components
// (0 means unlimited).
func NewScene(limit int) *Scene {
	return &Scene{components: make(map[string]*Component), limit: limit}
}

// Create adds a component.
func (s *Scene) Create(spec ComponentSpec) (*Component, error) {
	if spec.Kind == "" {
		spec.Kind = KindBox
	}
	if !primitiveKinds[spec.Kind] {
		return nil, fmt.Errorf("unsupported component kind %q", spec.Kind)
	}
	if spec.Dimensions == (Vec3{}) {
		spec.Dimensions = Vec3{1, 1, 1}
	}
	for i, d := range spec.Dimensions {
		if d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, fmt.Errorf("dimension %d must be positive, got %v", i, d)
		}
	}
	c := &Component{
		Kind:       spec.Kind,
		Name:       spec.Name,
		Position:   spec.Position,
		Dimensions: spec.Dimensions,
		Rotation:   spec.Rotation,
		Scale:      Vec3{1, 1, 1},
		Material:   spec.Material,
	}
	if err := s.add(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Scene) add(c *Component) error {
	if s.limit > 0 && len(s.components) >= s.limit {
		return fmt.Errorf("scene is full (%d components)", s.limit)
	}
	s.nextID++
	c.ID = "cmp_" + strconv.Itoa(s.nextID)
	if c.Name == "" {
		c.Name = c.Kind + "_" + strconv.Itoa(s.nextID)
	}
	s.components[c.ID] = c
	s.order = append(s.order, c.ID)
	return nil
}

// Get returns the component for id.
func (s *Scene) Get(id string) (*Component, error) {
	c, ok := s.components[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, id)
	}
	return c, nil
}

// Remove deletes a component and any group membership referring to it.
func (s *Scene) Remove(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	delete(s.components, id)
	s.order = without(s.order, id)
	s.selection = without(s.selection, id)
	for _, c := range s.components {
		if c.Kind == KindGroup {
			c.Children = without(c.Children, id)
		}
	}
	return nil
}

// Transform applies t to a component.
func (s *Scene) Transform(id string, t TransformSpec) (*Component, error) {
	c, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if t.Scale != nil {
		for i, f := range t.Scale {
			if f <= 0 {
				return nil, fmt.Errorf("scale factor %d must be positive, got %v", i, f)
			}
		}
	}
	if t.Position != nil {
		c.Position = *t.Position
	}
	for i := range 3 {
		if t.Translate != nil {
			c.Position[i] += t.Translate[i]
		}
		if t.Rotate != nil {
			c.Rotation[i] = math.Mod(c.Rotation[i]+t.Rotate[i], 360)
		}
		if t.Scale != nil {
			c.Scale[i] *= t.Scale[i]
		}
	}
	return c, nil
}

// SetMaterial assigns a material to a component.
func (s *Scene) SetMaterial(id, material string) (*Component, error) {
	c, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if material == "" {
		return nil, errors.New("material is required")
	}
	c.Material = material
	return c, nil
}

// Group creates a group component over ids.
func (s *Scene) Group(ids []string, name string) (*Component, error) {
	if len(ids) == 0 {
		return nil, errors.New("group needs at least one component")
	}
	for _, id := range ids {
		if _, err := s.Get(id); err != nil {
			return nil, err
		}
	}
	lo, hi := s.bounds(ids)
	g := &Component{
		Kind:       KindGroup,
		Name:       name,
		Position:   lo,
		Dimensions: sub(hi, lo),
		Scale:      Vec3{1, 1, 1},
		Children:   append([]string(nil), ids...),
	}
	if err := s.add(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Boolean combines a and b into a new component and removes the operands.
func (s *Scene) Boolean(op, a, b string) (*Component, error) {
	ca, err := s.Get(a)
	if err != nil {
		return nil, err
	}
	cb, err := s.Get(b)
	if err != nil {
		return nil, err
	}
	if a == b {
		return nil, errors.New("boolean operands must differ")
	}

	res := &Component{Kind: KindBoolean, Name: op, Scale: Vec3{1, 1, 1}, Material: ca.Material}
	switch op {
	case BooleanUnion:
		lo, hi := s.bounds([]string{a, b})
		res.Position, res.Dimensions = lo, sub(hi, lo)
	case BooleanDifference:
		res.Position, res.Dimensions = ca.Position, ca.Dimensions
	case BooleanIntersection:
		alo, ahi := extent(ca)
		blo, bhi := extent(cb)
		var lo, hi Vec3
		for i := range 3 {
			lo[i] = math.Max(alo[i], blo[i])
			hi[i] = math.Min(ahi[i], bhi[i])
			if hi[i] <= lo[i] {
				return nil, fmt.Errorf("intersection of %s and %s is empty", a, b)
			}
		}
		res.Position, res.Dimensions = lo, sub(hi, lo)
	default:
		return nil, fmt.Errorf("unsupported boolean operation %q", op)
	}

	s.Remove(a)
	s.Remove(b)
	if err := s.add(res); err != nil {
		return nil, err
	}
	return res, nil
}

// Clear removes every component and returns how many there were.
func (s *Scene) Clear() int {
	n := len(s.components)
	s.components = make(map[string]*Component)
	s.order = nil
	s.selection = nil
	return n
}

// Select replaces the selection with ids.
func (s *Scene) Select(ids []string) error {
	for _, id := range ids {
		if _, err := s.Get(id); err != nil {
			return err
		}
	}
	s.selection = dedupe(ids)
	return nil
}

// Selection returns the selected components in selection order.
func (s *Scene) Selection() []*Component {
	out := make([]*Component, 0, len(s.selection))
	for _, id := range s.selection {
		out = append(out, s.components[id])
	}
	return out
}

// Distance returns the distance between two component positions.
func (s *Scene) Distance(a, b string) (float64, error) {
	ca, err := s.Get(a)
	if err != nil {
		return 0, err
	}
	cb, err := s.Get(b)
	if err != nil {
		return 0, err
	}
	d := sub(cb.Position, ca.Position)
	return math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2]), nil
}

// List returns every component in creation order.
func (s *Scene) List() []*Component {
	out := make([]*Component, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.components[id])
	}
	return out
}

// Len returns the number of components.
func (s *Scene) Len() int { return len(s.components) }

// snapshot deep-copies the scene.
func (s *Scene) snapshot() *Scene {
	cp := &Scene{
		components: make(map[string]*Component, len(s.components)),
		order:      append([]string(nil), s.order...),
		selection:  append([]string(nil), s.selection...),
		nextID:     s.nextID,
		limit:      s.limit,
	}
	for id, c := range s.components {
		cp.components[id] = c.clone()
	}
	return cp
}

func (s *Scene) restore(from *Scene) {
	*s = *from
}

func (s *Scene) bounds(ids []string) (lo, hi Vec3) {
	for i, id := range ids {
		clo, chi := extent(s.components[id])
		if i == 0 {
			lo, hi = clo, chi
			continue
		}
		for k := range 3 {
			lo[k] = math.Min(lo[k], clo[k])
			hi[k] = math.Max(hi[k], chi[k])
		}
	}
	return lo, hi
}

// extent returns the axis-aligned box of c, ignoring rotation.
func extent(c *Component) (lo, hi Vec3) {
	for i := range 3 {
		lo[i] = c.Position[i]
		hi[i] = c.Position[i] + c.Dimensions[i]*c.Scale[i]
	}
	return lo, hi
}

func sub(a, b Vec3) Vec3 {
	return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
