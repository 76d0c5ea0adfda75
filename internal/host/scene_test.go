package host

import (
	"errors"
	"testing"
)

func TestScene_CreateValidation(t *testing.T) {
	s := NewScene(0)
	tests := []struct {
		name    string
		spec    ComponentSpec
		wantErr bool
	}{
		{"defaults", ComponentSpec{}, false},
		{"cylinder", ComponentSpec{Kind: KindCylinder, Dimensions: Vec3{1, 2, 1}}, false},
		{"bad kind", ComponentSpec{Kind: "teapot"}, true},
		{"negative dimension", ComponentSpec{Dimensions: Vec3{1, -1, 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("Create err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScene_Limit(t *testing.T) {
	s := NewScene(1)
	if _, err := s.Create(ComponentSpec{}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := s.Create(ComponentSpec{}); err == nil {
		t.Fatal("expected error when the scene is full")
	}
}

func TestScene_RemoveUpdatesGroupsAndSelection(t *testing.T) {
	s := NewScene(0)
	a, _ := s.Create(ComponentSpec{})
	b, _ := s.Create(ComponentSpec{Position: Vec3{2, 0, 0}})
	g, err := s.Group([]string{a.ID, b.ID}, "pair")
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if g.Dimensions != (Vec3{3, 1, 1}) {
		t.Errorf("group dimensions = %v, want [3 1 1]", g.Dimensions)
	}
	if err := s.Select([]string{a.ID, a.ID, b.ID}); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(s.Selection()) != 2 {
		t.Errorf("selection has %d entries, want 2", len(s.Selection()))
	}

	if err := s.Remove(a.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(g.Children) != 1 || g.Children[0] != b.ID {
		t.Errorf("group children = %v, want [%s]", g.Children, b.ID)
	}
	if sel := s.Selection(); len(sel) != 1 || sel[0].ID != b.ID {
		t.Errorf("selection after remove = %v", sel)
	}
	if err := s.Remove(a.ID); !errors.Is(err, ErrComponentNotFound) {
		t.Errorf("second Remove err = %v, want ErrComponentNotFound", err)
	}
}

func TestScene_Boolean(t *testing.T) {
	tests := []struct {
		op      string
		wantPos Vec3
		wantDim Vec3
		wantErr bool
	}{
		{BooleanUnion, Vec3{0, 0, 0}, Vec3{3, 2, 2}, false},
		{BooleanDifference, Vec3{0, 0, 0}, Vec3{2, 2, 2}, false},
		{BooleanIntersection, Vec3{1, 0, 0}, Vec3{1, 2, 2}, false},
		{"xor", Vec3{}, Vec3{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			s := NewScene(0)
			a, _ := s.Create(ComponentSpec{Dimensions: Vec3{2, 2, 2}})
			b, _ := s.Create(ComponentSpec{Position: Vec3{1, 0, 0}, Dimensions: Vec3{2, 2, 2}})
			res, err := s.Boolean(tt.op, a.ID, b.ID)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if s.Len() != 2 {
					t.Errorf("failed boolean changed the scene")
				}
				return
			}
			if err != nil {
				t.Fatalf("Boolean: %v", err)
			}
			if res.Position != tt.wantPos || res.Dimensions != tt.wantDim {
				t.Errorf("result = %v %v, want %v %v", res.Position, res.Dimensions, tt.wantPos, tt.wantDim)
			}
			if s.Len() != 1 {
				t.Errorf("scene has %d components, want 1", s.Len())
			}
		})
	}
}

func TestScene_Transform(t *testing.T) {
	s := NewScene(0)
	c, _ := s.Create(ComponentSpec{Rotation: Vec3{0, 350, 0}})
	got, err := s.Transform(c.ID, TransformSpec{
		Translate: &Vec3{1, 2, 3},
		Rotate:    &Vec3{0, 20, 0},
		Scale:     &Vec3{2, 2, 2},
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got.Position != (Vec3{1, 2, 3}) || got.Rotation != (Vec3{0, 10, 0}) || got.Scale != (Vec3{2, 2, 2}) {
		t.Errorf("transformed = %+v", got)
	}
	if _, err := s.Transform(c.ID, TransformSpec{Scale: &Vec3{0, 1, 1}}); err == nil {
		t.Error("expected error for zero scale")
	}
}

func TestArgs(t *testing.T) {
	a := Args{
		"name":     "plank",
		"type":     "box",
		"position": []any{1.0, int64(2), 3},
		"rotation": map[string]any{"y": 90.0},
		"ids":      []any{"cmp_1", "cmp_2"},
		"bad":      []any{1.0, 2.0},
	}
	spec, err := a.ComponentSpec()
	if err != nil {
		t.Fatalf("ComponentSpec: %v", err)
	}
	if spec.Position != (Vec3{1, 2, 3}) || spec.Rotation != (Vec3{0, 90, 0}) || spec.Kind != "box" {
		t.Errorf("spec = %+v", spec)
	}
	ids, err := a.Strings("ids")
	if err != nil || len(ids) != 2 {
		t.Errorf("Strings = %v, %v", ids, err)
	}
	if _, _, err := a.Vec("bad"); err == nil {
		t.Error("expected error for a 2-element vector")
	}
	if _, err := a.RequiredString("missing"); err == nil {
		t.Error("expected error for missing required string")
	}
	if _, err := (Args{}).TransformSpec(); err == nil {
		t.Error("expected error for empty transform")
	}
}
