package graph

import (
	"encoding/json"
	"testing"

	"github.com/muurk/loxone/internal/ident"
	"github.com/muurk/loxone/internal/protocol"
)

const (
	roomKitchen  = "10000000-0000-0000-0000000000000001"
	roomLiving   = "10000000-0000-0000-0000000000000002"
	catLights    = "20000000-0000-0000-0000000000000001"
	catShading   = "20000000-0000-0000-0000000000000002"
	ctlSwitch    = "30000000-0000-0000-0000000000000001"
	ctlScene     = "30000000-0000-0000-0000000000000002"
	ctlSub       = "30000000-0000-0000-0000000000000003"
	ctlBlind     = "30000000-0000-0000-0000000000000004"
	stSwitch     = "40000000-0000-0000-0000000000000001"
	stMood       = "40000000-0000-0000-0000000000000002"
	stSub        = "40000000-0000-0000-0000000000000003"
	stBlind      = "40000000-0000-0000-0000000000000004"
	stBlindShade = "40000000-0000-0000-0000000000000005"
)

type testBehavior struct {
	disposed *int
}

func (b testBehavior) Format(c *Control) string { return c.Name() }

func (b testBehavior) Action(c *Control, op string, args ...string) (string, error) {
	if op == "" {
		return "", ErrUnsupportedOperation
	}
	return op, nil
}

func (b testBehavior) Dispose(c *Control) {
	if b.disposed != nil {
		*b.disposed++
	}
}

func testRegistry(disposed *int) Registry {
	ctor := func() Behavior { return testBehavior{disposed: disposed} }
	reg := Registry{}
	for _, typ := range []string{"Switch", "LightControllerV2", "Dimmer", "Jalousie"} {
		reg.Register(typ, ctor)
	}
	return reg
}

func states(kv ...string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	for i := 0; i+1 < len(kv); i += 2 {
		raw, _ := json.Marshal(kv[i+1])
		out[kv[i]] = raw
	}
	return out
}

func baseConfig() *protocol.AppConfig {
	return &protocol.AppConfig{
		MsInfo: &protocol.MsInfo{SerialNr: "504F94000001", MsName: "Home"},
		Rooms: map[string]protocol.Container{
			roomKitchen: {UUID: roomKitchen, Name: "Kitchen"},
			roomLiving:  {UUID: roomLiving, Name: "Living"},
		},
		Categories: map[string]protocol.Container{
			catLights:  {UUID: catLights, Name: "Lights", Type: json.RawMessage(`"lights"`)},
			catShading: {UUID: catShading, Name: "Shading", Type: json.RawMessage(`"Shading"`)},
		},
		Controls: map[string]protocol.ControlInfo{
			ctlSwitch: {
				UUIDAction: ctlSwitch, Name: "Ceiling", Type: "Switch",
				Room: roomKitchen, Category: catLights,
				States: states("active", stSwitch),
			},
			ctlScene: {
				UUIDAction: ctlScene, Name: "Scenes", Type: "LightControllerV2",
				Room: roomLiving, Category: catLights,
				States: states("activeMoods", stMood),
				SubControls: map[string]protocol.ControlInfo{
					ctlSub: {UUIDAction: ctlSub, Name: "Spot", Type: "Dimmer", States: states("position", stSub)},
				},
			},
			ctlBlind: {
				UUIDAction: ctlBlind, Name: "Blind", Type: "Jalousie",
				Room: roomLiving, Category: catShading,
				States: states("position", stBlind, "shadePosition", stBlindShade),
			},
		},
	}
}

func id(s string) ident.ID { return ident.Parse(s) }

func TestMergeCreates(t *testing.T) {
	g := New(testRegistry(nil))
	stats := g.Merge(baseConfig())

	if stats.Added != 4 || stats.Removed != 0 {
		t.Errorf("stats = %+v, want 4 added, 0 removed", stats)
	}
	if len(g.Rooms()) != 2 || len(g.Categories()) != 2 || len(g.Controls()) != 4 {
		t.Fatalf("rooms=%d cats=%d controls=%d", len(g.Rooms()), len(g.Categories()), len(g.Controls()))
	}
	if g.Info() == nil || g.Info().MsName != "Home" {
		t.Errorf("Info() = %+v", g.Info())
	}

	sw := g.Control(id(ctlSwitch))
	if sw == nil {
		t.Fatal("switch not found")
	}
	if sw.Name() != "Ceiling" || sw.Type() != "Switch" {
		t.Errorf("switch = %q/%q", sw.Name(), sw.Type())
	}
	if sw.State("ACTIVE") == nil {
		t.Error("state lookup should be case-insensitive")
	}
	if !g.Room(id(roomKitchen).Key()).Has(id(ctlSwitch).Key()) {
		t.Error("kitchen should contain the switch")
	}
	if g.Category(id(catLights).Key()).Type() != CategoryLights {
		t.Error("lights category type not parsed")
	}
	if g.Category(id(catShading).Key()).Type() != CategoryShading {
		t.Error("shading category type should parse case-insensitively")
	}

	sub := g.Control(id(ctlSub))
	if sub == nil {
		t.Fatal("sub-control missing from flat index")
	}
	if sub.Parent() != id(ctlScene).Key() {
		t.Errorf("Parent() = %q", sub.Parent())
	}
	if sub.Room() != id(roomLiving).Key() || sub.Category() != id(catLights).Key() {
		t.Error("sub-control should inherit room and category from its parent")
	}
	if children := g.Control(id(ctlScene)).Children(); len(children) != 1 || children[0] != sub {
		t.Errorf("Children() = %v", children)
	}
	if refs := g.StatesFor(id(stSub)); len(refs) != 1 || refs[0].Control != sub {
		t.Errorf("StatesFor(sub state) = %v", refs)
	}
}

func TestMergeIdempotent(t *testing.T) {
	disposed := 0
	g := New(testRegistry(&disposed))
	g.Merge(baseConfig())

	sw := g.Control(id(ctlSwitch))
	active := sw.State("active")
	notified := 0
	active.AddListener(func(*State) { notified++ })

	stats := g.Merge(baseConfig())
	if stats.Added != 0 || stats.Removed != 0 || stats.Updated != 4 {
		t.Errorf("second merge stats = %+v, want 0 added, 4 updated, 0 removed", stats)
	}
	if disposed != 0 {
		t.Errorf("disposed = %d, want 0", disposed)
	}
	if g.Control(id(ctlSwitch)) != sw || sw.State("active") != active {
		t.Error("objects should keep their identity across identical merges")
	}
	if len(g.Controls()) != 4 || len(g.Rooms()) != 2 || len(g.Categories()) != 2 {
		t.Error("visible content changed after identical merge")
	}

	g.Apply(protocol.StateUpdate{ID: id(stSwitch), Value: 1})
	if notified != 1 {
		t.Errorf("listener notified %d times, want 1", notified)
	}
}

func TestMergeRemovesControl(t *testing.T) {
	disposed := 0
	g := New(testRegistry(&disposed))
	g.Merge(baseConfig())

	scene := g.Control(id(ctlScene))
	sub := g.Control(id(ctlSub))

	next := baseConfig()
	delete(next.Controls, ctlScene)
	stats := g.Merge(next)

	if stats.Removed != 2 {
		t.Errorf("Removed = %d, want 2", stats.Removed)
	}
	if disposed != 2 {
		t.Errorf("disposed behaviours = %d, want 2", disposed)
	}
	if g.Control(id(ctlScene)) != nil || g.Control(id(ctlSub)) != nil {
		t.Error("removed controls still indexed")
	}
	if !scene.Disposed() || !sub.Disposed() {
		t.Error("removed controls should be marked disposed")
	}
	if g.Room(id(roomLiving).Key()).Has(id(ctlScene).Key()) {
		t.Error("room still lists the removed control")
	}
	if g.Category(id(catLights).Key()).Has(id(ctlScene).Key()) {
		t.Error("category still lists the removed control")
	}
	if len(g.StatesFor(id(stMood))) != 0 {
		t.Error("fan-out index still holds removed state")
	}
	if g.Room(id(roomLiving).Key()) == nil || !g.Room(id(roomLiving).Key()).Has(id(ctlBlind).Key()) {
		t.Error("unrelated membership lost")
	}
}

func TestMergeRemovesContainers(t *testing.T) {
	g := New(testRegistry(nil))
	g.Merge(baseConfig())

	next := baseConfig()
	delete(next.Rooms, roomKitchen)
	g.Merge(next)

	if g.Room(id(roomKitchen).Key()) != nil {
		t.Error("room absent from snapshot should be removed")
	}
	if len(g.Rooms()) != 1 {
		t.Errorf("Rooms() = %d, want 1", len(g.Rooms()))
	}
}

func TestMergeMovesControlBetweenRooms(t *testing.T) {
	g := New(testRegistry(nil))
	g.Merge(baseConfig())

	next := baseConfig()
	sw := next.Controls[ctlSwitch]
	sw.Room = roomLiving
	next.Controls[ctlSwitch] = sw
	g.Merge(next)

	if g.Room(id(roomKitchen).Key()).Has(id(ctlSwitch).Key()) {
		t.Error("old room still lists the control")
	}
	if !g.Room(id(roomLiving).Key()).Has(id(ctlSwitch).Key()) {
		t.Error("new room does not list the control")
	}
}

func TestMergeStateRename(t *testing.T) {
	g := New(testRegistry(nil))
	g.Merge(baseConfig())

	blind := g.Control(id(ctlBlind))
	pos := blind.State("position")
	calls := 0
	pos.AddListener(func(*State) { calls++ })

	next := baseConfig()
	ci := next.Controls[ctlBlind]
	ci.States = states("height", stBlind, "shadePosition", stBlindShade)
	next.Controls[ctlBlind] = ci
	g.Merge(next)

	if blind.State("position") != nil {
		t.Error("old state name should be gone")
	}
	if blind.State("height") != pos {
		t.Error("renamed state should keep its identity")
	}
	if pos.Name() != "height" {
		t.Errorf("Name() = %q, want height", pos.Name())
	}
	g.Apply(protocol.StateUpdate{ID: id(stBlind), Value: 0.5})
	if calls != 1 {
		t.Errorf("listener calls = %d, want 1", calls)
	}
}

func TestMergeDropsRemovedState(t *testing.T) {
	g := New(testRegistry(nil))
	g.Merge(baseConfig())

	blind := g.Control(id(ctlBlind))
	shade := blind.State("shadePosition")
	shade.AddListener(func(*State) {})

	next := baseConfig()
	ci := next.Controls[ctlBlind]
	ci.States = states("position", stBlind)
	next.Controls[ctlBlind] = ci
	g.Merge(next)

	if blind.State("shadePosition") != nil {
		t.Error("removed state still present")
	}
	if shade.ListenerCount() != 0 {
		t.Error("removed state should drop its listeners")
	}
	if len(g.StatesFor(id(stBlindShade))) != 0 {
		t.Error("index still holds removed state")
	}
}

func TestMergeSkipsUnknownType(t *testing.T) {
	g := New(testRegistry(nil))
	cfg := baseConfig()
	cfg.Controls["50000000-0000-0000-0000000000000001"] = protocol.ControlInfo{
		UUIDAction: "50000000-0000-0000-0000000000000001", Name: "Mystery", Type: "Webpage",
	}
	stats := g.Merge(cfg)

	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
	if g.Control(id("50000000-0000-0000-0000000000000001")) != nil {
		t.Error("unsupported control should not be created")
	}
}

func TestMergeTypeChangeRecreates(t *testing.T) {
	disposed := 0
	g := New(testRegistry(&disposed))
	g.Merge(baseConfig())
	old := g.Control(id(ctlSwitch))

	next := baseConfig()
	ci := next.Controls[ctlSwitch]
	ci.Type = "Dimmer"
	next.Controls[ctlSwitch] = ci
	g.Merge(next)

	cur := g.Control(id(ctlSwitch))
	if cur == nil || cur == old {
		t.Fatal("control should be recreated on type change")
	}
	if !old.Disposed() || disposed != 1 {
		t.Errorf("old control disposed=%v count=%d", old.Disposed(), disposed)
	}
	if !g.Room(id(roomKitchen).Key()).Has(id(ctlSwitch).Key()) {
		t.Error("recreated control should be a room member")
	}
}

func TestMergeTypeChangeKeepsSubControls(t *testing.T) {
	disposed := 0
	g := New(testRegistry(&disposed))
	g.Merge(baseConfig())
	sub := g.Control(id(ctlSub))
	calls := 0
	sub.State("position").AddListener(func(*State) { calls++ })

	next := baseConfig()
	ci := next.Controls[ctlScene]
	ci.Type = "Switch"
	next.Controls[ctlScene] = ci
	stats := g.Merge(next)

	if disposed != 1 {
		t.Errorf("disposed behaviours = %d, want 1", disposed)
	}
	if stats.Removed != 0 {
		t.Errorf("Removed = %d, want 0", stats.Removed)
	}
	if g.Control(id(ctlSub)) != sub || sub.Disposed() {
		t.Fatal("sub-control should survive its parent's type change")
	}
	if sub.Parent() != id(ctlScene).Key() {
		t.Errorf("Parent() = %q, want %q", sub.Parent(), id(ctlScene).Key())
	}
	children := g.Control(id(ctlScene)).Children()
	if len(children) != 1 || children[0] != sub {
		t.Errorf("Children() = %v, want the surviving sub-control", children)
	}
	g.Apply(protocol.StateUpdate{ID: id(stSub), Value: 0.3})
	if calls != 1 {
		t.Errorf("listener calls = %d, want 1", calls)
	}

	// dropping the sub-control on a later type change still removes it
	next = baseConfig()
	ci = next.Controls[ctlScene]
	ci.Type = "Dimmer"
	ci.SubControls = nil
	next.Controls[ctlScene] = ci
	stats = g.Merge(next)

	if !sub.Disposed() || g.Control(id(ctlSub)) != nil {
		t.Error("sub-control absent from the snapshot should be swept")
	}
	if stats.Removed != 1 {
		t.Errorf("Removed = %d, want 1", stats.Removed)
	}
}

func TestApplyFanOut(t *testing.T) {
	g := New(testRegistry(nil))
	cfg := baseConfig()
	ci := cfg.Controls[ctlBlind]
	ci.States = states("position", stBlind, "shared", stSwitch)
	cfg.Controls[ctlBlind] = ci
	g.Merge(cfg)

	refs := g.Apply(protocol.StateUpdate{ID: ident.Parse(stSwitch), Value: 1})
	if len(refs) != 2 {
		t.Fatalf("Apply() matched %d pairs, want 2", len(refs))
	}
	for _, ref := range refs {
		if v, ok := ref.State.Number(); !ok || v != 1 {
			t.Errorf("%s/%s = %v,%v, want 1", ref.Control.Name(), ref.State.Name(), v, ok)
		}
	}

	if got := g.Apply(protocol.StateUpdate{ID: ident.Parse("99999999-0000-0000-0000000000000000"), Value: 1}); got != nil {
		t.Errorf("unknown id matched %v", got)
	}
}

func TestApplyText(t *testing.T) {
	g := New(testRegistry(nil))
	g.Merge(baseConfig())

	g.Apply(protocol.StateUpdate{ID: id(stMood), Text: "[778]", IsText: true})
	text, ok := g.Control(id(ctlScene)).Text("activeMoods")
	if !ok || text != "[778]" {
		t.Errorf("Text() = %q,%v", text, ok)
	}
	if _, ok := g.Control(id(ctlScene)).Number("activeMoods"); ok {
		t.Error("text update should not set a number")
	}
}

func TestDispose(t *testing.T) {
	disposed := 0
	g := New(testRegistry(&disposed))
	g.Merge(baseConfig())
	g.Dispose()

	if disposed != 4 {
		t.Errorf("disposed = %d, want 4", disposed)
	}
	if len(g.Controls()) != 0 || len(g.Rooms()) != 0 || g.Info() != nil {
		t.Error("graph not empty after Dispose")
	}
}

func TestControlCommand(t *testing.T) {
	g := New(testRegistry(nil))
	g.Merge(baseConfig())

	cmd, err := g.Control(id(ctlSwitch)).Command("On")
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if cmd != "jdev/sps/io/"+ctlSwitch+"/On" {
		t.Errorf("Command() = %q", cmd)
	}
	if _, err := g.Control(id(ctlSwitch)).Command(""); err != ErrUnsupportedOperation {
		t.Errorf("error = %v, want ErrUnsupportedOperation", err)
	}
}

func TestParseCategoryType(t *testing.T) {
	tests := []struct {
		in   string
		want CategoryType
	}{
		{"lights", CategoryLights},
		{"LIGHTS", CategoryLights},
		{"Shading", CategoryShading},
		{"multimedia", CategoryUndefined},
		{"", CategoryUndefined},
	}
	for _, tt := range tests {
		if got := ParseCategoryType(tt.in); got != tt.want {
			t.Errorf("ParseCategoryType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
