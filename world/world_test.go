package world

import (
	"github.com/lefinal/royale-server/team"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"testing"
)

func TestVec3Distance(t *testing.T) {
	assert.Equal(t, 5.0, Vec3{X: 0, Y: 0, Z: 0}.Distance(Vec3{X: 3, Y: 0, Z: 4}))
	assert.Equal(t, 0.0, Vec3{X: 1, Y: 2, Z: 3}.Distance(Vec3{X: 1, Y: 2, Z: 3}))
}

type WorldSuite struct {
	suite.Suite
	w *World
}

func (suite *WorldSuite) SetupTest() {
	suite.w = NewWorld(zap.New(zapcore.NewNopCore()), 0, []Surface{
		{MinX: 10, MaxX: 20, MinZ: 10, MaxZ: 20, Y: 5},
	})
}

func (suite *WorldSuite) TestProbeGroundBasePlane() {
	hit, ok := suite.w.ProbeGround(Vec3{X: 1, Y: 1.5, Z: 1}, 3)
	suite.Require().True(ok)
	suite.Equal(Vec3{X: 1, Y: 0, Z: 1}, hit)
}

func (suite *WorldSuite) TestProbeGroundSurface() {
	hit, ok := suite.w.ProbeGround(Vec3{X: 15, Y: 6, Z: 15}, 3)
	suite.Require().True(ok)
	suite.Equal(5.0, hit.Y, "should hit surface above base plane")
}

func (suite *WorldSuite) TestProbeGroundBelowSurface() {
	hit, ok := suite.w.ProbeGround(Vec3{X: 15, Y: 2, Z: 15}, 3)
	suite.Require().True(ok)
	suite.Equal(0.0, hit.Y, "should ignore surfaces above")
}

func (suite *WorldSuite) TestProbeGroundOutOfReach() {
	_, ok := suite.w.ProbeGround(Vec3{X: 1, Y: 50, Z: 1}, 3)
	suite.False(ok)
}

func (suite *WorldSuite) TestProbeGroundBelowBasePlane() {
	_, ok := suite.w.ProbeGround(Vec3{X: 1, Y: -1, Z: 1}, 3)
	suite.False(ok)
}

func (suite *WorldSuite) TestNearbyOrdered() {
	suite.w.Spawn("self", Vec3{})
	suite.w.Spawn("far", Vec3{X: 2.5})
	suite.w.Spawn("near", Vec3{X: 1})
	suite.w.Spawn("outside", Vec3{X: 10})
	suite.Equal([]team.UserID{"near", "far"}, suite.w.Nearby(Vec3{}, 3, "self"))
}

func (suite *WorldSuite) TestDamageDepletes() {
	var depleted []team.UserID
	suite.w.OnDepleted(func(target team.UserID, source team.UserID) {
		depleted = append(depleted, target)
		// Handler must be able to access the world.
		_, _ = suite.w.Health(target)
	})
	suite.w.Spawn("p", Vec3{})
	suite.w.ApplyDamage("p", 60, "enemy")
	h, _ := suite.w.Health("p")
	suite.Equal(40.0, h)
	suite.Empty(depleted)
	suite.w.ApplyDamage("p", 60, "enemy")
	h, _ = suite.w.Health("p")
	suite.Equal(0.0, h)
	suite.Equal([]team.UserID{"p"}, depleted)
	suite.w.ApplyDamage("p", 10, "enemy")
	suite.Len(depleted, 1, "should not deplete twice")
}

func (suite *WorldSuite) TestHealCapped() {
	suite.w.Spawn("p", Vec3{})
	suite.w.ApplyDamage("p", 50, "")
	suite.w.ApplyHeal("p", 30, "r")
	h, _ := suite.w.Health("p")
	suite.Equal(80.0, h)
	suite.w.ApplyHeal("p", 30, "r")
	h, _ = suite.w.Health("p")
	suite.Equal(100.0, h)
}

func (suite *WorldSuite) TestControls() {
	suite.w.Spawn("p", Vec3{})
	suite.True(suite.w.ControlsEnabled("p"))
	suite.w.SetControlsEnabled("p", false)
	suite.w.SetLoadoutEnabled("p", false)
	suite.False(suite.w.ControlsEnabled("p"))
	suite.False(suite.w.LoadoutEnabled("p"))
	suite.False(suite.w.ControlsEnabled("ghost"))
}

func (suite *WorldSuite) TestUnknownEntities() {
	suite.w.SetPosition("ghost", Vec3{X: 1})
	_, ok := suite.w.Position("ghost")
	suite.False(ok)
	suite.w.ApplyDamage("ghost", 10, "")
	_, ok = suite.w.Health("ghost")
	suite.False(ok)
}

func TestWorld(t *testing.T) {
	suite.Run(t, new(WorldSuite))
}
