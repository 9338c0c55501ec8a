// Package world holds an in-memory implementation of the collaborators the
// player-state core consumes: positions with a downward ground probe, a health
// system and control/loadout switches.
package world

import (
	"github.com/lefinal/royale-server/team"
	"go.uber.org/zap"
	"math"
	"sort"
	"sync"
)

// DefaultMaxHealth is the health of freshly spawned entities.
const DefaultMaxHealth = 100

// Vec3 is a position in world space. Y is up.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance returns the euclidean distance to the given position.
func (v Vec3) Distance(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Surface is a horizontal walkable rectangle at height Y.
type Surface struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinZ float64 `json:"min_z"`
	MaxZ float64 `json:"max_z"`
	Y    float64 `json:"y"`
}

func (s Surface) contains(x, z float64) bool {
	return x >= s.MinX && x <= s.MaxX && z >= s.MinZ && z <= s.MaxZ
}

// DepletedHandler is called when an entity's health reaches zero.
type DepletedHandler func(target team.UserID, source team.UserID)

// entity is the state of a single player entity.
type entity struct {
	position        Vec3
	health          float64
	controlsEnabled bool
	loadoutEnabled  bool
}

// World is safe for concurrent use.
type World struct {
	logger *zap.Logger
	// groundLevel is the height of the infinite base plane.
	groundLevel float64
	surfaces    []Surface
	maxHealth   float64
	// m locks entities and onDepleted.
	m          sync.RWMutex
	entities   map[team.UserID]*entity
	onDepleted DepletedHandler
}

// NewWorld creates a World with the given base ground level and additional
// walkable surfaces.
func NewWorld(logger *zap.Logger, groundLevel float64, surfaces []Surface) *World {
	s := make([]Surface, len(surfaces))
	copy(s, surfaces)
	return &World{
		logger:      logger,
		groundLevel: groundLevel,
		surfaces:    s,
		maxHealth:   DefaultMaxHealth,
		entities:    make(map[team.UserID]*entity),
	}
}

// OnDepleted sets the handler for health reaching zero. It is called without
// any lock held.
func (w *World) OnDepleted(handler DepletedHandler) {
	w.m.Lock()
	defer w.m.Unlock()
	w.onDepleted = handler
}

// Spawn places the entity with full health and enabled controls. Existing
// entities are reset.
func (w *World) Spawn(player team.UserID, position Vec3) {
	w.m.Lock()
	defer w.m.Unlock()
	w.entities[player] = &entity{
		position:        position,
		health:          w.maxHealth,
		controlsEnabled: true,
		loadoutEnabled:  true,
	}
}

// Despawn removes the entity.
func (w *World) Despawn(player team.UserID) {
	w.m.Lock()
	defer w.m.Unlock()
	delete(w.entities, player)
}

// Position returns the position of the given entity.
func (w *World) Position(player team.UserID) (Vec3, bool) {
	w.m.RLock()
	defer w.m.RUnlock()
	e, ok := w.entities[player]
	if !ok {
		return Vec3{}, false
	}
	return e.position, true
}

// SetPosition moves the given entity. Unknown entities are ignored.
func (w *World) SetPosition(player team.UserID, position Vec3) {
	w.m.Lock()
	defer w.m.Unlock()
	e, ok := w.entities[player]
	if !ok {
		return
	}
	e.position = position
}

// ProbeGround casts a ray straight down from the given position and returns
// the first walkable contact point within maxDistance.
func (w *World) ProbeGround(from Vec3, maxDistance float64) (Vec3, bool) {
	best := math.Inf(-1)
	if w.groundLevel <= from.Y {
		best = w.groundLevel
	}
	for _, s := range w.surfaces {
		if s.Y <= from.Y && s.Y > best && s.contains(from.X, from.Z) {
			best = s.Y
		}
	}
	if math.IsInf(best, -1) || from.Y-best > maxDistance {
		return Vec3{}, false
	}
	return Vec3{X: from.X, Y: best, Z: from.Z}, true
}

// Nearby returns all entities except the excluded one within the given radius
// of center, ordered by ascending distance.
func (w *World) Nearby(center Vec3, radius float64, exclude team.UserID) []team.UserID {
	type hit struct {
		player   team.UserID
		distance float64
	}
	w.m.RLock()
	hits := make([]hit, 0)
	for player, e := range w.entities {
		if player == exclude {
			continue
		}
		if d := center.Distance(e.position); d <= radius {
			hits = append(hits, hit{player: player, distance: d})
		}
	}
	w.m.RUnlock()
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].distance == hits[j].distance {
			return hits[i].player < hits[j].player
		}
		return hits[i].distance < hits[j].distance
	})
	players := make([]team.UserID, 0, len(hits))
	for _, h := range hits {
		players = append(players, h.player)
	}
	return players
}

// Health returns the current health of the given entity.
func (w *World) Health(player team.UserID) (float64, bool) {
	w.m.RLock()
	defer w.m.RUnlock()
	e, ok := w.entities[player]
	if !ok {
		return 0, false
	}
	return e.health, true
}

// ApplyDamage reduces the health of the target. If health reaches zero, the
// handler set via OnDepleted is called.
func (w *World) ApplyDamage(target team.UserID, amount float64, source team.UserID) {
	if amount <= 0 {
		return
	}
	w.m.Lock()
	e, ok := w.entities[target]
	if !ok || e.health <= 0 {
		w.m.Unlock()
		return
	}
	e.health = math.Max(0, e.health-amount)
	depleted := e.health == 0
	handler := w.onDepleted
	w.m.Unlock()
	w.logger.Debug("damage applied",
		zap.Any("target", target),
		zap.Any("source", source),
		zap.Float64("amount", amount),
		zap.Bool("depleted", depleted))
	if depleted && handler != nil {
		handler(target, source)
	}
}

// ApplyHeal increases the health of the target up to the maximum.
func (w *World) ApplyHeal(target team.UserID, amount float64, source team.UserID) {
	if amount <= 0 {
		return
	}
	w.m.Lock()
	defer w.m.Unlock()
	e, ok := w.entities[target]
	if !ok {
		return
	}
	e.health = math.Min(w.maxHealth, e.health+amount)
	w.logger.Debug("heal applied",
		zap.Any("target", target),
		zap.Any("source", source),
		zap.Float64("amount", amount))
}

// SetControlsEnabled enables or disables movement and physics collision for the
// entity.
func (w *World) SetControlsEnabled(player team.UserID, enabled bool) {
	w.m.Lock()
	defer w.m.Unlock()
	if e, ok := w.entities[player]; ok {
		e.controlsEnabled = enabled
	}
}

// SetLoadoutEnabled enables or disables the equipped items of the entity.
func (w *World) SetLoadoutEnabled(player team.UserID, enabled bool) {
	w.m.Lock()
	defer w.m.Unlock()
	if e, ok := w.entities[player]; ok {
		e.loadoutEnabled = enabled
	}
}

// ControlsEnabled describes whether controls of the entity are enabled.
func (w *World) ControlsEnabled(player team.UserID) bool {
	w.m.RLock()
	defer w.m.RUnlock()
	e, ok := w.entities[player]
	return ok && e.controlsEnabled
}

// LoadoutEnabled describes whether the loadout of the entity is enabled.
func (w *World) LoadoutEnabled(player team.UserID) bool {
	w.m.RLock()
	defer w.m.RUnlock()
	e, ok := w.entities[player]
	return ok && e.loadoutEnabled
}
