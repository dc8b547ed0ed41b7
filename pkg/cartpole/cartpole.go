// Package cartpole implements the classic cart-pole balancing environment.
//
// A pole is hinged to a cart on a frictionless track; the agent pushes the
// cart left or right and earns one point of reward per step the pole stays
// upright. An episode terminates when the pole tips past the angle limit or
// the cart leaves the track, and truncates at the step limit. It is the
// default environment the workers collect experience from.
package cartpole

import (
	"math"
	"math/rand"
)

const (
	gravity        = 9.81
	massCart       = 1.0
	massPole       = 0.1
	totalMass      = massCart + massPole
	length         = 0.5 // half the pole length
	poleMassLength = massPole * length
	forceMag       = 10.0
	tau            = 0.02 // seconds per step

	xThreshold     = 2.4
	thetaThreshold = 12 * math.Pi / 180

	maxSteps = 500
)

// ObsDim is the length of the observation vector: cart position, cart
// velocity, pole angle, pole angular velocity.
const ObsDim = 4

// Actions is the number of discrete actions: push left, push right.
const Actions = 2

// Env is a single cart-pole instance. It is not safe for concurrent use.
type Env struct {
	rng      *rand.Rand
	x        float64
	xDot     float64
	theta    float64
	thetaDot float64
	steps    int
}

// New creates an environment seeded for reproducible resets.
func New(seed int64) *Env {
	return &Env{rng: rand.New(rand.NewSource(seed))}
}

// Reset starts a new episode with all state drawn uniformly from
// [-0.05, 0.05] and returns the initial observation.
func (e *Env) Reset() []float64 {
	e.x = e.uniform()
	e.xDot = e.uniform()
	e.theta = e.uniform()
	e.thetaDot = e.uniform()
	e.steps = 0
	return e.obs()
}

// Step applies an action (1 pushes right, anything else pushes left) and
// advances the simulation by one tick. It returns the next observation,
// the reward, and the terminated and truncated flags.
func (e *Env) Step(action int) (obs []float64, reward float64, terminated, truncated bool) {
	force := -forceMag
	if action == 1 {
		force = forceMag
	}

	cosTheta := math.Cos(e.theta)
	sinTheta := math.Sin(e.theta)

	temp := (force + poleMassLength*e.thetaDot*e.thetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) /
		(length * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	e.x += tau * e.xDot
	e.xDot += tau * xAcc
	e.theta += tau * e.thetaDot
	e.thetaDot += tau * thetaAcc
	e.steps++

	terminated = math.Abs(e.x) > xThreshold || math.Abs(e.theta) > thetaThreshold
	truncated = !terminated && e.steps >= maxSteps
	return e.obs(), 1.0, terminated, truncated
}

// MaxSteps returns the episode step limit.
func (e *Env) MaxSteps() int { return maxSteps }

func (e *Env) obs() []float64 {
	return []float64{e.x, e.xDot, e.theta, e.thetaDot}
}

func (e *Env) uniform() float64 {
	return e.rng.Float64()*0.1 - 0.05
}
