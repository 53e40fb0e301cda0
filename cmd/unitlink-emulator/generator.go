package main

import (
	"math"
	"math/rand/v2"

	"github.com/unitlink/unitlink-core/internal/device"
	"github.com/unitlink/unitlink-core/internal/telemetry"
)

// fieldDropChance is the probability of omitting each telemetry field.
const fieldDropChance = 0.05

// telemetryRange bounds the values generated for one state.
type telemetryRange struct {
	rssiMin, rssiMax       int
	latencyMin, latencyMax int
	lossMin, lossMax       float64
}

var ranges = map[device.Status]telemetryRange{
	device.StatusOnline: {
		rssiMin: -85, rssiMax: -40,
		latencyMin: 20, latencyMax: 150,
		lossMin: 0, lossMax: 2.5,
	},
	device.StatusUnstable: {
		rssiMin: -100, rssiMax: -70,
		latencyMin: 100, latencyMax: 500,
		lossMin: 1, lossMax: 10,
	},
}

// generator produces random device reports.
type generator struct {
	rnd *rand.Rand
}

func newGenerator(seed uint64) *generator {
	return &generator{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// pickStatus returns ONLINE 70%, UNSTABLE 20% and OFFLINE 10% of the time.
func (g *generator) pickStatus() device.Status {
	switch p := g.rnd.Float64(); {
	case p < 0.7:
		return device.StatusOnline
	case p < 0.9:
		return device.StatusUnstable
	default:
		return device.StatusOffline
	}
}

// report builds a report for status. OFFLINE reports carry no telemetry.
func (g *generator) report(status device.Status) telemetry.Report {
	r := telemetry.Report{Status: string(status)}

	tr, ok := ranges[status]
	if !ok {
		return r
	}

	if !g.drop() {
		r.SignalRSSI = telemetry.Int(g.intBetween(tr.rssiMin, tr.rssiMax))
	}
	if !g.drop() {
		r.LatencyMS = telemetry.Int(g.intBetween(tr.latencyMin, tr.latencyMax))
	}
	if !g.drop() {
		loss := tr.lossMin + g.rnd.Float64()*(tr.lossMax-tr.lossMin)
		r.PacketLossPercent = telemetry.Float(math.Round(loss*100) / 100)
	}
	return r
}

func (g *generator) drop() bool {
	return g.rnd.Float64() < fieldDropChance
}

// intBetween returns a value in [lo, hi].
func (g *generator) intBetween(lo, hi int) int {
	return lo + g.rnd.IntN(hi-lo+1)
}
