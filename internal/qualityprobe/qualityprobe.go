// Package qualityprobe implements the client-initiated staged bandwidth
// test (spec §4.10, C10): fixed-size UDP datagrams emitted at a target
// rate per stage, a client-side accumulator, and the max-stable-bitrate
// evaluator. Grounded on the teacher's bandwidth-check style handshake in
// _examples/alxayo-rtmp-go/internal/rtmp/handshake (a fixed-size,
// timed exchange used to validate a connection before streaming begins),
// generalized from a one-shot handshake check to a multi-stage probe.
package qualityprobe

import "time"

// PlateauThroughputRatio and PlateauMaxLossRatio define "max stable"
// (spec §4.10: "throughput ≥ 90% of target and loss ≤ 1%").
const (
	PlateauThroughputRatio = 0.90
	PlateauMaxLossRatio    = 0.01
)

// QualityTestPacketHeader precedes every probe datagram (spec §4.10).
type QualityTestPacketHeader struct {
	TestID        uint32
	StageID       uint16
	Seq           uint32
	TimestampNs   int64
	PayloadLength uint32
}

// Stage describes one step of the staged test (spec §4.10).
type Stage struct {
	ID               uint16
	Duration         time.Duration
	TargetBitrateBps int64
}

// DefaultStages is a representative staged bitrate ladder used when the
// caller doesn't supply its own; probes typically override this with
// values negotiated against the session's configured bitrate range.
var DefaultStages = []Stage{
	{ID: 0, Duration: 2 * time.Second, TargetBitrateBps: 4_000_000},
	{ID: 1, Duration: 2 * time.Second, TargetBitrateBps: 8_000_000},
	{ID: 2, Duration: 2 * time.Second, TargetBitrateBps: 16_000_000},
	{ID: 3, Duration: 2 * time.Second, TargetBitrateBps: 32_000_000},
	{ID: 4, Duration: 2 * time.Second, TargetBitrateBps: 64_000_000},
}

// PacketCountForStage returns how many fixed-size datagrams a stage emits
// at its target bitrate, given a payload size in bytes.
func PacketCountForStage(stage Stage, payloadBytes int) int {
	if payloadBytes <= 0 {
		return 0
	}
	totalBytes := int64(stage.Duration.Seconds() * float64(stage.TargetBitrateBps) / 8)
	n := int(totalBytes / int64(payloadBytes))
	if n < 1 {
		n = 1
	}
	return n
}

// StageResult accumulates one stage's received-byte tally (spec §4.10:
// "tallies per-stage received bytes").
type StageResult struct {
	Stage         Stage
	ReceivedBytes int64
	SentBytes     int64
}

// Throughput returns the stage's received/sent byte ratio, with the sent
// bytes standing in for the stage's target (no cap at 1.0 is applied here;
// callers compare against PlateauThroughputRatio directly).
func (r StageResult) Throughput() float64 {
	if r.SentBytes == 0 {
		return 0
	}
	return float64(r.ReceivedBytes) / float64(r.SentBytes)
}

// LossRatio returns 1 - throughput (spec §4.10).
func (r StageResult) LossRatio() float64 { return 1 - r.Throughput() }

// IsStable reports whether this stage meets the max-stable-bitrate bar.
func (r StageResult) IsStable() bool {
	return r.Throughput() >= PlateauThroughputRatio && r.LossRatio() <= PlateauMaxLossRatio
}

// Accumulator tallies received bytes per stage as probe packets arrive.
type Accumulator struct {
	results map[uint16]*StageResult
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{results: make(map[uint16]*StageResult)}
}

// RecordSent registers that a stage sent a packet of payloadBytes (called
// host-side, or synthesized client-side from the stage plan).
func (a *Accumulator) RecordSent(stage Stage, payloadBytes int) {
	r := a.resultFor(stage)
	r.SentBytes += int64(payloadBytes)
}

// RecordReceived tallies a received probe packet against its stage.
func (a *Accumulator) RecordReceived(hdr QualityTestPacketHeader, stage Stage) {
	r := a.resultFor(stage)
	r.ReceivedBytes += int64(hdr.PayloadLength)
}

func (a *Accumulator) resultFor(stage Stage) *StageResult {
	r, ok := a.results[stage.ID]
	if !ok {
		r = &StageResult{Stage: stage}
		a.results[stage.ID] = r
	}
	return r
}

// Results returns the accumulated per-stage results, one per entry of
// stages and in the same order.
func (a *Accumulator) Results(stages []Stage) []StageResult {
	out := make([]StageResult, 0, len(stages))
	for _, s := range stages {
		if r, ok := a.results[s.ID]; ok {
			out = append(out, *r)
		} else {
			out = append(out, StageResult{Stage: s})
		}
	}
	return out
}

// MaxStableBitrate returns the highest target bitrate among stages that
// meet the stability bar, and whether any stage qualified (spec §4.10:
// "the highest stage with throughput ≥ 90% of target and loss ≤ 1%").
func MaxStableBitrate(results []StageResult) (bps int64, ok bool) {
	for _, r := range results {
		if r.IsStable() && r.Stage.TargetBitrateBps > bps {
			bps = r.Stage.TargetBitrateBps
			ok = true
		}
	}
	return bps, ok
}

// CodecBenchmarkResult is the one-time encode/decode timing record
// piggy-backed on the probe request (spec §4.10).
type CodecBenchmarkResult struct {
	EncodeLatency time.Duration
	DecodeLatency time.Duration
	Resolution    string
}
