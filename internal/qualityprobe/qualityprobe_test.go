package qualityprobe

import "testing"

func TestPacketCountForStageScalesWithBitrate(t *testing.T) {
	stage := Stage{ID: 0, Duration: 2_000_000_000, TargetBitrateBps: 8_000_000}
	n := PacketCountForStage(stage, 1200)
	if n <= 0 {
		t.Fatalf("expected positive packet count, got %d", n)
	}
}

func TestPacketCountForStageFloorsAtOne(t *testing.T) {
	stage := Stage{ID: 0, Duration: 1, TargetBitrateBps: 1}
	if n := PacketCountForStage(stage, 1200); n != 1 {
		t.Fatalf("expected floor of 1, got %d", n)
	}
}

func TestStageResultStableWhenThroughputAndLossWithinBounds(t *testing.T) {
	r := StageResult{SentBytes: 1000, ReceivedBytes: 995}
	if !r.IsStable() {
		t.Fatalf("expected stable at 99.5%% throughput (0.5%% loss)")
	}
}

func TestStageResultUnstableBelowThroughputThreshold(t *testing.T) {
	r := StageResult{SentBytes: 1000, ReceivedBytes: 800}
	if r.IsStable() {
		t.Fatalf("expected unstable at 80%% throughput")
	}
}

func TestStageResultUnstableAtExactly89PercentThroughput(t *testing.T) {
	r := StageResult{SentBytes: 1000, ReceivedBytes: 890}
	if r.IsStable() {
		t.Fatalf("expected unstable just below the 90%% bar")
	}
}

func TestAccumulatorTalliesPerStage(t *testing.T) {
	a := NewAccumulator()
	stage := Stage{ID: 2, TargetBitrateBps: 16_000_000}
	a.RecordSent(stage, 1000)
	a.RecordSent(stage, 1000)
	a.RecordReceived(QualityTestPacketHeader{PayloadLength: 1000}, stage)

	results := a.Results([]Stage{stage})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].SentBytes != 2000 || results[0].ReceivedBytes != 1000 {
		t.Fatalf("unexpected tallies: %+v", results[0])
	}
}

func TestAccumulatorReturnsZeroResultForUntouchedStage(t *testing.T) {
	a := NewAccumulator()
	stages := []Stage{{ID: 0}, {ID: 1}}
	results := a.Results(stages)
	if len(results) != 2 {
		t.Fatalf("expected a result entry per stage, got %d", len(results))
	}
	if results[1].SentBytes != 0 || results[1].ReceivedBytes != 0 {
		t.Fatalf("expected zero tallies for untouched stage")
	}
}

func TestMaxStableBitratePicksHighestQualifyingStage(t *testing.T) {
	results := []StageResult{
		{Stage: Stage{TargetBitrateBps: 4_000_000}, SentBytes: 1000, ReceivedBytes: 1000},
		{Stage: Stage{TargetBitrateBps: 8_000_000}, SentBytes: 1000, ReceivedBytes: 995},
		{Stage: Stage{TargetBitrateBps: 16_000_000}, SentBytes: 1000, ReceivedBytes: 500}, // fails
	}
	bps, ok := MaxStableBitrate(results)
	if !ok {
		t.Fatalf("expected at least one stable stage")
	}
	if bps != 8_000_000 {
		t.Fatalf("expected 8Mbps as max stable, got %d", bps)
	}
}

func TestMaxStableBitrateNoneQualify(t *testing.T) {
	results := []StageResult{
		{Stage: Stage{TargetBitrateBps: 4_000_000}, SentBytes: 1000, ReceivedBytes: 100},
	}
	_, ok := MaxStableBitrate(results)
	if ok {
		t.Fatalf("expected no stage to qualify")
	}
}
