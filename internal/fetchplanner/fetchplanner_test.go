package fetchplanner

import (
	"testing"

	"github.com/kestrelmail/mailcore/internal/mime"
)

func TestResolveStrategyOfflineWins(t *testing.T) {
	if got := ResolveStrategy(StrategyComplete, SpeedFast, 10); got == StrategyOffline {
		t.Errorf("got offline for a non-offline request: offline only applies when requested is offline")
	}
	if got := ResolveStrategy(StrategyOffline, SpeedFast, 10); got != StrategyOffline {
		t.Errorf("got %q, want offline", got)
	}
}

func TestResolveStrategySlowLargeMessageGoesLazy(t *testing.T) {
	got := ResolveStrategy(StrategyComplete, SpeedSlow, 5*1024*1024)
	if got != StrategyLazy {
		t.Errorf("got %q, want lazy", got)
	}
}

func TestResolveStrategySlowSmallMessageGoesMinimal(t *testing.T) {
	got := ResolveStrategy(StrategyComplete, SpeedSlow, 1024)
	if got != StrategyMinimal {
		t.Errorf("got %q, want minimal", got)
	}
}

func TestResolveStrategyFastDefersToPreference(t *testing.T) {
	got := ResolveStrategy(StrategyComplete, SpeedFast, 1024)
	if got != StrategyComplete {
		t.Errorf("got %q, want complete", got)
	}
}

func TestResolveStrategyUnknownSpeedIsStandard(t *testing.T) {
	got := ResolveStrategy(StrategyComplete, SpeedUnknown, 1024)
	if got != StrategyStandard {
		t.Errorf("got %q, want standard", got)
	}
}

func sampleParts() []mime.MimePart {
	return []mime.MimePart{
		{PartID: "1", MediaType: "text/html", IsBodyCandidate: true, SizeOctets: 2000},
		{PartID: "1.1", MediaType: "image/png", Disposition: "inline", ContentID: "logo", SizeOctets: 50_000},
		{PartID: "2", MediaType: "application/pdf", FilenameNormalized: "report.pdf", SizeOctets: 6_000_000},
	}
}

func TestPlanOfflineIsCacheOnly(t *testing.T) {
	plan := Plan(sampleParts(), StrategyOffline)
	if !plan.CacheOnly {
		t.Error("expected CacheOnly")
	}
	if len(plan.Sections) != 0 {
		t.Error("expected no sections for offline plan")
	}
}

func TestPlanMinimalOnlyBodyImmediate(t *testing.T) {
	plan := Plan(sampleParts(), StrategyMinimal)
	if len(plan.Sections) != 1 || plan.Sections[0].Purpose != PurposeBody {
		t.Fatalf("Sections = %+v, want exactly the body part", plan.Sections)
	}
	if len(plan.Deferred) != 0 {
		t.Errorf("len(Deferred) = %d, want 0: minimal does not plan non-body sections at all", len(plan.Deferred))
	}
}

func TestPlanLazyBodyImmediateRestDeferred(t *testing.T) {
	plan := Plan(sampleParts(), StrategyLazy)
	if len(plan.Sections) != 1 || plan.Sections[0].Purpose != PurposeBody {
		t.Fatalf("Sections = %+v, want exactly the body part", plan.Sections)
	}
	if len(plan.Deferred) != 2 {
		t.Errorf("len(Deferred) = %d, want 2: lazy defers every non-body section for later download", len(plan.Deferred))
	}
}

func TestPlanStandardBodyAndInlineImmediate(t *testing.T) {
	plan := Plan(sampleParts(), StrategyStandard)
	if len(plan.Sections) != 2 {
		t.Fatalf("len(Sections) = %d, want 2", len(plan.Sections))
	}
	if len(plan.Deferred) != 1 || plan.Deferred[0].Purpose != PurposeAttachment {
		t.Errorf("Deferred = %+v, want the attachment deferred", plan.Deferred)
	}
}

func TestPlanCompleteEverythingImmediate(t *testing.T) {
	plan := Plan(sampleParts(), StrategyComplete)
	if len(plan.Sections) != 3 {
		t.Errorf("len(Sections) = %d, want 3", len(plan.Sections))
	}
	if len(plan.Deferred) != 0 {
		t.Errorf("len(Deferred) = %d, want 0", len(plan.Deferred))
	}
}

func TestPlanPriorityOrdersBodyFirst(t *testing.T) {
	plan := Plan(sampleParts(), StrategyComplete)
	if plan.Sections[0].Purpose != PurposeBody {
		t.Errorf("Sections[0].Purpose = %q, want body first", plan.Sections[0].Purpose)
	}
}

func TestChunkSectionAscendingOffsets(t *testing.T) {
	section := SectionSpec{PartID: "2", ExpectedSize: 1_200_000}
	chunks := ChunkSection(section, 512*1024)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Offset != int64(i)*512*1024 {
			t.Errorf("chunk %d offset = %d", i, c.Offset)
		}
	}
	last := chunks[len(chunks)-1]
	if last.Offset+last.Length != section.ExpectedSize {
		t.Errorf("last chunk does not reach ExpectedSize: %d+%d != %d", last.Offset, last.Length, section.ExpectedSize)
	}
}

func TestGroupCommandsRespectsCeiling(t *testing.T) {
	sections := []SectionSpec{
		{PartID: "1", ExpectedSize: 400 * 1024},
		{PartID: "2", ExpectedSize: 400 * 1024},
		{PartID: "3", ExpectedSize: 400 * 1024},
	}
	groups := GroupCommands(sections)
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	if len(groups[0]) != 2 || len(groups[1]) != 1 {
		t.Errorf("groups = %+v, want [2,1] split", groups)
	}
}
