package corevk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func TestScoreFamilyRequiresSubsetOfCaps(t *testing.T) {
	f := queueFamily{index: 0, caps: vk.QueueFlags(vk.QueueComputeBit)}
	_, ok := scoreFamily(f, QueueRequest{RequiredCaps: vk.QueueFlags(vk.QueueGraphicsBit)})
	assert.False(t, ok)
}

func TestScoreFamilyExactStrategyRejectsSuperset(t *testing.T) {
	f := queueFamily{index: 0, caps: vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit)}
	_, ok := scoreFamily(f, QueueRequest{
		RequiredCaps: vk.QueueFlags(vk.QueueGraphicsBit),
		Strategy:     StrategyExact,
	})
	assert.False(t, ok, "exact strategy must reject a family with extra capabilities")
}

func TestScoreFamilyPreferDedicatedPenalizesExtraCaps(t *testing.T) {
	narrow := queueFamily{index: 0, caps: vk.QueueFlags(vk.QueueTransferBit)}
	broad := queueFamily{index: 1, caps: vk.QueueFlags(vk.QueueTransferBit | vk.QueueGraphicsBit | vk.QueueComputeBit)}

	req := QueueRequest{RequiredCaps: vk.QueueFlags(vk.QueueTransferBit), Strategy: StrategyPreferDedicated}

	narrowScore, ok := scoreFamily(narrow, req)
	require.True(t, ok)
	broadScore, ok := scoreFamily(broad, req)
	require.True(t, ok)

	assert.Greater(t, narrowScore, broadScore, "PreferDedicated should favor the narrower family")
}

func TestScoreFamilyPreferSharedRewardsExtraCaps(t *testing.T) {
	narrow := queueFamily{index: 0, caps: vk.QueueFlags(vk.QueueTransferBit)}
	broad := queueFamily{index: 1, caps: vk.QueueFlags(vk.QueueTransferBit | vk.QueueGraphicsBit)}

	req := QueueRequest{RequiredCaps: vk.QueueFlags(vk.QueueTransferBit), Strategy: StrategyPreferShared}

	narrowScore, ok := scoreFamily(narrow, req)
	require.True(t, ok)
	broadScore, ok := scoreFamily(broad, req)
	require.True(t, ok)

	assert.Greater(t, broadScore, narrowScore, "PreferShared should favor the broader, already-bound-friendly family")
}

func TestScoreFamilyPresentBonus(t *testing.T) {
	withPresent := queueFamily{index: 0, caps: vk.QueueFlags(vk.QueueGraphicsBit), supportsPresent: true}
	withoutPresent := queueFamily{index: 1, caps: vk.QueueFlags(vk.QueueGraphicsBit), supportsPresent: false}

	req := QueueRequest{RequiredCaps: vk.QueueFlags(vk.QueueGraphicsBit)}

	s1, _ := scoreFamily(withPresent, req)
	s2, _ := scoreFamily(withoutPresent, req)
	assert.Equal(t, s2+2, s1)
}

func TestQueueSelectorTieBreaksByAscendingIndex(t *testing.T) {
	families := []queueFamily{
		{index: 2, caps: vk.QueueFlags(vk.QueueGraphicsBit)},
		{index: 0, caps: vk.QueueFlags(vk.QueueGraphicsBit)},
		{index: 1, caps: vk.QueueFlags(vk.QueueGraphicsBit)},
	}
	sel := newQueueSelector(families)
	result, ok := sel.Request(QueueRequest{RequiredCaps: vk.QueueFlags(vk.QueueGraphicsBit)})
	require.True(t, ok)
	assert.EqualValues(t, 0, result.FamilyIndex)
}

func TestQueueSelectorPreferSeparateFamilyExcludesBound(t *testing.T) {
	families := []queueFamily{
		{index: 0, caps: vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueTransferBit)},
		{index: 1, caps: vk.QueueFlags(vk.QueueTransferBit)},
	}
	sel := newQueueSelector(families)
	sel.MarkBound(0)

	result, ok := sel.Request(QueueRequest{
		RequiredCaps:        vk.QueueFlags(vk.QueueTransferBit),
		PreferSeparateFamily: true,
	})
	require.True(t, ok)
	assert.EqualValues(t, 1, result.FamilyIndex)
}

func TestQueueSelectorNoMatch(t *testing.T) {
	sel := newQueueSelector([]queueFamily{{index: 0, caps: vk.QueueFlags(vk.QueueComputeBit)}})
	_, ok := sel.Request(QueueRequest{RequiredCaps: vk.QueueFlags(vk.QueueGraphicsBit)})
	assert.False(t, ok)
}
