package crawl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEstimateDiscountsOverlap(t *testing.T) {
	gw := newFakeGateway()
	// Root 1 links out to 10 pages; each of those links out to 4 fresh
	// pages, 40 unique second-ring titles total.
	next := int64(100)
	for id := int64(2); id <= 11; id++ {
		gw.link(1, id)
		for j := 0; j < 4; j++ {
			gw.link(id, next)
			next++
		}
	}

	e := NewEstimator(gw, []int{0}, zap.NewNop())
	br, err := e.Estimate(context.Background(), "Page 1")
	require.NoError(t, err)

	require.Equal(t, int64(1), br.RootPageID)
	require.Equal(t, 10, br.FirstDegreeToCrawl)
	require.Equal(t, 10, br.SampledPages)
	// 40 unique titles discounted by the overlap factor, minus the
	// first ring: int(40*0.85) - 10 = 24.
	require.Equal(t, 24, br.SecondDegreeEstimate)
	require.Equal(t, 1+10+24, br.EstimatedTotalPages)
}

func TestEstimateExtrapolatesBeyondSample(t *testing.T) {
	gw := newFakeGateway()
	// 200 first-ring pages but only the first SampleLimit get expanded.
	next := int64(1000)
	for id := int64(2); id <= 201; id++ {
		gw.link(1, id)
		for j := 0; j < 10; j++ {
			gw.link(id, next)
			next++
		}
	}

	e := NewEstimator(gw, []int{0}, zap.NewNop())
	br, err := e.Estimate(context.Background(), "Page 1")
	require.NoError(t, err)

	require.Equal(t, 200, br.FirstDegreeToCrawl)
	require.Equal(t, 100, br.SampledPages)
	// 1000 unique titles in the sample scaled by 200/100, discounted,
	// minus the first ring: int(2000*0.85) - 200 = 1500.
	require.Equal(t, 1500, br.SecondDegreeEstimate)
}

func TestEstimateUnknownTitle(t *testing.T) {
	gw := newFakeGateway()
	e := NewEstimator(gw, []int{0}, zap.NewNop())
	_, err := e.Estimate(context.Background(), "No such page")
	require.Error(t, err)
}

func TestEstimateLeafPage(t *testing.T) {
	gw := newFakeGateway()
	gw.addPage(1)

	e := NewEstimator(gw, []int{0}, zap.NewNop())
	br, err := e.Estimate(context.Background(), titleFor(1))
	require.NoError(t, err)
	require.Zero(t, br.FirstDegreeToCrawl)
	require.Zero(t, br.SecondDegreeEstimate)
	require.Equal(t, 1, br.EstimatedTotalPages)
}
