package crawl

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mthorsley/wikigraph-crawler/internal/crawler"
)

// Estimator predicts how large a crawl rooted at a title would grow,
// by sampling the second ring instead of fetching all of it.
type Estimator struct {
	gateway    crawler.Gateway
	namespaces []int

	// OverlapFactor discounts second-ring titles expected to collide
	// with each other across samples.
	OverlapFactor float64
	// SampleLimit caps how many first-ring pages are expanded.
	SampleLimit int

	logger *zap.Logger
}

// NewEstimator builds an Estimator with the standard sampling knobs.
func NewEstimator(gateway crawler.Gateway, namespaces []int, logger *zap.Logger) *Estimator {
	if len(namespaces) == 0 {
		namespaces = []int{0}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{
		gateway:       gateway,
		namespaces:    namespaces,
		OverlapFactor: 0.15,
		SampleLimit:   100,
		logger:        logger,
	}
}

// Estimate resolves the title and projects the first and second ring
// sizes of a both-direction crawl rooted there.
func (e *Estimator) Estimate(ctx context.Context, title string) (crawler.BlastRadius, error) {
	root, err := e.gateway.ResolveTitle(ctx, title)
	if err != nil {
		return crawler.BlastRadius{}, fmt.Errorf("resolve root title: %w", err)
	}

	outlinks, err := e.gateway.GetOutlinks(ctx, root.PageID, e.namespaces)
	if err != nil {
		return crawler.BlastRadius{}, fmt.Errorf("fetch outlinks: %w", err)
	}
	backlinks, err := e.gateway.GetBacklinks(ctx, root.PageID, e.namespaces)
	if err != nil {
		return crawler.BlastRadius{}, fmt.Errorf("fetch backlinks: %w", err)
	}

	firstSet := make(map[string]struct{}, len(outlinks)+len(backlinks))
	first := make([]string, 0, len(outlinks)+len(backlinks))
	for _, l := range append(outlinks, backlinks...) {
		if l.Title == root.Title {
			continue
		}
		if _, ok := firstSet[l.Title]; ok {
			continue
		}
		firstSet[l.Title] = struct{}{}
		first = append(first, l.Title)
	}

	sampleN := min(e.SampleLimit, len(first))
	sample := first[:sampleN]
	resolved, err := e.gateway.BatchResolveTitles(ctx, sample)
	if err != nil {
		return crawler.BlastRadius{}, fmt.Errorf("resolve sample: %w", err)
	}

	secondSet := make(map[string]struct{})
	for _, info := range resolved {
		links, err := e.gateway.GetOutlinks(ctx, info.PageID, e.namespaces)
		if err != nil {
			return crawler.BlastRadius{}, fmt.Errorf("expand sample page %d: %w", info.PageID, err)
		}
		for _, l := range links {
			if l.Title == root.Title {
				continue
			}
			if _, ok := firstSet[l.Title]; ok {
				continue
			}
			secondSet[l.Title] = struct{}{}
		}
	}

	scaled := float64(len(secondSet))
	if sampleN > 0 && len(first) > sampleN {
		scaled *= float64(len(first)) / float64(sampleN)
	}
	second := int(scaled*(1-e.OverlapFactor)) - len(first)
	if second < 0 {
		second = 0
	}

	e.logger.Info("blast radius estimated",
		zap.String("title", root.Title),
		zap.Int("first_degree", len(first)),
		zap.Int("sampled", sampleN),
		zap.Int("second_degree_estimate", second),
	)
	return crawler.BlastRadius{
		Title:                root.Title,
		RootPageID:           root.PageID,
		FirstDegreeToCrawl:   len(first),
		SampledPages:         sampleN,
		SecondDegreeEstimate: second,
		EstimatedTotalPages:  1 + len(first) + second,
	}, nil
}
