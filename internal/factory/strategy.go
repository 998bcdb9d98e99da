package factory

import (
	"fmt"

	"chatmemory/pkg/agent"
	"chatmemory/pkg/agent/llm"
	"chatmemory/pkg/config"
	"chatmemory/pkg/contextmgr"
	"chatmemory/pkg/logx"
	"chatmemory/pkg/utils"
)

// StrategyFactory builds strategies that share one set of stores and one model client.
type StrategyFactory struct {
	client llm.LLMClient
	stores *Stores
	logger *logx.Logger
	cfg    config.StrategyConfig
	model  string
}

// NewStrategyFactory creates a factory. client backs the summarizer and the fact extractor;
// model selects the model they use, empty meaning the client's own.
func NewStrategyFactory(client llm.LLMClient, stores *Stores, cfg config.StrategyConfig, model string) *StrategyFactory {
	return &StrategyFactory{
		client: client,
		stores: stores,
		cfg:    cfg,
		model:  model,
		logger: logx.NewLogger("factory"),
	}
}

// Estimator returns the configured token estimator.
func (f *StrategyFactory) Estimator() (contextmgr.Estimator, error) {
	switch f.cfg.Estimator {
	case "", config.EstimatorHeuristic:
		return contextmgr.HeuristicEstimator{}, nil
	case config.EstimatorTiktoken:
		counter, err := utils.NewTokenCounter(f.model)
		if err != nil {
			return nil, err
		}
		return counter, nil
	default:
		return nil, fmt.Errorf("unknown estimator %q", f.cfg.Estimator)
	}
}

// Build returns a new strategy of kind. An empty kind uses the configured one.
func (f *StrategyFactory) Build(kind string) (contextmgr.Strategy, error) {
	if kind == "" {
		kind = f.cfg.Kind
	}
	estimator, err := f.Estimator()
	if err != nil {
		return nil, err
	}
	opts := []contextmgr.Option{
		contextmgr.WithEstimator(estimator),
		contextmgr.WithLogger(logx.NewLogger("strategy").With(kind)),
	}

	switch kind {
	case contextmgr.KindSlidingWindow:
		return contextmgr.NewSlidingWindow(f.cfg.WindowSize, opts...), nil
	case contextmgr.KindPreserveSystem:
		return contextmgr.NewPreserveSystem(opts...), nil
	case contextmgr.KindSummaryCompression:
		summarizer := agent.NewSummarizer(f.client, f.model)
		return contextmgr.NewSummaryCompression(f.cfg.KeepRecent, f.cfg.SummaryBlockSize, summarizer, f.stores.Summaries, opts...), nil
	case contextmgr.KindStickyFacts:
		extractor := agent.NewFactExtractor(f.client, f.model)
		return contextmgr.NewStickyFacts(f.cfg.KeepRecent, extractor, f.stores.Facts, opts...), nil
	case contextmgr.KindBranching:
		return contextmgr.NewBranching(f.stores.Branches, opts...), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", kind)
	}
}

// Kinds lists the strategy kinds Build accepts.
func Kinds() []string {
	return []string{
		contextmgr.KindSlidingWindow,
		contextmgr.KindPreserveSystem,
		contextmgr.KindSummaryCompression,
		contextmgr.KindStickyFacts,
		contextmgr.KindBranching,
	}
}
