package strategy

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/solatis/derivekeeper/internal/types"
)

// Service is a name-keyed registry of strategies. Safe for concurrent use.
type Service struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	logger     *zap.Logger
}

// NewService creates a Service with the single, array and merge strategies registered.
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		strategies: make(map[string]Strategy),
		logger:     logger,
	}
	for _, st := range []Strategy{Single{}, Array{}, Merge{}} {
		s.strategies[st.Name()] = st
	}
	return s
}

// Aggregate combines sources with the named strategy. A nil opts uses the
// strategy's defaults.
func (s *Service) Aggregate(sources []any, strategyName string, opts *Options) (any, error) {
	if sources == nil {
		return nil, types.NewStrategyError(types.CodeInvalidSources, "sources must not be nil")
	}
	if len(sources) == 0 {
		return nil, types.NewStrategyError(types.CodeEmptySources, "at least one source is required")
	}

	st, err := s.lookup(strategyName)
	if err != nil {
		return nil, err
	}

	resolved := st.DefaultOptions()
	if opts != nil {
		resolved = *opts
	}
	if err := st.ValidateOptions(resolved); err != nil {
		return nil, asConfigurationError(err)
	}

	if !st.CanHandle(sources) {
		return nil, types.NewStrategyError(types.CodeIncompatibleStrategy,
			"strategy %q cannot handle the supplied %d source(s)", st.Name(), len(sources))
	}

	result, err := st.Aggregate(sources, resolved)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("sources combined",
		zap.String("strategy", st.Name()),
		zap.Int("sources", len(sources)))
	return result, nil
}

// AutoAggregate combines sources with the strategy SelectBestStrategy picks.
func (s *Service) AutoAggregate(sources []any, opts *Options) (any, error) {
	return s.Aggregate(sources, s.SelectBestStrategy(sources), opts)
}

// SelectBestStrategy returns single for exactly one source, array otherwise.
func (s *Service) SelectBestStrategy(sources []any) string {
	if len(sources) == 1 {
		return NameSingle
	}
	return NameArray
}

// RegisterStrategy adds st, replacing any strategy with the same name.
func (s *Service) RegisterStrategy(st Strategy) error {
	if st == nil {
		return types.NewStrategyError(types.CodeInvalidStrategy, "strategy must not be nil")
	}
	name := st.Name()
	if strings.TrimSpace(name) == "" || name != strings.TrimSpace(name) {
		return types.NewStrategyError(types.CodeInvalidStrategyName, "invalid strategy name %q", name)
	}

	s.mu.Lock()
	_, replaced := s.strategies[name]
	s.strategies[name] = st
	s.mu.Unlock()

	s.logger.Info("strategy registered", zap.String("strategy", name), zap.Bool("replaced", replaced))
	return nil
}

// UnregisterStrategy removes the named strategy.
func (s *Service) UnregisterStrategy(name string) error {
	s.mu.Lock()
	_, ok := s.strategies[name]
	delete(s.strategies, name)
	s.mu.Unlock()

	if !ok {
		return types.NewStrategyError(types.CodeUnknownStrategy, "unknown strategy %q", name)
	}
	s.logger.Info("strategy unregistered", zap.String("strategy", name))
	return nil
}

// Strategies returns the registered names in sorted order.
func (s *Service) Strategies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.strategies))
	for name := range s.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStrategyConfiguration returns the named strategy's default options.
func (s *Service) GetStrategyConfiguration(name string) (Options, error) {
	st, err := s.lookup(name)
	if err != nil {
		return Options{}, err
	}
	return st.DefaultOptions(), nil
}

// ValidateConfiguration checks opts against the named strategy.
func (s *Service) ValidateConfiguration(name string, opts Options) error {
	st, err := s.lookup(name)
	if err != nil {
		return err
	}
	if err := st.ValidateOptions(opts); err != nil {
		return asConfigurationError(err)
	}
	return nil
}

func (s *Service) lookup(name string) (Strategy, error) {
	s.mu.RLock()
	st, ok := s.strategies[name]
	s.mu.RUnlock()
	if !ok {
		return nil, types.NewStrategyError(types.CodeUnknownStrategy, "unknown strategy %q", name)
	}
	return st, nil
}

// asConfigurationError keeps coded errors from strategies and tags anything
// else as INVALID_CONFIGURATION.
func asConfigurationError(err error) error {
	if types.StrategyErrorCodeOf(err) != "" {
		return err
	}
	return types.NewStrategyError(types.CodeInvalidConfiguration, "%v", err)
}
