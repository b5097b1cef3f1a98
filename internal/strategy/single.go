package strategy

import (
	"github.com/solatis/derivekeeper/internal/document"
	"github.com/solatis/derivekeeper/internal/types"
)

// Single returns its only source unchanged.
type Single struct{}

func (Single) Name() string { return NameSingle }

// CanHandle accepts any non-empty sources; the count is checked by Aggregate.
func (Single) CanHandle(sources []any) bool { return len(sources) > 0 }

func (Single) Aggregate(sources []any, _ Options) (any, error) {
	if len(sources) != 1 {
		return nil, types.NewStrategyError(types.CodeInvalidSourceCount,
			"single strategy requires exactly 1 source, got %d", len(sources))
	}
	return document.Clone(sources[0]), nil
}

func (Single) DefaultOptions() Options { return DefaultOptions() }

func (Single) ValidateOptions(Options) error { return nil }
