package strategy

import (
	"strings"

	"github.com/solatis/derivekeeper/internal/document"
	"github.com/solatis/derivekeeper/internal/types"
)

// Array wraps the sources in a single array field.
type Array struct{}

func (Array) Name() string { return NameArray }

func (Array) CanHandle(sources []any) bool { return len(sources) >= 1 }

func (a Array) Aggregate(sources []any, opts Options) (any, error) {
	if len(sources) < 1 {
		return nil, types.NewStrategyError(types.CodeInvalidSourceCount,
			"array strategy requires at least 1 source, got %d", len(sources))
	}
	if err := a.ValidateOptions(opts); err != nil {
		return nil, err
	}

	result := map[string]any{
		opts.ArrayKey: document.CloneSlice(sources),
	}
	if opts.IncludeMetadata {
		result["metadata"] = map[string]any{
			"sourceCount": len(sources),
			"strategy":    NameArray,
		}
	}
	return result, nil
}

func (Array) DefaultOptions() Options { return DefaultOptions() }

func (Array) ValidateOptions(opts Options) error {
	if strings.TrimSpace(opts.ArrayKey) == "" {
		return types.NewStrategyError(types.CodeInvalidConfiguration, "arrayKey must not be empty")
	}
	if opts.IncludeMetadata && opts.ArrayKey == "metadata" {
		return types.NewStrategyError(types.CodeInvalidConfiguration,
			"arrayKey %q collides with the metadata block", opts.ArrayKey)
	}
	return nil
}
