package chunk

import (
	"context"
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser wraps tree-sitter to find top-level semantic units.
// A Parser is not safe for concurrent use.
type Parser struct {
	parser   *sitter.Parser
	registry *LanguageRegistry
}

// NewParser creates a parser backed by the default registry.
func NewParser() *Parser {
	return NewParserWithRegistry(DefaultRegistry())
}

// NewParserWithRegistry creates a parser with a custom registry.
func NewParserWithRegistry(registry *LanguageRegistry) *Parser {
	return &Parser{
		parser:   sitter.NewParser(),
		registry: registry,
	}
}

// Units returns the start lines (1-based, ascending, unique) of the
// top-level units of source. Leading comments are folded into the unit
// they precede.
func (p *Parser) Units(ctx context.Context, source []byte, cfg *LanguageConfig) ([]int, error) {
	tsLang, ok := p.registry.GetTreeSitterLanguage(cfg.Name)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", cfg.Name)
	}
	p.parser.SetLanguage(tsLang)

	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}
	if tree == nil {
		return nil, fmt.Errorf("failed to parse source: nil tree")
	}
	defer tree.Close()

	units := setOf(cfg.UnitTypes)
	comments := setOf(cfg.CommentTypes)

	root := tree.RootNode()
	seen := make(map[int]bool)
	var starts []int
	pending := -1

	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child == nil {
			continue
		}
		typ := child.Type()
		row := int(child.StartPoint().Row)

		switch {
		case comments[typ]:
			if pending < 0 {
				pending = row
			}
		case units[typ]:
			start := row
			if pending >= 0 {
				start = pending
			}
			pending = -1
			if !seen[start+1] {
				seen[start+1] = true
				starts = append(starts, start+1)
			}
		default:
			pending = -1
		}
	}

	sort.Ints(starts)
	return starts, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

func setOf(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}
