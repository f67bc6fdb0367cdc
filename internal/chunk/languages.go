package chunk

import (
	"path"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes a grammar-backed language.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// UnitTypes are top-level node types that start a semantic unit.
	UnitTypes []string

	// CommentTypes are node types attached to the unit that follows them.
	CommentTypes []string
}

// LanguageRegistry maps extensions to grammars.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry creates a registry with the built-in grammars.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.registerLanguage(&LanguageConfig{
		Name:         "go",
		Extensions:   []string{".go"},
		UnitTypes:    []string{"function_declaration", "method_declaration", "type_declaration"},
		CommentTypes: []string{"comment"},
	}, golang.GetLanguage())

	jsUnits := []string{
		"function_declaration",
		"generator_function_declaration",
		"class_declaration",
		"export_statement",
		"lexical_declaration",
	}
	r.registerLanguage(&LanguageConfig{
		Name:         "javascript",
		Extensions:   []string{".js", ".jsx", ".mjs", ".cjs"},
		UnitTypes:    jsUnits,
		CommentTypes: []string{"comment"},
	}, javascript.GetLanguage())

	tsUnits := append([]string{
		"interface_declaration",
		"type_alias_declaration",
		"enum_declaration",
		"abstract_class_declaration",
		"module",
		"internal_module",
	}, jsUnits...)
	r.registerLanguage(&LanguageConfig{
		Name:         "typescript",
		Extensions:   []string{".ts", ".mts", ".cts"},
		UnitTypes:    tsUnits,
		CommentTypes: []string{"comment"},
	}, typescript.GetLanguage())
	r.registerLanguage(&LanguageConfig{
		Name:         "tsx",
		Extensions:   []string{".tsx"},
		UnitTypes:    tsUnits,
		CommentTypes: []string{"comment"},
	}, tsx.GetLanguage())

	r.registerLanguage(&LanguageConfig{
		Name:         "python",
		Extensions:   []string{".py", ".pyi"},
		UnitTypes:    []string{"function_definition", "class_definition", "decorated_definition"},
		CommentTypes: []string{"comment"},
	}, python.GetLanguage())

	r.registerLanguage(&LanguageConfig{
		Name:       "rust",
		Extensions: []string{".rs"},
		UnitTypes: []string{
			"function_item",
			"struct_item",
			"enum_item",
			"union_item",
			"trait_item",
			"impl_item",
			"mod_item",
			"type_item",
			"macro_definition",
		},
		CommentTypes: []string{"line_comment", "block_comment", "attribute_item"},
	}, rust.GetLanguage())

	return r
}

func (r *LanguageRegistry) registerLanguage(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang
	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

// GetByExtension returns the configuration for a file extension.
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	cfg, ok := r.configs[name]
	return cfg, ok
}

// GetTreeSitterLanguage returns the grammar for a language name.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.tsLanguages[name]
	return lang, ok
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}

// extraLanguages tags common extensions without a grammar.
var extraLanguages = map[string]string{
	".c": "c", ".h": "c", ".cc": "cpp", ".cpp": "cpp", ".hpp": "cpp",
	".java": "java", ".kt": "kotlin", ".swift": "swift", ".rb": "ruby",
	".php": "php", ".cs": "csharp", ".scala": "scala", ".lua": "lua",
	".sh": "shell", ".bash": "shell", ".zsh": "shell",
	".sql": "sql", ".html": "html", ".css": "css", ".scss": "scss",
	".json": "json", ".yaml": "yaml", ".yml": "yaml", ".toml": "toml",
	".xml": "xml", ".proto": "protobuf",
	".md": "markdown", ".mdx": "markdown", ".rst": "rst", ".txt": "text",
}

// LanguageFor returns the language tag for a path, or "text".
func LanguageFor(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if cfg, ok := defaultRegistry.GetByExtension(ext); ok {
		return cfg.Name
	}
	if lang, ok := extraLanguages[ext]; ok {
		return lang
	}
	switch strings.ToLower(path.Base(p)) {
	case "makefile":
		return "make"
	case "dockerfile":
		return "dockerfile"
	}
	return "text"
}
