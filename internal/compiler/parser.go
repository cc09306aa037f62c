package compiler

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language selects the tree-sitter grammar for a file.
type Language int

const (
	LangTypeScript Language = iota
	LangTSX
	LangJavaScript
)

func (l Language) String() string {
	switch l {
	case LangTSX:
		return "tsx"
	case LangJavaScript:
		return "javascript"
	default:
		return "typescript"
	}
}

// LanguageFor picks the grammar from the file extension.
func LanguageFor(p string) Language {
	switch strings.ToLower(path.Ext(p)) {
	case ".tsx":
		return LangTSX
	case ".js", ".jsx", ".mjs", ".cjs":
		return LangJavaScript
	default:
		return LangTypeScript
	}
}

// IsSourcePath reports whether p is a TypeScript source that belongs in a
// program (declaration files excluded).
func IsSourcePath(p string) bool {
	if strings.HasSuffix(p, ".d.ts") {
		return false
	}
	return strings.HasSuffix(p, ".ts") || strings.HasSuffix(p, ".tsx")
}

// parsers holds one tree-sitter parser per grammar. Parsers are not safe
// for concurrent use, so each is guarded by its own lock.
type parsers struct {
	mu   [3]sync.Mutex
	pool [3]*sitter.Parser
}

var sharedParsers parsers

func grammar(l Language) *sitter.Language {
	switch l {
	case LangTSX:
		return tsx.GetLanguage()
	case LangJavaScript:
		return javascript.GetLanguage()
	default:
		return typescript.GetLanguage()
	}
}

func (p *parsers) parse(ctx context.Context, lang Language, content []byte) (*sitter.Tree, error) {
	p.mu[lang].Lock()
	defer p.mu[lang].Unlock()

	if p.pool[lang] == nil {
		parser := sitter.NewParser()
		parser.SetLanguage(grammar(lang))
		p.pool[lang] = parser
	}
	tree, err := p.pool[lang].ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", lang, err)
	}
	return tree, nil
}

// Parse builds a SourceFile from content.
func Parse(ctx context.Context, filePath, content string) (*SourceFile, error) {
	lang := LanguageFor(filePath)
	data := []byte(content)
	tree, err := sharedParsers.parse(ctx, lang, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return newSourceFile(filePath, data, lang, tree), nil
}
