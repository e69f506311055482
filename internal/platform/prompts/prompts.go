package prompts

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/utils"
)

const promptCatalogEnv = "PROMPTS_YAML"

//go:embed prompts.yaml
var promptCatalogFS embed.FS

const (
	GroupRAG = "rag"

	KeySystemPrompt    = "system_prompt"
	KeyDocumentPrompt  = "document_prompt"
	KeyFooterPrompt    = "footer_prompt"
	KeyNoContextPrompt = "no_context_prompt"
)

type localeGroups map[string]map[string]string

type promptCatalog struct {
	Catalog string                  `yaml:"catalog"`
	Version int                     `yaml:"version"`
	Locales map[string]localeGroups `yaml:"locales"`
}

// Parser resolves prompt templates from the embedded catalog. Lookups prefer
// the configured primary language and fall back to the default language when
// a group is missing, so partial translations stay usable.
type Parser struct {
	language    string
	defaultLang string
	locales     map[string]localeGroups
}

func NewParser(log *logger.Logger) (*Parser, error) {
	language := strings.ToLower(utils.GetEnv("PRIMARY_LANG", "en", log))
	defaultLang := strings.ToLower(utils.GetEnv("DEFAULT_LANG", "en", log))

	data, err := readPromptCatalog()
	if err != nil {
		return nil, fmt.Errorf("prompts: read catalog: %w", err)
	}

	var cat promptCatalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("prompts: parse catalog: %w", err)
	}
	if err := validateCatalog(&cat, defaultLang); err != nil {
		return nil, fmt.Errorf("prompts: %w", err)
	}

	if _, ok := cat.Locales[language]; !ok && language != defaultLang {
		log.Warn("prompt catalog has no primary language; falling back", "language", language, "default_language", defaultLang)
	}

	return &Parser{
		language:    language,
		defaultLang: defaultLang,
		locales:     cat.Locales,
	}, nil
}

// Get renders the template at group/key, substituting $name variables from
// vars. Unknown variables are left in place so a bad template is visible in
// the output rather than silently blanked.
func (p *Parser) Get(group, key string, vars map[string]string) (string, error) {
	if strings.TrimSpace(group) == "" || strings.TrimSpace(key) == "" {
		return "", errors.New("prompts: group and key are required")
	}
	groups, ok := p.lookupGroup(group)
	if !ok {
		return "", fmt.Errorf("prompts: group %q not found in %q or %q", group, p.language, p.defaultLang)
	}
	tpl, ok := groups[key]
	if !ok {
		return "", fmt.Errorf("prompts: template %s.%s not found", group, key)
	}
	return substitute(tpl, vars), nil
}

// BuildAnswerPrompt renders the system prompt and the user prompt for one
// answer call. Document texts are numbered in ranked order; when no documents
// were retrieved the context block is replaced by the no-context marker so
// the model still answers best-effort instead of the call dead-ending.
func (p *Parser) BuildAnswerPrompt(question string, documents []string) (systemPrompt, fullPrompt string, err error) {
	systemPrompt, err = p.Get(GroupRAG, KeySystemPrompt, nil)
	if err != nil {
		return "", "", err
	}

	var contextBlock string
	if len(documents) == 0 {
		contextBlock, err = p.Get(GroupRAG, KeyNoContextPrompt, nil)
		if err != nil {
			return "", "", err
		}
	} else {
		parts := make([]string, 0, len(documents))
		for i, text := range documents {
			part, perr := p.Get(GroupRAG, KeyDocumentPrompt, map[string]string{
				"doc_num":    strconv.Itoa(i + 1),
				"chunk_text": text,
			})
			if perr != nil {
				return "", "", perr
			}
			parts = append(parts, part)
		}
		contextBlock = strings.Join(parts, "\n")
	}

	footer, err := p.Get(GroupRAG, KeyFooterPrompt, map[string]string{"query": question})
	if err != nil {
		return "", "", err
	}

	fullPrompt = strings.Join([]string{contextBlock, footer}, "\n\n")
	return systemPrompt, fullPrompt, nil
}

func (p *Parser) lookupGroup(group string) (map[string]string, bool) {
	if groups, ok := p.locales[p.language]; ok {
		if g, ok := groups[group]; ok {
			return g, true
		}
	}
	if p.defaultLang == p.language {
		return nil, false
	}
	if groups, ok := p.locales[p.defaultLang]; ok {
		if g, ok := groups[group]; ok {
			return g, true
		}
	}
	return nil, false
}

func substitute(tpl string, vars map[string]string) string {
	return os.Expand(tpl, func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return "$" + name
	})
}

func readPromptCatalog() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(promptCatalogEnv)); path != "" {
		return os.ReadFile(path)
	}
	return promptCatalogFS.ReadFile("prompts.yaml")
}

func validateCatalog(cat *promptCatalog, defaultLang string) error {
	if cat == nil {
		return errors.New("missing catalog")
	}
	if strings.TrimSpace(cat.Catalog) != "prompts" {
		return fmt.Errorf("unexpected catalog: %s", cat.Catalog)
	}
	if len(cat.Locales) == 0 {
		return errors.New("no locales defined")
	}
	groups, ok := cat.Locales[defaultLang]
	if !ok {
		return fmt.Errorf("default language %q not in catalog", defaultLang)
	}
	for name, group := range groups {
		if len(group) == 0 {
			return fmt.Errorf("group %q is empty", name)
		}
		for key, tpl := range group {
			if strings.TrimSpace(tpl) == "" {
				return fmt.Errorf("template %s.%s is empty", name, key)
			}
		}
	}
	return nil
}
