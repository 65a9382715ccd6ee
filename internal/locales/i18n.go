// Package locales holds the bot's user-facing texts.
package locales

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed *.json
var localeFS embed.FS

// Bundle loaded translations plus the default language
type Bundle struct {
	bundle      *i18n.Bundle
	defaultLang language.Tag
}

// New loads every embedded message file
func New(defaultLang string) (*Bundle, error) {
	tag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("failed to parse language %q: %w", defaultLang, err)
	}

	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to read locales: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if _, err := bundle.LoadMessageFileFS(localeFS, e.Name()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", e.Name(), err)
		}
	}

	return &Bundle{bundle: bundle, defaultLang: tag}, nil
}

// Default returns a localizer for the default language
func (b *Bundle) Default() *Localizer {
	return b.For("")
}

// For returns a localizer preferring lang (a Telegram language_code), then the default
func (b *Bundle) For(lang string) *Localizer {
	prefs := []string{}
	if lang != "" {
		prefs = append(prefs, lang)
	}
	prefs = append(prefs, b.defaultLang.String())
	return &Localizer{loc: i18n.NewLocalizer(b.bundle, prefs...)}
}

// Localizer renders messages in one language
type Localizer struct {
	loc *i18n.Localizer
}

// T renders message id with optional template data; the id is returned when it is missing
func (l *Localizer) T(id string, data ...map[string]any) string {
	cfg := &i18n.LocalizeConfig{MessageID: id}
	if len(data) > 0 {
		cfg.TemplateData = data[0]
	}
	msg, err := l.loc.Localize(cfg)
	if err != nil {
		return id
	}
	return msg
}
