// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package i18n holds the message catalog of the ghostshift command line.
// Locales are embedded YAML files loaded into a go-i18n bundle.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

var (
	mu        sync.RWMutex
	bundle    *i18n.Bundle
	localizer *i18n.Localizer
	current   string
)

// Init loads every embedded locale and selects lang. Unknown languages fall
// back to English.
func Init(lang string) {
	b := i18n.NewBundle(language.English)
	b.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	files, _ := fs.ReadDir(localeFS, "locales")
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile(path.Join("locales", f.Name()))
		if err != nil {
			continue
		}
		_, _ = b.ParseMessageFileBytes(data, f.Name())
	}

	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	matcher := language.NewMatcher(b.LanguageTags())
	_, idx, conf := matcher.Match(tag)
	selected := b.LanguageTags()[idx]
	if conf == language.No {
		selected = language.English
	}

	mu.Lock()
	bundle = b
	localizer = i18n.NewLocalizer(b, selected.String())
	current = selected.String()
	mu.Unlock()
}

// SetLang switches the active language.
func SetLang(lang string) { Init(lang) }

// GetLang returns the active language tag.
func GetLang() string {
	ensure()
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// GetAvailableLocales maps each embedded language tag to its display name.
func GetAvailableLocales() map[string]string {
	ensure()
	mu.RLock()
	b := bundle
	mu.RUnlock()

	out := make(map[string]string)
	for _, tag := range b.LanguageTags() {
		l := i18n.NewLocalizer(b, tag.String())
		name, err := l.Localize(&i18n.LocalizeConfig{MessageID: "language.name"})
		if err != nil {
			name = tag.String()
		}
		out[tag.String()] = name
	}
	return out
}

// Languages returns the sorted language tags of the catalog.
func Languages() []string {
	locales := GetAvailableLocales()
	out := make([]string, 0, len(locales))
	for tag := range locales {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// T translates messageID. A single map argument is passed as template data;
// other arguments are applied fmt-style to the translated text. Unknown ids
// are returned unchanged.
func T(messageID string, args ...any) string {
	ensure()
	mu.RLock()
	l := localizer
	mu.RUnlock()

	cfg := &i18n.LocalizeConfig{MessageID: messageID}
	if len(args) == 1 {
		if data, ok := args[0].(map[string]any); ok {
			cfg.TemplateData = data
			args = nil
		}
	}
	msg, err := l.Localize(cfg)
	if err != nil {
		msg = messageID
	}
	if len(args) > 0 && strings.Contains(msg, "%") {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

func ensure() {
	mu.RLock()
	ready := localizer != nil
	mu.RUnlock()
	if !ready {
		Init("en")
	}
}
