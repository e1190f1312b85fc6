package service

import (
	"strings"

	"catalog-harvester/internal/harvest/domain/model"
)

var supportedLanguages = map[string]model.Language{
	"EN": model.LanguageEN,
	"FR": model.LanguageFR,
	"ES": model.LanguageES,
	"DE": model.LanguageDE,
	"IT": model.LanguageIT,
}

// MapLanguage normalizes a source language code, falling back to EN.
func MapLanguage(lang string) model.Language {
	if l, ok := supportedLanguages[strings.ToUpper(strings.TrimSpace(lang))]; ok {
		return l
	}
	return model.DefaultLanguage
}
