package domain

import dErrors "kycflow/pkg/domain-errors"

// Language is the narration and display language chosen by the user.
type Language string

const (
	LanguageEnglish  Language = "en"
	LanguageHindi    Language = "hi"
	LanguageTelugu   Language = "te"
	LanguageTamil    Language = "ta"
	LanguageBengali  Language = "bn"
	LanguageGujarati Language = "gu"
)

// DefaultLanguage is used when the user never picked one.
const DefaultLanguage = LanguageEnglish

var supportedLanguages = map[Language]bool{
	LanguageEnglish:  true,
	LanguageHindi:    true,
	LanguageTelugu:   true,
	LanguageTamil:    true,
	LanguageBengali:  true,
	LanguageGujarati: true,
}

// ParseLanguage validates a language code. An empty value resolves to DefaultLanguage.
func ParseLanguage(s string) (Language, error) {
	if s == "" {
		return DefaultLanguage, nil
	}
	l := Language(s)
	if !supportedLanguages[l] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported language: "+s)
	}
	return l, nil
}

func (l Language) String() string {
	return string(l)
}

func (l Language) IsValid() bool {
	return supportedLanguages[l]
}
