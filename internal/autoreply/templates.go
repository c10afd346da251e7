package autoreply

import (
	"errors"
	"regexp"

	"github.com/stayops/concierge/internal/replyctx"
	"github.com/stayops/concierge/internal/store"
)

// placeholderPattern matches {{field}} slots in reply templates.
var placeholderPattern = regexp.MustCompile(`\{\{([a-z_]+)\}\}`)

// genericFallbacks are the last-resort reply bodies per locale, used
// when no template exists or a template cannot be filled.
var genericFallbacks = map[string]string{
	"ko": "안녕하세요! 문의 주셔서 감사합니다. 확인 후 빠르게 답변드리겠습니다. 잠시만 기다려주세요. 감사합니다.",
	"en": "Hello! Thank you for your message. We are checking and will get back to you shortly. Thank you for your patience!",
}

// genericFallback returns the fallback body for a locale, defaulting
// to Korean (the reference deployment's operator locale).
func genericFallback(locale string) string {
	if body, ok := genericFallbacks[locale]; ok {
		return body
	}
	return genericFallbacks["ko"]
}

// renderTemplate looks up the (intent, locale) template and fills its
// placeholders from the context bundle. Returns store.ErrNotFound when
// no template exists; a template whose placeholders cannot all be
// filled is rejected the same way, because sending a reply with holes
// is worse than the generic fallback.
func renderTemplate(st *store.Store, intentName string, bundle *replyctx.Bundle) (string, error) {
	body, err := st.GetReplyTemplate(intentName, bundle.Locale)
	if err != nil {
		return "", err
	}

	var fields map[string]string
	if bundle.Property != nil {
		fields = bundle.Property.Fields
	}

	missing := false
	filled := placeholderPattern.ReplaceAllStringFunc(body, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := fields[name]; ok && v != "" {
			return v
		}
		missing = true
		return m
	})
	if missing {
		return "", errors.Join(store.ErrNotFound, errors.New("template placeholders unfilled"))
	}
	return filled, nil
}
