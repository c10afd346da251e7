package store

import (
	"database/sql"
	"fmt"
)

// GetReplyTemplate returns the template body for (intent, locale), or
// ErrNotFound. Templates use {{field}} placeholders filled by the
// reply service.
func (s *Store) GetReplyTemplate(intentName, locale string) (string, error) {
	var body string
	err := s.db.QueryRow(`
		SELECT body FROM reply_templates WHERE intent = ? AND locale = ?`,
		intentName, locale,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get reply template %s/%s: %w", intentName, locale, err)
	}
	return body, nil
}

// UpsertReplyTemplate inserts or replaces one template.
func (s *Store) UpsertReplyTemplate(intentName, locale, body string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO reply_templates (intent, locale, body) VALUES (?, ?, ?)`,
		intentName, locale, body,
	)
	if err != nil {
		return fmt.Errorf("upsert reply template %s/%s: %w", intentName, locale, err)
	}
	return nil
}

// defaultTemplates seed the template table on first run. The reply
// service falls back to these when the LLM stage is off or failing.
var defaultTemplates = []struct {
	intent, locale, body string
}{
	{"CHECKIN_QUESTION", "ko", "안녕하세요! 체크인은 {{checkin_from}}부터 가능합니다. 출입 방법은 체크인 당일 안내드리겠습니다. 감사합니다."},
	{"CHECKIN_QUESTION", "en", "Hello! Check-in is available from {{checkin_from}}. We will send access instructions on the day of arrival. Thank you!"},
	{"CHECKOUT_QUESTION", "ko", "안녕하세요! 체크아웃은 {{checkout_until}}까지입니다. 편안한 시간 보내세요. 감사합니다."},
	{"CHECKOUT_QUESTION", "en", "Hello! Checkout is until {{checkout_until}}. Enjoy your stay. Thank you!"},
	{"LOCATION_QUESTION", "ko", "안녕하세요! 숙소 위치는 {{address_summary}} 입니다. 자세한 오시는 길은 체크인 안내와 함께 보내드리겠습니다. 감사합니다."},
	{"LOCATION_QUESTION", "en", "Hello! The property is located at {{address_summary}}. Detailed directions come with your check-in guide. Thank you!"},
	{"PET_POLICY_QUESTION", "ko", "안녕하세요! 반려동물 관련 정책은 다음과 같습니다: {{pet_policy}}. 감사합니다."},
	{"PET_POLICY_QUESTION", "en", "Hello! Our pet policy: {{pet_policy}}. Thank you!"},
	{"HOUSE_RULE_QUESTION", "ko", "안녕하세요! 숙소 이용 수칙을 안내드립니다: {{house_rules}}. 감사합니다."},
	{"HOUSE_RULE_QUESTION", "en", "Hello! Our house rules: {{house_rules}}. Thank you!"},
	{"AMENITY_QUESTION", "ko", "안녕하세요! 문의주신 편의시설 관련 정보입니다: {{amenities}}. 감사합니다."},
	{"AMENITY_QUESTION", "en", "Hello! About our amenities: {{amenities}}. Thank you!"},
}

// SeedDefaultTemplates inserts the default templates, keeping any the
// operator has already customized.
func (s *Store) SeedDefaultTemplates() error {
	for _, t := range defaultTemplates {
		_, err := s.db.Exec(`
			INSERT OR IGNORE INTO reply_templates (intent, locale, body) VALUES (?, ?, ?)`,
			t.intent, t.locale, t.body,
		)
		if err != nil {
			return fmt.Errorf("seed template %s/%s: %w", t.intent, t.locale, err)
		}
	}
	return nil
}
