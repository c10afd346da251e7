// Package replyctx assembles the knowledge bundle a reply draft is
// grounded on: the per-intent projection of the property profile plus
// the message's guest segment and metadata.
package replyctx

import (
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/stayops/concierge/internal/intent"
	"github.com/stayops/concierge/internal/store"
)

// PropertyContext is the profile slice relevant to one intent.
// Nil-valued fields were projected away; consumers render only what
// is present.
type PropertyContext struct {
	PropertyCode string            `json:"property_code"`
	Name         string            `json:"name"`
	Locale       string            `json:"locale"`
	Fields       map[string]string `json:"fields"`
}

// MessageContext carries the guest message and its mail metadata.
type MessageContext struct {
	ID           int64  `json:"id"`
	ExternalID   string `json:"external_id"`
	ThreadID     string `json:"thread_id"`
	Subject      string `json:"subject"`
	From         string `json:"from"`
	GuestSegment string `json:"guest_segment"`
	GuestName    string `json:"guest_name,omitempty"`
	CheckinDate  string `json:"checkin_date,omitempty"`
	CheckoutDate string `json:"checkout_date,omitempty"`
}

// Bundle is the complete reply context.
type Bundle struct {
	Property *PropertyContext `json:"property,omitempty"`
	Message  MessageContext   `json:"message"`
	Intent   string           `json:"intent"`
	Locale   string           `json:"locale"`
}

// Builder looks up profiles and projects them per intent.
type Builder struct {
	store  *store.Store
	logger *slog.Logger
}

// NewBuilder creates a builder.
func NewBuilder(st *store.Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: st, logger: logger}
}

// projectionFields lists which profile fields each intent needs. An
// intent not listed gets the broad projection.
var projectionFields = map[intent.Intent][]string{
	intent.CheckinQuestion: {
		"checkin_from", "checkin_to", "checkout_until",
		"access_guide", "location_guide", "house_rules",
	},
	intent.CheckoutQuestion: {
		"checkout_until", "checkin_from", "house_rules",
	},
	intent.PetPolicyQuestion: {
		"pet_policy", "house_rules",
	},
	intent.LocationQuestion: {
		"address_summary", "location_guide", "amenities",
	},
	intent.AmenityQuestion: {
		"amenities", "space_overview",
	},
	intent.HouseRuleQuestion: {
		"house_rules", "smoking_policy", "noise_policy",
	},
}

// broadProjection serves GENERAL_QUESTION and unknown intents.
var broadProjection = []string{
	"space_overview", "amenities", "parking_info", "pet_policy",
	"location_guide", "house_rules", "noise_policy",
}

// Build assembles the bundle for a message. A missing profile yields a
// bundle without property context; drafting still proceeds on the
// message alone.
func (b *Builder) Build(msg *store.IngestedMessage, primary intent.Intent, propertyCode string) (*Bundle, error) {
	bundle := &Bundle{
		Message: MessageContext{
			ID:           msg.ID,
			ExternalID:   msg.ExternalID,
			ThreadID:     msg.ThreadID,
			Subject:      msg.Subject,
			From:         msg.From,
			GuestSegment: msg.GuestSegment,
			GuestName:    msg.GuestName,
			CheckinDate:  msg.CheckinDate,
			CheckoutDate: msg.CheckoutDate,
		},
		Intent: string(primary),
		Locale: "ko",
	}

	if propertyCode == "" {
		return bundle, nil
	}

	profile, err := b.store.GetProfile(propertyCode)
	if errors.Is(err, store.ErrNotFound) {
		b.logger.Debug("no profile for property", "property_code", propertyCode)
		return bundle, nil
	}
	if err != nil {
		return nil, err
	}

	bundle.Locale = profile.Locale
	bundle.Property = project(profile, primary)
	return bundle, nil
}

// project selects the profile fields the intent needs.
func project(p *store.PropertyProfile, primary intent.Intent) *PropertyContext {
	fields, ok := projectionFields[primary]
	if !ok {
		fields = broadProjection
	}

	all := map[string]string{
		"checkin_from":    p.CheckinFrom,
		"checkin_to":      p.CheckinTo,
		"checkout_until":  p.CheckoutUntil,
		"parking_info":    p.ParkingInfo,
		"pet_policy":      p.PetPolicy,
		"smoking_policy":  p.SmokingPolicy,
		"noise_policy":    p.NoisePolicy,
		"amenities":       flattenAmenities(p.Amenities),
		"address_summary": p.AddressSummary,
		"location_guide":  p.LocationGuide,
		"access_guide":    p.AccessGuide,
		"house_rules":     p.HouseRules,
		"space_overview":  p.SpaceOverview,
	}

	selected := make(map[string]string, len(fields))
	for _, f := range fields {
		if v := all[f]; v != "" {
			selected[f] = v
		}
	}

	return &PropertyContext{
		PropertyCode: p.PropertyCode,
		Name:         p.Name,
		Locale:       p.Locale,
		Fields:       selected,
	}
}

// flattenAmenities renders the structured amenities map as a stable
// "key: value; …" line for prompts and templates.
func flattenAmenities(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+m[k])
	}
	return strings.Join(parts, "; ")
}
