// Package faq defines the closed set of answer-pack keys: the units of
// property knowledge a reply can draw on. Auto-send statistics are
// tracked per (property, key), so drafts must report exactly which
// keys they used.
package faq

import "github.com/stayops/concierge/internal/intent"

// Key tags one category of property knowledge.
type Key string

const (
	CheckinInfo    Key = "checkin_info"
	CheckoutInfo   Key = "checkout_info"
	EarlyCheckin   Key = "early_checkin"
	LateCheckout   Key = "late_checkout"
	LuggageStorage Key = "luggage_storage"

	LocationInfo Key = "location_info"

	WifiInfo      Key = "wifi_info"
	ParkingInfo   Key = "parking_info"
	RoomInfo      Key = "room_info"
	AmenitiesInfo Key = "amenities_info"

	BBQInfo Key = "bbq_info"

	PetPolicy    Key = "pet_policy"
	HouseRules   Key = "house_rules"
	ExtraBedding Key = "extra_bedding"

	GeneralInfo Key = "general_info"
)

// Descriptions document each key for prompt construction and the
// operator UI.
var Descriptions = map[Key]string{
	CheckinInfo:    "check-in time, method, access guide",
	CheckoutInfo:   "checkout time",
	EarlyCheckin:   "early check-in availability and fees",
	LateCheckout:   "late checkout availability and fees",
	LuggageStorage: "luggage storage availability",
	LocationInfo:   "address summary, directions, surroundings",
	WifiInfo:       "wifi network and password",
	ParkingInfo:    "parking availability and instructions",
	RoomInfo:       "room layout and capacity",
	AmenitiesInfo:  "towels, appliances, facilities",
	BBQInfo:        "barbecue availability and rules",
	PetPolicy:      "pet policy and fees",
	HouseRules:     "smoking, noise, house rules",
	ExtraBedding:   "extra bedding availability and price",
	GeneralInfo:    "general property overview",
}

// ForIntent maps a classified intent (plus optional fine intent) to
// the FAQ keys a draft for it draws on. This mirrors the context
// builder's profile projection: the keys name exactly the knowledge
// the reply used, which is what the auto-send gate keeps score on.
func ForIntent(primary intent.Intent, fine intent.FineIntent) []Key {
	switch fine {
	case intent.FineEarlyCheckin:
		return []Key{EarlyCheckin, CheckinInfo}
	case intent.FineLateCheckout:
		return []Key{LateCheckout, CheckoutInfo}
	case intent.FineLuggageStorage:
		return []Key{LuggageStorage}
	case intent.FineParking:
		return []Key{ParkingInfo}
	case intent.FineWifi:
		return []Key{WifiInfo}
	case intent.FineBedding:
		return []Key{ExtraBedding, RoomInfo}
	case intent.FineBBQ:
		return []Key{BBQInfo}
	case intent.FinePetFee:
		return []Key{PetPolicy}
	}

	switch primary {
	case intent.CheckinQuestion:
		return []Key{CheckinInfo}
	case intent.CheckoutQuestion:
		return []Key{CheckoutInfo}
	case intent.LocationQuestion:
		return []Key{LocationInfo}
	case intent.AmenityQuestion:
		return []Key{AmenitiesInfo}
	case intent.PetPolicyQuestion:
		return []Key{PetPolicy}
	case intent.HouseRuleQuestion:
		return []Key{HouseRules}
	default:
		return []Key{GeneralInfo}
	}
}

// Strings converts keys for storage and transport.
func Strings(keys []Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
