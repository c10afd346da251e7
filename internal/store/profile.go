package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// PropertyProfile is the knowledge card for one property.
type PropertyProfile struct {
	PropertyCode   string
	Name           string
	Locale         string
	CheckinFrom    string
	CheckinTo      string
	CheckoutUntil  string
	ParkingInfo    string
	PetPolicy      string
	SmokingPolicy  string
	NoisePolicy    string
	Amenities      map[string]string
	AddressSummary string
	LocationGuide  string
	AccessGuide    string
	HouseRules     string
	SpaceOverview  string
	ExtraMetadata  map[string]string
	Active         bool
}

// GetProfile loads a property's knowledge card, or ErrNotFound.
func (s *Store) GetProfile(propertyCode string) (*PropertyProfile, error) {
	row := s.db.QueryRow(`
		SELECT property_code, name, locale, checkin_from, checkin_to, checkout_until,
			parking_info, pet_policy, smoking_policy, noise_policy, amenities,
			address_summary, location_guide, access_guide, house_rules,
			space_overview, extra_metadata, active
		FROM property_profiles
		WHERE property_code = ?`, propertyCode)

	var p PropertyProfile
	var amenitiesJSON, metadataJSON string
	err := row.Scan(
		&p.PropertyCode, &p.Name, &p.Locale, &p.CheckinFrom, &p.CheckinTo, &p.CheckoutUntil,
		&p.ParkingInfo, &p.PetPolicy, &p.SmokingPolicy, &p.NoisePolicy, &amenitiesJSON,
		&p.AddressSummary, &p.LocationGuide, &p.AccessGuide, &p.HouseRules,
		&p.SpaceOverview, &metadataJSON, &p.Active,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", propertyCode, err)
	}

	if err := json.Unmarshal([]byte(amenitiesJSON), &p.Amenities); err != nil {
		return nil, fmt.Errorf("decode amenities for %s: %w", propertyCode, err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &p.ExtraMetadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", propertyCode, err)
	}
	return &p, nil
}

// UpsertProfile inserts or replaces a property's knowledge card.
func (s *Store) UpsertProfile(p *PropertyProfile) error {
	if p.PropertyCode == "" {
		return fmt.Errorf("property code is required")
	}
	if p.Locale == "" {
		p.Locale = "ko"
	}

	amenitiesJSON, err := json.Marshal(orEmptyMap(p.Amenities))
	if err != nil {
		return fmt.Errorf("encode amenities: %w", err)
	}
	metadataJSON, err := json.Marshal(orEmptyMap(p.ExtraMetadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO property_profiles (
			property_code, name, locale, checkin_from, checkin_to, checkout_until,
			parking_info, pet_policy, smoking_policy, noise_policy, amenities,
			address_summary, location_guide, access_guide, house_rules,
			space_overview, extra_metadata, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PropertyCode, p.Name, p.Locale, p.CheckinFrom, p.CheckinTo, p.CheckoutUntil,
		p.ParkingInfo, p.PetPolicy, p.SmokingPolicy, p.NoisePolicy, string(amenitiesJSON),
		p.AddressSummary, p.LocationGuide, p.AccessGuide, p.HouseRules,
		p.SpaceOverview, string(metadataJSON), p.Active,
	)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.PropertyCode, err)
	}
	return nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
