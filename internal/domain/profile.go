package domain

import (
	"strconv"
	"strings"
)

// TalentProfile is the applicant snapshot stored on a booking. It is the
// system of record for exports, so every field is always present and
// unknown values are null.
type TalentProfile struct {
	FirstName   *string   `json:"firstName"`
	LastName    *string   `json:"lastName"`
	Email       *string   `json:"email"`
	Phone       *string   `json:"phone"`
	HeadshotURL *string   `json:"headshotUrl"`
	Physical    *Physical `json:"physical"`
}

// Physical consolidates the tracked physical attributes.
type Physical struct {
	Height     *string `json:"height"`
	Weight     *string `json:"weight"`
	Build      *string `json:"build"`
	HairColor  *string `json:"hairColor"`
	HairLength *string `json:"hairLength"`
	EyeColor   *string `json:"eyeColor"`
	Ethnicity  *string `json:"ethnicity"`
	Chest      *string `json:"chest"`
	Waist      *string `json:"waist"`
	Hips       *string `json:"hips"`
	Inseam     *string `json:"inseam"`
	ShirtSize  *string `json:"shirtSize"`
	PantsSize  *string `json:"pantsSize"`
	DressSize  *string `json:"dressSize"`
	ShoeSize   *string `json:"shoeSize"`
}

// PhysicalAttributes lists the tracked keys in output order.
var PhysicalAttributes = []string{
	"height", "weight", "build", "hairColor", "hairLength", "eyeColor", "ethnicity",
	"chest", "waist", "hips", "inseam", "shirtSize", "pantsSize", "dressSize", "shoeSize",
}

// physical sub-objects searched, newest layout first; top-level keys are the
// oldest layout and are consulted last.
var physicalSections = []string{"physical", "appearance", "measurements"}

var physicalAliases = map[string][]string{
	"hairColor": {"hair_color", "hair"},
	"eyeColor":  {"eye_color", "eyes"},
	"shoeSize":  {"shoe_size", "shoe"},
	"shirtSize": {"shirt_size", "shirt"},
	"pantsSize": {"pants_size", "pants"},
	"dressSize": {"dress_size", "dress"},
}

func (p *Physical) field(name string) **string {
	switch name {
	case "height":
		return &p.Height
	case "weight":
		return &p.Weight
	case "build":
		return &p.Build
	case "hairColor":
		return &p.HairColor
	case "hairLength":
		return &p.HairLength
	case "eyeColor":
		return &p.EyeColor
	case "ethnicity":
		return &p.Ethnicity
	case "chest":
		return &p.Chest
	case "waist":
		return &p.Waist
	case "hips":
		return &p.Hips
	case "inseam":
		return &p.Inseam
	case "shirtSize":
		return &p.ShirtSize
	case "pantsSize":
		return &p.PantsSize
	case "dressSize":
		return &p.DressSize
	case "shoeSize":
		return &p.ShoeSize
	}
	return nil
}

// Get returns the attribute value, or nil when unknown.
func (p Physical) Get(name string) *string {
	if f := p.field(name); f != nil {
		return *f
	}
	return nil
}

// BuildTalentProfile sanitizes an applicant profile snapshot into the shape
// stored on bookings.
func BuildTalentProfile(profile map[string]any) TalentProfile {
	contact, _ := profile["contact"].(map[string]any)
	pick := func(keys ...string) *string {
		for _, k := range keys {
			if v := scalar(profile[k]); v != nil {
				return v
			}
			if v := scalar(contact[k]); v != nil {
				return v
			}
		}
		return nil
	}
	tp := TalentProfile{
		FirstName:   pick("firstName", "first_name"),
		LastName:    pick("lastName", "last_name"),
		Email:       pick("email"),
		Phone:       pick("phone", "phoneNumber"),
		HeadshotURL: pick("headshotUrl", "headshotURL", "photoUrl"),
	}
	phys := ConsolidatePhysical(profile)
	tp.Physical = &phys
	return tp
}

// ConsolidatePhysical merges physical attributes from every known layout.
func ConsolidatePhysical(profile map[string]any) Physical {
	var p Physical
	for _, attr := range PhysicalAttributes {
		keys := append([]string{attr}, physicalAliases[attr]...)
		var found *string
		for _, section := range physicalSections {
			sub, _ := profile[section].(map[string]any)
			if found = firstScalar(sub, keys); found != nil {
				break
			}
		}
		if found == nil {
			found = firstScalar(profile, keys)
		}
		*p.field(attr) = found
	}
	return p
}

// Normalize fills a missing physical block so the snapshot always carries it.
func (t *TalentProfile) Normalize() {
	if t.Physical == nil {
		t.Physical = &Physical{}
	}
}

func firstScalar(m map[string]any, keys []string) *string {
	if m == nil {
		return nil
	}
	for _, k := range keys {
		if v := scalar(m[k]); v != nil {
			return v
		}
	}
	return nil
}

func scalar(v any) *string {
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
		if s == "" {
			return nil
		}
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return nil
	}
	return &s
}
