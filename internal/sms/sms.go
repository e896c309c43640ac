// Package sms composes the platform deep links used as SOS side
// channels. Composition is fire-and-open: the service only hands back
// a URI, and a human confirms dispatch in their message composer.
package sms

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/itsshri/NightSafe/internal/models"
)

// MapsLink renders the shared google-maps pin for a coordinate pair.
func MapsLink(lat, lng float64) string {
	return fmt.Sprintf("https://maps.google.com/?q=%v,%v", lat, lng)
}

// ComposeSMS builds an sms: URI targeting the comma-separated numbers
// with a url-encoded body. Multi-recipient behavior varies across
// devices but works on most phones.
func ComposeSMS(numbers []string, body string) string {
	return fmt.Sprintf("sms:%s?body=%s", strings.Join(numbers, ","), url.QueryEscape(body))
}

// ComposeWhatsApp builds the wa.me share link for a message.
func ComposeWhatsApp(text string) string {
	return "https://wa.me/?text=" + url.QueryEscape(text)
}

// SOSBody is the emergency text sent to contacts. pos may be nil: a
// location-less SOS still goes out over SMS even though the feed
// refuses it.
func SOSBody(identity string, pos *models.Position) string {
	if pos == nil {
		return fmt.Sprintf("SOS from %s! My location is not available yet.", identity)
	}
	return fmt.Sprintf("SOS from %s!\nMy location: %s", identity, MapsLink(pos.Lat, pos.Lng))
}

// UnverifiedCabBody warns contacts that the identity boarded a cab
// missing from the registry.
func UnverifiedCabBody(identity, vehicleID string) string {
	return fmt.Sprintf("%s boarded unverified cab: %s. Check immediately.", identity, vehicleID)
}

// CabShareText is the WhatsApp share of a verified cab's details.
func CabShareText(vehicleID string, e models.RegistryEntry, pos *models.Position) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cab Details:\nCab: %s\nDriver: %s\nPhone: %s\nCompany: %s", vehicleID, e.DriverName, e.Phone, e.Company)
	if pos != nil {
		fmt.Fprintf(&b, "\nLocation: %s", MapsLink(pos.Lat, pos.Lng))
	}
	return b.String()
}
