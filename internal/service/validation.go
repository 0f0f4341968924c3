package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"storefront-checkout/internal/dto"
	"storefront-checkout/internal/model"
)

const maxNotesLength = 500

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[6-9]\d{9}$`)
	zipPattern   = regexp.MustCompile(`^\d{6}$`)
	nonDigits    = regexp.MustCompile(`\D`)
)

// NormalizePhone strips formatting and a leading 91 country code.
func NormalizePhone(phone string) string {
	digits := nonDigits.ReplaceAllString(phone, "")
	if len(digits) > 10 && strings.HasPrefix(digits, "91") {
		digits = digits[2:]
	}
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

// ValidateAddress returns every problem with addr, not just the first.
func ValidateAddress(addr dto.ShippingAddress) []string {
	var errs []string

	required := []struct {
		field string
		value string
	}{
		{"firstName", addr.FirstName},
		{"lastName", addr.LastName},
		{"email", addr.Email},
		{"phone", addr.Phone},
		{"address", addr.Street},
		{"city", addr.City},
		{"state", addr.State},
		{"zipCode", addr.ZipCode},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Sprintf("shippingAddress.%s is required", r.field))
		}
	}

	if email := strings.TrimSpace(addr.Email); email != "" && !emailPattern.MatchString(email) {
		errs = append(errs, "shippingAddress.email is invalid")
	}
	if strings.TrimSpace(addr.Phone) != "" && !phonePattern.MatchString(NormalizePhone(addr.Phone)) {
		errs = append(errs, "shippingAddress.phone must be a valid 10-digit mobile number")
	}
	if zip := strings.TrimSpace(addr.ZipCode); zip != "" && !zipPattern.MatchString(zip) {
		errs = append(errs, "shippingAddress.zipCode must be 6 digits")
	}

	return errs
}

func validateItems(items []*dto.Item) []string {
	if len(items) == 0 {
		return []string{"items must not be empty"}
	}

	var errs []string
	for i, item := range items {
		if item == nil {
			errs = append(errs, fmt.Sprintf("items[%d] is required", i))
			continue
		}
		if strings.TrimSpace(item.Name) == "" {
			errs = append(errs, fmt.Sprintf("items[%d].name is required", i))
		}
		if item.Price.IsNegative() {
			errs = append(errs, fmt.Sprintf("items[%d].price must be >= 0", i))
		}
		if item.Quantity < 1 {
			errs = append(errs, fmt.Sprintf("items[%d].quantity must be >= 1", i))
		}
	}
	return errs
}

func validateOrderRequest(req *dto.CreateOrderRequest) []string {
	errs := validateItems(req.Items)
	errs = append(errs, ValidateAddress(req.ShippingAddress)...)

	switch model.ShippingMethod(req.ShippingMethod) {
	case "", model.ShippingStandard, model.ShippingExpress:
	default:
		errs = append(errs, "shippingMethod must be standard or express")
	}

	if utf8.RuneCountInString(req.Notes) > maxNotesLength {
		errs = append(errs, fmt.Sprintf("notes must be at most %d characters", maxNotesLength))
	}
	return errs
}

func normalizeAddress(addr dto.ShippingAddress) model.ShippingAddress {
	return model.ShippingAddress{
		FirstName: strings.TrimSpace(addr.FirstName),
		LastName:  strings.TrimSpace(addr.LastName),
		Email:     strings.ToLower(strings.TrimSpace(addr.Email)),
		Phone:     NormalizePhone(addr.Phone),
		Street:    strings.TrimSpace(addr.Street),
		City:      strings.TrimSpace(addr.City),
		State:     strings.TrimSpace(addr.State),
		ZipCode:   strings.TrimSpace(addr.ZipCode),
	}
}
