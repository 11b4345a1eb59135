package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyOverlay_MatchesCode(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		code    string
		want    bool
	}{
		{"exact", "8544.30", "8544.30", true},
		{"exact without dots", "854430", "8544.30", true},
		{"chapter prefix", "85", "8544.30", true},
		{"heading prefix", "8544", "8544.30.00", true},
		{"different heading", "8541", "8544.30", false},
		{"empty pattern", "", "8544.30", false},
		{"empty code", "8544", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := PolicyOverlay{HSCodePattern: tt.pattern}
			assert.Equal(t, tt.want, o.MatchesCode(tt.code))
		})
	}
}

func TestPolicyOverlay_MatchesCountries(t *testing.T) {
	o := PolicyOverlay{AffectedCountries: []string{"CN"}}
	assert.True(t, o.MatchesCountries([]string{"MX", "CN"}))
	assert.False(t, o.MatchesCountries([]string{"MX", "CA"}))

	// Empty affected set applies to all origins.
	all := PolicyOverlay{}
	assert.True(t, all.MatchesCountries([]string{"VN"}))
	assert.True(t, all.MatchesCountries(nil))
}

func TestPolicyOverlay_InWindow(t *testing.T) {
	eff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o := PolicyOverlay{EffectiveDate: eff, ExpiresAt: exp}

	assert.False(t, o.InWindow(eff.Add(-time.Hour)))
	assert.True(t, o.InWindow(eff))
	assert.True(t, o.InWindow(eff.AddDate(0, 6, 0)))
	// The window is half-open: expiry instant is outside.
	assert.False(t, o.InWindow(exp))
	assert.False(t, o.InWindow(exp.Add(time.Hour)))
}

func TestPolicyOverlay_InWindow_NoExpiry(t *testing.T) {
	o := PolicyOverlay{EffectiveDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.True(t, o.InWindow(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNormalizeHSCode(t *testing.T) {
	assert.Equal(t, "85443000", NormalizeHSCode(" 8544.30.00 "))
	assert.Equal(t, "", NormalizeHSCode("  "))
}

func TestHSChapter(t *testing.T) {
	assert.Equal(t, "85", HSChapter("8544.30"))
	assert.Equal(t, "", HSChapter("8"))
}

func TestIsUSMCACountry(t *testing.T) {
	assert.True(t, IsUSMCACountry("US"))
	assert.True(t, IsUSMCACountry("CA"))
	assert.True(t, IsUSMCACountry("MX"))
	assert.False(t, IsUSMCACountry("CN"))
	assert.False(t, IsUSMCACountry(""))
}
