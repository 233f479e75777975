// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package reference

import (
	"sort"
	"strconv"
	"strings"
)

type hexBlock struct {
	lo, hi  uint32
	country string
}

// ICAO Annex 10 24-bit address allocations. Sorted by lo at init.
var hexBlocks = []hexBlock{
	{0x008000, 0x00FFFF, "South Africa"},
	{0x06A000, 0x06AFFF, "Qatar"},
	{0x0D0000, 0x0D7FFF, "Mexico"},
	{0x100000, 0x1FFFFF, "Russia"},
	{0x300000, 0x33FFFF, "Italy"},
	{0x340000, 0x37FFFF, "Spain"},
	{0x380000, 0x3BFFFF, "France"},
	{0x3C0000, 0x3FFFFF, "Germany"},
	{0x400000, 0x43FFFF, "United Kingdom"},
	{0x440000, 0x447FFF, "Austria"},
	{0x448000, 0x44FFFF, "Belgium"},
	{0x458000, 0x45FFFF, "Denmark"},
	{0x460000, 0x467FFF, "Finland"},
	{0x468000, 0x46FFFF, "Greece"},
	{0x478000, 0x47FFFF, "Norway"},
	{0x480000, 0x487FFF, "Netherlands"},
	{0x488000, 0x48FFFF, "Poland"},
	{0x490000, 0x497FFF, "Portugal"},
	{0x4A8000, 0x4AFFFF, "Sweden"},
	{0x4B0000, 0x4B7FFF, "Switzerland"},
	{0x4B8000, 0x4BFFFF, "Turkey"},
	{0x4CA000, 0x4CAFFF, "Ireland"},
	{0x710000, 0x717FFF, "Saudi Arabia"},
	{0x718000, 0x71FFFF, "South Korea"},
	{0x738000, 0x73FFFF, "Israel"},
	{0x768000, 0x76FFFF, "Singapore"},
	{0x780000, 0x7BFFFF, "China"},
	{0x7C0000, 0x7FFFFF, "Australia"},
	{0x800000, 0x83FFFF, "India"},
	{0x840000, 0x87FFFF, "Japan"},
	{0x896000, 0x896FFF, "United Arab Emirates"},
	{0xA00000, 0xAFFFFF, "United States"},
	{0xC00000, 0xC3FFFF, "Canada"},
	{0xC80000, 0xC87FFF, "New Zealand"},
	{0xE40000, 0xE7FFFF, "Brazil"},
}

//nolint:gochecknoinits // table must be sorted before the first lookup
func init() {
	sort.Slice(hexBlocks, func(i, j int) bool { return hexBlocks[i].lo < hexBlocks[j].lo })
}

// CountryForHex returns the registration country implied by an ICAO address,
// or "" for unallocated, unknown or non-ICAO ('~' prefixed) addresses.
func CountryForHex(hex string) string {
	hex = strings.TrimSpace(hex)
	if hex == "" || strings.HasPrefix(hex, "~") {
		return ""
	}
	addr, err := strconv.ParseUint(hex, 16, 32)
	if err != nil || addr > 0xFFFFFF {
		return ""
	}
	a := uint32(addr)

	i := sort.Search(len(hexBlocks), func(i int) bool { return hexBlocks[i].hi >= a })
	if i < len(hexBlocks) && hexBlocks[i].lo <= a {
		return hexBlocks[i].country
	}
	return ""
}
