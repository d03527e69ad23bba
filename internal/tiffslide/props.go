package tiffslide

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/local/pathdesk/internal/slide"
)

const (
	vendorAperio  = "aperio"
	vendorGeneric = "generic-tiff"
)

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// properties builds the property map from the first directory.
func properties(order binary.ByteOrder, d directory) map[string]string {
	p := map[string]string{}
	for tag, name := range map[uint16]string{
		tagImageDescription: slide.PropImageDescription,
		tagMake:             "tiff.Make",
		tagModel:            "tiff.Model",
		tagSoftware:         "tiff.Software",
		tagDateTime:         "tiff.DateTime",
	} {
		if v, ok := d.ascii(tag); ok && v != "" {
			p[name] = v
		}
	}
	xres, hasX := d.rational(order, tagXResolution)
	yres, hasY := d.rational(order, tagYResolution)
	if hasX {
		p["tiff.XResolution"] = formatFloat(xres)
	}
	if hasY {
		p["tiff.YResolution"] = formatFloat(yres)
	}
	unit := d.value(order, tagResolutionUnit, 2)
	if d.has(tagResolutionUnit) {
		p["tiff.ResolutionUnit"] = resolutionUnitName(unit)
	}

	desc := p[slide.PropImageDescription]
	if desc != "" {
		p[slide.PropComment] = desc
	}
	if strings.HasPrefix(desc, "Aperio") {
		p[slide.PropVendor] = vendorAperio
		parseAperio(desc, p)
		return p
	}

	p[slide.PropVendor] = vendorGeneric
	if hasX && hasY && d.has(tagResolutionUnit) {
		if mx, ok := micronsPerPixel(unit, xres); ok {
			p[slide.PropMPPX] = formatFloat(mx)
		}
		if my, ok := micronsPerPixel(unit, yres); ok {
			p[slide.PropMPPY] = formatFloat(my)
		}
	}
	return p
}

func resolutionUnitName(unit uint64) string {
	switch unit {
	case 1:
		return "none"
	case 2:
		return "inch"
	case 3:
		return "centimeter"
	}
	return strconv.FormatUint(unit, 10)
}

func micronsPerPixel(unit uint64, res float64) (float64, bool) {
	if !(res > 0) {
		return 0, false
	}
	switch unit {
	case 2:
		return 25400 / res, true
	case 3:
		return 10000 / res, true
	}
	return 0, false
}

// parseAperio reads the "|key = value" pairs that follow the first segment of
// an Aperio description.
func parseAperio(desc string, p map[string]string) {
	parts := strings.Split(desc, "|")
	for _, part := range parts[1:] {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" {
			continue
		}
		p["aperio."+k] = v
	}
	if v, ok := p["aperio.MPP"]; ok {
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			p[slide.PropMPPX] = v
			p[slide.PropMPPY] = v
		}
	}
	if v, ok := p["aperio.AppMag"]; ok {
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			p[slide.PropObjectivePower] = v
		}
	}
}
