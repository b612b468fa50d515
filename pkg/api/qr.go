package api

import (
	"fmt"
	"net/http"
	"strconv"

	qrcode "github.com/skip2/go-qrcode"

	"nocturna-sky-map/pkg/geo"
)

// handleShareQR renders a PNG QR code that opens the map centered on the
// given point. Observers print these for star-party handouts, so the
// endpoint is a plain GET that any browser can hit.
func (h *Handler) handleShareQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil || !(geo.Point{Lat: lat, Lon: lon}).Valid() {
		h.reject(w, "qr", "lat and lon must be valid coordinates")
		return
	}
	size := clampInt(parseIntDefault(q.Get("size"), 256), 64, 1024)

	url := fmt.Sprintf("https://%s/?lat=%.5f&lon=%.5f", r.Host, lat, lon)
	png, err := qrcode.Encode(url, qrcode.Medium, size)
	if err != nil {
		http.Error(w, "qr encode error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(png)
}

func parseIntDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
