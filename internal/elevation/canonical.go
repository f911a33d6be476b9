package elevation

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultCoordinatePrecision rounds to 4 decimal places (about 10 m).
	DefaultCoordinatePrecision = 4
	// DefaultTimeTruncation collapses timestamps to the UTC day.
	DefaultTimeTruncation = 24 * time.Hour

	lookupPath = "/v1/elevation"
)

var (
	coordParams = map[string]bool{
		"lat": true, "latitude": true,
		"lon": true, "lng": true, "longitude": true,
	}

	// lat,lon pairs embedded in a path, e.g. /points/43.87912,-103.45911
	pathCoordPair = regexp.MustCompile(`(-?\d{1,2}\.\d+),\s*(-?\d{1,3}\.\d+)`)

	timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}
)

// CanonicalKey is the deterministic cache key of a normalized request.
type CanonicalKey string

func (k CanonicalKey) String() string { return string(k) }

// CanonicalRequest is a request in comparable form. Params are merged with any query
// string already present in URL.
type CanonicalRequest struct {
	Method string
	URL    string
	Params url.Values
	Body   []byte
}

// Canonicalizer normalizes requests and derives cache keys from them. It holds only
// configuration and is safe to share.
type Canonicalizer struct {
	precision  int
	truncation time.Duration
}

// NewCanonicalizer builds a Canonicalizer. Non-positive arguments fall back to the defaults.
func NewCanonicalizer(precision int, truncation time.Duration) Canonicalizer {
	if precision <= 0 {
		precision = DefaultCoordinatePrecision
	}
	if truncation <= 0 {
		truncation = DefaultTimeTruncation
	}
	return Canonicalizer{precision: precision, truncation: truncation}
}

// ForCoordinate maps an elevation request onto the logical request that identifies it.
// Input is assumed to be validated already.
func (c Canonicalizer) ForCoordinate(req CoordinateRequest) CanonicalRequest {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(req.Latitude, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(req.Longitude, 'f', -1, 64))
	if req.Timestamp != nil {
		params.Set("timestamp", req.Timestamp.Format(time.RFC3339Nano))
	}
	if len(req.Providers) > 0 {
		// Order decides which provider answers, so it is part of the key. Repeats are not.
		names := make([]string, 0, len(req.Providers))
		for _, name := range req.Providers {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
		params.Set("providers", strings.Join(names, ","))
	}
	return CanonicalRequest{Method: "GET", URL: lookupPath, Params: params}
}

// Normalize returns the canonical form of r: upper-case method, lower-case scheme and host,
// coordinates rounded, time values truncated, fragment dropped.
func (c Canonicalizer) Normalize(r CanonicalRequest) CanonicalRequest {
	out := CanonicalRequest{
		Method: strings.ToUpper(strings.TrimSpace(r.Method)),
		Params: url.Values{},
		Body:   r.Body,
	}
	if out.Method == "" {
		out.Method = "GET"
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		// Unparseable URLs are still keyed deterministically by their raw text.
		out.URL = r.URL
		u = &url.URL{}
	} else {
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		u.Path = pathCoordPair.ReplaceAllStringFunc(u.Path, c.roundPathPair)
		u.RawPath = ""
		u.Fragment = ""
		for k, vs := range u.Query() {
			for _, v := range vs {
				out.Params.Add(k, c.normalizeParam(k, v))
			}
		}
		u.RawQuery = ""
		out.URL = u.String()
	}

	for k, vs := range r.Params {
		for _, v := range vs {
			out.Params.Add(k, c.normalizeParam(k, v))
		}
	}
	return out
}

// Key derives the cache key of r. Equal normalized requests always yield equal keys.
func (c Canonicalizer) Key(r CanonicalRequest) CanonicalKey {
	n := c.Normalize(r)
	bodySum := sha256.Sum256(n.Body)

	var b strings.Builder
	b.WriteString(n.Method)
	b.WriteByte('\n')
	b.WriteString(n.URL)
	b.WriteByte('\n')
	// Encode sorts by key.
	b.WriteString(n.Params.Encode())
	b.WriteByte('\n')
	b.WriteString(hex.EncodeToString(bodySum[:]))

	sum := sha256.Sum256([]byte(b.String()))
	return CanonicalKey(hex.EncodeToString(sum[:]))
}

// KeyFor is shorthand for Key(ForCoordinate(req)).
func (c Canonicalizer) KeyFor(req CoordinateRequest) CanonicalKey {
	return c.Key(c.ForCoordinate(req))
}

// RoundCoordinate formats v at the configured precision.
func (c Canonicalizer) RoundCoordinate(v float64) string {
	s := strconv.FormatFloat(v, 'f', c.precision, 64)
	// -0.0000 and 0.0000 are the same place.
	if strings.Trim(s, "-0.") == "" {
		s = strings.TrimPrefix(s, "-")
	}
	return s
}

func (c Canonicalizer) normalizeParam(key, value string) string {
	k := strings.ToLower(key)
	switch {
	case coordParams[k]:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return value
		}
		return c.RoundCoordinate(f)
	case strings.Contains(k, "date") || strings.Contains(k, "time"):
		return c.truncateTime(value)
	default:
		return value
	}
}

func (c Canonicalizer) truncateTime(value string) string {
	v := strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, v)
		if err != nil {
			continue
		}
		return t.UTC().Truncate(c.truncation).Format(time.RFC3339)
	}
	return value
}

func (c Canonicalizer) roundPathPair(pair string) string {
	m := pathCoordPair.FindStringSubmatch(pair)
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lon, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return pair
	}
	return c.RoundCoordinate(lat) + "," + c.RoundCoordinate(lon)
}
