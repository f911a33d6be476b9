package elevation_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

func TestCanonicalKeyIsDeterministic(t *testing.T) {
	c := elevation.NewCanonicalizer(0, 0)

	a := elevation.CanonicalRequest{
		Method: "get",
		URL:    "HTTPS://API.Example.COM/v1/lookup?b=2&a=1#frag",
		Params: url.Values{"lat": {"43.87912"}, "lon": {"-103.45911"}},
	}
	b := elevation.CanonicalRequest{
		Method: "GET",
		URL:    "https://api.example.com/v1/lookup?a=1",
		Params: url.Values{"lon": {"-103.4591"}, "b": {"2"}, "lat": {"43.8791"}},
	}
	assert.Equal(t, c.Key(a), c.Key(b))
	assert.Len(t, c.Key(a).String(), 64)

	b.Body = []byte("x")
	assert.NotEqual(t, c.Key(a), c.Key(b))
}

func TestCanonicalKeyDistinguishesCoordinates(t *testing.T) {
	c := elevation.NewCanonicalizer(4, 0)

	base := c.KeyFor(request(43.8791, -103.4591))
	assert.Equal(t, base, c.KeyFor(request(43.87914, -103.45906)))
	assert.NotEqual(t, base, c.KeyFor(request(43.8792, -103.4591)))
	assert.NotEqual(t, base, c.KeyFor(request(-103.4591, 43.8791)))
}

func TestCanonicalKeyIgnoresTimeout(t *testing.T) {
	c := elevation.NewCanonicalizer(0, 0)
	a := request(1, 2)
	b := request(1, 2)
	b.TimeoutSeconds = 30
	assert.Equal(t, c.KeyFor(a), c.KeyFor(b))
}

func TestCanonicalKeyProviderOverride(t *testing.T) {
	c := elevation.NewCanonicalizer(0, 0)

	plain := request(1, 2)
	ab := request(1, 2)
	ab.Providers = []string{"osm", "google"}
	ba := request(1, 2)
	ba.Providers = []string{"google", "osm"}

	repeated := request(1, 2)
	repeated.Providers = []string{"osm", "google", "osm"}

	assert.NotEqual(t, c.KeyFor(plain), c.KeyFor(ab))
	assert.NotEqual(t, c.KeyFor(ab), c.KeyFor(ba))
	assert.Equal(t, c.KeyFor(ab), c.KeyFor(repeated))
	assert.Equal(t, []string{"osm", "google", "osm"}, repeated.Providers, "caller slice must not be modified")
}

func TestCanonicalTimestampTruncation(t *testing.T) {
	c := elevation.NewCanonicalizer(0, 0)

	morning := time.Date(2024, 3, 5, 8, 15, 0, 0, time.UTC)
	evening := time.Date(2024, 3, 5, 22, 59, 59, 0, time.UTC)
	nextDay := time.Date(2024, 3, 6, 0, 0, 1, 0, time.UTC)

	a, b, d := request(1, 2), request(1, 2), request(1, 2)
	a.Timestamp, b.Timestamp, d.Timestamp = &morning, &evening, &nextDay

	assert.Equal(t, c.KeyFor(a), c.KeyFor(b))
	assert.NotEqual(t, c.KeyFor(a), c.KeyFor(d))
	assert.NotEqual(t, c.KeyFor(a), c.KeyFor(request(1, 2)))

	hourly := elevation.NewCanonicalizer(0, time.Hour)
	assert.NotEqual(t, hourly.KeyFor(a), hourly.KeyFor(b))
}

func TestNormalize(t *testing.T) {
	c := elevation.NewCanonicalizer(0, 0)

	got := c.Normalize(elevation.CanonicalRequest{
		Method: " post ",
		URL:    "HTTP://Example.org/points/43.879123,-103.459111/elev?date=2024-03-05T08:15:00Z#x",
		Params: url.Values{"latitude": {"not-a-number"}, "mode": {"Fast"}},
	})

	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, "http://example.org/points/43.8791,-103.4591/elev", got.URL)
	assert.Equal(t, "2024-03-05T00:00:00Z", got.Params.Get("date"))
	assert.Equal(t, "not-a-number", got.Params.Get("latitude"))
	assert.Equal(t, "Fast", got.Params.Get("mode"))

	empty := c.Normalize(elevation.CanonicalRequest{URL: "/x"})
	assert.Equal(t, "GET", empty.Method)
}

func TestRoundCoordinate(t *testing.T) {
	c := elevation.NewCanonicalizer(4, 0)
	assert.Equal(t, "43.8791", c.RoundCoordinate(43.87912))
	assert.Equal(t, "-103.4591", c.RoundCoordinate(-103.45911))
	assert.Equal(t, "0.0000", c.RoundCoordinate(-0.00001))
	assert.Equal(t, "0.0000", c.RoundCoordinate(0))

	require.Equal(t, "43.88", elevation.NewCanonicalizer(2, 0).RoundCoordinate(43.87912))
}
