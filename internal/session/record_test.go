package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordValid(t *testing.T) {
	assert.False(t, Record{}.Valid())
	assert.True(t, Record{Cookies: map[string]Cookie{"sid": {Value: "abc"}}}.Valid())
	assert.True(t, Record{Headers: map[string]string{"Authorization": "Bearer x"}}.Valid())
	assert.True(t, Record{Headers: map[string]string{"authorization": "Bearer x"}}.Valid())
	assert.False(t, Record{Headers: map[string]string{"X-Device": "tv"}}.Valid())
}

func TestRecordExpiryBoundary(t *testing.T) {
	now := time.Now()

	fresh := Record{CachedAt: now.Add(-(TTL - time.Second)).Unix()}
	assert.False(t, fresh.Expired(now))

	exact := Record{CachedAt: now.Add(-TTL).Unix()}
	assert.False(t, exact.Expired(now))

	over := Record{CachedAt: now.Add(-TTL - time.Second).Unix()}
	assert.True(t, over.Expired(now))
}

func TestRecordExpiresSoon(t *testing.T) {
	now := time.Now()

	young := Record{CachedAt: now.Add(-time.Hour).Unix()}
	assert.False(t, young.ExpiresSoon(now))

	closing := Record{CachedAt: now.Add(-(TTL - 30*time.Minute)).Unix()}
	assert.True(t, closing.ExpiresSoon(now))

	expired := Record{CachedAt: now.Add(-25 * time.Hour).Unix()}
	assert.False(t, expired.ExpiresSoon(now))
}

func TestSerializeSkipsProxyAuthorization(t *testing.T) {
	s := New()
	s.SetCookie("sid", Cookie{Value: "abc", Domain: ".example.com", Path: "/", Secure: true})
	s.SetHeader("Authorization", "Bearer token")
	s.SetHeader("Proxy-Authorization", "Basic cHJveHk=")
	s.SetHeader("X-Device-Id", "tv-01")

	record := Serialize(s)

	assert.Equal(t, "abc", record.Cookies["sid"].Value)
	assert.Equal(t, "Bearer token", record.Headers["Authorization"])
	assert.Equal(t, "tv-01", record.Headers["X-Device-Id"])
	assert.NotContains(t, record.Headers, "Proxy-Authorization")
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	src := New()
	src.SetCookie("sid", Cookie{Value: "abc", Domain: ".example.com", Path: "/watch", Secure: true, Expires: 1900000000})
	src.SetCookie("region", Cookie{Value: "ca"})
	src.SetHeader("Authorization", "Bearer token")
	src.SetHeader("proxy-authorization", "Basic cHJveHk=")

	record := Serialize(src)

	dst := New()
	Deserialize(record, dst)

	sid, ok := dst.Cookie("sid")
	require.True(t, ok)
	assert.Equal(t, "abc", sid.Value)
	assert.Equal(t, ".example.com", sid.Domain)
	assert.Equal(t, "/watch", sid.Path)
	assert.True(t, sid.Secure)
	assert.Equal(t, int64(1900000000), sid.Expires)

	// An empty recorded path defaults to "/".
	region, ok := dst.Cookie("region")
	require.True(t, ok)
	assert.Equal(t, "/", region.Path)

	auth, ok := dst.Header("authorization")
	require.True(t, ok)
	assert.Equal(t, "Bearer token", auth)

	// Proxy credentials never resurrect through a round trip.
	_, ok = dst.Header("Proxy-Authorization")
	assert.False(t, ok)
}

func TestDeserializeOverwritesHeaders(t *testing.T) {
	dst := New()
	dst.SetHeader("Authorization", "Bearer old")

	Deserialize(Record{Headers: map[string]string{"authorization": "Bearer new"}}, dst)

	auth, ok := dst.Header("Authorization")
	require.True(t, ok)
	assert.Equal(t, "Bearer new", auth)
}
