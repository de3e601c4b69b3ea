package models_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhutchins/hookline/internal/models"
)

func TestEndpointSubscribed(t *testing.T) {
	ep := &models.Endpoint{Events: []string{"member.created", "donation.received"}}

	assert.True(t, ep.Subscribed("member.created"))
	assert.False(t, ep.Subscribed("member.deleted"))
	assert.False(t, ep.Subscribed("member"))

	empty := &models.Endpoint{Events: nil}
	assert.False(t, empty.Subscribed("member.created"), "empty list subscribes to nothing")
}

func TestEndpointSecretNotSerialized(t *testing.T) {
	ep := &models.Endpoint{ID: "ep_1", URL: "https://example.com", Secret: "whsec_topsecret"}
	out, err := json.Marshal(ep)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "whsec_topsecret")
	assert.NotContains(t, string(out), "secret")
}

func TestDeliveryTerminal(t *testing.T) {
	for status, terminal := range map[models.DeliveryStatus]bool{
		models.DeliveryPending:  false,
		models.DeliveryRetrying: false,
		models.DeliverySuccess:  true,
		models.DeliveryFailed:   true,
	} {
		d := &models.Delivery{Status: status}
		assert.Equal(t, terminal, d.Terminal(), "status %s", status)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", models.Truncate("abc", 5))
	assert.Equal(t, "abc", models.Truncate("abc", 3))
	assert.Equal(t, "ab", models.Truncate("abc", 2))
	assert.Equal(t, "", models.Truncate("", 10))

	long := strings.Repeat("x", models.MaxResponseBody+500)
	assert.Len(t, models.Truncate(long, models.MaxResponseBody), models.MaxResponseBody)
}

func TestNewID(t *testing.T) {
	a := models.NewID("dlv")
	b := models.NewID("dlv")

	assert.True(t, strings.HasPrefix(a, "dlv_"))
	assert.NotEqual(t, a, b)
}

func TestNewSecret(t *testing.T) {
	s := models.NewSecret()
	assert.True(t, strings.HasPrefix(s, "whsec_"))
	assert.Len(t, s, len("whsec_")+40)
	assert.NotEqual(t, s, models.NewSecret())
}
