package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwilioSMSRequiresConfiguration(t *testing.T) {
	_, err := NewTwilioSMS("AC123", "", "+15550001111")
	assert.Error(t, err)
}

func TestTwilioSMSStopsOnCanceledContext(t *testing.T) {
	sms, err := NewTwilioSMS("AC123", "auth-token", "+15550001111")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = sms.SendSMS(ctx, "+15550002222", "You missed a call")
	assert.ErrorIs(t, err, context.Canceled)
}
