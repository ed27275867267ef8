package smsratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentity(t *testing.T) {
	testCases := []struct {
		description string
		identity    string
		valid       bool
	}{
		{description: "empty", identity: "", valid: false},
		{description: "too short", identity: "+1", valid: false},
		{description: "missing plus", identity: "15551230000", valid: false},
		{description: "letters", identity: "+1555ABC0000", valid: false},
		{description: "too long", identity: "+1555123000012345", valid: false},
		{description: "shortest", identity: "+1234567", valid: true},
		{description: "longest", identity: "+12345678901234", valid: true},
		{description: "us number", identity: "+15551230000", valid: true},
		{description: "account key", identity: GlobalAccountKey, valid: false},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			err := ValidateIdentity(tc.identity)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrValidation)
			}
		})
	}
}
