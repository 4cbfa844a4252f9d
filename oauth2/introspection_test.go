package oauth2_test

import (
	"encoding/json"
	"testing"

	"github.com/jrsteele09/go-oauth-credentials/oauth2"
	"github.com/stretchr/testify/require"
)

func TestIntrospectionResponseKeepsExtraMembers(t *testing.T) {
	var r oauth2.IntrospectionResponse
	err := json.Unmarshal([]byte(`{"active":true,"scope":"read write","exp":1700000000,"cnf":{"jkt":"abc"},"tenant":"t1"}`), &r)
	require.NoError(t, err)

	require.True(t, r.Active)
	require.Equal(t, []string{"read", "write"}, r.Scopes())
	require.NotNil(t, r.Exp)
	require.Equal(t, int64(1700000000), *r.Exp)
	require.Equal(t, "t1", r.Extra["tenant"])
	require.Contains(t, r.Extra, "cnf")
	require.NotContains(t, r.Extra, "active")
}

func TestIntrospectionResponseInactive(t *testing.T) {
	var r oauth2.IntrospectionResponse
	require.NoError(t, json.Unmarshal([]byte(`{"active":false}`), &r))
	require.False(t, r.Active)
	require.Nil(t, r.Extra)
}
