package acquire

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropwatch/internal/config"
)

func TestClassify_DefaultMarkers(t *testing.T) {
	c := NewClassifier(config.DefaultTerminalMarkers)

	cases := []struct {
		err  string
		want ErrorKind
	}{
		{"rpc error: STARGIFT_USAGE_LIMITED", KindTerminal},
		{"remote status 400: balance_too_low", KindTerminal},
		{"Could not find the input entity for PeerUser", KindTerminal},
		{"remote status 429: FLOOD_WAIT_3", KindTransient},
		{"connection reset by peer", KindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.err, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Classify(errors.New(tc.err)))
		})
	}
}

func TestClassify_OverridesWinOverMarkers(t *testing.T) {
	c := NewClassifier([]string{"BALANCE_TOO_LOW"}, Rule{Match: "balance_too_low", Kind: KindTransient})
	assert.Equal(t, KindTransient, c.Classify(errors.New("BALANCE_TOO_LOW")))
}

func TestClassify_ClassifiedErrorKeepsItsKind(t *testing.T) {
	c := NewClassifier(nil)
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindConfiguration, Op: "resolve", Err: errors.New("x")})
	assert.Equal(t, KindConfiguration, c.Classify(err))
	assert.Equal(t, KindTransient, c.Classify(context.DeadlineExceeded))
}

func TestRulesFromConfig(t *testing.T) {
	rules, err := RulesFromConfig([]config.MarkerRule{
		{Match: "SOLD_OUT", Kind: "terminal"},
		{Match: "TRY_LATER", Kind: "retry"},
	})
	require.NoError(t, err)
	assert.Equal(t, []Rule{{Match: "SOLD_OUT", Kind: KindTerminal}, {Match: "TRY_LATER", Kind: KindTransient}}, rules)

	_, err = RulesFromConfig([]config.MarkerRule{{Match: "X", Kind: "fatal"}})
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTerminal, KindOf(&Error{Kind: KindTerminal}))
	assert.Equal(t, KindUnexpected, KindOf(errors.New("plain")))
}
