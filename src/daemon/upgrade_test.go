package daemon

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synthome/cmdbus/src/types"
)

// timeoutNetError mimics the handshake deadline expiring on the raw socket.
type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return false }

func TestClassifyUpgradeErrorTimeout(t *testing.T) {
	err := classifyUpgradeError(timeoutNetError{}, 5*time.Second)

	var timedOut *types.UpgradeTimeoutError
	require.ErrorAs(t, err, &timedOut)
	assert.Equal(t, 5*time.Second, timedOut.Timeout)
}

func TestClassifyUpgradeErrorPassthrough(t *testing.T) {
	plain := errors.New("bad handshake")
	assert.Equal(t, plain, classifyUpgradeError(plain, time.Second))

	var timedOut *types.UpgradeTimeoutError
	assert.False(t, errors.As(classifyUpgradeError(plain, time.Second), &timedOut))
}
