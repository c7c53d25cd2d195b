package helpers

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()

	assert.NoError(t, FoldErrors(nil))
	assert.NoError(t, FoldErrors([]error{nil, nil}))
	single := errors.New("port busy")
	assert.Equal(t, single, FoldErrors([]error{nil, single}))
	err := FoldErrors([]error{errors.New("close port"), nil, errors.New("close led")})
	assert.EqualError(t, err, "close port\nclose led")
}
