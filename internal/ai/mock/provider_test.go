package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sitesmith/sitesmith/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_Defaults(t *testing.T) {
	p := NewMockProvider()

	out, err := p.Generate(context.Background(), "write a config file")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Equal(t, "mock", p.Name())
	assert.Equal(t, []string{"write a config file"}, p.Prompts)
}

func TestFailingProvider(t *testing.T) {
	wantErr := errors.New("boom")
	p := NewFailingProvider(wantErr)

	_, err := p.Generate(context.Background(), "anything")
	assert.ErrorIs(t, err, wantErr)
}

func TestTimeoutProvider(t *testing.T) {
	p := NewTimeoutProvider()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Generate(ctx, "anything")
	assert.ErrorIs(t, err, models.ErrInferenceTimeout)
}
