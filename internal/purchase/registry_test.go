package purchase_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/purchase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OwnerOnly(t *testing.T) {
	reg := purchase.NewRegistry()
	p := newPipeline(t, newFakeBackend())
	reg.Put(p)

	got, err := reg.Get(p.ID(), "u-1")
	require.NoError(t, err)
	assert.Same(t, p, got)

	_, err = reg.Get(p.ID(), "someone-else")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = reg.Get(uuid.New(), "u-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_Sweep(t *testing.T) {
	reg := purchase.NewRegistry()
	reg.Put(newPipeline(t, newFakeBackend()))
	reg.Put(newPipeline(t, newFakeBackend()))

	assert.Equal(t, 0, reg.Sweep(now))
	assert.Equal(t, 2, reg.Sweep(now.Add(time.Second)))
	assert.Equal(t, 0, reg.Len())
}
