package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ssdims/ssdims/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLister struct {
	mock.Mock
	epoch uint64
}

func (m *mockLister) ListPointsOfDelivery(ctx context.Context) ([]types.PointOfDeliveryEntry, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]types.PointOfDeliveryEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLister) SessionEpoch() uint64 {
	return m.epoch
}

func TestExtractStableID(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		id, err := ExtractStableID("99XXX1234560000G (Rodinný dom)")
		require.NoError(t, err)
		assert.Equal(t, "99XXX1234560000G", id)

		id, err = ExtractStableID("24ZSS12345678901234")
		require.NoError(t, err)
		assert.Equal(t, "24ZSS12345678901234", id)
	})

	t.Run("NoID", func(t *testing.T) {
		_, err := ExtractStableID("(no id)")
		assert.ErrorIs(t, err, types.ErrMalformedIdentifier)
	})

	t.Run("Lowercase", func(t *testing.T) {
		_, err := ExtractStableID("99xxx1234560000g (Rodinný dom)")
		assert.ErrorIs(t, err, types.ErrMalformedIdentifier)
	})

	t.Run("TooShort", func(t *testing.T) {
		_, err := ExtractStableID("ABC123 (short)")
		assert.ErrorIs(t, err, types.ErrMalformedIdentifier)
	})

	t.Run("TooLong", func(t *testing.T) {
		_, err := ExtractStableID("ABCDEFGHIJKLMNOPQRSTUV")
		assert.ErrorIs(t, err, types.ErrMalformedIdentifier)
	})
}

func TestDiscover(t *testing.T) {
	ctx := context.Background()

	t.Run("DropsMalformed", func(t *testing.T) {
		m := &mockLister{epoch: 1}
		m.On("ListPointsOfDelivery", mock.Anything).Return([]types.PointOfDeliveryEntry{
			{DisplayLabel: "99XXX1234560000G (Rodinný dom)", SessionHandle: "session_token_123"},
			{DisplayLabel: "(no id)", SessionHandle: "session_token_000"},
			{DisplayLabel: "99YYY9876540000G (Garáž)", SessionHandle: "session_token_456"},
		}, nil)

		r := New(m)
		points, err := r.Discover(ctx)
		require.NoError(t, err)
		require.Len(t, points, 2)
		assert.Equal(t, "session_token_123", points["99XXX1234560000G"].SessionHandle)
		assert.Equal(t, "99YYY9876540000G (Garáž)", points["99YYY9876540000G"].DisplayLabel)
		assert.Equal(t, []string{"99XXX1234560000G", "99YYY9876540000G"}, r.IDs())
	})

	t.Run("Empty", func(t *testing.T) {
		m := &mockLister{epoch: 1}
		m.On("ListPointsOfDelivery", mock.Anything).Return([]types.PointOfDeliveryEntry{}, nil)

		_, err := New(m).Discover(ctx)
		assert.ErrorIs(t, err, types.ErrEmptyResult)
	})

	t.Run("AllMalformed", func(t *testing.T) {
		m := &mockLister{epoch: 1}
		m.On("ListPointsOfDelivery", mock.Anything).Return([]types.PointOfDeliveryEntry{
			{DisplayLabel: "(no id)", SessionHandle: "x"},
		}, nil)

		_, err := New(m).Discover(ctx)
		assert.ErrorIs(t, err, types.ErrEmptyResult)
	})

	t.Run("AuthPropagated", func(t *testing.T) {
		m := &mockLister{epoch: 1}
		m.On("ListPointsOfDelivery", mock.Anything).Return(nil, fmt.Errorf("session expired: %w", types.ErrAuthentication))

		_, err := New(m).Discover(ctx)
		assert.ErrorIs(t, err, types.ErrAuthentication)
	})

	t.Run("ReplacedWholesale", func(t *testing.T) {
		m := &mockLister{epoch: 1}
		m.On("ListPointsOfDelivery", mock.Anything).Return([]types.PointOfDeliveryEntry{
			{DisplayLabel: "99XXX1234560000G (Rodinný dom)", SessionHandle: "a"},
		}, nil).Once()
		m.On("ListPointsOfDelivery", mock.Anything).Return([]types.PointOfDeliveryEntry{
			{DisplayLabel: "99YYY9876540000G (Garáž)", SessionHandle: "b"},
		}, nil).Once()

		r := New(m)
		_, err := r.Discover(ctx)
		require.NoError(t, err)
		_, err = r.Discover(ctx)
		require.NoError(t, err)

		_, ok := r.Get("99XXX1234560000G")
		assert.False(t, ok)
		p, ok := r.Get("99YYY9876540000G")
		require.True(t, ok)
		assert.Equal(t, "b", p.SessionHandle)
	})
}

func TestEnsure(t *testing.T) {
	ctx := context.Background()
	entries := []types.PointOfDeliveryEntry{
		{DisplayLabel: "99XXX1234560000G (Rodinný dom)", SessionHandle: "a"},
	}

	t.Run("OnlyOnce", func(t *testing.T) {
		m := &mockLister{epoch: 1}
		m.On("ListPointsOfDelivery", mock.Anything).Return(entries, nil).Once()

		r := New(m)
		require.NoError(t, r.Ensure(ctx, nil))
		require.NoError(t, r.Ensure(ctx, []string{"99XXX1234560000G"}))
		m.AssertNumberOfCalls(t, "ListPointsOfDelivery", 1)
	})

	t.Run("MissingConfigured", func(t *testing.T) {
		m := &mockLister{epoch: 1}
		m.On("ListPointsOfDelivery", mock.Anything).Return(entries, nil).Twice()

		r := New(m)
		require.NoError(t, r.Ensure(ctx, nil))
		// still missing after the rediscovery, which is only a warning
		require.NoError(t, r.Ensure(ctx, []string{"99ZZZ0000000000G"}))
		m.AssertNumberOfCalls(t, "ListPointsOfDelivery", 2)
	})

	t.Run("SessionChanged", func(t *testing.T) {
		m := &mockLister{epoch: 1}
		m.On("ListPointsOfDelivery", mock.Anything).Return(entries, nil).Twice()

		r := New(m)
		require.NoError(t, r.Ensure(ctx, nil))
		m.epoch = 2
		require.NoError(t, r.Ensure(ctx, nil))
		require.NoError(t, r.Ensure(ctx, nil))
		m.AssertNumberOfCalls(t, "ListPointsOfDelivery", 2)
	})

	t.Run("Invalidate", func(t *testing.T) {
		m := &mockLister{epoch: 1}
		m.On("ListPointsOfDelivery", mock.Anything).Return(entries, nil).Twice()

		r := New(m)
		require.NoError(t, r.Ensure(ctx, nil))
		r.Invalidate()
		require.NoError(t, r.Ensure(ctx, nil))
		m.AssertNumberOfCalls(t, "ListPointsOfDelivery", 2)
	})

	t.Run("ErrorKeepsPrevious", func(t *testing.T) {
		m := &mockLister{epoch: 1}
		m.On("ListPointsOfDelivery", mock.Anything).Return(entries, nil).Once()
		m.On("ListPointsOfDelivery", mock.Anything).Return(nil, errors.New("boom")).Once()

		r := New(m)
		require.NoError(t, r.Ensure(ctx, nil))
		r.Invalidate()
		require.Error(t, r.Ensure(ctx, nil))
		_, ok := r.Get("99XXX1234560000G")
		assert.True(t, ok)
	})
}

func TestEnsureSession(t *testing.T) {
	ctx := context.Background()

	m := &mockLister{epoch: 1}
	m.On("ListPointsOfDelivery", mock.Anything).Return([]types.PointOfDeliveryEntry{
		{DisplayLabel: "99XXX1234560000G (Rodinný dom)", SessionHandle: "a"},
	}, nil).Once()
	m.On("ListPointsOfDelivery", mock.Anything).Return([]types.PointOfDeliveryEntry{
		{DisplayLabel: "99XXX1234560000G (Rodinný dom)", SessionHandle: "b"},
	}, nil).Once()

	r := New(m)
	require.NoError(t, r.EnsureSession(ctx))
	p, ok := r.Get("99XXX1234560000G")
	require.True(t, ok)
	assert.Equal(t, "a", p.SessionHandle)

	// same session, nothing to do
	require.NoError(t, r.EnsureSession(ctx))
	m.AssertNumberOfCalls(t, "ListPointsOfDelivery", 1)

	m.epoch = 2
	require.NoError(t, r.EnsureSession(ctx))
	p, ok = r.Get("99XXX1234560000G")
	require.True(t, ok)
	assert.Equal(t, "b", p.SessionHandle)
	m.AssertNumberOfCalls(t, "ListPointsOfDelivery", 2)
}
